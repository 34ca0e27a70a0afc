package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init 设置全局 logger；file 非空时额外写入按大小轮转的日志文件。
func Init(env, file string) {
	zerolog.TimeFieldFormat = time.RFC3339
	var out io.Writer = os.Stdout
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if file != "" {
		out = zerolog.MultiLevelWriter(out, RotatingFile(file))
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// RotatingFile 返回 JSON 日志使用的轮转文件 writer。
func RotatingFile(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
}
