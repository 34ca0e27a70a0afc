package config

import (
	"errors"
	"reflect"
	"strconv"

	"github.com/caarlos0/env/v11"
)

const (
	defaultJWTSecret     = "dev-secret-change-me"
	defaultAdminPassword = "admin"
)

type Config struct {
	Port                  string  `env:"APP_PORT" envDefault:"8080"`
	Env                   string  `env:"APP_ENV" envDefault:"dev"`
	JWTSecret             string  `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	AccessTokenTTLMinutes int     `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
	DatabaseDSN           string  `env:"DATABASE_DSN"`
	AdminUsername         string  `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminEmail            string  `env:"ADMIN_EMAIL" envDefault:"admin@chatapp.com"`
	AdminPassword         string  `env:"ADMIN_PASSWORD" envDefault:"admin"`
	InvitationTTLHours    int     `env:"INVITATION_TTL_HOURS" envDefault:"168"`
	FrontendURL           string  `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	LogFile               string  `env:"LOG_FILE"`
	WSMessagesPerSecond   float64 `env:"WS_MESSAGES_PER_SECOND" envDefault:"20"`
	WSMessageBurst        int     `env:"WS_MESSAGE_BURST" envDefault:"40"`
}

// Load 从环境变量读取配置，数值非法或非正时回退到默认值。
func Load() Config {
	var cfg Config
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(0):          lenientInt,
			reflect.TypeOf(float64(0)): lenientFloat,
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		cfg = Defaults()
	}
	def := Defaults()
	if cfg.AccessTokenTTLMinutes <= 0 {
		cfg.AccessTokenTTLMinutes = def.AccessTokenTTLMinutes
	}
	if cfg.InvitationTTLHours <= 0 {
		cfg.InvitationTTLHours = def.InvitationTTLHours
	}
	if cfg.WSMessagesPerSecond <= 0 {
		cfg.WSMessagesPerSecond = def.WSMessagesPerSecond
	}
	if cfg.WSMessageBurst <= 0 {
		cfg.WSMessageBurst = def.WSMessageBurst
	}
	return cfg
}

// Defaults 返回不读取环境变量的默认配置。
func Defaults() Config {
	return Config{
		Port:                  "8080",
		Env:                   "dev",
		JWTSecret:             defaultJWTSecret,
		AccessTokenTTLMinutes: 60,
		AdminUsername:         "admin",
		AdminEmail:            "admin@chatapp.com",
		AdminPassword:         defaultAdminPassword,
		InvitationTTLHours:    168,
		FrontendURL:           "http://localhost:5173",
		WSMessagesPerSecond:   20,
		WSMessageBurst:        40,
	}
}

// lenientInt 把无法解析的整数当作 0，由 Load 统一替换为默认值。
func lenientInt(v string) (interface{}, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func lenientFloat(v string) (interface{}, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return float64(0), nil
	}
	return f, nil
}

// Validate 在启动前检查配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		return errors.New("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	if cfg.InvitationTTLHours <= 0 {
		return errors.New("INVITATION_TTL_HOURS must be positive")
	}
	if cfg.AdminUsername == "" {
		return errors.New("ADMIN_USERNAME is required")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be set outside dev")
		}
		if cfg.AdminPassword == defaultAdminPassword {
			return errors.New("ADMIN_PASSWORD must be changed outside dev")
		}
	}
	return nil
}
