package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgateway/internal/auth"
	"chatgateway/internal/config"
	"chatgateway/internal/db"
	"chatgateway/internal/directory"
	"chatgateway/internal/gateway"
	"chatgateway/internal/invite"
	clog "chatgateway/internal/log"
	"chatgateway/internal/server"
	"chatgateway/internal/service"
	"chatgateway/internal/session"
	"chatgateway/internal/store"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、准备身份目录并启动网关与 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogFile)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	dir, err := openDirectory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open user directory")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, created, err := directory.EnsureAdmin(ctx, dir, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("seed admin account")
	} else if created {
		log.Info().Str("username", cfg.AdminUsername).Msg("admin account created")
	}
	if n, err := dir.Count(ctx); err == nil {
		log.Info().Int64("accounts", n).Msg("user directory ready")
	}

	tokens := auth.NewJWTIssuer(cfg.JWTSecret, cfg.AccessTokenTTLMinutes)
	accounts := service.NewAccountService(dir, tokens)
	invites := invite.NewStore(time.Duration(cfg.InvitationTTLHours) * time.Hour)
	hub := gateway.NewHub(session.NewRegistry(), store.NewMessageStore(), accounts, invites, gateway.Options{
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		MessageBurst:      cfg.WSMessageBurst,
		FrontendURL:       cfg.FrontendURL,
	})
	go hub.Run(ctx)
	go invites.RunCleanup(time.Hour, ctx.Done())

	// 控制单个 IP+路由的速率。
	limiter := server.NewLimiter(20, 40)
	defer limiter.Stop()
	h := server.NewHandler(accounts, invites, hub, cfg.FrontendURL)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, h, hub, tokens, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

// openDirectory 配置了 DATABASE_DSN 时使用 Postgres，否则使用进程内目录。
func openDirectory(cfg config.Config) (directory.UserDirectory, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn().Msg("DATABASE_DSN not set, user accounts are kept in memory")
		return directory.NewMemory(), nil
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return directory.NewGorm(gdb), nil
}
