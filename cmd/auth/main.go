// cmd/auth/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bookstore/internal/auth"
	"bookstore/internal/config"
	"bookstore/internal/httpx"
	"bookstore/internal/obs"
	"bookstore/internal/postgres"
)

func main() {
	if err := run(); err != nil {
		obs.Logger.Error("auth service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadAuth()
	obs.InitLogger("auth", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, "auth", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	users := auth.NewPostgresStore(db)
	if err := users.EnsureSchema(ctx); err != nil {
		return err
	}

	var revoked auth.RevocationStore = auth.NewMemoryRevocations()
	if cfg.RedisAddr != "" {
		rdb, err := auth.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		revoked = auth.NewRedisRevocations(rdb)
	} else {
		obs.Logger.Warn("REDIS_ADDR not set, revocations are kept in memory")
	}

	svc := auth.NewService(users, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), revoked, cfg.LoginRatePerMinute)
	router := httpx.NewRouter()
	auth.NewHandler(svc).Routes(router)

	fmt.Printf("🚀 Starting Auth Service on %s\n", cfg.HTTPAddr)
	return httpx.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, cfg.ShutdownTimeout)
}
