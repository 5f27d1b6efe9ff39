// cmd/catalog/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bookstore/internal/broker"
	"bookstore/internal/catalog"
	"bookstore/internal/config"
	"bookstore/internal/httpx"
	"bookstore/internal/obs"
	"bookstore/internal/postgres"
)

func main() {
	if err := run(); err != nil {
		obs.Logger.Error("catalog service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadCatalog()
	obs.InitLogger("catalog", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, "catalog", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := postgres.OpenGorm(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer postgres.CloseGorm(db)

	store := catalog.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	sub := broker.NewAMQPSubscriber(broker.AMQPConfig{URL: cfg.Broker.URL, Queue: cfg.Queue})
	reconciler := catalog.NewReconciler(sub, store, cfg.ReconnectInterval, obs.NewEventMetrics())
	reconciler.Start(ctx)
	defer reconciler.Stop()

	router := httpx.NewRouter()
	catalog.NewHandler(catalog.NewService(store), reconciler).Routes(router)

	fmt.Printf("🚀 Starting Catalog Service on %s\n", cfg.HTTPAddr)
	return httpx.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, cfg.ShutdownTimeout)
}
