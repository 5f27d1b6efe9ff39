// cmd/purchase/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bookstore/internal/broker"
	"bookstore/internal/clients"
	"bookstore/internal/config"
	"bookstore/internal/httpx"
	"bookstore/internal/obs"
	"bookstore/internal/postgres"
	"bookstore/internal/purchase"
)

func main() {
	if err := run(); err != nil {
		obs.Logger.Error("purchase service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadPurchase()
	obs.InitLogger("purchase", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, "purchase", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := postgres.OpenSQLX(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ledger := purchase.NewPostgresLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return err
	}

	pub := broker.NewAMQPPublisher(broker.AMQPConfig{
		URL:     cfg.Broker.URL,
		Queue:   cfg.Queue,
		Retries: cfg.PublishRetries,
		Timeout: cfg.PublishTimeout,
	})
	defer pub.Close()

	relay := purchase.NewRelay(ledger, pub, obs.NewEventMetrics(), cfg.RelayBatch, cfg.RelayInterval)
	relay.Start(ctx)
	defer relay.Stop()

	identity := clients.NewAuthClient(cfg.AuthURL, cfg.AuthTimeout)
	svc := purchase.NewService(ledger, relay, identity)
	router := httpx.NewRouter()
	purchase.NewHandler(svc).Routes(router)

	fmt.Printf("🚀 Starting Purchase Service on %s\n", cfg.HTTPAddr)
	return httpx.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, cfg.ShutdownTimeout)
}
