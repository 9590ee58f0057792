// Package main is the entry point for the FairBill gateway API server.
//
// It loads configuration (resolving secrets from SSM outside local runs),
// connects the database pool and the SQS client, wires the payment pipeline
// behind the HTTP chassis and serves until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fairbill/internal/api/handlers"
	"fairbill/internal/config"
	"fairbill/internal/core"
	"fairbill/internal/db"
	"fairbill/internal/external"
	"fairbill/internal/payments"
	"fairbill/internal/queue"
)

// startupTimeout bounds the initial database and AWS client construction so
// a wedged dependency fails the boot instead of hanging it.
const startupTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("fairbill gateway starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"gateway_id", cfg.Stripe.GatewayID,
		"mode", cfg.Stripe.Mode(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	sqsClient, err := queue.NewSQSClient(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating SQS client: %w", err)
	}
	publisher := queue.NewPaymentEventPublisher(sqsClient, cfg.AWS, logger)

	registry := external.NewClientRegistry(cfg, logger)

	transactions := db.NewTransactionRepo(pool, logger)
	subscriptions := db.NewSubscriptionRepo(pool, logger)
	invoices := db.NewInvoiceRepo(pool, logger)
	balances := db.NewBalanceRepo(pool, logger)

	svc, err := payments.NewService(payments.ServiceDeps{
		Provider:      registry.Provider,
		Transactions:  transactions,
		Subscriptions: subscriptions,
		Invoices:      invoices,
		Funds:         balances,
		Settler:       invoices,
		Events:        publisher,
		Settings: payments.GatewaySettings{
			GatewayID:          cfg.Stripe.GatewayID,
			PublishableKey:     cfg.Stripe.ActivePublishableKey(),
			DefaultProductName: cfg.Stripe.DefaultProductName,
			DefaultProductID:   cfg.Stripe.DefaultProductID,
			TestMode:           cfg.Stripe.TestMode,
		},
		Logger: logger,
	})
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating payments service: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.DB = pool
	srv.HealthProbes = []core.HealthProbe{
		db.NewPoolProbe(pool),
		queue.NewQueueProbe(sqsClient, cfg.AWS.PaymentEventsQueue),
	}

	webhookHandler := handlers.NewWebhookHandler(registry.Webhook, svc, cfg.Stripe.WebhookSecret, logger)
	checkoutHandler := handlers.NewCheckoutHandler(svc, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhookHandler.RegisterRoutes,
		checkoutHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// secretProvider picks the source for _SSM_PARAM pointer resolution. Local
// runs bypass SSM entirely, so no provider is needed.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
