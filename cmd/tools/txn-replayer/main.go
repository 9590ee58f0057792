// Package main implements the txn-replayer CLI tool for re-driving stuck
// payment transactions through the reconciliation pipeline.
//
// A transaction is stuck when its webhook delivery was recorded but never
// reached the processed state: the provider's retry window lapsed, processing
// hit a transient database or provider error, or a lifecycle step failed
// halfway. Each row keeps the raw delivery payload it was created from, so
// the pipeline can be re-run from local state without asking the provider
// to redeliver.
//
// Usage:
//
//	go run ./cmd/tools/txn-replayer
//	go run ./cmd/tools/txn-replayer --limit=200 --concurrency=8
//	go run ./cmd/tools/txn-replayer --transaction=7f3c9c1e-...
//	go run ./cmd/tools/txn-replayer --dry-run
//
// The tool reads the same environment as cmd/api (or a .env file via
// godotenv). In --dry-run mode it lists the stuck transactions without
// touching them. Replays that settle a transaction publish the same payment
// events the webhook path publishes, so downstream consumers see a replayed
// settlement exactly as they would a live one.
//
// The process exits non-zero if any replay fails, so cron and CI wrappers
// can alert on a batch that did not fully drain.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fairbill/internal/config"
	"fairbill/internal/db"
	"fairbill/internal/external"
	"fairbill/internal/payments"
	"fairbill/internal/queue"
	"fairbill/internal/types"
)

const (
	defaultScanLimit   = 100
	defaultConcurrency = 5
)

// transactionReplayer defines the slice of the payments service the replay
// loops drive.
type transactionReplayer interface {
	ReprocessTransaction(ctx context.Context, transactionID string) (*payments.WebhookOutcome, error)
}

// options carries the parsed command-line flags.
type options struct {
	limit         int
	concurrency   int
	dryRun        bool
	transactionID string
}

func main() {
	limitFlag := flag.Int("limit", defaultScanLimit, "Maximum number of stuck transactions to scan")
	concurrencyFlag := flag.Int("concurrency", defaultConcurrency, "Number of transactions replayed in parallel")
	dryRunFlag := flag.Bool("dry-run", false, "List stuck transactions without reprocessing them")
	transactionFlag := flag.String("transaction", "", "Replay a single transaction by id instead of scanning")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: txn-replayer [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Re-drive stuck payment transactions through the reconciliation pipeline.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --dry-run to inspect the batch before replaying it.\n")
	}

	flag.Parse()

	opts := options{
		limit:         *limitFlag,
		concurrency:   *concurrencyFlag,
		dryRun:        *dryRunFlag,
		transactionID: *transactionFlag,
	}

	if err := validateOptions(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	// Initialize structured logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Set up cancellation context with signal handling.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, opts, logger); err != nil {
		logger.Error("replay run failed", "error", err)
		os.Exit(1)
	}
}

// validateOptions rejects flag combinations before any connection is made.
func validateOptions(opts options) error {
	if opts.limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", opts.limit)
	}
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", opts.concurrency)
	}
	if opts.transactionID != "" && opts.dryRun {
		return fmt.Errorf("--dry-run cannot be combined with --transaction")
	}
	return nil
}

// execute wires up the database, queue and provider dependencies, then runs
// either a single-transaction replay or a batch scan.
//
// The wiring mirrors cmd/api/main.go run(): the replayer drives the same
// payments.Service against the same stores, so a replayed settlement takes
// the identical code path a live webhook delivery would.
func execute(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	logger.Info("database connection established")

	sqsClient, err := queue.NewSQSClient(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("creating sqs client: %w", err)
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
		return fmt.Errorf("creating payments service: %w", err)
	}

	if opts.transactionID != "" {
		return replayOne(ctx, svc, opts.transactionID, logger)
	}

	txs, err := svc.UnsettledTransactions(ctx, opts.limit)
	if err != nil {
		return fmt.Errorf("listing unsettled transactions: %w", err)
	}
	if len(txs) == 0 {
		logger.Info("no unsettled transactions found")
		return nil
	}

	if opts.dryRun {
		printTransactions(txs)
		return nil
	}

	return replayBatch(ctx, svc, txs, opts.concurrency, logger)
}

// secretProvider picks the source for _SSM_PARAM pointer resolution. Local
// runs bypass SSM entirely, so no provider is needed.
//
// Duplicated from cmd/api because main packages cannot be imported.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

// replayOne re-drives a single transaction and reports its outcome.
func replayOne(ctx context.Context, svc transactionReplayer, transactionID string, logger *slog.Logger) error {
	outcome, err := svc.ReprocessTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("replaying transaction %s: %w", transactionID, err)
	}

	if outcome.Ignored {
		logger.Info("transaction left untouched",
			"transaction_id", transactionID,
			"pipeline_status", string(outcome.Pipeline),
		)
		return nil
	}

	logger.Info("transaction replayed",
		"transaction_id", transactionID,
		"event_id", outcome.EventID,
		"event_type", outcome.EventType,
		"kind", string(outcome.Kind),
		"pipeline_status", string(outcome.Pipeline),
	)
	return nil
}

// replayBatch re-drives each transaction through the pipeline with bounded
// concurrency. Rows are independent, so the fan-out is per transaction and
// the work for any single transaction stays serial. A failed replay is
// already recorded on its row by the service; it must not cancel the
// remaining replays, only the final exit status.
func replayBatch(ctx context.Context, svc transactionReplayer, txs []*types.Transaction, concurrency int, logger *slog.Logger) error {
	batchID := uuid.New().String()
	logger.Info("replaying unsettled transactions",
		"batch_id", batchID,
		"count", len(txs),
		"concurrency", concurrency,
	)

	var (
		mu       sync.Mutex
		replayed int
		skipped  int
		failed   int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, tx := range txs {
		g.Go(func() error {
			outcome, err := svc.ReprocessTransaction(gCtx, tx.ID)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++
				logger.Error("replay failed",
					"batch_id", batchID,
					"transaction_id", tx.ID,
					"error", err,
				)
				// Do not propagate the error to the errgroup; the remaining
				// transactions still get their replay.
				return nil
			}

			if outcome.Ignored {
				skipped++
				logger.Info("replay skipped",
					"batch_id", batchID,
					"transaction_id", tx.ID,
					"pipeline_status", string(outcome.Pipeline),
				)
				return nil
			}

			replayed++
			logger.Info("replay succeeded",
				"batch_id", batchID,
				"transaction_id", tx.ID,
				"event_id", outcome.EventID,
				"event_type", outcome.EventType,
				"kind", string(outcome.Kind),
				"pipeline_status", string(outcome.Pipeline),
			)
			return nil
		})
	}

	// Workers never return errors; Wait only reports context cancellation
	// observed by the group itself.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("replay batch interrupted: %w", err)
	}

	logger.Info("replay batch complete",
		"batch_id", batchID,
		"scanned", len(txs),
		"replayed", replayed,
		"skipped", skipped,
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("%d of %d replays failed", failed, len(txs))
	}
	return nil
}

// printTransactions writes the stuck transactions to stdout as an aligned
// table for inspection before a real run.
func printTransactions(txs []*types.Transaction) {
	idWidth := len("TRANSACTION")
	for _, tx := range txs {
		if len(tx.ID) > idWidth {
			idWidth = len(tx.ID)
		}
	}

	fmt.Printf("%-*s  %-9s  %-28s  %s\n", idWidth, "TRANSACTION", "STATUS", "EVENT", "ERROR")
	for _, tx := range txs {
		fmt.Printf("%-*s  %-9s  %-28s  %s\n",
			idWidth, tx.ID,
			string(tx.Status),
			tx.EventID,
			truncate(tx.ErrorMessage, 60),
		)
	}
	fmt.Printf("\n%d transaction(s) would be replayed.\n", len(txs))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if n <= 3 {
		n = 3
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
