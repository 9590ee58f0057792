package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"fairbill/internal/payments"
	"fairbill/internal/types"
)

// mockReplayer records ReprocessTransaction calls and returns canned
// outcomes per transaction id.
type mockReplayer struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]*payments.WebhookOutcome
	errs     map[string]error
}

func (m *mockReplayer) ReprocessTransaction(_ context.Context, transactionID string) (*payments.WebhookOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, transactionID)
	if err, ok := m.errs[transactionID]; ok {
		return m.outcomes[transactionID], err
	}
	if outcome, ok := m.outcomes[transactionID]; ok {
		return outcome, nil
	}
	return &payments.WebhookOutcome{TransactionID: transactionID, Kind: payments.KindNone, Ignored: true}, nil
}

func (m *mockReplayer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stuckTransactions(ids ...string) []*types.Transaction {
	txs := make([]*types.Transaction, len(ids))
	for i, id := range ids {
		txs[i] = &types.Transaction{ID: id, Status: types.PipelineError}
	}
	return txs
}

func processedOutcome(id string) *payments.WebhookOutcome {
	return &payments.WebhookOutcome{
		TransactionID: id,
		EventID:       "evt_" + id,
		EventType:     "invoice.payment_succeeded",
		Kind:          payments.KindSubscriptionPaymentSucceeded,
		Pipeline:      types.PipelineProcessed,
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr string
	}{
		{
			name: "defaults are valid",
			opts: options{limit: defaultScanLimit, concurrency: defaultConcurrency},
		},
		{
			name: "single transaction replay",
			opts: options{limit: 1, concurrency: 1, transactionID: "txn_1"},
		},
		{
			name:    "zero limit rejected",
			opts:    options{limit: 0, concurrency: 5},
			wantErr: "--limit",
		},
		{
			name:    "zero concurrency rejected",
			opts:    options{limit: 100, concurrency: 0},
			wantErr: "--concurrency",
		},
		{
			name:    "dry-run with transaction rejected",
			opts:    options{limit: 100, concurrency: 5, dryRun: true, transactionID: "txn_1"},
			wantErr: "--dry-run cannot be combined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOptions(tt.opts)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestReplayBatch_AllSucceed(t *testing.T) {
	txs := stuckTransactions("txn_1", "txn_2", "txn_3")
	mock := &mockReplayer{
		outcomes: map[string]*payments.WebhookOutcome{
			"txn_1": processedOutcome("txn_1"),
			"txn_2": processedOutcome("txn_2"),
			"txn_3": processedOutcome("txn_3"),
		},
	}

	err := replayBatch(context.Background(), mock, txs, 2, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount() != 3 {
		t.Errorf("expected 3 replay calls, got %d", mock.callCount())
	}
}

func TestReplayBatch_FailureDoesNotStopBatch(t *testing.T) {
	txs := stuckTransactions("txn_1", "txn_2", "txn_3")
	mock := &mockReplayer{
		outcomes: map[string]*payments.WebhookOutcome{
			"txn_1": processedOutcome("txn_1"),
			"txn_3": processedOutcome("txn_3"),
		},
		errs: map[string]error{
			"txn_2": types.NewAppError(types.ErrCodePaymentResolution, "client id unresolvable", nil),
		},
	}

	err := replayBatch(context.Background(), mock, txs, 1, discardLogger())
	if err == nil {
		t.Fatal("expected error for batch with a failed replay")
	}
	if !strings.Contains(err.Error(), "1 of 3 replays failed") {
		t.Errorf("expected failure summary in error, got %q", err.Error())
	}
	// Every transaction gets its replay even when one fails.
	if mock.callCount() != 3 {
		t.Errorf("expected 3 replay calls, got %d", mock.callCount())
	}
}

func TestReplayBatch_SkippedRowsAreNotFailures(t *testing.T) {
	// Rows without outcomes fall back to the mock's ignored default, the
	// shape ReprocessTransaction returns for already-processed rows and
	// rows without a usable payload.
	txs := stuckTransactions("txn_1", "txn_2")
	mock := &mockReplayer{}

	err := replayBatch(context.Background(), mock, txs, 4, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount() != 2 {
		t.Errorf("expected 2 replay calls, got %d", mock.callCount())
	}
}

func TestReplayBatch_ConcurrencyAboveBatchSize(t *testing.T) {
	txs := stuckTransactions("txn_1")
	mock := &mockReplayer{
		outcomes: map[string]*payments.WebhookOutcome{
			"txn_1": processedOutcome("txn_1"),
		},
	}

	if err := replayBatch(context.Background(), mock, txs, 64, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount() != 1 {
		t.Errorf("expected 1 replay call, got %d", mock.callCount())
	}
}

func TestReplayOne_Success(t *testing.T) {
	mock := &mockReplayer{
		outcomes: map[string]*payments.WebhookOutcome{
			"txn_1": processedOutcome("txn_1"),
		},
	}

	if err := replayOne(context.Background(), mock, "txn_1", discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount() != 1 {
		t.Errorf("expected 1 replay call, got %d", mock.callCount())
	}
}

func TestReplayOne_Error(t *testing.T) {
	mock := &mockReplayer{
		errs: map[string]error{
			"txn_missing": types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil),
		},
	}

	err := replayOne(context.Background(), mock, "txn_missing", discardLogger())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError in chain, got %T", err)
	}
	if appErr.Code != types.ErrCodeNotFoundTransaction {
		t.Errorf("expected code %q, got %q", types.ErrCodeNotFoundTransaction, appErr.Code)
	}
}

func TestReplayOne_IgnoredRowIsNotAnError(t *testing.T) {
	mock := &mockReplayer{
		outcomes: map[string]*payments.WebhookOutcome{
			"txn_done": {
				TransactionID: "txn_done",
				Kind:          payments.KindNone,
				Pipeline:      types.PipelineProcessed,
				Ignored:       true,
			},
		},
	}

	if err := replayOne(context.Background(), mock, "txn_done", discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short passthrough", in: "card declined", n: 60, want: "card declined"},
		{name: "exact length passthrough", in: "abcde", n: 5, want: "abcde"},
		{name: "long cut", in: "abcdefghij", n: 8, want: "abcde..."},
		{name: "tiny floor", in: "abcdefib", n: 1, want: "..."},
		{name: "empty", in: "", n: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
