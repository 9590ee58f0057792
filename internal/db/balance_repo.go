package db

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fairbill/internal/types"
)

// BalanceRepo provides data access for the client_balances funds ledger.
// Credits are positive entries appended after a processed payment;
// settlement debits are negative entries written when an invoice is paid
// from credit. A client's available balance is the sum of their entries.
type BalanceRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewBalanceRepo creates a new BalanceRepo backed by the given database
// connection (pool or transaction).
func NewBalanceRepo(db DBTX, logger *slog.Logger) *BalanceRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceRepo{db: db, logger: logger}
}

// CreditFunds appends a positive ledger entry for the client. The entry is
// append-only; reversals are modeled as separate negative entries, never as
// updates to existing rows.
func (r *BalanceRepo) CreditFunds(ctx context.Context, clientID string, amount decimal.Decimal, currency, description string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO client_balances (id, client_id, amount, currency, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.NewString(),
		clientID,
		amount,
		currency,
		description,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to credit client funds", err)
	}

	r.logger.Info("client funds credited",
		slog.String("client_id", clientID),
		slog.String("amount", amount.String()),
		slog.String("currency", currency),
	)
	return nil
}
