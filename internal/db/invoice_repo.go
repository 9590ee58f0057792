package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fairbill/internal/types"
)

// InvoiceRepo provides read access to platform invoices and settles unpaid
// invoices from the client funds ledger. Invoice totals arrive tax-included
// from the platform; this repository never recomputes them.
type InvoiceRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewInvoiceRepo creates a new InvoiceRepo backed by the given database
// connection (pool or transaction).
func NewInvoiceRepo(db DBTX, logger *slog.Logger) *InvoiceRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceRepo{db: db, logger: logger}
}

const invoiceColumns = `id, client_id, title, period, currency, total, status`

func scanInvoice(row pgx.Row) (*types.Invoice, error) {
	var inv types.Invoice
	var period *string

	err := row.Scan(
		&inv.ID,
		&inv.ClientID,
		&inv.Title,
		&period,
		&inv.Currency,
		&inv.Total,
		&inv.Status,
	)
	if err != nil {
		return nil, err
	}

	if period != nil {
		inv.Period = *period
	}

	return &inv, nil
}

// GetByID retrieves a platform invoice by its id.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*types.Invoice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`,
		id,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get invoice", err)
	}
	return inv, nil
}

// SettleWithCredits pays a single unpaid invoice from the client's available
// balance. The UPDATE carries the funds check, so the paid transition only
// happens when the ledger sum covers the invoice total; a concurrent settle
// of the same invoice matches at most once. Insufficient funds leave the
// invoice unpaid without error, and the next credit triggers a new attempt.
func (r *InvoiceRepo) SettleWithCredits(ctx context.Context, invoiceID, clientID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices
		 SET status = 'paid',
		     paid_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $1
		   AND client_id = $2
		   AND status = 'unpaid'
		   AND total <= (SELECT COALESCE(SUM(b.amount), 0)
		                 FROM client_balances b
		                 WHERE b.client_id = $2)`,
		invoiceID,
		clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to settle invoice", err)
	}

	if tag.RowsAffected() == 0 {
		// Already paid, unknown id, or not enough credit. All three leave
		// the ledger untouched.
		r.logger.Info("invoice left unsettled",
			slog.String("invoice_id", invoiceID),
			slog.String("client_id", clientID),
		)
		return nil
	}

	if err := r.recordSettlementDebit(ctx, invoiceID, clientID); err != nil {
		// The invoice is paid but the matching debit is missing, which
		// inflates the ledger until repaired. Loud log so Ops reconciles.
		r.logger.Error("FB_LEDGER_ALERT: invoice paid but settlement debit failed",
			slog.String("invoice_id", invoiceID),
			slog.String("client_id", clientID),
		)
		return err
	}

	r.logger.Info("invoice settled from credit",
		slog.String("invoice_id", invoiceID),
		slog.String("client_id", clientID),
	)
	return nil
}

// SettleAllWithCredits sweeps the client's unpaid invoices oldest first,
// paying each while credit remains. Every step re-reads the ledger sum, so
// the sweep stops on its own once funds run out.
func (r *InvoiceRepo) SettleAllWithCredits(ctx context.Context, clientID string) error {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM invoices
		 WHERE client_id = $1 AND status = 'unpaid'
		 ORDER BY created_at ASC`,
		clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to query unpaid invoices", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "error iterating unpaid invoices", err)
	}

	for _, id := range ids {
		if err := r.SettleWithCredits(ctx, id, clientID); err != nil {
			return err
		}
	}
	return nil
}

// recordSettlementDebit appends the negative ledger entry matching a paid
// invoice, sourcing amount and currency from the invoice row itself.
func (r *InvoiceRepo) recordSettlementDebit(ctx context.Context, invoiceID, clientID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO client_balances (id, client_id, amount, currency, description, created_at)
		 SELECT $1, i.client_id, -i.total, i.currency, 'settlement of invoice ' || i.id, NOW()
		 FROM invoices i
		 WHERE i.id = $2 AND i.client_id = $3`,
		uuid.NewString(),
		invoiceID,
		clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record settlement debit", err)
	}
	return nil
}
