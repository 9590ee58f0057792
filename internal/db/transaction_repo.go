package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fairbill/internal/types"
)

// defaultUnsettledLimit bounds ListUnsettled when the caller passes no
// positive limit, keeping replay batches at a size one worker pass can
// finish.
const defaultUnsettledLimit = 100

// TransactionRepo provides data access for the transactions table. One row
// exists per provider event delivery (webhooks carry their event id as row
// identity) or per locally initiated payment (checkout, confirm). Rows move
// through the pipeline by status and are never deleted.
type TransactionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewTransactionRepo creates a new TransactionRepo backed by the given
// database connection (pool or transaction).
func NewTransactionRepo(db DBTX, logger *slog.Logger) *TransactionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionRepo{db: db, logger: logger}
}

// transactionColumns is the canonical column list shared by every SELECT so
// scanTransaction stays in sync across queries.
const transactionColumns = `id, gateway_id, event_id, invoice_id, client_id,
	   txn_id, s_id, txn_status, amount, currency, period, type, status,
	   note, error_message, ipn, created_at, updated_at`

// scanTransaction scans a single transaction row using the column order
// defined by transactionColumns. Works for both QueryRow results and rows
// from an iteration loop.
func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	var tx types.Transaction
	var eventID, invoiceID, clientID, sid, period, errorMessage *string

	err := row.Scan(
		&tx.ID,
		&tx.GatewayID,
		&eventID,
		&invoiceID,
		&clientID,
		&tx.TxnID,
		&sid,
		&tx.TxnStatus,
		&tx.Amount,
		&tx.Currency,
		&period,
		&tx.Type,
		&tx.Status,
		&tx.Note,
		&errorMessage,
		&tx.IPN,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if eventID != nil {
		tx.EventID = *eventID
	}
	if invoiceID != nil {
		tx.InvoiceID = *invoiceID
	}
	if clientID != nil {
		tx.ClientID = *clientID
	}
	if sid != nil {
		tx.SID = *sid
	}
	if period != nil {
		tx.Period = *period
	}
	if errorMessage != nil {
		tx.ErrorMessage = *errorMessage
	}

	return &tx, nil
}

// Create inserts a new transaction row. The event_id column carries a
// partial unique index, so two concurrent deliveries of the same provider
// event race on insert; the loser receives ErrCodeConflictConcurrent and is
// expected to re-fetch the winner's row.
func (r *TransactionRepo) Create(ctx context.Context, tx *types.Transaction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO transactions (id, gateway_id, event_id, invoice_id, client_id,
		 txn_id, s_id, txn_status, amount, currency, period, type, status,
		 note, error_message, ipn, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		         COALESCE($17, NOW()), COALESCE($18, NOW()))`,
		tx.ID,
		tx.GatewayID,
		nilIfEmpty(tx.EventID),
		nilIfEmpty(tx.InvoiceID),
		nilIfEmpty(tx.ClientID),
		tx.TxnID,
		nilIfEmpty(tx.SID),
		tx.TxnStatus,
		tx.Amount,
		tx.Currency,
		nilIfEmpty(tx.Period),
		tx.Type,
		tx.Status,
		tx.Note,
		nilIfEmpty(tx.ErrorMessage),
		tx.IPN,
		nilIfZeroTime(tx.CreatedAt),
		nilIfZeroTime(tx.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictConcurrent,
				"transaction already recorded for this provider event", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create transaction", err)
	}
	return nil
}

// GetByID retrieves a transaction by its primary key.
func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*types.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`,
		id,
	)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get transaction", err)
	}
	return tx, nil
}

// GetByEventID retrieves the transaction created for a provider event
// delivery. Used to converge retried deliveries onto the original row.
func (r *TransactionRepo) GetByEventID(ctx context.Context, eventID string) (*types.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE event_id = $1`,
		eventID,
	)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTransaction,
				"no transaction for provider event", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get transaction by event", err)
	}
	return tx, nil
}

// Update persists the mutable mapped fields of a transaction. Row identity
// (gateway_id, event_id, ipn, created_at) is written once at create time and
// never changes afterwards.
func (r *TransactionRepo) Update(ctx context.Context, tx *types.Transaction) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions
		 SET invoice_id = $1,
		     client_id = $2,
		     txn_id = $3,
		     s_id = $4,
		     txn_status = $5,
		     amount = $6,
		     currency = $7,
		     period = $8,
		     type = $9,
		     status = $10,
		     note = $11,
		     error_message = $12,
		     updated_at = NOW()
		 WHERE id = $13`,
		nilIfEmpty(tx.InvoiceID),
		nilIfEmpty(tx.ClientID),
		tx.TxnID,
		nilIfEmpty(tx.SID),
		tx.TxnStatus,
		tx.Amount,
		tx.Currency,
		nilIfEmpty(tx.Period),
		tx.Type,
		tx.Status,
		tx.Note,
		nilIfEmpty(tx.ErrorMessage),
		tx.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
	}
	return nil
}

// ClaimProcessed persists the transaction's mapped fields and moves the row
// to processed in a single guarded statement. The status guard makes the
// claim exclusive: when two deliveries of the same event race, exactly one
// UPDATE matches and only that caller may run settlement side effects.
func (r *TransactionRepo) ClaimProcessed(ctx context.Context, tx *types.Transaction) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions
		 SET invoice_id = $1,
		     client_id = $2,
		     txn_id = $3,
		     s_id = $4,
		     txn_status = $5,
		     amount = $6,
		     currency = $7,
		     period = $8,
		     type = $9,
		     status = 'processed',
		     note = $10,
		     error_message = NULL,
		     updated_at = NOW()
		 WHERE id = $11
		   AND status <> 'processed'`,
		nilIfEmpty(tx.InvoiceID),
		nilIfEmpty(tx.ClientID),
		tx.TxnID,
		nilIfEmpty(tx.SID),
		tx.TxnStatus,
		tx.Amount,
		tx.Currency,
		nilIfEmpty(tx.Period),
		tx.Type,
		tx.Note,
		tx.ID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim transaction", err)
	}

	if tag.RowsAffected() == 0 {
		// Already processed by a concurrent delivery -- idempotent no-op,
		// the caller must skip settlement.
		r.logger.Info("transaction already processed, claim skipped",
			slog.String("transaction_id", tx.ID),
			slog.String("txn_id", tx.TxnID),
		)
		return false, nil
	}

	return true, nil
}

// MarkError moves a transaction to the error state and records the failure
// message. Errored rows are picked up again by the replay tool, so a
// settlement failure after a successful claim lands back in the retryable
// pool through this method.
func (r *TransactionRepo) MarkError(ctx context.Context, id, message string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions
		 SET status = 'error',
		     error_message = $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		message,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark transaction as errored", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
	}
	return nil
}

// ListUnsettled returns transactions that never reached the processed state
// (pending, received or error), oldest first, for the replay tool. Pending
// rows without a stored payload are listed too; the replayer skips them.
func (r *TransactionRepo) ListUnsettled(ctx context.Context, limit int) ([]*types.Transaction, error) {
	if limit <= 0 {
		limit = defaultUnsettledLimit
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE status IN ('pending', 'received', 'error')
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query unsettled transactions", err)
	}
	defer rows.Close()

	var results []*types.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan transaction row", err)
		}
		results = append(results, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating transaction rows", err)
	}

	return results, nil
}

// nilIfEmpty returns nil for the empty string, otherwise a pointer to it.
// Used for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime returns nil for the zero time, otherwise a pointer to it.
// Lets the DB default (NOW()) apply when the caller set no timestamp.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation checks whether the error is a PostgreSQL unique
// constraint violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
