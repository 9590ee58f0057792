package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"fairbill/internal/types"
)

// SubscriptionRepo provides data access for the subscriptions table, the
// local mirror of provider subscription objects. Rows are keyed by the
// provider subscription id (sid), which carries a unique constraint.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `id, sid, client_id, gateway_id, currency, period,
	   amount, status, rel_type, rel_id, created_at, updated_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	var relID *string

	err := row.Scan(
		&sub.ID,
		&sub.SID,
		&sub.ClientID,
		&sub.GatewayID,
		&sub.Currency,
		&sub.Period,
		&sub.Amount,
		&sub.Status,
		&sub.RelType,
		&relID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if relID != nil {
		sub.RelID = *relID
	}

	return &sub, nil
}

// GetBySID retrieves the subscription mirroring the given provider
// subscription id.
func (r *SubscriptionRepo) GetBySID(ctx context.Context, sid string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE sid = $1`,
		sid,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscription", err)
	}
	return sub, nil
}

// Create inserts a new subscription mirror row. Provider webhooks for the
// same subscription can arrive more than once, so an insert that collides on
// sid is treated as an idempotent no-op rather than an error.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (id, sid, client_id, gateway_id, currency,
		 period, amount, status, rel_type, rel_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         COALESCE($11, NOW()), COALESCE($12, NOW()))
		 ON CONFLICT (sid) DO NOTHING`,
		sub.ID,
		sub.SID,
		sub.ClientID,
		sub.GatewayID,
		sub.Currency,
		sub.Period,
		sub.Amount,
		sub.Status,
		sub.RelType,
		nilIfEmpty(sub.RelID),
		nilIfZeroTime(sub.CreatedAt),
		nilIfZeroTime(sub.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}

	if tag.RowsAffected() == 0 {
		// A concurrent delivery registered this sid first.
		r.logger.Info("subscription already registered, create skipped",
			slog.String("sid", sub.SID),
		)
	}

	return nil
}

// UpdateStatus moves an existing subscription to the given status.
func (r *SubscriptionRepo) UpdateStatus(ctx context.Context, sid string, status types.SubscriptionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     updated_at = NOW()
		 WHERE sid = $2`,
		status,
		sid,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}
