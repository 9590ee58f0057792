package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fairbill/internal/types"
)

// SubscriptionStore is the persistence surface the lifecycle manager needs.
type SubscriptionStore interface {
	// GetBySID returns ErrCodeNotFoundSubscription when no row matches.
	GetBySID(ctx context.Context, sid string) (*types.Subscription, error)
	// Create inserts a subscription keyed by sid. Inserting a sid that
	// already exists is a silent no-op.
	Create(ctx context.Context, sub *types.Subscription) error
	// UpdateStatus moves an existing subscription to the given status.
	UpdateStatus(ctx context.Context, sid string, status types.SubscriptionStatus) error
}

// Provider subscription statuses after which no further payment will be
// attempted. A deletion event cancels regardless of the reported status.
var terminalProviderStatuses = map[string]struct{}{
	"canceled":           {},
	"unpaid":             {},
	"incomplete_expired": {},
}

// Lifecycle keeps local subscription records in step with provider state.
// Creation happens exactly once per provider subscription, on the first
// invoice; cancellation is terminal.
type Lifecycle struct {
	subs      SubscriptionStore
	gatewayID string
	logger    *slog.Logger
}

// NewLifecycle creates a lifecycle manager. gatewayID is the configured
// gateway identity used when linkage metadata does not carry one.
func NewLifecycle(subs SubscriptionStore, gatewayID string, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{subs: subs, gatewayID: gatewayID, logger: logger}
}

// EnsureFromFirstInvoice stamps subscription bookkeeping onto the
// transaction and, when the invoice is the subscription's first
// (billing_reason subscription_create) and no local record exists yet,
// creates one. The boolean reports whether a record was created.
//
// localInvoice is the resolved platform invoice, nil when linkage metadata
// did not identify one. Creation without a resolvable client is refused.
func (l *Lifecycle) EnsureFromFirstInvoice(ctx context.Context, tx *types.Transaction, inv *Invoice, localInvoice *types.Invoice) (bool, error) {
	sid := SanitizeID(inv.Subscription)
	if sid == "" {
		return false, nil
	}

	meta := inv.Linkage()

	tx.SID = sid
	if period := l.resolvePeriod(meta, inv, localInvoice); period != "" {
		tx.Period = period
	}

	if inv.BillingReason != billingReasonSubscriptionCreate {
		return false, nil
	}

	existing, err := l.subs.GetBySID(ctx, sid)
	if err != nil && !hasErrorCode(err, types.ErrCodeNotFoundSubscription) {
		return false, err
	}
	if existing != nil {
		l.logger.Info("subscription already registered, skipping create",
			slog.String("sid", sid),
		)
		return false, nil
	}

	clientID := meta.ClientID
	if clientID == "" && localInvoice != nil {
		clientID = localInvoice.ClientID
	}
	if clientID == "" {
		return false, types.NewAppErrorWithDetails(
			types.ErrCodePaymentResolution,
			"no platform client is linkable to the provider subscription",
			nil,
			map[string]any{"sid": sid},
		)
	}

	invoiceID := meta.InvoiceID
	if invoiceID == "" && localInvoice != nil {
		invoiceID = localInvoice.ID
	}

	gatewayID := meta.GatewayID
	if gatewayID == "" {
		gatewayID = l.gatewayID
	}

	sub := &types.Subscription{
		ID:        uuid.NewString(),
		SID:       sid,
		ClientID:  clientID,
		GatewayID: gatewayID,
		Currency:  tx.Currency,
		Period:    tx.Period,
		Amount:    tx.Amount,
		Status:    types.SubStatusActive,
		RelType:   types.RelTypeInvoice,
		RelID:     invoiceID,
	}
	if err := l.subs.Create(ctx, sub); err != nil {
		return false, err
	}

	l.logger.Info("subscription registered from first invoice",
		slog.String("sid", sid),
		slog.String("client_id", clientID),
		slog.String("period", tx.Period),
	)
	return true, nil
}

// CancelOnTerminalState cancels the local subscription when the provider
// reports a terminal status or the subscription was deleted outright. The
// boolean reports whether a local record moved to canceled. Events for
// unknown or already-canceled subscriptions are no-ops.
func (l *Lifecycle) CancelOnTerminalState(ctx context.Context, sub *SubscriptionObject, eventType string) (bool, error) {
	status := strings.ToLower(strings.TrimSpace(sub.Status))
	_, terminal := terminalProviderStatuses[status]
	if eventType != EventSubscriptionDeleted && !terminal {
		return false, nil
	}

	sid := SanitizeID(sub.ID)
	if sid == "" {
		return false, nil
	}

	existing, err := l.subs.GetBySID(ctx, sid)
	if err != nil {
		if hasErrorCode(err, types.ErrCodeNotFoundSubscription) {
			l.logger.Info("terminal event for unknown subscription ignored",
				slog.String("sid", sid),
				slog.String("event_type", eventType),
			)
			return false, nil
		}
		return false, err
	}
	if existing.Status == types.SubStatusCanceled {
		return false, nil
	}

	if err := l.subs.UpdateStatus(ctx, sid, types.SubStatusCanceled); err != nil {
		return false, err
	}

	l.logger.Info("subscription canceled",
		slog.String("sid", sid),
		slog.String("provider_status", status),
		slog.String("event_type", eventType),
	)
	return true, nil
}

// resolvePeriod picks the billing period by priority: linkage metadata,
// then the invoice's recurring price, then the local invoice record.
func (l *Lifecycle) resolvePeriod(meta types.LinkageMeta, inv *Invoice, localInvoice *types.Invoice) string {
	if meta.Period != "" {
		if normalized := NormalizePeriod(meta.Period); normalized != "" {
			return normalized
		}
	}
	if recurrence := inv.Recurrence(); recurrence != nil {
		if code := FromProviderInterval(recurrence.Interval, recurrence.IntervalCount); code != "" {
			return code
		}
	}
	if localInvoice != nil {
		return localInvoice.Period
	}
	return ""
}

// hasErrorCode reports whether err is an AppError carrying the given code.
func hasErrorCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
