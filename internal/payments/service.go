package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fairbill/internal/types"
)

// TransactionStore persists pipeline transaction records.
type TransactionStore interface {
	GetByID(ctx context.Context, id string) (*types.Transaction, error)
	// GetByEventID returns ErrCodeNotFoundTransaction when no row carries
	// the provider event id.
	GetByEventID(ctx context.Context, eventID string) (*types.Transaction, error)
	// Create inserts a new row. A duplicate event id returns
	// ErrCodeConflictConcurrent.
	Create(ctx context.Context, tx *types.Transaction) error
	Update(ctx context.Context, tx *types.Transaction) error
	// ClaimProcessed persists the transaction's mapped fields and moves it
	// to processed in a single guarded statement. Returns false when
	// another caller already processed the row.
	ClaimProcessed(ctx context.Context, tx *types.Transaction) (bool, error)
	MarkError(ctx context.Context, id, message string) error
	// ListUnsettled returns transactions that never reached processed
	// (pending, received or error), oldest first.
	ListUnsettled(ctx context.Context, limit int) ([]*types.Transaction, error)
}

// InvoiceReader resolves platform invoices for linkage and checkout.
type InvoiceReader interface {
	// GetByID returns ErrCodeNotFoundInvoice when no invoice matches.
	GetByID(ctx context.Context, id string) (*types.Invoice, error)
}

// FundsCrediter adds funds to a client's balance ledger.
type FundsCrediter interface {
	CreditFunds(ctx context.Context, clientID string, amount decimal.Decimal, currency, description string) error
}

// InvoiceSettler pays platform invoices from available client credit.
type InvoiceSettler interface {
	SettleWithCredits(ctx context.Context, invoiceID, clientID string) error
	// SettleAllWithCredits sweeps every payable invoice of the client.
	SettleAllWithCredits(ctx context.Context, clientID string) error
}

// EventPublisher announces settled payments and lifecycle changes to the
// rest of the platform. Publishing is advisory: failures are logged, never
// fatal to the payment itself.
type EventPublisher interface {
	Publish(ctx context.Context, msg types.PaymentEventMessage) error
}

// GatewaySettings carries the gateway identity and checkout defaults,
// populated from configuration at startup.
type GatewaySettings struct {
	GatewayID          string
	PublishableKey     string
	DefaultProductName string
	DefaultProductID   string
	TestMode           bool
}

// Mode reports which key mode the gateway runs in.
func (g GatewaySettings) Mode() string {
	if g.TestMode {
		return "test"
	}
	return "live"
}

// ServiceDeps bundles the collaborators a Service needs.
type ServiceDeps struct {
	Provider      ProviderAPI
	Transactions  TransactionStore
	Subscriptions SubscriptionStore
	Invoices      InvoiceReader
	Funds         FundsCrediter
	Settler       InvoiceSettler
	Events        EventPublisher
	Settings      GatewaySettings
	Clock         types.Clock
	Logger        *slog.Logger
}

// Service runs the payment pipeline: applying verified webhook deliveries,
// confirming one-time payments, building checkouts and replaying stuck
// transactions.
type Service struct {
	provider  ProviderAPI
	txns      TransactionStore
	invoices  InvoiceReader
	funds     FundsCrediter
	settler   InvoiceSettler
	events    EventPublisher
	lifecycle *Lifecycle
	settings  GatewaySettings
	clock     types.Clock
	logger    *slog.Logger
}

// NewService validates the dependency set and creates a Service. Events may
// be nil to disable publication; Clock and Logger default when nil.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("payments: provider client is required")
	}
	if deps.Transactions == nil {
		return nil, fmt.Errorf("payments: transaction store is required")
	}
	if deps.Subscriptions == nil {
		return nil, fmt.Errorf("payments: subscription store is required")
	}
	if deps.Invoices == nil {
		return nil, fmt.Errorf("payments: invoice reader is required")
	}
	if deps.Funds == nil {
		return nil, fmt.Errorf("payments: funds crediter is required")
	}
	if deps.Settler == nil {
		return nil, fmt.Errorf("payments: invoice settler is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	return &Service{
		provider:  deps.Provider,
		txns:      deps.Transactions,
		invoices:  deps.Invoices,
		funds:     deps.Funds,
		settler:   deps.Settler,
		events:    deps.Events,
		lifecycle: NewLifecycle(deps.Subscriptions, deps.Settings.GatewayID, logger),
		settings:  deps.Settings,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Settings returns the gateway settings the service was wired with.
func (s *Service) Settings() GatewaySettings {
	return s.settings
}

// WebhookOutcome reports what a webhook delivery did.
type WebhookOutcome struct {
	EventID       string               `json:"event_id,omitempty"`
	EventType     string               `json:"event_type,omitempty"`
	Kind          Kind                 `json:"kind"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Pipeline      types.PipelineStatus `json:"pipeline_status,omitempty"`
	Ignored       bool                 `json:"ignored"`
}

// ApplyWebhook runs a verified webhook payload through the pipeline.
// Payloads that are not event envelopes, and event types the pipeline does
// not subscribe to, are acknowledged without touching storage. Processing
// failures after the transaction row exists are recorded on the row and
// returned alongside the outcome.
func (s *Service) ApplyWebhook(ctx context.Context, payload []byte) (*WebhookOutcome, error) {
	event, ok := ParseEvent(payload)
	if !ok {
		s.logger.Warn("webhook payload is not an event envelope, ignoring",
			slog.Int("payload_bytes", len(payload)),
		)
		return &WebhookOutcome{Kind: KindNone, Ignored: true}, nil
	}

	classification := Classify(event)
	if classification.Kind == KindNone {
		s.logger.Info("unhandled webhook event acknowledged",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		return &WebhookOutcome{EventID: event.ID, EventType: event.Type, Kind: KindNone, Ignored: true}, nil
	}

	tx, err := s.findOrCreateTransaction(ctx, event, payload)
	if err != nil {
		return nil, err
	}

	outcome := &WebhookOutcome{
		EventID:       event.ID,
		EventType:     event.Type,
		Kind:          classification.Kind,
		TransactionID: tx.ID,
	}

	if err := s.applyClassified(ctx, tx, classification); err != nil {
		s.recordFailure(ctx, tx, err)
		return outcome, err
	}

	outcome.Pipeline = tx.Status
	return outcome, nil
}

// findOrCreateTransaction maps a provider event onto its transaction row.
// Retried deliveries of the same event land on the existing row, so the
// pipeline converges to the same end state no matter how often the provider
// redelivers.
func (s *Service) findOrCreateTransaction(ctx context.Context, event *Event, payload []byte) (*types.Transaction, error) {
	existing, err := s.txns.GetByEventID(ctx, event.ID)
	if err == nil {
		return existing, nil
	}
	if !hasErrorCode(err, types.ErrCodeNotFoundTransaction) {
		return nil, err
	}

	tx := &types.Transaction{
		ID:        uuid.NewString(),
		GatewayID: s.settings.GatewayID,
		EventID:   event.ID,
		Type:      types.TxnTypePayment,
		Status:    types.PipelinePending,
		IPN:       types.RawPayload(payload),
		Note:      fmt.Sprintf("webhook %s", event.Type),
	}
	if err := s.txns.Create(ctx, tx); err != nil {
		// Lost the insert race against a concurrent delivery of the same
		// event; use the winner's row.
		if hasErrorCode(err, types.ErrCodeConflictConcurrent) {
			return s.txns.GetByEventID(ctx, event.ID)
		}
		return nil, err
	}
	return tx, nil
}

func (s *Service) applyClassified(ctx context.Context, tx *types.Transaction, classification Classification) error {
	switch classification.Kind {
	case KindSubscriptionPaymentSucceeded:
		return s.applyInvoicePayment(ctx, tx, classification.Invoice, true)
	case KindSubscriptionPaymentFailed:
		return s.applyInvoicePayment(ctx, tx, classification.Invoice, false)
	case KindSubscriptionLifecycle:
		return s.applyLifecycle(ctx, tx, classification)
	default:
		return nil
	}
}

func (s *Service) applyInvoicePayment(ctx context.Context, tx *types.Transaction, inv *Invoice, succeeded bool) error {
	ApplyInvoiceWebhook(tx, inv)
	if !succeeded && !inv.Paid {
		tx.TxnStatus = TxnStatusFailed
	}

	meta := inv.Linkage()
	localInvoice, err := s.resolveLocalInvoice(ctx, meta, tx)
	if err != nil {
		return err
	}
	if localInvoice != nil {
		tx.InvoiceID = localInvoice.ID
	}
	if meta.ClientID != "" {
		tx.ClientID = meta.ClientID
	} else if tx.ClientID == "" && localInvoice != nil {
		tx.ClientID = localInvoice.ClientID
	}

	var subscriptionCreated bool
	if succeeded {
		subscriptionCreated, err = s.lifecycle.EnsureFromFirstInvoice(ctx, tx, inv, localInvoice)
		if err != nil {
			return err
		}
	}

	tx.Status = MapPipelineStatus(tx.TxnStatus)

	if tx.Status != types.PipelineProcessed {
		return s.txns.Update(ctx, tx)
	}

	if tx.ClientID == "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentResolution,
			"no platform client is linkable to the paid invoice",
			nil,
			map[string]any{"txn_id": tx.TxnID},
		)
	}

	won, err := s.txns.ClaimProcessed(ctx, tx)
	if err != nil {
		return err
	}
	if !won {
		s.logger.Info("transaction already processed, skipping settlement",
			slog.String("transaction_id", tx.ID),
			slog.String("txn_id", tx.TxnID),
		)
		return nil
	}

	if err := s.settle(ctx, tx); err != nil {
		return err
	}

	if subscriptionCreated {
		s.publish(ctx, types.PaymentEventSubscriptionCreated, tx)
	}
	s.publish(ctx, types.PaymentEventPaymentProcessed, tx)
	return nil
}

func (s *Service) applyLifecycle(ctx context.Context, tx *types.Transaction, classification Classification) error {
	ApplySubscriptionWebhook(tx, classification.Subscription, classification.EventType)

	meta := classification.Subscription.Linkage()
	if meta.ClientID != "" {
		tx.ClientID = meta.ClientID
	}
	if meta.InvoiceID != "" {
		tx.InvoiceID = meta.InvoiceID
	}

	canceled, err := s.lifecycle.CancelOnTerminalState(ctx, classification.Subscription, classification.EventType)
	if err != nil {
		return err
	}

	tx.Status = MapPipelineStatus(tx.TxnStatus)
	if err := s.txns.Update(ctx, tx); err != nil {
		return err
	}

	if canceled {
		s.publish(ctx, types.PaymentEventSubscriptionCanceled, tx)
	}
	return nil
}

// settle credits the payment amount to the client's balance and pays the
// linked invoice from it, or sweeps all payable invoices when the
// transaction resolved a client but no specific invoice.
func (s *Service) settle(ctx context.Context, tx *types.Transaction) error {
	description := fmt.Sprintf("gateway transaction %s", tx.TxnID)
	if err := s.funds.CreditFunds(ctx, tx.ClientID, tx.Amount, tx.Currency, description); err != nil {
		return err
	}

	if tx.InvoiceID != "" {
		return s.settler.SettleWithCredits(ctx, tx.InvoiceID, tx.ClientID)
	}
	return s.settler.SettleAllWithCredits(ctx, tx.ClientID)
}

// resolveLocalInvoice resolves the platform invoice named by linkage
// metadata or already linked to the transaction. A dangling reference is
// logged and treated as unresolved; storage failures propagate.
func (s *Service) resolveLocalInvoice(ctx context.Context, meta types.LinkageMeta, tx *types.Transaction) (*types.Invoice, error) {
	invoiceID := meta.InvoiceID
	if invoiceID == "" {
		invoiceID = tx.InvoiceID
	}
	if invoiceID == "" {
		return nil, nil
	}

	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		if hasErrorCode(err, types.ErrCodeNotFoundInvoice) {
			s.logger.Warn("linkage metadata references unknown invoice",
				slog.String("invoice_id", invoiceID),
			)
			return nil, nil
		}
		return nil, err
	}
	return invoice, nil
}

// ConfirmPayment settles a one-time payment after the client-side flow
// finishes. The transaction must exist; when a webhook already populated
// it the stored state is returned without another provider call.
func (s *Service) ConfirmPayment(ctx context.Context, transactionID, paymentIntentID string) (*types.Transaction, error) {
	tx, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if tx.TxnID != "" {
		s.logger.Info("transaction already settled by webhook, skipping provider fetch",
			slog.String("transaction_id", tx.ID),
			slog.String("txn_id", tx.TxnID),
		)
		return tx, nil
	}

	intentID := SanitizeID(paymentIntentID)
	if intentID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "a valid payment intent id is required", nil)
	}

	intent, err := s.provider.GetPaymentIntent(ctx, intentID)
	if err != nil {
		s.recordFailure(ctx, tx, err)
		return nil, err
	}

	tx.TxnID = FirstSafeID(intent.ID, intentID)
	tx.TxnStatus = strings.ToLower(strings.TrimSpace(intent.Status))
	if intent.Amount > 0 {
		tx.Amount = MajorUnits(intent.Amount)
	}
	if currency := strings.ToUpper(strings.TrimSpace(intent.Currency)); currency != "" {
		tx.Currency = currency
	}
	if tx.Type == "" {
		tx.Type = types.TxnTypePayment
	}

	tx.Status = MapPipelineStatus(tx.TxnStatus)

	if tx.Status != types.PipelineProcessed {
		if err := s.txns.Update(ctx, tx); err != nil {
			return nil, err
		}
		return tx, nil
	}

	if tx.ClientID == "" {
		err := types.NewAppError(types.ErrCodePaymentResolution, "transaction has no client to credit", nil)
		s.recordFailure(ctx, tx, err)
		return nil, err
	}

	won, err := s.txns.ClaimProcessed(ctx, tx)
	if err != nil {
		return nil, err
	}
	if won {
		if err := s.settle(ctx, tx); err != nil {
			s.recordFailure(ctx, tx, err)
			return nil, err
		}
		s.publish(ctx, types.PaymentEventPaymentProcessed, tx)
	}
	return tx, nil
}

// ReprocessTransaction re-runs the pipeline for a stored delivery from its
// recorded payload. Processed rows and rows without a usable payload are
// left untouched.
func (s *Service) ReprocessTransaction(ctx context.Context, transactionID string) (*WebhookOutcome, error) {
	tx, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	outcome := &WebhookOutcome{TransactionID: tx.ID, Kind: KindNone, Pipeline: tx.Status, Ignored: true}

	if tx.Status == types.PipelineProcessed {
		return outcome, nil
	}
	if len(tx.IPN) == 0 {
		return outcome, nil
	}

	event, ok := ParseEvent(tx.IPN)
	if !ok {
		return outcome, nil
	}
	classification := Classify(event)
	if classification.Kind == KindNone {
		return outcome, nil
	}

	outcome.EventID = event.ID
	outcome.EventType = event.Type
	outcome.Kind = classification.Kind
	outcome.Ignored = false

	if err := s.applyClassified(ctx, tx, classification); err != nil {
		s.recordFailure(ctx, tx, err)
		return outcome, err
	}

	outcome.Pipeline = tx.Status
	return outcome, nil
}

// UnsettledTransactions lists transactions still awaiting settlement.
func (s *Service) UnsettledTransactions(ctx context.Context, limit int) ([]*types.Transaction, error) {
	return s.txns.ListUnsettled(ctx, limit)
}

// recordFailure stores a processing failure on the transaction row so the
// replayer can pick it up.
func (s *Service) recordFailure(ctx context.Context, tx *types.Transaction, cause error) {
	if err := s.txns.MarkError(ctx, tx.ID, cause.Error()); err != nil {
		s.logger.Error("failed to record transaction failure",
			slog.String("transaction_id", tx.ID),
			slog.Any("error", err),
		)
	}
	tx.Status = types.PipelineError
	tx.ErrorMessage = cause.Error()
}

// publish emits a payment event. Failures are logged only: settlement has
// already happened and must not be rolled back for a messaging outage.
func (s *Service) publish(ctx context.Context, kind types.PaymentEventKind, tx *types.Transaction) {
	if s.events == nil {
		return
	}

	msg := types.PaymentEventMessage{
		EventID:        uuid.NewString(),
		Kind:           kind,
		GatewayID:      tx.GatewayID,
		TransactionID:  tx.ID,
		InvoiceID:      tx.InvoiceID,
		ClientID:       tx.ClientID,
		SubscriptionID: tx.SID,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		OccurredAt:     s.clock.Now(),
		TraceID:        types.GetRequestID(ctx),
	}
	if err := s.events.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish payment event",
			slog.String("kind", string(kind)),
			slog.String("transaction_id", tx.ID),
			slog.Any("error", err),
		)
	}
}
