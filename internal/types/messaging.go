package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEventMessage is the SQS payload published to downstream platform
// consumers (provisioning, notifications) after a transaction reaches the
// processed state or a subscription changes lifecycle state. JSON tags use
// snake_case to match the platform's message conventions.
type PaymentEventMessage struct {
	// Core Identity
	EventID       string           `json:"event_id"`
	Kind          PaymentEventKind `json:"kind"`
	GatewayID     string           `json:"gateway_id"`
	TransactionID string           `json:"transaction_id,omitempty"`

	// Local linkage
	InvoiceID      string `json:"invoice_id,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`

	// Settlement details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`

	// Observability
	TraceID string `json:"trace_id"`
}
