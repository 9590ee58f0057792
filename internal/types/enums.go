package types

// PipelineStatus represents the local processing state of a transaction,
// distinct from the provider's own status string.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineReceived  PipelineStatus = "received"
	PipelineProcessed PipelineStatus = "processed"
	PipelineError     PipelineStatus = "error"
)

// TxnType identifies how a transaction entered the pipeline.
type TxnType string

const (
	TxnTypePayment             TxnType = "payment"
	TxnTypeSubscriptionPayment TxnType = "subscription_payment"
	TxnTypeSubscriptionUpdate  TxnType = "subscription_status_update"
)

// SubscriptionStatus represents the lifecycle state of a local subscription.
// The transition to canceled is terminal; no path resurrects a canceled
// subscription.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// InvoiceStatus represents the platform-side lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	InvoiceStatusPaid   InvoiceStatus = "paid"
)

// RelType identifies the local entity a subscription row originated from.
type RelType string

const (
	RelTypeInvoice RelType = "invoice"
)

// PaymentEventKind classifies outbound payment-event messages published after
// a transaction reaches the processed state.
type PaymentEventKind string

const (
	PaymentEventPaymentProcessed     PaymentEventKind = "payment_processed"
	PaymentEventSubscriptionCreated  PaymentEventKind = "subscription_created"
	PaymentEventSubscriptionCanceled PaymentEventKind = "subscription_canceled"
)
