package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row per payment processing attempt. It is the mutable
// record the reconciler maps provider webhooks onto; rows are never deleted
// by this service.
type Transaction struct {
	ID        string `json:"id" db:"id"`
	GatewayID string `json:"gateway_id" db:"gateway_id"`

	// Provider event id for the delivery that created this row. Retries of
	// the same event carry the same id and land on the same row; an empty
	// value means the row originated from the checkout or confirm flow.
	EventID string `json:"event_id,omitempty" db:"event_id"`

	// Local linkage (nullable until resolved)
	InvoiceID string `json:"invoice_id,omitempty" db:"invoice_id"`
	ClientID  string `json:"client_id,omitempty" db:"client_id"`

	// Provider-side identity, sanitized before storage
	TxnID string `json:"txn_id,omitempty" db:"txn_id"`
	SID   string `json:"s_id,omitempty" db:"s_id"`

	// Provider status string, free text (e.g. "succeeded", "requires_action")
	TxnStatus string `json:"txn_status,omitempty" db:"txn_status"`

	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Currency string          `json:"currency,omitempty" db:"currency"`
	Period   string          `json:"period,omitempty" db:"period"`

	Type   TxnType        `json:"type" db:"type"`
	Status PipelineStatus `json:"status" db:"status"`

	Note         string     `json:"note,omitempty" db:"note"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	IPN          RawPayload `json:"-" db:"ipn"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscription is the local mirror of a provider subscription object,
// uniquely keyed by the provider subscription ID.
type Subscription struct {
	ID        string `json:"id" db:"id"`
	SID       string `json:"sid" db:"sid"`
	ClientID  string `json:"client_id" db:"client_id"`
	GatewayID string `json:"gateway_id" db:"gateway_id"`

	Currency string          `json:"currency" db:"currency"`
	Period   string          `json:"period" db:"period"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`

	Status SubscriptionStatus `json:"status" db:"status"`

	// Originating invoice linkage
	RelType RelType `json:"rel_type" db:"rel_type"`
	RelID   string  `json:"rel_id" db:"rel_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Invoice is the read-side view of a platform invoice consumed by the
// payment pipeline. Totals arrive tax-included; this service never computes
// them.
type Invoice struct {
	ID       string          `json:"id" db:"id"`
	ClientID string          `json:"client_id" db:"client_id"`
	Title    string          `json:"title" db:"title"`
	Period   string          `json:"period,omitempty" db:"period"`
	Currency string          `json:"currency" db:"currency"`
	Total    decimal.Decimal `json:"total" db:"total"`
	Status   InvoiceStatus   `json:"status" db:"status"`
}

// LinkageMeta is the typed decoding of the fb_* metadata block stamped on
// provider-side objects. Empty string means the field was absent; callers
// must treat absence explicitly rather than defaulting to a zero id.
type LinkageMeta struct {
	ClientID  string `json:"fb_client_id,omitempty"`
	InvoiceID string `json:"fb_invoice_id,omitempty"`
	GatewayID string `json:"fb_gateway_id,omitempty"`
	Period    string `json:"fb_period,omitempty"`
}

// IsEmpty reports whether no linkage field was present at all.
func (m LinkageMeta) IsEmpty() bool {
	return m.ClientID == "" && m.InvoiceID == "" && m.GatewayID == "" && m.Period == ""
}

// Map renders the linkage block as the string key/value pairs stamped onto
// outbound provider requests. Absent fields are omitted.
func (m LinkageMeta) Map() map[string]string {
	out := make(map[string]string, 4)
	if m.ClientID != "" {
		out["fb_client_id"] = m.ClientID
	}
	if m.InvoiceID != "" {
		out["fb_invoice_id"] = m.InvoiceID
	}
	if m.GatewayID != "" {
		out["fb_gateway_id"] = m.GatewayID
	}
	if m.Period != "" {
		out["fb_period"] = m.Period
	}
	return out
}

// LinkageFromMap decodes a provider metadata mapping into a LinkageMeta.
// Unknown keys are ignored.
func LinkageFromMap(md map[string]string) LinkageMeta {
	return LinkageMeta{
		ClientID:  md["fb_client_id"],
		InvoiceID: md["fb_invoice_id"],
		GatewayID: md["fb_gateway_id"],
		Period:    md["fb_period"],
	}
}

// CheckoutForm is the structured result the host platform renders into its
// payment page. ClientSecret is confirmed browser-side against the provider.
type CheckoutForm struct {
	PublishableKey string `json:"publishable_key"`
	ClientSecret   string `json:"client_secret"`
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
	TransactionID  string `json:"transaction_id"`
	Mode           string `json:"mode"` // "live" or "test"
}

// BalanceEntry is one funds-ledger row credited to a client after a
// processed payment.
type BalanceEntry struct {
	ID          string          `json:"id" db:"id"`
	ClientID    string          `json:"client_id" db:"client_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
