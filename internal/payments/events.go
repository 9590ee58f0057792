package payments

import (
	"encoding/json"

	"fairbill/internal/types"
)

// Event types the pipeline subscribes to. Everything else is acknowledged
// and dropped.
const (
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

// billingReasonSubscriptionCreate marks the first invoice of a new
// subscription; only that invoice may create a local subscription record.
const billingReasonSubscriptionCreate = "subscription_create"

// Event is a verified provider webhook envelope. Object is kept raw so the
// classifier can decode it into the shape the event type calls for.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified payload into an Event. The second return is
// false when the payload is not a webhook event envelope (malformed JSON, or
// missing id, type or data.object), letting callers treat the delivery as
// something other than an event.
func ParseEvent(payload []byte) (*Event, bool) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false
	}
	if envelope.ID == "" || envelope.Type == "" {
		return nil, false
	}
	if len(envelope.Data.Object) == 0 || string(envelope.Data.Object) == "null" {
		return nil, false
	}

	return &Event{
		ID:     envelope.ID,
		Type:   envelope.Type,
		Object: envelope.Data.Object,
	}, true
}

// Invoice is the subset of the provider invoice object the pipeline reads.
type Invoice struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Paid          bool              `json:"paid"`
	Charge        string            `json:"charge"`
	PaymentIntent string            `json:"payment_intent"`
	Subscription  string            `json:"subscription"`
	BillingReason string            `json:"billing_reason"`
	AmountPaid    *int64            `json:"amount_paid"`
	AmountDue     int64             `json:"amount_due"`
	Currency      string            `json:"currency"`
	Number        string            `json:"number"`
	Metadata      map[string]string `json:"metadata"`

	SubscriptionDetails *SubscriptionDetails `json:"subscription_details"`

	Lines struct {
		Data []InvoiceLine `json:"data"`
	} `json:"lines"`
}

// SubscriptionDetails mirrors the subscription metadata the provider embeds
// on invoices.
type SubscriptionDetails struct {
	Metadata map[string]string `json:"metadata"`
}

// InvoiceLine carries the recurring price attached to an invoice line.
type InvoiceLine struct {
	Price *LinePrice `json:"price"`
}

// LinePrice is the price subset on an invoice line.
type LinePrice struct {
	Recurring *PriceRecurrence `json:"recurring"`
}

// PriceRecurrence is the provider's interval representation on a price.
type PriceRecurrence struct {
	Interval      string `json:"interval"`
	IntervalCount int64  `json:"interval_count"`
}

// Linkage collects the platform linkage metadata stamped on the invoice's
// subscription at checkout time. Subscription metadata is preferred; the
// invoice's own metadata is the fallback.
func (inv *Invoice) Linkage() types.LinkageMeta {
	if inv.SubscriptionDetails != nil {
		if meta := types.LinkageFromMap(inv.SubscriptionDetails.Metadata); !meta.IsEmpty() {
			return meta
		}
	}
	return types.LinkageFromMap(inv.Metadata)
}

// Recurrence returns the first recurring price found on the invoice lines,
// or nil when the invoice has none.
func (inv *Invoice) Recurrence() *PriceRecurrence {
	for _, line := range inv.Lines.Data {
		if line.Price != nil && line.Price.Recurring != nil {
			return line.Price.Recurring
		}
	}
	return nil
}

// SubscriptionObject is the subset of the provider subscription object the
// pipeline reads.
type SubscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Linkage returns the platform linkage metadata stamped on the subscription.
func (sub *SubscriptionObject) Linkage() types.LinkageMeta {
	return types.LinkageFromMap(sub.Metadata)
}

// Kind is the classification outcome for a webhook event.
type Kind string

const (
	// KindNone covers unsubscribed event types and objects missing the
	// fields their branch requires.
	KindNone Kind = "none"

	KindSubscriptionPaymentSucceeded Kind = "subscription_payment_succeeded"
	KindSubscriptionPaymentFailed    Kind = "subscription_payment_failed"
	KindSubscriptionLifecycle        Kind = "subscription_lifecycle"
)

// Classification pairs a Kind with the decoded object for its branch.
// Exactly one of Invoice and Subscription is set for non-none kinds.
type Classification struct {
	Kind         Kind
	EventType    string
	Invoice      *Invoice
	Subscription *SubscriptionObject
}

// Classify maps a verified event onto the pipeline branch that handles it.
// Payment kinds require the invoice to reference a subscription; lifecycle
// kinds require the subscription object to carry an id. Objects that fail
// to decode or lack those fields classify as KindNone.
func Classify(event *Event) Classification {
	if event == nil {
		return Classification{Kind: KindNone}
	}

	none := Classification{Kind: KindNone, EventType: event.Type}

	switch event.Type {
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var invoice Invoice
		if err := json.Unmarshal(event.Object, &invoice); err != nil {
			return none
		}
		if SanitizeID(invoice.Subscription) == "" {
			return none
		}

		kind := KindSubscriptionPaymentSucceeded
		if event.Type == EventInvoicePaymentFailed {
			kind = KindSubscriptionPaymentFailed
		}
		return Classification{Kind: kind, EventType: event.Type, Invoice: &invoice}

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var subscription SubscriptionObject
		if err := json.Unmarshal(event.Object, &subscription); err != nil {
			return none
		}
		if SanitizeID(subscription.ID) == "" {
			return none
		}
		return Classification{Kind: KindSubscriptionLifecycle, EventType: event.Type, Subscription: &subscription}
	}

	return none
}
