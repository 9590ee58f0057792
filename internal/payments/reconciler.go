package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fairbill/internal/types"
)

// Gateway status strings the pipeline writes itself. Everything else in
// txn_status is provider vocabulary carried through verbatim.
const (
	TxnStatusSucceeded = "succeeded"
	TxnStatusPending   = "pending"
	TxnStatusFailed    = "failed"
)

var minorUnitFactor = decimal.NewFromInt(100)

// MajorUnits converts a provider minor-unit amount (cents) into the major
// unit the ledger stores.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorUnitFactor)
}

// MinorUnits converts a ledger amount into the provider's minor units,
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// InvoiceTransactionID resolves the gateway transaction id for an invoice:
// the first of invoice id, charge and payment intent that survives
// sanitization, then the caller's fallback.
func InvoiceTransactionID(inv *Invoice, fallback string) string {
	return FirstSafeID(inv.ID, inv.Charge, inv.PaymentIntent, fallback)
}

// ApplyInvoiceWebhook maps a provider invoice onto the transaction record.
// Pure field mapping: no storage and no side effects.
func ApplyInvoiceWebhook(tx *types.Transaction, inv *Invoice) {
	tx.TxnID = InvoiceTransactionID(inv, tx.TxnID)

	if inv.Paid {
		tx.TxnStatus = TxnStatusSucceeded
	} else if status := strings.TrimSpace(inv.Status); status != "" {
		tx.TxnStatus = status
	} else {
		tx.TxnStatus = TxnStatusPending
	}

	minor := inv.AmountDue
	if inv.AmountPaid != nil {
		minor = *inv.AmountPaid
	}
	tx.Amount = MajorUnits(minor)

	if currency := strings.ToUpper(strings.TrimSpace(inv.Currency)); currency != "" {
		tx.Currency = currency
	}

	if sid := SanitizeID(inv.Subscription); sid != "" {
		tx.SID = sid
	}

	tx.Type = types.TxnTypeSubscriptionPayment
	tx.Note = invoiceNote(inv)
}

// ApplySubscriptionWebhook maps a provider subscription status change onto
// the transaction record. Pure field mapping, as above.
func ApplySubscriptionWebhook(tx *types.Transaction, sub *SubscriptionObject, eventType string) {
	if sid := SanitizeID(sub.ID); sid != "" {
		tx.SID = sid
		tx.TxnID = sid
	}

	if status := strings.ToLower(strings.TrimSpace(sub.Status)); status != "" {
		tx.TxnStatus = status
	} else {
		tx.TxnStatus = TxnStatusPending
	}

	tx.Type = types.TxnTypeSubscriptionUpdate
	tx.Note = fmt.Sprintf("%s: subscription %s reported %s", eventType, idOrUnknown(sub.ID), tx.TxnStatus)
}

// MapPipelineStatus maps a gateway transaction status onto the local
// pipeline status. Unknown statuses stay received so a later delivery or a
// replay can still settle them.
func MapPipelineStatus(txnStatus string) types.PipelineStatus {
	switch strings.ToLower(strings.TrimSpace(txnStatus)) {
	case "succeeded":
		return types.PipelineProcessed
	case "requires_payment_method", "requires_action", "requires_confirmation", "requires_capture", "processing", "pending":
		return types.PipelineReceived
	case "canceled", "failed":
		return types.PipelineError
	default:
		return types.PipelineReceived
	}
}

func invoiceNote(inv *Invoice) string {
	id := idOrUnknown(inv.ID)
	if inv.Paid {
		return fmt.Sprintf("provider invoice %s paid", id)
	}
	return fmt.Sprintf("provider invoice %s reported %s", id, strings.TrimSpace(inv.Status))
}

// idOrUnknown keeps unsafe provider identifiers out of notes and logs.
func idOrUnknown(id string) string {
	if safe := SanitizeID(id); safe != "" {
		return safe
	}
	return "unknown"
}
