// Package handlers contains the HTTP handler implementations for the
// FairBill gateway API.
//
// This file implements the inbound provider webhook endpoint. The endpoint
// is called directly by the payment provider, so there is no platform
// session to authenticate; trust comes from verifying the signature header
// against the raw body with the shared signing secret.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fairbill/internal/core"
	"fairbill/internal/external"
	"fairbill/internal/payments"
	"fairbill/internal/types"
)

// maxWebhookBodySize is the maximum accepted webhook payload (64 KiB).
// Provider event envelopes are small; anything larger is not a delivery.
const maxWebhookBodySize = 64 * 1024

// WebhookProcessor runs a verified delivery through the payment pipeline.
// This is the subset of the payments service the webhook handler needs.
type WebhookProcessor interface {
	ApplyWebhook(ctx context.Context, payload []byte) (*payments.WebhookOutcome, error)
}

// WebhookHandler receives asynchronous event deliveries from the payment
// provider, authenticates them by signature and hands the raw payload to
// the pipeline.
type WebhookHandler struct {
	verifier  external.WebhookVerifier
	processor WebhookProcessor
	secret    types.SecretString
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler with the provided dependencies.
func NewWebhookHandler(
	verifier external.WebhookVerifier,
	processor WebhookProcessor,
	secret types.SecretString,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier:  verifier,
		processor: processor,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint on the versioned router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payments/webhook", h.Handle)
}

// Handle processes one provider webhook delivery:
//
//  1. Reads the raw body with a size limit. The exact bytes are needed for
//     signature verification, so the body is never decoded before that.
//  2. Resolves the signature header and verifies it against the payload.
//     Verification failures reject the delivery; the provider retries.
//  3. Runs the payload through the pipeline. A processing failure after the
//     transaction row exists is recorded on the row and the delivery is
//     still acknowledged with 200, so the provider does not redeliver an
//     event the replayer will pick up anyway. A failure before any row
//     exists surfaces as an error response and the provider redelivers.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	signature := payments.SignatureFromHeaders(r.Header)
	if err := h.verifier.Verify(payload, signature, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	outcome, err := h.processor.ApplyWebhook(r.Context(), payload)
	if err != nil {
		if outcome == nil {
			h.logger.ErrorContext(r.Context(), "webhook delivery could not be recorded",
				"error", err,
			)
			core.Error(w, r, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "webhook processing failed, delivery acknowledged",
			"event_id", outcome.EventID,
			"event_type", outcome.EventType,
			"transaction_id", outcome.TransactionID,
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: outcome})
}
