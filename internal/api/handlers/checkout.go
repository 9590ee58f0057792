// Package handlers contains the HTTP handler implementations for the
// FairBill gateway API.
//
// This file implements the synchronous payment endpoints the host billing
// platform calls: building a subscription checkout for an invoice and
// confirming a one-time payment after the client-side flow finishes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fairbill/internal/core"
	"fairbill/internal/payments"
	"fairbill/internal/types"
)

// CheckoutService is the subset of the payments service the synchronous
// endpoints need.
type CheckoutService interface {
	BuildCheckout(ctx context.Context, req payments.CheckoutRequest) (*types.CheckoutForm, error)
	ConfirmPayment(ctx context.Context, transactionID, paymentIntentID string) (*types.Transaction, error)
}

// CreateCheckoutRequest is the request body for POST /v1/payments/checkout.
//
// The host platform posts its invoice snapshot when requesting a checkout.
// The invoice row is re-read by id and stays the authority for the charge;
// the posted figures gate broken requests at the edge and put the host's
// view of the invoice in the request log. Amount is in minor units.
type CreateCheckoutRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	ClientID  string `json:"client_id" validate:"required"`
	Title     string `json:"title" validate:"required"`
	Period    string `json:"period" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,len=3"`

	// Buyer contact for the provider customer record, when the host has it.
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name,omitempty"`
}

// ConfirmPaymentRequest is the request body for POST /v1/payments/confirm.
type ConfirmPaymentRequest struct {
	TransactionID   string `json:"transaction_id" validate:"required"`
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

// CheckoutHandler handles the payment actions initiated by the host
// platform on behalf of a buyer.
type CheckoutHandler struct {
	service   CheckoutService
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler with the provided dependencies.
func NewCheckoutHandler(svc CheckoutService, v *core.Validator, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the payment endpoints on the versioned router.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payments/checkout", h.CreateCheckout)
	r.Post("/payments/confirm", h.Confirm)
}

// CreateCheckout handles POST /v1/payments/checkout.
//
// Decodes and validates the invoice snapshot, then builds the provider
// resources for the subscription checkout. Responds 201 with the checkout
// form material (publishable key, client secret, provider ids) for the host
// platform to render.
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout requested",
		"invoice_id", req.InvoiceID,
		"client_id", req.ClientID,
		"amount", req.Amount,
		"currency", req.Currency,
		"period", req.Period,
	)

	form, err := h.service.BuildCheckout(r.Context(), payments.CheckoutRequest{
		InvoiceID: req.InvoiceID,
		Email:     req.Email,
		Name:      req.Name,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to build checkout",
			"invoice_id", req.InvoiceID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: form})
}

// Confirm handles POST /v1/payments/confirm.
//
// Settles a one-time payment after the buyer completes the client-side
// flow: the referenced payment intent is fetched from the provider and
// reconciled onto the transaction. When a webhook already populated the
// transaction the stored state is returned without a provider call.
func (h *CheckoutHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tx, err := h.service.ConfirmPayment(r.Context(), req.TransactionID, req.PaymentIntentID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to confirm payment",
			"transaction_id", req.TransactionID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tx})
}
