package core

import (
	"errors"
	"net/http"
	"testing"

	"fairbill/internal/types"
)

type checkoutPayload struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	ClientID  string `json:"client_id" validate:"required"`
	Title     string `json:"title" validate:"required"`
	Period    string `json:"period" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,len=3"`
}

func validPayload() checkoutPayload {
	return checkoutPayload{
		InvoiceID: "1001",
		ClientID:  "42",
		Title:     "Hosting plan",
		Period:    "1M",
		Amount:    1999,
		Currency:  "USD",
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(nil)

	if err := v.ValidateStruct(validPayload()); err != nil {
		t.Fatalf("ValidateStruct returned unexpected error: %v", err)
	}
}

func TestValidateStruct_MissingRequiredFields(t *testing.T) {
	v := NewValidator(nil)

	payload := validPayload()
	payload.InvoiceID = ""
	payload.Title = ""

	err := v.ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != errCodeValidationFailed {
		t.Errorf("error code = %q, want %q", appErr.Code, errCodeValidationFailed)
	}
	if appErr.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", appErr.HTTPStatus())
	}

	fields, ok := appErr.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected fields map in details, got %T", appErr.Details["fields"])
	}
	// Field names come from json tags, not Go identifiers.
	if _, present := fields["invoice_id"]; !present {
		t.Errorf("expected invoice_id in failed fields, got %v", fields)
	}
	if _, present := fields["title"]; !present {
		t.Errorf("expected title in failed fields, got %v", fields)
	}
	if _, present := fields["client_id"]; present {
		t.Errorf("client_id was valid but reported: %v", fields)
	}
}

func TestValidateStruct_RuleDescriptions(t *testing.T) {
	v := NewValidator(nil)

	payload := validPayload()
	payload.Amount = 0
	payload.Currency = "USDT"

	err := v.ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}

	fields := appErr.Details["fields"].(map[string]any)
	// Amount 0 fails "required" before "gt" is evaluated.
	if fields["amount"] != "is required" {
		t.Errorf("amount rule = %v, want 'is required'", fields["amount"])
	}
	if fields["currency"] != "must be exactly 3 characters" {
		t.Errorf("currency rule = %v, want 'must be exactly 3 characters'", fields["currency"])
	}
}

func TestValidateStruct_NegativeAmount(t *testing.T) {
	v := NewValidator(nil)

	payload := validPayload()
	payload.Amount = -5

	err := v.ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	fields := appErr.Details["fields"].(map[string]any)
	if fields["amount"] != "must be greater than 0" {
		t.Errorf("amount rule = %v, want 'must be greater than 0'", fields["amount"])
	}
}

func TestValidateStruct_NonStructInput(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct("not a struct")
	if err == nil {
		t.Fatal("expected error for non-struct input, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("error code = %q, want %q", appErr.Code, types.ErrCodeInternalUnexpected)
	}
}
