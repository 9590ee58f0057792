package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"fairbill/internal/payments"
)

// Stub implementations let the service boot in the local environment without
// provider credentials. They log all calls and return predictable values,
// including a usable client secret so the checkout flow can be exercised end
// to end against a fake provider.

// StubProviderAPI implements payments.ProviderAPI by logging calls and
// returning deterministic resources.
type StubProviderAPI struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewStubProviderAPI creates a new StubProviderAPI.
func NewStubProviderAPI(logger *slog.Logger) *StubProviderAPI {
	return &StubProviderAPI{logger: logger}
}

func (s *StubProviderAPI) CreateCustomer(ctx context.Context, params payments.CustomerParams) (*payments.Customer, error) {
	s.logger.InfoContext(ctx, "stub: CreateCustomer called",
		"email", params.Email,
		"name", params.Name,
	)
	return &payments.Customer{ID: fmt.Sprintf("cus_stub_%d", s.seq.Add(1))}, nil
}

func (s *StubProviderAPI) CreateProduct(ctx context.Context, params payments.ProductParams) (*payments.Product, error) {
	s.logger.InfoContext(ctx, "stub: CreateProduct called",
		"name", params.Name,
	)
	return &payments.Product{ID: fmt.Sprintf("prod_stub_%d", s.seq.Add(1))}, nil
}

func (s *StubProviderAPI) CreatePrice(ctx context.Context, params payments.PriceParams) (*payments.Price, error) {
	s.logger.InfoContext(ctx, "stub: CreatePrice called",
		"product", params.ProductID,
		"unit_amount", params.UnitAmount,
		"currency", params.Currency,
	)
	return &payments.Price{ID: fmt.Sprintf("price_stub_%d", s.seq.Add(1))}, nil
}

func (s *StubProviderAPI) CreateSubscription(ctx context.Context, params payments.SubscriptionParams) (*payments.ProviderSubscription, error) {
	s.logger.InfoContext(ctx, "stub: CreateSubscription called",
		"customer", params.CustomerID,
		"price", params.PriceID,
	)
	n := s.seq.Add(1)
	return &payments.ProviderSubscription{
		ID:     fmt.Sprintf("sub_stub_%d", n),
		Status: "incomplete",
		LatestInvoice: &payments.LatestInvoice{
			ID: fmt.Sprintf("in_stub_%d", n),
			PaymentIntent: &payments.PaymentIntent{
				ID:           fmt.Sprintf("pi_stub_%d", n),
				Status:       "requires_payment_method",
				ClientSecret: fmt.Sprintf("pi_stub_%d_secret", n),
			},
		},
	}, nil
}

func (s *StubProviderAPI) GetPaymentIntent(ctx context.Context, id string) (*payments.PaymentIntent, error) {
	s.logger.InfoContext(ctx, "stub: GetPaymentIntent called",
		"payment_intent_id", id,
	)
	return &payments.PaymentIntent{
		ID:           id,
		Status:       "succeeded",
		ClientSecret: id + "_secret",
	}, nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding, so
// local deliveries are accepted without a correctly signed header.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

var _ payments.ProviderAPI = (*StubProviderAPI)(nil)
var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
