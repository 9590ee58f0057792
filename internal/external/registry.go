package external

import (
	"log/slog"
	"net/http"
	"time"

	"fairbill/internal/config"
	"fairbill/internal/payments"
)

// WebhookVerifier checks a provider webhook signature header against the raw
// request body and the configured signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// ClientRegistry holds the provider-facing clients. It is the single point of
// access for the rest of the application to interact with the payment
// provider's API and its webhook signatures.
type ClientRegistry struct {
	Provider payments.ProviderAPI
	Webhook  WebhookVerifier
}

// NewClientRegistry initializes the provider clients. In the local environment
// with no API key configured, the registry is populated with stub
// implementations that log actions without requiring real credentials.
// Otherwise the real Stripe client is built with the key pair selected by the
// gateway's test-mode toggle.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	useStubs := cfg.Environment == "local" && cfg.Stripe.ActiveSecretKey().Unmask() == ""

	if useStubs {
		logger.Info("initializing provider clients in STUB mode",
			"environment", cfg.Environment,
		)
		return newStubRegistry(logger)
	}

	logger.Info("initializing provider clients",
		"environment", cfg.Environment,
		"test_mode", cfg.Stripe.TestMode,
	)
	return newProductionRegistry(cfg, logger)
}

// newStubRegistry creates a ClientRegistry populated entirely with stub
// implementations so the application can boot locally without provider
// credentials.
func newStubRegistry(logger *slog.Logger) *ClientRegistry {
	stubLogger := logger.With("mode", "stub")

	return &ClientRegistry{
		Provider: NewStubProviderAPI(stubLogger),
		Webhook:  NewStubWebhookVerifier(stubLogger),
	}
}

// newProductionRegistry creates a ClientRegistry with the real provider client
// configured with strict timeouts and the default resilience policy.
func newProductionRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	httpClient := &http.Client{Timeout: 20 * time.Second}

	return &ClientRegistry{
		Provider: NewStripeClient(httpClient, StripeClientConfig{
			SecretKey: cfg.Stripe.ActiveSecretKey(),
			Logger:    logger.With("client", "stripe"),
		}),
		Webhook: payments.NewVerifier(),
	}
}
