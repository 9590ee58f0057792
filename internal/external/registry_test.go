package external

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"fairbill/internal/config"
	"fairbill/internal/payments"
	"fairbill/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestNewClientRegistry_LocalWithoutKeysReturnsStubs verifies that a local
// environment with no secret key configured boots with stub clients.
func TestNewClientRegistry_LocalWithoutKeysReturnsStubs(t *testing.T) {
	cfg := &config.Config{Environment: "local"}

	reg := NewClientRegistry(cfg, testLogger())

	if reg.Provider == nil {
		t.Fatal("Provider is nil")
	}
	if reg.Webhook == nil {
		t.Fatal("Webhook is nil")
	}

	if _, ok := reg.Provider.(*StubProviderAPI); !ok {
		t.Errorf("Provider is %T, want *StubProviderAPI", reg.Provider)
	}
	if _, ok := reg.Webhook.(*StubWebhookVerifier); !ok {
		t.Errorf("Webhook is %T, want *StubWebhookVerifier", reg.Webhook)
	}
}

// TestNewClientRegistry_LocalWithKeysReturnsRealClient verifies that a local
// environment with a test key configured still talks to the real provider.
func TestNewClientRegistry_LocalWithKeysReturnsRealClient(t *testing.T) {
	cfg := &config.Config{
		Environment: "local",
		Stripe: config.StripeConfig{
			TestMode:      true,
			TestSecretKey: types.SecretString("sk_test_fake"),
		},
	}

	reg := NewClientRegistry(cfg, testLogger())

	if _, ok := reg.Provider.(*StripeClient); !ok {
		t.Errorf("Provider is %T, want *StripeClient", reg.Provider)
	}
}

// TestNewClientRegistry_ProductionReturnsRealClients verifies that outside the
// local environment the real client and verifier implementations are used.
func TestNewClientRegistry_ProductionReturnsRealClients(t *testing.T) {
	cfg := &config.Config{
		Environment: "prod",
		Stripe: config.StripeConfig{
			LiveSecretKey: types.SecretString("sk_live_fake"),
		},
	}

	reg := NewClientRegistry(cfg, testLogger())

	if _, ok := reg.Provider.(*StripeClient); !ok {
		t.Errorf("Provider is %T, want *StripeClient", reg.Provider)
	}
	if _, ok := reg.Webhook.(*payments.Verifier); !ok {
		t.Errorf("Webhook is %T, want *payments.Verifier", reg.Webhook)
	}
}

// TestNewClientRegistry_NilLoggerDefaultsToSlog verifies that passing a nil
// logger does not cause a panic.
func TestNewClientRegistry_NilLoggerDefaultsToSlog(t *testing.T) {
	cfg := &config.Config{Environment: "local"}

	reg := NewClientRegistry(cfg, nil)
	if reg.Provider == nil {
		t.Fatal("Provider is nil with nil logger")
	}
}

// TestStubProviderAPI_CreateSubscriptionCarriesClientSecret verifies the stub
// subscription exposes a client secret the checkout flow can hand back.
func TestStubProviderAPI_CreateSubscriptionCarriesClientSecret(t *testing.T) {
	stub := NewStubProviderAPI(testLogger())

	sub, err := stub.CreateSubscription(context.Background(), payments.SubscriptionParams{
		CustomerID: "cus_stub_1",
		PriceID:    "price_stub_1",
	})
	if err != nil {
		t.Fatalf("CreateSubscription returned error: %v", err)
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		t.Fatal("stub subscription is missing the expanded latest invoice")
	}
	if sub.LatestInvoice.PaymentIntent.ClientSecret == "" {
		t.Error("ClientSecret is empty, want a stub secret")
	}
	if sub.Status != "incomplete" {
		t.Errorf("Status = %q, want incomplete", sub.Status)
	}
}

// TestStubProviderAPI_GetPaymentIntentEchoesID verifies the stub returns a
// succeeded intent for whatever id is requested.
func TestStubProviderAPI_GetPaymentIntentEchoesID(t *testing.T) {
	stub := NewStubProviderAPI(testLogger())

	intent, err := stub.GetPaymentIntent(context.Background(), "pi_local_7")
	if err != nil {
		t.Fatalf("GetPaymentIntent returned error: %v", err)
	}
	if intent.ID != "pi_local_7" {
		t.Errorf("ID = %q, want pi_local_7", intent.ID)
	}
	if intent.Status != "succeeded" {
		t.Errorf("Status = %q, want succeeded", intent.Status)
	}
}

// TestStubWebhookVerifier_AlwaysSucceeds verifies the stub verifier never
// returns an error.
func TestStubWebhookVerifier_AlwaysSucceeds(t *testing.T) {
	stub := NewStubWebhookVerifier(testLogger())
	if err := stub.Verify([]byte("payload"), "sig_header", "secret"); err != nil {
		t.Errorf("Verify returned error: %v", err)
	}
}
