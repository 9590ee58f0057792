package payments

import "context"

// CustomerParams creates a provider customer for a platform client.
type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// Customer is the provider customer resource.
type Customer struct {
	ID string `json:"id"`
}

// ProductParams creates a provider product to hang a price on.
type ProductParams struct {
	Name string
}

// Product is the provider product resource.
type Product struct {
	ID string `json:"id"`
}

// PriceParams creates a recurring price in minor units.
type PriceParams struct {
	ProductID  string
	UnitAmount int64
	Currency   string
	Recurrence Interval
}

// Price is the provider price resource.
type Price struct {
	ID string `json:"id"`
}

// SubscriptionParams creates a subscription that starts incomplete and is
// confirmed client-side with the returned payment secret.
type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// ProviderSubscription is the provider subscription resource with its first
// invoice expanded.
type ProviderSubscription struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	LatestInvoice *LatestInvoice `json:"latest_invoice"`
}

// LatestInvoice carries the two places the provider has historically put
// the confirmation secret for an incomplete subscription.
type LatestInvoice struct {
	ID            string         `json:"id"`
	PaymentIntent *PaymentIntent `json:"payment_intent"`

	ConfirmationSecret *ConfirmationSecret `json:"confirmation_secret"`
}

// ConfirmationSecret is the newer API shape for the client-side secret.
type ConfirmationSecret struct {
	ClientSecret string `json:"client_secret"`
}

// PaymentIntent is the provider payment intent resource.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret"`
}

// ProviderAPI is the provider surface the payment service calls. The
// concrete client lives outside this package; tests substitute fakes.
type ProviderAPI interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	CreateProduct(ctx context.Context, params ProductParams) (*Product, error)
	CreatePrice(ctx context.Context, params PriceParams) (*Price, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
}
