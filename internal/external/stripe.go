package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"fairbill/internal/payments"
	"fairbill/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements payments.ProviderAPI by making direct HTTP calls
// to the Stripe REST API through BaseClient. This routes all requests
// through the service's resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

var _ payments.ProviderAPI = (*StripeClient)(nil)

// NewStripeClient creates a new StripeClient. The httpClient timeout bounds
// a single attempt; retries are layered on top by BaseClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"FairBill/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// payments.ProviderAPI Implementation
// ---------------------------------------------------------------------------

// CreateCustomer creates a Stripe customer carrying the platform linkage
// metadata so webhooks for this customer can be resolved back to a client.
func (s *StripeClient) CreateCustomer(ctx context.Context, params payments.CustomerParams) (*payments.Customer, error) {
	form := url.Values{}
	if params.Email != "" {
		form.Set("email", params.Email)
	}
	if params.Name != "" {
		form.Set("name", params.Name)
	}
	encodeMetadata(form, params.Metadata)

	var customer payments.Customer
	if err := s.postForm(ctx, "/v1/customers", form, &customer, "CreateCustomer"); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateProduct creates the product a subscription price hangs on.
func (s *StripeClient) CreateProduct(ctx context.Context, params payments.ProductParams) (*payments.Product, error) {
	form := url.Values{}
	form.Set("name", params.Name)

	var product payments.Product
	if err := s.postForm(ctx, "/v1/products", form, &product, "CreateProduct"); err != nil {
		return nil, err
	}
	return &product, nil
}

// CreatePrice creates a recurring price in minor units.
func (s *StripeClient) CreatePrice(ctx context.Context, params payments.PriceParams) (*payments.Price, error) {
	form := url.Values{}
	form.Set("product", params.ProductID)
	form.Set("unit_amount", strconv.FormatInt(params.UnitAmount, 10))
	form.Set("currency", params.Currency)
	form.Set("recurring[interval]", params.Recurrence.Unit)
	form.Set("recurring[interval_count]", strconv.FormatInt(params.Recurrence.Count, 10))

	var price payments.Price
	if err := s.postForm(ctx, "/v1/prices", form, &price, "CreatePrice"); err != nil {
		return nil, err
	}
	return &price, nil
}

// CreateSubscription creates an incomplete subscription with its first
// invoice expanded, so the caller can extract the client-side confirmation
// secret in the same round trip. Older API versions expose the secret on
// latest_invoice.payment_intent, newer ones on
// latest_invoice.confirmation_secret; both are expanded.
func (s *StripeClient) CreateSubscription(ctx context.Context, params payments.SubscriptionParams) (*payments.ProviderSubscription, error) {
	form := url.Values{}
	form.Set("customer", params.CustomerID)
	form.Set("items[0][price]", params.PriceID)
	form.Set("payment_behavior", "default_incomplete")
	form.Add("expand[]", "latest_invoice.payment_intent")
	form.Add("expand[]", "latest_invoice.confirmation_secret")
	encodeMetadata(form, params.Metadata)

	var sub payments.ProviderSubscription
	if err := s.postForm(ctx, "/v1/subscriptions", form, &sub, "CreateSubscription"); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetPaymentIntent retrieves a payment intent by id for the confirm flow.
func (s *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*payments.PaymentIntent, error) {
	var intent payments.PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(id)
	if err := s.getJSON(ctx, path, nil, &intent, "GetPaymentIntent"); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// postForm performs an authenticated form-encoded POST and decodes the JSON
// response into out.
func (s *StripeClient) postForm(ctx context.Context, path string, form url.Values, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s: failed to build request", operation),
			err,
		)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.roundTrip(req, out, operation)
}

// getJSON performs an authenticated GET and decodes the JSON response into out.
func (s *StripeClient) getJSON(ctx context.Context, path string, params url.Values, out any, operation string) error {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s: failed to build request", operation),
			err,
		)
	}
	s.setAuthHeaders(req)

	return s.roundTrip(req, out, operation)
}

func (s *StripeClient) roundTrip(req *http.Request, out any, operation string) error {
	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapProviderError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, operation)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s: failed to decode Stripe response", operation),
			err,
		)
	}
	return nil
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// encodeMetadata appends metadata[...] form fields for every entry.
func encodeMetadata(form url.Values, md map[string]string) {
	for k, v := range md {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the
// Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	// Card declines surface as a payment error, not an upstream failure.
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapProviderError wraps a BaseClient transport error with operation
// context. AppErrors from BaseClient (circuit breaker open, retries
// exhausted) already carry the right code and pass through unchanged.
func (s *StripeClient) wrapProviderError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}
