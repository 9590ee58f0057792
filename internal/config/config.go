// Package config defines the configuration for the FairBill payment gateway
// service. Configuration is loaded once at process start and is immutable
// thereafter, following 12-Factor principles: code and configuration stay
// strictly separated.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup (fail fast).
package config

import (
	"time"

	"fairbill/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the gateway service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"fairbill-gateway"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Stripe   StripeConfig

	// Build metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// PaymentEventsQueue receives the settled-payment notifications consumed
	// by the host platform's downstream workers.
	PaymentEventsQueue string `envconfig:"SQS_PAYMENT_EVENTS" validate:"required,url"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// StripeConfig holds the provider key pairs and gateway settings. Both the
// live and the test pair may be configured at once; the test-mode toggle
// selects which pair the gateway uses.
type StripeConfig struct {
	LiveSecretKey      SecretString `envconfig:"STRIPE_LIVE_SECRET_KEY"`
	TestSecretKey      SecretString `envconfig:"STRIPE_TEST_SECRET_KEY"`
	LivePublishableKey string       `envconfig:"STRIPE_LIVE_PUBLISHABLE_KEY"`
	TestPublishableKey string       `envconfig:"STRIPE_TEST_PUBLISHABLE_KEY"`
	WebhookSecret      SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	TestMode           bool         `envconfig:"STRIPE_TEST_MODE" default:"true"`

	// GatewayID identifies this gateway in the host platform's records and
	// in the linkage metadata stamped on provider objects.
	GatewayID          string `envconfig:"GATEWAY_ID" default:"stripe"`
	DefaultProductName string `envconfig:"STRIPE_PRODUCT_NAME" default:"FairBill Subscription"`
	DefaultProductID   string `envconfig:"STRIPE_PRODUCT_ID"`
}

// ActiveSecretKey returns the secret API key selected by the test-mode toggle.
func (c StripeConfig) ActiveSecretKey() SecretString {
	if c.TestMode {
		return c.TestSecretKey
	}
	return c.LiveSecretKey
}

// ActivePublishableKey returns the publishable key selected by the test-mode
// toggle. Publishable keys are sent to the browser and are not secret.
func (c StripeConfig) ActivePublishableKey() string {
	if c.TestMode {
		return c.TestPublishableKey
	}
	return c.LivePublishableKey
}

// Mode reports the key-pair mode the way it is rendered into checkout forms.
func (c StripeConfig) Mode() string {
	if c.TestMode {
		return "test"
	}
	return "live"
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
