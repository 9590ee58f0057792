package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"fairbill/internal/types"
)

// Header names the signature has been observed under. Some upstream proxies
// rewrite the canonical header into CGI style, so every candidate is checked.
var signatureHeaderCandidates = []string{
	"Stripe-Signature",
	"HTTP_STRIPE_SIGNATURE",
	"X-Stripe-Signature",
}

// SignatureFromHeaders returns the first non-empty signature header value,
// checking each candidate name case-insensitively.
func SignatureFromHeaders(headers http.Header) string {
	for _, name := range signatureHeaderCandidates {
		if value := headers.Get(name); value != "" {
			return value
		}
	}
	return ""
}

// Verifier authenticates provider webhook payloads against a shared secret.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify checks the HMAC-SHA256 signature header for a raw webhook payload.
// The header carries comma-separated elements of which "t" (unix timestamp)
// and "v1" (hex digest of "<t>.<body>") are significant; all others are
// ignored. Comparison is constant-time. A header with several v1 elements
// verifies if any of them match, which keeps deliveries valid across a
// secret rotation.
func (v *Verifier) Verify(payload []byte, header, secret string) error {
	if strings.TrimSpace(header) == "" {
		return types.NewAppError(
			types.ErrCodePaymentMissingSignature,
			"webhook delivery is missing the signature header",
			nil,
		)
	}
	if secret == "" {
		return types.NewAppError(
			types.ErrCodePaymentMissingSecret,
			"webhook signing secret is not configured",
			nil,
		)
	}

	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || len(parts.v1) == 0 {
		return signatureMismatch("signature header is malformed")
	}

	signedContent := fmt.Sprintf("%s.%s", parts.timestamp, payload)
	expected := computeHMAC(signedContent, secret)

	for _, candidate := range parts.v1 {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}

	return signatureMismatch("signature does not match payload")
}

func signatureMismatch(message string) error {
	return types.NewAppError(types.ErrCodePaymentSignatureMismatch, message, nil)
}

// signatureParts holds the significant elements of a signature header.
type signatureParts struct {
	timestamp string
	v1        []string
}

// parseSignatureHeader splits "t=1699000000,v1=abc,v0=def" into its parts.
// Unknown elements and elements without an "=" are skipped.
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts

	for _, element := range strings.Split(header, ",") {
		pair := strings.SplitN(element, "=", 2)
		if len(pair) != 2 {
			continue
		}

		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])

		switch key {
		case "t":
			parts.timestamp = value
		case "v1":
			if value != "" {
				parts.v1 = append(parts.v1, value)
			}
		}
	}

	return parts
}

// computeHMAC returns the hex-encoded HMAC-SHA256 of content under key.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
