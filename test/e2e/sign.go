//go:build e2e

package e2e

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SignPayload builds a provider-style signature header for a webhook payload:
// an HMAC-SHA256 of "<unix timestamp>.<payload>" keyed by the signing secret,
// presented as "t=<ts>,v1=<hex>". This is the scheme the gateway's verifier
// checks, so a correctly signed delivery passes verification when the test
// secret matches the gateway's.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
