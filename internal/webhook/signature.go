// Package webhook receives tracker change notifications and feeds them to
// the engine. Deliveries are authenticated with an HMAC-SHA256 signature
// over the raw body; handlers acknowledge fast and triage in the
// background, so a slow sweep never times out the tracker's delivery.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Shaper-Signature"

// Sign computes the signature header value for a payload.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verify checks a delivery signature in constant time. An empty secret
// rejects everything: an unconfigured receiver must not accept writes.
func verify(secret, body []byte, header string) bool {
	if len(secret) == 0 || header == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
