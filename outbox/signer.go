package outbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the payload signature on outbound deliveries.
const SignatureHeader = "X-Webhook-Signature"

// Sign computes the signature header value for a delivery payload:
// "sha256=" + hex(HMAC-SHA256(secret, payload)). The format is part of the
// receiver-verifiable contract and must stay stable.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header value against the raw
// body, in constant time. Subscribers perform the same check on their side.
func VerifySignature(payload []byte, secret, header string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(header))
}
