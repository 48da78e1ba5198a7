package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RazorpaySignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const RazorpaySignatureHeader = "X-Razorpay-Signature"

// SignWebhook returns the signature Razorpay would send for body.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a webhook signature in constant time. An empty
// secret or signature never verifies.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	expected := SignWebhook(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
