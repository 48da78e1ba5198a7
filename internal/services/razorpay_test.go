package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.failed"}`)
	sig := SignWebhook("whsec", body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		expected  bool
	}{
		{name: "valid", secret: "whsec", body: body, signature: sig, expected: true},
		{name: "uppercase hex", secret: "whsec", body: body, signature: strings.ToUpper(sig), expected: true},
		{name: "wrong secret", secret: "other", body: body, signature: sig, expected: false},
		{name: "tampered body", secret: "whsec", body: []byte(`{"event":"payment.captured"}`), signature: sig, expected: false},
		{name: "missing signature", secret: "whsec", body: body, signature: "", expected: false},
		{name: "missing secret", secret: "", body: body, signature: SignWebhook("", body), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, VerifyWebhookSignature(tt.secret, tt.body, tt.signature))
		})
	}
}

