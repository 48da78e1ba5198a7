package recovery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Razorpay event names the engine reacts to.
const (
	EventPaymentFailed   = "payment.failed"
	EventPaymentCaptured = "payment.captured"
)

const unknownReason = "N/A"

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
}

// gatewayEvent is a webhook reduced to what the engine needs.
type gatewayEvent struct {
	Type      string
	PaymentID string
	Email     string
	Phone     string
	Amount    int64
	Currency  string
	Reason    string
}

func parseRazorpay(body []byte) (gatewayEvent, error) {
	var w razorpayWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return gatewayEvent{}, err
	}
	if w.Event == "" {
		return gatewayEvent{}, fmt.Errorf("missing event type")
	}

	e := w.Payload.Payment.Entity
	ev := gatewayEvent{
		Type:      w.Event,
		PaymentID: strings.TrimSpace(e.ID),
		Email:     strings.TrimSpace(e.Email),
		Phone:     strings.ReplaceAll(strings.TrimSpace(e.Contact), "+", ""),
		Amount:    e.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(e.Currency)),
		Reason:    firstNonEmpty(e.ErrorDescription, e.ErrorReason, unknownReason),
	}

	handled := ev.Type == EventPaymentFailed || ev.Type == EventPaymentCaptured
	if handled && ev.PaymentID == "" {
		return gatewayEvent{}, fmt.Errorf("%s without payment id", ev.Type)
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
