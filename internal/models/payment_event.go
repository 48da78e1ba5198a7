package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PaymentStatus is the state of a tracked payment.
type PaymentStatus string

const (
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRecovered PaymentStatus = "recovered"
)

// PaymentGatewayRazorpay is the only gateway currently wired to the webhook endpoint.
const PaymentGatewayRazorpay = "razorpay"

// PaymentKey identifies a payment across the system. Everything that touches a
// payment's state is serialized on this key.
type PaymentKey struct {
	MerchantID       uint
	GatewayPaymentID string
}

func (k PaymentKey) String() string {
	return fmt.Sprintf("%d:%s", k.MerchantID, k.GatewayPaymentID)
}

// PaymentEvent is the current state of one gateway payment for one merchant.
// Status only moves from failed to recovered, never back.
type PaymentEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MerchantID       uint            `gorm:"not null;uniqueIndex:idx_payment_events_merchant_payment,priority:1" json:"merchant_id"`
	GatewayPaymentID string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_payment_events_merchant_payment,priority:2" json:"gateway_payment_id"`
	Gateway          string          `gorm:"type:varchar(50);default:'razorpay'" json:"gateway"`
	CustomerEmail    string          `gorm:"type:varchar(255)" json:"customer_email,omitempty"`
	CustomerPhone    string          `gorm:"type:varchar(50)" json:"customer_phone,omitempty"`
	Amount           int64           `json:"amount"` // minor currency units
	Currency         string          `gorm:"type:varchar(10)" json:"currency"`
	Status           PaymentStatus   `gorm:"type:varchar(20);index" json:"status"`
	FailureReason    string          `gorm:"type:text" json:"failure_reason,omitempty"`
	RawPayload       json.RawMessage `gorm:"type:jsonb" json:"-"`

	FailedAt            *time.Time `json:"failed_at,omitempty"`
	RecoveredAt         *time.Time `json:"recovered_at,omitempty"`
	AttemptsScheduledAt *time.Time `json:"attempts_scheduled_at,omitempty"`

	Merchant *Merchant `gorm:"foreignKey:MerchantID;constraint:OnDelete:CASCADE" json:"-"`
}

// Key returns the payment's idempotency key.
func (p PaymentEvent) Key() PaymentKey {
	return PaymentKey{MerchantID: p.MerchantID, GatewayPaymentID: p.GatewayPaymentID}
}
