package models

import (
	"fmt"
	"strings"
	"time"
)

// Channel is the closed set of reminder media.
type Channel string

const (
	ChannelWhatsapp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelWhatsapp, ChannelSMS, ChannelEmail}

// ParseChannel rejects anything outside the supported set.
func ParseChannel(s string) (Channel, error) {
	switch ch := Channel(strings.ToLower(strings.TrimSpace(s))); ch {
	case ChannelWhatsapp, ChannelSMS, ChannelEmail:
		return ch, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// NeedsPhone reports whether the channel addresses a phone number.
func (c Channel) NeedsPhone() bool {
	return c == ChannelWhatsapp || c == ChannelSMS
}

// AttemptStatus is the lifecycle state of a recovery attempt.
type AttemptStatus string

const (
	AttemptStatusScheduled AttemptStatus = "scheduled"
	AttemptStatusSent      AttemptStatus = "sent"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusCancelled AttemptStatus = "cancelled"
)

// RecoveryAttempt is one scheduled reminder for a failed payment. Rows are never
// deleted; they are the audit trail of what was sent.
//
// ClaimedAt marks an attempt that an executor has taken past its precondition
// check. Claimed attempts are not cancelled by a recovery; a claim older than the
// configured TTL is considered abandoned and may be taken again.
type RecoveryAttempt struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaymentEventID   uint          `gorm:"index" json:"payment_event_id"`
	MerchantID       uint          `gorm:"not null;uniqueIndex:idx_recovery_attempts_payment_attempt,priority:1" json:"merchant_id"`
	GatewayPaymentID string        `gorm:"type:varchar(100);not null;uniqueIndex:idx_recovery_attempts_payment_attempt,priority:2" json:"gateway_payment_id"`
	AttemptNo        int           `gorm:"not null;uniqueIndex:idx_recovery_attempts_payment_attempt,priority:3" json:"attempt_no"`
	Channel          Channel       `gorm:"type:varchar(20)" json:"channel"`
	ScheduledAt      time.Time     `gorm:"index:idx_recovery_attempts_status_scheduled,priority:2" json:"scheduled_at"`
	Status           AttemptStatus `gorm:"type:varchar(20);index:idx_recovery_attempts_status_scheduled,priority:1" json:"status"`
	ClaimedAt        *time.Time    `json:"claimed_at,omitempty"`
	SentAt           *time.Time    `json:"sent_at,omitempty"`
	Recipient        string        `gorm:"type:varchar(255)" json:"recipient,omitempty"`
	Error            string        `gorm:"type:text" json:"error,omitempty"`

	PaymentEvent *PaymentEvent `gorm:"foreignKey:PaymentEventID;constraint:OnDelete:CASCADE" json:"-"`
}

// Key returns the key of the owning payment.
func (a RecoveryAttempt) Key() PaymentKey {
	return PaymentKey{MerchantID: a.MerchantID, GatewayPaymentID: a.GatewayPaymentID}
}
