package handlers

import (
	"time"

	"tinko_recovery/internal/models"
)

// RegisterMerchantRequest is the body of POST /api/register_merchant.
type RegisterMerchantRequest struct {
	Name          string `json:"name"`
	UpiVPA        string `json:"upi_vpa"`
	PaymentLink   string `json:"payment_link"`
	WebhookSecret string `json:"webhook_secret"`
}

// RegisterMerchantResponse returns the credentials of a new merchant. The webhook
// secret is only echoed when it was generated.
type RegisterMerchantResponse struct {
	Message       string `json:"message"`
	MerchantID    uint   `json:"merchant_id"`
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

type RotateKeyResponse struct {
	OK        bool   `json:"ok"`
	NewAPIKey string `json:"new_api_key"`
}

type RotateWebhookSecretResponse struct {
	OK               bool   `json:"ok"`
	NewWebhookSecret string `json:"new_webhook_secret"`
}

// StatsResponse reports recovery performance. Amounts are in major units.
type StatsResponse struct {
	FailedCount          int64   `json:"failed_count"`
	RecoveredCount       int64   `json:"recovered_count"`
	TotalRecoveredAmount float64 `json:"total_recovered_amount"`
	RecoveryPercentage   float64 `json:"recovery_percentage"`
}

// EventResponse is one row of the events list.
type EventResponse struct {
	PaymentID     string               `json:"payment_id"`
	Status        models.PaymentStatus `json:"status"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	CustomerEmail string               `json:"customer_email,omitempty"`
	CustomerPhone string               `json:"customer_phone,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	FailedAt      *time.Time           `json:"failed_at,omitempty"`
	RecoveredAt   *time.Time           `json:"recovered_at,omitempty"`
}

func newEventResponse(p models.PaymentEvent) EventResponse {
	return EventResponse{
		PaymentID:     p.GatewayPaymentID,
		Status:        p.Status,
		FailureReason: p.FailureReason,
		Amount:        p.Amount,
		Currency:      p.Currency,
		CustomerEmail: p.CustomerEmail,
		CustomerPhone: p.CustomerPhone,
		CreatedAt:     p.CreatedAt,
		FailedAt:      p.FailedAt,
		RecoveredAt:   p.RecoveredAt,
	}
}

// AttemptResponse is one row of a payment's attempt audit trail.
type AttemptResponse struct {
	AttemptNo   int                  `json:"attempt_no"`
	Channel     models.Channel       `json:"channel"`
	Status      models.AttemptStatus `json:"status"`
	ScheduledAt time.Time            `json:"scheduled_at"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
	Recipient   string               `json:"recipient,omitempty"`
	Error       string               `json:"error,omitempty"`
}

type AttemptsResponse struct {
	PaymentID string               `json:"payment_id"`
	Status    models.PaymentStatus `json:"status"`
	Attempts  []AttemptResponse    `json:"attempts"`
}
