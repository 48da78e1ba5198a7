package models

import (
	"encoding/json"
	"time"
)

// WebhookDelivery records every inbound gateway call and what the ingestor made of it.
type WebhookDelivery struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	MerchantID       uint            `gorm:"index" json:"merchant_id"`
	Gateway          string          `gorm:"type:varchar(50);not null" json:"gateway"`
	EventType        string          `gorm:"type:varchar(100)" json:"event_type"`
	GatewayPaymentID string          `gorm:"type:varchar(100);index" json:"gateway_payment_id"`
	Outcome          string          `gorm:"type:varchar(50)" json:"outcome"`
	Metadata         json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
}
