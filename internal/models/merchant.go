package models

import (
	"time"

	"gorm.io/gorm"
)

// Merchant is the identity that scopes payment events and recovery attempts.
// Only the API key and the webhook secret change after creation.
type Merchant struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name          string `gorm:"type:varchar(255)" json:"name"`
	APIKey        string `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	UpiVPA        string `gorm:"type:varchar(255)" json:"upi_vpa,omitempty"`
	PaymentLink   string `gorm:"type:text" json:"payment_link,omitempty"`
	WebhookSecret string `gorm:"type:varchar(255)" json:"-"`
}
