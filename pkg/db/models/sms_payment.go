package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// SmsPayment is one ingested bank-notification, from either a registered
// Android device or a signed webhook source.
type SmsPayment struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Channel          enums.PaymentChannel `gorm:"column:channel;type:payment_channel;not null"`
	DeviceID         *uuid.UUID           `gorm:"column:device_id;type:uuid"`
	WebhookSourceID  *uuid.UUID           `gorm:"column:webhook_source_id;type:uuid"`
	SmsSender        string               `gorm:"column:sms_sender"`
	SmsBody          string               `gorm:"column:sms_body;type:text"`
	SmsReceivedAt    *time.Time           `gorm:"column:sms_received_at"`
	Amount           decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	BankName         *string              `gorm:"column:bank_name"`
	AccountNumber    *string              `gorm:"column:account_number"`
	TransactionRef   *string              `gorm:"column:transaction_ref"`
	Confidence       decimal.Decimal      `gorm:"column:confidence;type:numeric(4,3);not null;default:0"`
	Status           enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:pending"`
	AutoApproved     bool                 `gorm:"column:auto_approved;not null;default:false"`
	ReviewedBy       *string              `gorm:"column:reviewed_by"`
	ReviewNote       *string              `gorm:"column:review_note"`
	ReviewedAt       *time.Time           `gorm:"column:reviewed_at"`
	OrderID          *uuid.UUID           `gorm:"column:order_id;type:uuid"`
	WebhookRequestID *string              `gorm:"column:webhook_request_id;uniqueIndex"`
	Metadata         json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
