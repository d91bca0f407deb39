package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// PaymentOrder is a merchant charge waiting to be settled by an incoming
// bank-transfer SMS. Amount carries the allocated unique value; BaseAmount
// is what the merchant asked for.
type PaymentOrder struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber  string            `gorm:"column:order_number;not null;uniqueIndex"`
	BaseAmount   decimal.Decimal   `gorm:"column:base_amount;type:numeric(12,2);not null"`
	Amount       decimal.Decimal   `gorm:"column:amount;type:numeric(12,2);not null"`
	AmountSuffix decimal.Decimal   `gorm:"column:amount_suffix;type:numeric(12,2);not null;default:0"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:pending"`
	Currency     string            `gorm:"column:currency;type:char(3);not null;default:THB"`
	Description  string            `gorm:"column:description;not null"`
	Reference    *string           `gorm:"column:reference"`
	CustomerName *string           `gorm:"column:customer_name"`
	CustomerTel  *string           `gorm:"column:customer_phone"`
	CustomerMail *string           `gorm:"column:customer_email"`
	CallbackURL  *string           `gorm:"column:callback_url"`
	Metadata     json.RawMessage   `gorm:"column:metadata;type:jsonb"`
	PaymentID    *uuid.UUID        `gorm:"column:payment_id;type:uuid"`
	MatchedAt    *time.Time        `gorm:"column:matched_at"`
	PaidAt       *time.Time        `gorm:"column:paid_at"`
	CancelledAt  *time.Time        `gorm:"column:cancelled_at"`
	ExpiresAt    time.Time         `gorm:"column:expires_at;not null"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpired reports whether the order is past its deadline, regardless of
// whether the janitor has materialized the expired status yet.
func (o PaymentOrder) IsExpired(now time.Time) bool {
	return o.Status == enums.OrderStatusExpired ||
		(o.Status == enums.OrderStatusPending && !o.ExpiresAt.After(now))
}

// EffectiveStatus folds the expiry predicate into the stored status.
func (o PaymentOrder) EffectiveStatus(now time.Time) enums.OrderStatus {
	if o.Status == enums.OrderStatusPending && !o.ExpiresAt.After(now) {
		return enums.OrderStatusExpired
	}
	return o.Status
}
