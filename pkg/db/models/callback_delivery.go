package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// CallbackDelivery is the audit record of one merchant callback attempt.
// Deliveries are single-shot; there is no retry queue behind this table.
type CallbackDelivery struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID            `gorm:"column:order_id;type:uuid;not null"`
	PaymentID  uuid.UUID            `gorm:"column:payment_id;type:uuid;not null"`
	URL        string               `gorm:"column:url;not null"`
	Event      string               `gorm:"column:event;not null"`
	Status     enums.CallbackStatus `gorm:"column:status;type:callback_status;not null"`
	HTTPStatus *int                 `gorm:"column:http_status"`
	Error      *string              `gorm:"column:error;type:text"`
	DurationMS int64                `gorm:"column:duration_ms;not null;default:0"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
}
