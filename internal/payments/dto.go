package payments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// DeviceIngestInput is one SMS forwarded by a registered Android device.
// DeviceKey carries the raw X-Device-Key header when the caller sent one.
type DeviceIngestInput struct {
	DeviceCode     string
	DeviceKey      string
	SmsSender      string
	SmsBody        string
	SmsReceivedAt  *time.Time
	Amount         decimal.Decimal
	BankName       *string
	AccountNumber  *string
	TransactionRef *string
	Confidence     decimal.Decimal
}

// ReviewInput carries an operator approve/reject decision.
type ReviewInput struct {
	PaymentID uuid.UUID
	Reviewer  string
	Note      *string
}

// PaymentFilters describe the inputs supported by the payments list.
type PaymentFilters struct {
	Status   *enums.PaymentStatus
	Channel  *enums.PaymentChannel
	DeviceID *uuid.UUID
}

// PaymentDTO is the serialized shape of an ingested payment.
type PaymentDTO struct {
	ID               uuid.UUID            `json:"id"`
	Channel          enums.PaymentChannel `json:"channel"`
	DeviceID         *uuid.UUID           `json:"device_id,omitempty"`
	WebhookSourceID  *uuid.UUID           `json:"webhook_source_id,omitempty"`
	SmsSender        string               `json:"sms_sender"`
	SmsBody          string               `json:"sms_body"`
	SmsReceivedAt    *time.Time           `json:"sms_received_at,omitempty"`
	Amount           decimal.Decimal      `json:"amount"`
	BankName         *string              `json:"bank_name,omitempty"`
	AccountNumber    *string              `json:"account_number,omitempty"`
	TransactionRef   *string              `json:"transaction_ref,omitempty"`
	Confidence       decimal.Decimal      `json:"confidence"`
	Status           enums.PaymentStatus  `json:"status"`
	AutoApproved     bool                 `json:"auto_approved"`
	ReviewedBy       *string              `json:"reviewed_by,omitempty"`
	ReviewNote       *string              `json:"review_note,omitempty"`
	ReviewedAt       *time.Time           `json:"reviewed_at,omitempty"`
	OrderID          *uuid.UUID           `json:"order_id,omitempty"`
	WebhookRequestID *string              `json:"webhook_request_id,omitempty"`
	Metadata         json.RawMessage      `json:"metadata,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// NewPaymentDTO maps a stored payment row onto its API shape.
func NewPaymentDTO(payment models.SmsPayment) PaymentDTO {
	return PaymentDTO{
		ID:               payment.ID,
		Channel:          payment.Channel,
		DeviceID:         payment.DeviceID,
		WebhookSourceID:  payment.WebhookSourceID,
		SmsSender:        payment.SmsSender,
		SmsBody:          payment.SmsBody,
		SmsReceivedAt:    payment.SmsReceivedAt,
		Amount:           payment.Amount,
		BankName:         payment.BankName,
		AccountNumber:    payment.AccountNumber,
		TransactionRef:   payment.TransactionRef,
		Confidence:       payment.Confidence,
		Status:           payment.Status,
		AutoApproved:     payment.AutoApproved,
		ReviewedBy:       payment.ReviewedBy,
		ReviewNote:       payment.ReviewNote,
		ReviewedAt:       payment.ReviewedAt,
		OrderID:          payment.OrderID,
		WebhookRequestID: payment.WebhookRequestID,
		Metadata:         payment.Metadata,
		CreatedAt:        payment.CreatedAt,
		UpdatedAt:        payment.UpdatedAt,
	}
}

// PaymentOutcome is the ingest/approve response: the payment plus the match
// result when matching ran in the same request.
type PaymentOutcome struct {
	Payment PaymentDTO       `json:"payment"`
	Matched bool             `json:"matched"`
	Order   *orders.OrderDTO `json:"order,omitempty"`
}

// PaymentDetail pairs a payment with its linked order, when any.
type PaymentDetail struct {
	Payment PaymentDTO       `json:"payment"`
	Order   *orders.OrderDTO `json:"order,omitempty"`
}

// PaymentList is one page of payments plus the cursor for the next page.
type PaymentList struct {
	Payments   []PaymentDTO `json:"payments"`
	NextCursor string       `json:"next_cursor,omitempty"`
}
