package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// CreateOrderInput captures the merchant request for a new payment order.
type CreateOrderInput struct {
	Amount           decimal.Decimal
	Description      string
	Reference        *string
	CustomerName     *string
	CustomerPhone    *string
	CustomerEmail    *string
	CallbackURL      *string
	ExpiresInMinutes int
	Metadata         json.RawMessage
}

// OrderFilters describe the inputs supported by the orders list.
type OrderFilters struct {
	Status        *enums.OrderStatus
	Reference     string
	CustomerPhone string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

// OrderDTO is the serialized shape of a payment order. EffectiveStatus folds
// the expiry predicate in so callers never act on a stale pending status.
type OrderDTO struct {
	ID              uuid.UUID         `json:"id"`
	OrderNumber     string            `json:"order_number"`
	BaseAmount      decimal.Decimal   `json:"base_amount"`
	Amount          decimal.Decimal   `json:"amount"`
	AmountSuffix    decimal.Decimal   `json:"amount_suffix"`
	Status          enums.OrderStatus `json:"status"`
	EffectiveStatus enums.OrderStatus `json:"effective_status"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description"`
	Reference       *string           `json:"reference,omitempty"`
	CustomerName    *string           `json:"customer_name,omitempty"`
	CustomerPhone   *string           `json:"customer_phone,omitempty"`
	CustomerEmail   *string           `json:"customer_email,omitempty"`
	CallbackURL     *string           `json:"callback_url,omitempty"`
	Metadata        json.RawMessage   `json:"metadata,omitempty"`
	PaymentID       *uuid.UUID        `json:"payment_id,omitempty"`
	MatchedAt       *time.Time        `json:"matched_at,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	ExpiresAt       time.Time         `json:"expires_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewOrderDTO maps the stored order into its serialized shape as of now.
func NewOrderDTO(order models.PaymentOrder, now time.Time) OrderDTO {
	return OrderDTO{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		BaseAmount:      order.BaseAmount,
		Amount:          order.Amount,
		AmountSuffix:    order.AmountSuffix,
		Status:          order.Status,
		EffectiveStatus: order.EffectiveStatus(now),
		Currency:        order.Currency,
		Description:     order.Description,
		Reference:       order.Reference,
		CustomerName:    order.CustomerName,
		CustomerPhone:   order.CustomerTel,
		CustomerEmail:   order.CustomerMail,
		CallbackURL:     order.CallbackURL,
		Metadata:        order.Metadata,
		PaymentID:       order.PaymentID,
		MatchedAt:       order.MatchedAt,
		PaidAt:          order.PaidAt,
		CancelledAt:     order.CancelledAt,
		ExpiresAt:       order.ExpiresAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

// PaymentSummary is the matched-payment block embedded in order detail reads.
type PaymentSummary struct {
	ID             uuid.UUID            `json:"id"`
	Channel        enums.PaymentChannel `json:"channel"`
	Amount         decimal.Decimal      `json:"amount"`
	SmsSender      string               `json:"sms_sender,omitempty"`
	BankName       *string              `json:"bank_name,omitempty"`
	TransactionRef *string              `json:"transaction_ref,omitempty"`
	Status         enums.PaymentStatus  `json:"status"`
	AutoApproved   bool                 `json:"auto_approved"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NewPaymentSummary maps a stored payment into the embedded summary shape.
func NewPaymentSummary(payment models.SmsPayment) PaymentSummary {
	return PaymentSummary{
		ID:             payment.ID,
		Channel:        payment.Channel,
		Amount:         payment.Amount,
		SmsSender:      payment.SmsSender,
		BankName:       payment.BankName,
		TransactionRef: payment.TransactionRef,
		Status:         payment.Status,
		AutoApproved:   payment.AutoApproved,
		CreatedAt:      payment.CreatedAt,
	}
}

// OrderDetail is the single-order read including the matched payment, if any.
type OrderDetail struct {
	Order   OrderDTO        `json:"order"`
	Payment *PaymentSummary `json:"payment,omitempty"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
