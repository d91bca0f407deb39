package gatewaywebhook

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/internal/payments"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
)

// Webhook event types accepted from upstream SMS gateways.
const (
	EventConnectionTest  = "connection.test"
	EventPaymentReceived = "payment.received"
)

// Request is one raw webhook delivery before authentication.
type Request struct {
	APIKey    string
	Timestamp string
	Signature string
	RequestID string
	Body      []byte
}

// Outcome carries the per-event response body. Exactly one field is set.
type Outcome struct {
	Connection *ConnectionCheck
	Payment    *payments.PaymentOutcome
}

// ConnectionCheck answers the connection.test handshake.
type ConnectionCheck struct {
	OK           bool             `json:"ok"`
	BankAccounts []BankAccountDTO `json:"bank_accounts"`
}

// BankAccountDTO is the receiving-account projection handed to gateways.
type BankAccountDTO struct {
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// NewBankAccountDTO converts a bank account row into its handshake shape.
func NewBankAccountDTO(account models.BankAccount) BankAccountDTO {
	return BankAccountDTO{
		BankCode:      account.BankCode,
		BankName:      account.BankName,
		AccountNumber: account.AccountNumber,
		AccountName:   account.AccountName,
	}
}

type envelope struct {
	Event string `json:"event"`
}

// paymentEvent is the payment.received payload alongside the event field.
type paymentEvent struct {
	Amount         decimal.Decimal `json:"amount"`
	SmsSender      string          `json:"sms_sender"`
	SmsBody        string          `json:"sms_body"`
	BankName       *string         `json:"bank_name"`
	AccountNumber  *string         `json:"account_number"`
	TransactionRef *string         `json:"transaction_ref"`
	ReceivedAt     *time.Time      `json:"received_at"`
}
