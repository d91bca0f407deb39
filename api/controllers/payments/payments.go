package payments

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/api/middleware"
	"github.com/prasit-dev/slipgate-backend/api/responses"
	"github.com/prasit-dev/slipgate-backend/api/validators"
	internalmatching "github.com/prasit-dev/slipgate-backend/internal/matching"
	internalorders "github.com/prasit-dev/slipgate-backend/internal/orders"
	internalpayments "github.com/prasit-dev/slipgate-backend/internal/payments"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

// deviceKeyHeader carries the per-device secret issued at registration.
const deviceKeyHeader = "X-Device-Key"

// IngestDevice accepts one parsed bank SMS from a registered device. The
// device authenticates with its code plus the X-Device-Key header.
func IngestDevice(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var payload deviceIngestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalpayments.DeviceIngestInput{
			DeviceCode:     payload.DeviceCode,
			DeviceKey:      strings.TrimSpace(r.Header.Get(deviceKeyHeader)),
			SmsSender:      payload.SmsSender,
			SmsBody:        payload.SmsBody,
			SmsReceivedAt:  payload.SmsReceivedAt,
			Amount:         payload.Amount,
			BankName:       payload.BankName,
			AccountNumber:  payload.AccountNumber,
			TransactionRef: payload.TransactionRef,
		}
		if payload.Confidence != nil {
			input.Confidence = *payload.Confidence
		}

		outcome, err := svc.IngestDevice(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, outcome)
	}
}

// List returns a cursor page of payments, newest first.
func List(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		filters, err := buildPaymentFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Get returns one payment with its linked order, when any.
func Get(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Get(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// Suggestions lists candidate orders near the payment amount for manual
// review.
func Suggestions(matcher internalmatching.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if matcher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matching service unavailable"))
			return
		}

		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		suggestions, err := matcher.Suggest(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, suggestionList{Suggestions: suggestions})
	}
}

// Approve marks a pending payment approved and immediately attempts the
// order match.
func Approve(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		input, err := buildReviewInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.Approve(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// Reject marks a pending payment rejected. Terminal; rejected payments never
// match.
func Reject(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		input, err := buildReviewInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Reject(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// LinkOrder settles a payment against an operator-chosen order, bypassing
// amount equality.
func LinkOrder(matcher internalmatching.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if matcher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matching service unavailable"))
			return
		}

		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reviewer := operatorFromContext(r)
		if reviewer == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator context missing"))
			return
		}

		var payload linkOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuid.Parse(strings.TrimSpace(payload.OrderID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		result, err := matcher.LinkOrder(r.Context(), internalmatching.LinkOrderInput{
			PaymentID:  paymentID,
			OrderID:    orderID,
			ReviewedBy: reviewer,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome := internalpayments.PaymentOutcome{Matched: result.Matched}
		if result.Payment != nil {
			outcome.Payment = internalpayments.NewPaymentDTO(*result.Payment)
		}
		if result.Order != nil {
			dto := internalorders.NewOrderDTO(*result.Order, time.Now().UTC())
			outcome.Order = &dto
		}
		responses.WriteSuccess(w, outcome)
	}
}

type deviceIngestRequest struct {
	DeviceCode     string           `json:"device_code" validate:"required"`
	SmsSender      string           `json:"sms_sender" validate:"required"`
	SmsBody        string           `json:"sms_body" validate:"required"`
	SmsReceivedAt  *time.Time       `json:"sms_received_at,omitempty"`
	Amount         decimal.Decimal  `json:"amount"`
	BankName       *string          `json:"bank_name,omitempty"`
	AccountNumber  *string          `json:"account_number,omitempty"`
	TransactionRef *string          `json:"transaction_ref,omitempty"`
	Confidence     *decimal.Decimal `json:"confidence,omitempty"`
}

type reviewRequest struct {
	Note *string `json:"note,omitempty"`
}

type linkOrderRequest struct {
	OrderID string `json:"order_id" validate:"required,uuid4"`
}

type suggestionList struct {
	Suggestions []internalmatching.Suggestion `json:"suggestions"`
}

func parsePaymentID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	paymentID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return paymentID, nil
}

// operatorFromContext resolves the reviewer recorded on the payment row. The
// JWT subject wins; older tokens without a subject fall back to the name.
func operatorFromContext(r *http.Request) string {
	if id := middleware.OperatorIDFromContext(r.Context()); id != "" {
		return id
	}
	return middleware.OperatorNameFromContext(r.Context())
}

func buildReviewInput(r *http.Request) (internalpayments.ReviewInput, error) {
	var input internalpayments.ReviewInput

	paymentID, err := parsePaymentID(r)
	if err != nil {
		return input, err
	}

	reviewer := operatorFromContext(r)
	if reviewer == "" {
		return input, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator context missing")
	}

	var payload reviewRequest
	if err := decodeOptionalBody(r, &payload); err != nil {
		return input, err
	}

	input.PaymentID = paymentID
	input.Reviewer = reviewer
	input.Note = payload.Note
	return input, nil
}

// decodeOptionalBody decodes the request body when one was sent. Review
// endpoints accept a bare POST.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}

func buildPaymentFilters(r *http.Request) (internalpayments.PaymentFilters, error) {
	var filters internalpayments.PaymentFilters

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid status %q", raw))
		}
		filters.Status = &status
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("channel")); raw != "" {
		channel, err := enums.ParsePaymentChannel(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid channel %q", raw))
		}
		filters.Channel = &channel
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("device_id")); raw != "" {
		deviceID, err := uuid.Parse(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid device_id")
		}
		filters.DeviceID = &deviceID
	}

	return filters, nil
}
