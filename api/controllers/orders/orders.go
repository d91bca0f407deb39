package orders

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/api/responses"
	"github.com/prasit-dev/slipgate-backend/api/validators"
	internalorders "github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

// Create registers a new payment order and returns it with the allocated
// payable amount.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalorders.CreateOrderInput{
			Amount:           payload.Amount,
			Description:      payload.Description,
			Reference:        payload.Reference,
			CustomerName:     payload.CustomerName,
			CustomerPhone:    payload.CustomerPhone,
			CustomerEmail:    payload.CustomerEmail,
			CallbackURL:      payload.CallbackURL,
			ExpiresInMinutes: payload.ExpiresInMinutes,
			Metadata:         payload.Metadata,
		}

		order, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns a cursor page of orders, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
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

		filters, err := buildOrderFilters(r)
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

// Get returns the full order detail. The path parameter accepts either the
// order UUID or the human-facing order number.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		idOrNumber := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if idOrNumber == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
			return
		}

		detail, err := svc.Get(r.Context(), idOrNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// Cancel moves a pending order to cancelled.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		rawOrderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if rawOrderID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
			return
		}
		orderID, err := uuid.Parse(rawOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := svc.Cancel(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type createOrderRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description" validate:"required"`
	Reference        *string         `json:"reference,omitempty"`
	CustomerName     *string         `json:"customer_name,omitempty"`
	CustomerPhone    *string         `json:"customer_phone,omitempty"`
	CustomerEmail    *string         `json:"customer_email,omitempty" validate:"omitempty,email"`
	CallbackURL      *string         `json:"callback_url,omitempty"`
	ExpiresInMinutes int             `json:"expires_in_minutes,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

func buildOrderFilters(r *http.Request) (internalorders.OrderFilters, error) {
	var filters internalorders.OrderFilters

	status, err := parseOrderStatusParam(r.URL.Query().Get("status"))
	if err != nil {
		return filters, err
	}
	filters.Status = status

	if ref := strings.TrimSpace(r.URL.Query().Get("reference")); ref != "" {
		filters.Reference = ref
	}
	if phone := strings.TrimSpace(r.URL.Query().Get("customer_phone")); phone != "" {
		filters.CustomerPhone = phone
	}

	createdFrom, err := parseTimeParam(r.URL.Query().Get("created_from"), "created_from")
	if err != nil {
		return filters, err
	}
	filters.CreatedFrom = createdFrom

	createdTo, err := parseTimeParam(r.URL.Query().Get("created_to"), "created_to")
	if err != nil {
		return filters, err
	}
	filters.CreatedTo = createdTo

	return filters, nil
}

func parseOrderStatusParam(raw string) (*enums.OrderStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	status, err := enums.ParseOrderStatus(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid status %q", raw))
	}
	return &status, nil
}

func parseTimeParam(value, field string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s", field))
		}
	}
	return &t, nil
}
