package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prasit-dev/slipgate-backend/api/middleware"
	internalmatching "github.com/prasit-dev/slipgate-backend/internal/matching"
	internalorders "github.com/prasit-dev/slipgate-backend/internal/orders"
	internalpayments "github.com/prasit-dev/slipgate-backend/internal/payments"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

type stubPaymentsService struct {
	ingest  func(ctx context.Context, input internalpayments.DeviceIngestInput) (*internalpayments.PaymentOutcome, error)
	get     func(ctx context.Context, paymentID uuid.UUID) (*internalpayments.PaymentDetail, error)
	list    func(ctx context.Context, params pagination.Params, filters internalpayments.PaymentFilters) (*internalpayments.PaymentList, error)
	approve func(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentOutcome, error)
	reject  func(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentDTO, error)
}

func (s *stubPaymentsService) IngestDevice(ctx context.Context, input internalpayments.DeviceIngestInput) (*internalpayments.PaymentOutcome, error) {
	if s.ingest != nil {
		return s.ingest(ctx, input)
	}
	return nil, nil
}

func (s *stubPaymentsService) Get(ctx context.Context, paymentID uuid.UUID) (*internalpayments.PaymentDetail, error) {
	if s.get != nil {
		return s.get(ctx, paymentID)
	}
	return nil, nil
}

func (s *stubPaymentsService) List(ctx context.Context, params pagination.Params, filters internalpayments.PaymentFilters) (*internalpayments.PaymentList, error) {
	if s.list != nil {
		return s.list(ctx, params, filters)
	}
	return nil, nil
}

func (s *stubPaymentsService) Approve(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentOutcome, error) {
	if s.approve != nil {
		return s.approve(ctx, input)
	}
	return nil, nil
}

func (s *stubPaymentsService) Reject(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentDTO, error) {
	if s.reject != nil {
		return s.reject(ctx, input)
	}
	return nil, nil
}

type stubMatchingService struct {
	match   func(ctx context.Context, paymentID uuid.UUID) (*internalmatching.MatchResult, error)
	suggest func(ctx context.Context, paymentID uuid.UUID) ([]internalmatching.Suggestion, error)
	link    func(ctx context.Context, input internalmatching.LinkOrderInput) (*internalmatching.MatchResult, error)
}

func (s *stubMatchingService) Match(ctx context.Context, paymentID uuid.UUID) (*internalmatching.MatchResult, error) {
	if s.match != nil {
		return s.match(ctx, paymentID)
	}
	return nil, nil
}

func (s *stubMatchingService) Suggest(ctx context.Context, paymentID uuid.UUID) ([]internalmatching.Suggestion, error) {
	if s.suggest != nil {
		return s.suggest(ctx, paymentID)
	}
	return nil, nil
}

func (s *stubMatchingService) LinkOrder(ctx context.Context, input internalmatching.LinkOrderInput) (*internalmatching.MatchResult, error) {
	if s.link != nil {
		return s.link(ctx, input)
	}
	return nil, nil
}

func withPaymentParam(req *http.Request, value string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("paymentId", value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))
}

func withOperator(req *http.Request, operatorID string) *http.Request {
	return req.WithContext(middleware.WithOperatorID(req.Context(), operatorID))
}

func TestIngestDeviceForwardsHeaderKey(t *testing.T) {
	svc := &stubPaymentsService{
		ingest: func(ctx context.Context, input internalpayments.DeviceIngestInput) (*internalpayments.PaymentOutcome, error) {
			if input.DeviceCode != "dev-001" {
				t.Fatalf("unexpected device code %q", input.DeviceCode)
			}
			if input.DeviceKey != "secret-key" {
				t.Fatalf("device key header not forwarded, got %q", input.DeviceKey)
			}
			if !input.Amount.Equal(decimal.RequireFromString("150.07")) {
				t.Fatalf("unexpected amount %s", input.Amount)
			}
			if !input.Confidence.Equal(decimal.RequireFromString("0.95")) {
				t.Fatalf("unexpected confidence %s", input.Confidence)
			}
			return &internalpayments.PaymentOutcome{
				Payment: internalpayments.PaymentDTO{ID: uuid.New(), Status: enums.PaymentStatusApproved},
				Matched: true,
				Order:   &internalorders.OrderDTO{OrderNumber: "SG-20260615-A1B2C3"},
			}, nil
		},
	}

	body := `{"device_code":"dev-001","sms_sender":"SCB","sms_body":"150.07 received","amount":"150.07","confidence":"0.95"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/device", strings.NewReader(body))
	req.Header.Set("X-Device-Key", "secret-key")

	resp := httptest.NewRecorder()
	IngestDevice(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data internalpayments.PaymentOutcome `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.Matched {
		t.Fatalf("expected matched outcome")
	}
	if envelope.Data.Order == nil || envelope.Data.Order.OrderNumber != "SG-20260615-A1B2C3" {
		t.Fatalf("expected matched order in response")
	}
}

func TestIngestDeviceMissingFields(t *testing.T) {
	svc := &stubPaymentsService{
		ingest: func(ctx context.Context, input internalpayments.DeviceIngestInput) (*internalpayments.PaymentOutcome, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}

	body := `{"sms_sender":"SCB"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/device", strings.NewReader(body))

	resp := httptest.NewRecorder()
	IngestDevice(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestIngestDeviceDuplicate(t *testing.T) {
	svc := &stubPaymentsService{
		ingest: func(ctx context.Context, input internalpayments.DeviceIngestInput) (*internalpayments.PaymentOutcome, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "duplicate sms submission")
		},
	}

	body := `{"device_code":"dev-001","sms_sender":"SCB","sms_body":"150.07 received","amount":"150.07"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/device", strings.NewReader(body))

	resp := httptest.NewRecorder()
	IngestDevice(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate detail in body: %s", resp.Body.String())
	}
}

func TestListPaymentsForwardsFilters(t *testing.T) {
	deviceID := uuid.New()
	svc := &stubPaymentsService{
		list: func(ctx context.Context, params pagination.Params, filters internalpayments.PaymentFilters) (*internalpayments.PaymentList, error) {
			if params.Limit != 10 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			if filters.Status == nil || *filters.Status != enums.PaymentStatusPending {
				t.Fatalf("status not parsed")
			}
			if filters.Channel == nil || *filters.Channel != enums.PaymentChannelDevice {
				t.Fatalf("channel not parsed")
			}
			if filters.DeviceID == nil || *filters.DeviceID != deviceID {
				t.Fatalf("device id not parsed")
			}
			return &internalpayments.PaymentList{
				Payments: []internalpayments.PaymentDTO{{ID: uuid.New(), Status: enums.PaymentStatusPending}},
			}, nil
		},
	}

	target := "/api/v1/payments?limit=10&status=pending&channel=device&device_id=" + deviceID.String()
	req := httptest.NewRequest(http.MethodGet, target, nil)

	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListPaymentsRejectsUnknownChannel(t *testing.T) {
	svc := &stubPaymentsService{
		list: func(ctx context.Context, params pagination.Params, filters internalpayments.PaymentFilters) (*internalpayments.PaymentList, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments?channel=carrier-pigeon", nil)

	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetPayment(t *testing.T) {
	paymentID := uuid.New()
	orderID := uuid.New()
	svc := &stubPaymentsService{
		get: func(ctx context.Context, incoming uuid.UUID) (*internalpayments.PaymentDetail, error) {
			if incoming != paymentID {
				t.Fatalf("unexpected payment id %s", incoming)
			}
			return &internalpayments.PaymentDetail{
				Payment: internalpayments.PaymentDTO{ID: paymentID, Status: enums.PaymentStatusApproved, OrderID: &orderID},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+paymentID.String(), nil)
	req = withPaymentParam(req, paymentID.String())

	resp := httptest.NewRecorder()
	Get(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data internalpayments.PaymentDetail `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Payment.Status != enums.PaymentStatusApproved {
		t.Fatalf("unexpected status %s", envelope.Data.Payment.Status)
	}
	if envelope.Data.Payment.OrderID == nil || *envelope.Data.Payment.OrderID != orderID {
		t.Fatalf("expected linked order id on payment")
	}
}

func TestSuggestions(t *testing.T) {
	paymentID := uuid.New()
	matcher := &stubMatchingService{
		suggest: func(ctx context.Context, incoming uuid.UUID) ([]internalmatching.Suggestion, error) {
			if incoming != paymentID {
				t.Fatalf("unexpected payment id %s", incoming)
			}
			return []internalmatching.Suggestion{
				{
					Order:       internalorders.OrderDTO{OrderNumber: "SG-20260615-CLOSE1"},
					AmountDelta: decimal.RequireFromString("0.02"),
				},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+paymentID.String()+"/suggestions", nil)
	req = withPaymentParam(req, paymentID.String())

	resp := httptest.NewRecorder()
	Suggestions(matcher, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data struct {
			Suggestions []internalmatching.Suggestion `json:"suggestions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(envelope.Data.Suggestions))
	}
	if envelope.Data.Suggestions[0].Order.OrderNumber != "SG-20260615-CLOSE1" {
		t.Fatalf("unexpected suggestion order")
	}
}

func TestApproveUsesOperatorSubject(t *testing.T) {
	paymentID := uuid.New()
	operatorID := uuid.NewString()
	svc := &stubPaymentsService{
		approve: func(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentOutcome, error) {
			if input.PaymentID != paymentID {
				t.Fatalf("unexpected payment id %s", input.PaymentID)
			}
			if input.Reviewer != operatorID {
				t.Fatalf("unexpected reviewer %q", input.Reviewer)
			}
			if input.Note == nil || *input.Note != "looks legit" {
				t.Fatalf("note not forwarded")
			}
			return &internalpayments.PaymentOutcome{
				Payment: internalpayments.PaymentDTO{ID: paymentID, Status: enums.PaymentStatusApproved},
			}, nil
		},
	}

	body := `{"note":"looks legit"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/approve", strings.NewReader(body))
	req = withPaymentParam(req, paymentID.String())
	req = withOperator(req, operatorID)

	resp := httptest.NewRecorder()
	Approve(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestApproveWithoutBody(t *testing.T) {
	paymentID := uuid.New()
	svc := &stubPaymentsService{
		approve: func(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentOutcome, error) {
			if input.Note != nil {
				t.Fatalf("expected nil note")
			}
			return &internalpayments.PaymentOutcome{
				Payment: internalpayments.PaymentDTO{ID: paymentID, Status: enums.PaymentStatusApproved},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/approve", nil)
	req = withPaymentParam(req, paymentID.String())
	req = withOperator(req, uuid.NewString())

	resp := httptest.NewRecorder()
	Approve(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestApproveWithoutOperatorContext(t *testing.T) {
	paymentID := uuid.New()
	svc := &stubPaymentsService{
		approve: func(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentOutcome, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/approve", nil)
	req = withPaymentParam(req, paymentID.String())

	resp := httptest.NewRecorder()
	Approve(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRejectNonPending(t *testing.T) {
	paymentID := uuid.New()
	svc := &stubPaymentsService{
		reject: func(ctx context.Context, input internalpayments.ReviewInput) (*internalpayments.PaymentDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not pending")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/reject", nil)
	req = withPaymentParam(req, paymentID.String())
	req = withOperator(req, uuid.NewString())

	resp := httptest.NewRecorder()
	Reject(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestLinkOrder(t *testing.T) {
	paymentID := uuid.New()
	orderID := uuid.New()
	operatorID := uuid.NewString()
	matcher := &stubMatchingService{
		link: func(ctx context.Context, input internalmatching.LinkOrderInput) (*internalmatching.MatchResult, error) {
			if input.PaymentID != paymentID || input.OrderID != orderID {
				t.Fatalf("unexpected link input %+v", input)
			}
			if input.ReviewedBy != operatorID {
				t.Fatalf("unexpected reviewer %q", input.ReviewedBy)
			}
			return &internalmatching.MatchResult{
				Matched: true,
				Order:   &models.PaymentOrder{ID: orderID, OrderNumber: "SG-20260615-LINKED", Status: enums.OrderStatusPaid},
				Payment: &models.SmsPayment{ID: paymentID, Status: enums.PaymentStatusApproved, OrderID: &orderID},
			}, nil
		},
	}

	body := `{"order_id":"` + orderID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/link-order", strings.NewReader(body))
	req = withPaymentParam(req, paymentID.String())
	req = withOperator(req, operatorID)

	resp := httptest.NewRecorder()
	LinkOrder(matcher, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data internalpayments.PaymentOutcome `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.Matched {
		t.Fatalf("expected matched outcome")
	}
	if envelope.Data.Payment.Status != enums.PaymentStatusApproved {
		t.Fatalf("unexpected payment status %s", envelope.Data.Payment.Status)
	}
	if envelope.Data.Order == nil || envelope.Data.Order.OrderNumber != "SG-20260615-LINKED" {
		t.Fatalf("expected linked order in response")
	}
}

func TestLinkOrderMissingOrderID(t *testing.T) {
	paymentID := uuid.New()
	matcher := &stubMatchingService{
		link: func(ctx context.Context, input internalmatching.LinkOrderInput) (*internalmatching.MatchResult, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/link-order", strings.NewReader(`{}`))
	req = withPaymentParam(req, paymentID.String())
	req = withOperator(req, uuid.NewString())

	resp := httptest.NewRecorder()
	LinkOrder(matcher, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
