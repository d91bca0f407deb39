package payments

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/internal/matching"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
	"github.com/prasit-dev/slipgate-backend/pkg/security"
)

type stubPaymentsRepo struct {
	createFn        func(ctx context.Context, payment *models.SmsPayment) (*models.SmsPayment, error)
	findByIDFn      func(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error)
	listFn          func(ctx context.Context, params pagination.Params, filters PaymentFilters) (*PaymentList, error)
	reviewPendingFn func(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error)
	findOrderFn     func(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)

	created []*models.SmsPayment
	reviews []map[string]any
}

func (s *stubPaymentsRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubPaymentsRepo) Create(ctx context.Context, payment *models.SmsPayment) (*models.SmsPayment, error) {
	if s.createFn != nil {
		return s.createFn(ctx, payment)
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	s.created = append(s.created, payment)
	return payment, nil
}

func (s *stubPaymentsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPaymentsRepo) List(ctx context.Context, params pagination.Params, filters PaymentFilters) (*PaymentList, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params, filters)
	}
	return &PaymentList{}, nil
}

func (s *stubPaymentsRepo) ReviewPending(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
	s.reviews = append(s.reviews, fields)
	if s.reviewPendingFn != nil {
		return s.reviewPendingFn(ctx, id, fields)
	}
	return false, nil
}

func (s *stubPaymentsRepo) FindOrder(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	if s.findOrderFn != nil {
		return s.findOrderFn(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

type stubDeviceLookup struct {
	device *models.MobileDevice
}

func (s *stubDeviceLookup) FindByCode(ctx context.Context, code string) (*models.MobileDevice, error) {
	if s.device == nil || s.device.DeviceCode != code {
		return nil, gorm.ErrRecordNotFound
	}
	return s.device, nil
}

type stubIngestStore struct {
	markSeenFn func(ctx context.Context, deviceID, bodyHash string, window time.Duration) (bool, error)
	allowFn    func(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)

	marked  []string
	deleted []string
}

func (s *stubIngestStore) MarkSmsSeen(ctx context.Context, deviceID, bodyHash string, window time.Duration) (bool, error) {
	s.marked = append(s.marked, s.SmsDedupKey(deviceID, bodyHash))
	if s.markSeenFn != nil {
		return s.markSeenFn(ctx, deviceID, bodyHash, window)
	}
	return true, nil
}

func (s *stubIngestStore) SmsDedupKey(deviceID, bodyHash string) string {
	return "sg:dedup:sms:" + deviceID + ":" + bodyHash
}

func (s *stubIngestStore) Del(ctx context.Context, keys ...string) error {
	s.deleted = append(s.deleted, keys...)
	return nil
}

func (s *stubIngestStore) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if s.allowFn != nil {
		return s.allowFn(ctx, scope, limit, window)
	}
	return true, 1, nil
}

type stubOrderMatcher struct {
	matchFn func(ctx context.Context, paymentID uuid.UUID) (*matching.MatchResult, error)
	calls   int
}

func (s *stubOrderMatcher) Match(ctx context.Context, paymentID uuid.UUID) (*matching.MatchResult, error) {
	s.calls++
	if s.matchFn != nil {
		return s.matchFn(ctx, paymentID)
	}
	return &matching.MatchResult{Matched: false}, nil
}

type stubPaymentEvents struct {
	received []uuid.UUID
	approved []uuid.UUID
	rejected []uuid.UUID
}

func (s *stubPaymentEvents) PaymentReceived(ctx context.Context, paymentID uuid.UUID) {
	s.received = append(s.received, paymentID)
}

func (s *stubPaymentEvents) PaymentApproved(ctx context.Context, paymentID uuid.UUID) {
	s.approved = append(s.approved, paymentID)
}

func (s *stubPaymentEvents) PaymentRejected(ctx context.Context, paymentID uuid.UUID) {
	s.rejected = append(s.rejected, paymentID)
}

type paymentsFixture struct {
	repo    *stubPaymentsRepo
	devices *stubDeviceLookup
	store   *stubIngestStore
	matcher *stubOrderMatcher
	events  *stubPaymentEvents
	svc     Service
}

func newPaymentsFixture(t *testing.T, device *models.MobileDevice) *paymentsFixture {
	t.Helper()

	f := &paymentsFixture{
		repo:    &stubPaymentsRepo{},
		devices: &stubDeviceLookup{device: device},
		store:   &stubIngestStore{},
		matcher: &stubOrderMatcher{},
		events:  &stubPaymentEvents{},
	}
	svc, err := NewService(f.repo, f.devices, f.store, f.matcher, f.events, config.IngestConfig{
		DedupWindow:          5 * time.Minute,
		RateLimitWindow:      time.Minute,
		RateLimitPerDevice:   60,
		AutoApproveThreshold: 0.9,
	}, nil)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	f.svc = svc
	return f
}

func registeredDevice(autoApprove bool) *models.MobileDevice {
	return &models.MobileDevice{
		ID:                 uuid.New(),
		DeviceCode:         "AND-001",
		Label:              "counter phone",
		AutoApproveEnabled: autoApprove,
	}
}

func deviceSubmission() DeviceIngestInput {
	return DeviceIngestInput{
		DeviceCode: "AND-001",
		SmsSender:  "KBANK",
		SmsBody:    "Received 100.02 THB into x1234",
		Amount:     decimal.RequireFromString("100.02"),
		Confidence: decimal.RequireFromString("0.95"),
	}
}

func TestIngestPersistsPendingPayment(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(false))

	outcome, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if outcome.Payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", outcome.Payment.Status)
	}
	if outcome.Payment.AutoApproved {
		t.Fatal("manual-review device must not auto-approve")
	}
	if outcome.Matched {
		t.Fatal("pending payment must not match")
	}
	if f.matcher.calls != 0 {
		t.Fatal("pending payment must not trigger matching")
	}
	if len(f.repo.created) != 1 {
		t.Fatalf("expected one persisted payment, got %d", len(f.repo.created))
	}
	row := f.repo.created[0]
	if row.Channel != enums.PaymentChannelDevice {
		t.Fatalf("unexpected channel %s", row.Channel)
	}
	if row.DeviceID == nil {
		t.Fatal("payment must reference the device")
	}
	if len(f.events.received) != 1 {
		t.Fatalf("expected payment.received event, got %d", len(f.events.received))
	}
	if len(f.events.approved) != 0 {
		t.Fatal("pending ingest must not emit approval")
	}
}

func TestIngestAutoApproveMatches(t *testing.T) {
	device := registeredDevice(true)
	f := newPaymentsFixture(t, device)

	orderID := uuid.New()
	f.matcher.matchFn = func(ctx context.Context, paymentID uuid.UUID) (*matching.MatchResult, error) {
		return &matching.MatchResult{
			Matched: true,
			Order: &models.PaymentOrder{
				ID:        orderID,
				Amount:    decimal.RequireFromString("100.02"),
				Status:    enums.OrderStatusPaid,
				ExpiresAt: time.Now().Add(time.Hour),
			},
			Payment: &models.SmsPayment{
				ID:      paymentID,
				Status:  enums.PaymentStatusApproved,
				OrderID: &orderID,
			},
		}, nil
	}

	outcome, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(f.repo.created) != 1 || f.repo.created[0].Status != enums.PaymentStatusApproved {
		t.Fatal("high-confidence submission must persist approved")
	}
	if !f.repo.created[0].AutoApproved {
		t.Fatal("auto_approved flag must be set")
	}
	if f.matcher.calls != 1 {
		t.Fatalf("expected one match run, got %d", f.matcher.calls)
	}
	if !outcome.Matched {
		t.Fatal("expected matched outcome")
	}
	if outcome.Order == nil || outcome.Order.ID != orderID {
		t.Fatal("expected matched order in response")
	}
	if len(f.events.approved) != 1 {
		t.Fatal("auto-approval must emit payment.approved")
	}
}

func TestIngestBelowThresholdStaysPending(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(true))

	input := deviceSubmission()
	input.Confidence = decimal.RequireFromString("0.5")

	outcome, err := f.svc.IngestDevice(context.Background(), input)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if outcome.Payment.Status != enums.PaymentStatusPending {
		t.Fatalf("low confidence must stay pending, got %s", outcome.Payment.Status)
	}
	if f.matcher.calls != 0 {
		t.Fatal("pending payment must not trigger matching")
	}
}

func TestIngestUnknownDeviceUnauthorized(t *testing.T) {
	f := newPaymentsFixture(t, nil)

	_, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized got %v", err)
	}
	if len(f.store.marked) != 0 {
		t.Fatal("unauthorized submission must not touch the dedup store")
	}
}

func TestIngestDisabledDeviceUnauthorized(t *testing.T) {
	device := registeredDevice(false)
	disabledAt := time.Now().UTC()
	device.DisabledAt = &disabledAt
	f := newPaymentsFixture(t, device)

	_, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized got %v", err)
	}
}

func TestIngestDeviceKeyVerification(t *testing.T) {
	hash, err := security.HashDeviceKey("sgk_correct", config.DeviceKeyConfig{
		ArgonMemoryKB:    8,
		ArgonTime:        1,
		ArgonParallelism: 1,
	})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	cases := []struct {
		name string
		key  string
		want pkgerrors.Code
	}{
		{"correct key", "sgk_correct", ""},
		{"wrong key", "sgk_wrong", pkgerrors.CodeUnauthorized},
		{"missing key", "", pkgerrors.CodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			device := registeredDevice(false)
			device.APIKeyHash = &hash
			f := newPaymentsFixture(t, device)

			input := deviceSubmission()
			input.DeviceKey = tc.key

			_, err := f.svc.IngestDevice(context.Background(), input)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected success got %v", err)
				}
				return
			}
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != tc.want {
				t.Fatalf("expected %s got %v", tc.want, err)
			}
		})
	}
}

func TestIngestGrandfatheredDeviceSkipsKeyCheck(t *testing.T) {
	device := registeredDevice(false)
	device.APIKeyHash = nil
	f := newPaymentsFixture(t, device)

	input := deviceSubmission()
	input.DeviceKey = ""

	if _, err := f.svc.IngestDevice(context.Background(), input); err != nil {
		t.Fatalf("expected success got %v", err)
	}
}

func TestIngestDuplicateConflict(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(false))
	f.store.markSeenFn = func(ctx context.Context, deviceID, bodyHash string, window time.Duration) (bool, error) {
		return false, nil
	}

	_, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict got %v", err)
	}
	if len(f.repo.created) != 0 {
		t.Fatal("duplicate must not write a row")
	}
}

func TestIngestRateLimited(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(false))
	f.store.allowFn = func(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
		if !strings.HasPrefix(scope, "device:") {
			t.Fatalf("unexpected rate limit scope %q", scope)
		}
		return false, 61, nil
	}

	_, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeRateLimit {
		t.Fatalf("expected rate limit got %v", err)
	}
	if len(f.store.marked) != 0 {
		t.Fatal("rate-limited submission must not consume the dedup slot")
	}
}

func TestIngestReleasesDedupOnPersistFailure(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(false))
	f.repo.createFn = func(ctx context.Context, payment *models.SmsPayment) (*models.SmsPayment, error) {
		return nil, fmt.Errorf("connection reset")
	}

	_, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error got %v", err)
	}
	if len(f.store.deleted) != 1 {
		t.Fatalf("expected dedup release, got %d deletes", len(f.store.deleted))
	}
	if f.store.deleted[0] != f.store.marked[0] {
		t.Fatal("released key must match the marked key")
	}
}

func TestIngestValidation(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(false))

	cases := []struct {
		name   string
		mutate func(input *DeviceIngestInput)
	}{
		{"missing device code", func(input *DeviceIngestInput) { input.DeviceCode = " " }},
		{"missing sender", func(input *DeviceIngestInput) { input.SmsSender = "" }},
		{"missing body", func(input *DeviceIngestInput) { input.SmsBody = "  " }},
		{"zero amount", func(input *DeviceIngestInput) { input.Amount = decimal.Zero }},
		{"negative amount", func(input *DeviceIngestInput) { input.Amount = decimal.RequireFromString("-5") }},
		{"amount above cap", func(input *DeviceIngestInput) { input.Amount = decimal.RequireFromString("10000000.00") }},
		{"negative confidence", func(input *DeviceIngestInput) { input.Confidence = decimal.RequireFromString("-0.1") }},
		{"confidence above one", func(input *DeviceIngestInput) { input.Confidence = decimal.RequireFromString("1.1") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := deviceSubmission()
			tc.mutate(&input)

			_, err := f.svc.IngestDevice(context.Background(), input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error got %v", err)
			}
		})
	}
}

func TestIngestMatchErrorDegradesToUnmatched(t *testing.T) {
	f := newPaymentsFixture(t, registeredDevice(true))
	f.matcher.matchFn = func(ctx context.Context, paymentID uuid.UUID) (*matching.MatchResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "scan eligible orders")
	}

	outcome, err := f.svc.IngestDevice(context.Background(), deviceSubmission())
	if err != nil {
		t.Fatalf("ingest must survive a match failure, got %v", err)
	}
	if outcome.Matched {
		t.Fatal("failed match must report unmatched")
	}
	if outcome.Payment.Status != enums.PaymentStatusApproved {
		t.Fatal("payment stays approved for operator review")
	}
}

func TestApprovePendingPayment(t *testing.T) {
	paymentID := uuid.New()
	f := newPaymentsFixture(t, nil)
	f.repo.reviewPendingFn = func(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
		return true, nil
	}
	f.repo.findByIDFn = func(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error) {
		reviewer := "ops@example.com"
		return &models.SmsPayment{
			ID:         paymentID,
			Status:     enums.PaymentStatusApproved,
			ReviewedBy: &reviewer,
			Amount:     decimal.RequireFromString("100.02"),
		}, nil
	}

	outcome, err := f.svc.Approve(context.Background(), ReviewInput{
		PaymentID: paymentID,
		Reviewer:  "ops@example.com",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if outcome.Payment.Status != enums.PaymentStatusApproved {
		t.Fatalf("unexpected status %s", outcome.Payment.Status)
	}
	if f.matcher.calls != 1 {
		t.Fatalf("approval must run matching, got %d calls", f.matcher.calls)
	}
	if len(f.repo.reviews) != 1 {
		t.Fatalf("expected one review write, got %d", len(f.repo.reviews))
	}
	if f.repo.reviews[0]["reviewed_by"] != "ops@example.com" {
		t.Fatal("reviewer must be recorded")
	}
	if len(f.events.approved) != 1 {
		t.Fatal("approval must emit payment.approved")
	}
}

func TestApproveNonPendingStateConflict(t *testing.T) {
	paymentID := uuid.New()
	f := newPaymentsFixture(t, nil)
	f.repo.findByIDFn = func(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error) {
		return &models.SmsPayment{ID: paymentID, Status: enums.PaymentStatusRejected}, nil
	}

	_, err := f.svc.Approve(context.Background(), ReviewInput{
		PaymentID: paymentID,
		Reviewer:  "ops@example.com",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict got %v", err)
	}
	if f.matcher.calls != 0 {
		t.Fatal("failed approval must not run matching")
	}
}

func TestApproveMissingPaymentNotFound(t *testing.T) {
	f := newPaymentsFixture(t, nil)

	_, err := f.svc.Approve(context.Background(), ReviewInput{
		PaymentID: uuid.New(),
		Reviewer:  "ops@example.com",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestRejectPendingPayment(t *testing.T) {
	paymentID := uuid.New()
	f := newPaymentsFixture(t, nil)
	f.repo.reviewPendingFn = func(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
		if fields["status"] != enums.PaymentStatusRejected {
			t.Fatalf("expected rejected transition, got %v", fields["status"])
		}
		return true, nil
	}
	f.repo.findByIDFn = func(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error) {
		return &models.SmsPayment{ID: paymentID, Status: enums.PaymentStatusRejected}, nil
	}

	dto, err := f.svc.Reject(context.Background(), ReviewInput{
		PaymentID: paymentID,
		Reviewer:  "ops@example.com",
		Note:      func() *string { s := "not a real transfer"; return &s }(),
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if dto.Status != enums.PaymentStatusRejected {
		t.Fatalf("unexpected status %s", dto.Status)
	}
	if f.matcher.calls != 0 {
		t.Fatal("rejection never runs matching")
	}
	if len(f.events.rejected) != 1 {
		t.Fatal("rejection must emit payment.rejected")
	}
}

func TestGetIncludesLinkedOrder(t *testing.T) {
	paymentID := uuid.New()
	orderID := uuid.New()
	f := newPaymentsFixture(t, nil)
	f.repo.findByIDFn = func(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error) {
		return &models.SmsPayment{
			ID:      paymentID,
			Status:  enums.PaymentStatusApproved,
			OrderID: &orderID,
			Amount:  decimal.RequireFromString("100.02"),
		}, nil
	}
	f.repo.findOrderFn = func(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
		return &models.PaymentOrder{
			ID:        orderID,
			Status:    enums.OrderStatusPaid,
			Amount:    decimal.RequireFromString("100.02"),
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}

	detail, err := f.svc.Get(context.Background(), paymentID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if detail.Order == nil || detail.Order.ID != orderID {
		t.Fatal("expected linked order in detail")
	}
}

func TestListValidatesFilters(t *testing.T) {
	f := newPaymentsFixture(t, nil)

	badStatus := enums.PaymentStatus("settled")
	if _, err := f.svc.List(context.Background(), pagination.Params{}, PaymentFilters{Status: &badStatus}); pkgerrors.As(err) == nil {
		t.Fatal("expected validation error for status")
	}

	badChannel := enums.PaymentChannel("email")
	if _, err := f.svc.List(context.Background(), pagination.Params{}, PaymentFilters{Channel: &badChannel}); pkgerrors.As(err) == nil {
		t.Fatal("expected validation error for channel")
	}

	if _, err := f.svc.List(context.Background(), pagination.Params{Cursor: "%%%"}, PaymentFilters{}); pkgerrors.As(err) == nil {
		t.Fatal("expected validation error for cursor")
	}
}
