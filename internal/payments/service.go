package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/internal/matching"
	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/metrics"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
	"github.com/prasit-dev/slipgate-backend/pkg/security"
)

// orderMatcher runs settlement matching after an approval transition.
type orderMatcher interface {
	Match(ctx context.Context, paymentID uuid.UUID) (*matching.MatchResult, error)
}

const (
	channelDevice = "device"

	defaultDedupWindow = 5 * time.Minute
	defaultRateWindow  = time.Minute
	defaultRateLimit   = 60
)

var (
	maxPaymentAmount    = decimal.RequireFromString("9999999.99")
	maxConfidence       = decimal.New(1, 0)
	defaultApproveFloor = decimal.RequireFromString("0.9")
)

// Service handles payment ingestion and operator review.
type Service interface {
	IngestDevice(ctx context.Context, input DeviceIngestInput) (*PaymentOutcome, error)
	Get(ctx context.Context, id uuid.UUID) (*PaymentDetail, error)
	List(ctx context.Context, params pagination.Params, filters PaymentFilters) (*PaymentList, error)
	Approve(ctx context.Context, input ReviewInput) (*PaymentOutcome, error)
	Reject(ctx context.Context, input ReviewInput) (*PaymentDTO, error)
}

type service struct {
	repo    Repository
	devices deviceLookup
	store   ingestStore
	matcher orderMatcher
	events  eventNotifier
	gateway *metrics.GatewayMetrics

	dedupWindow  time.Duration
	rateWindow   time.Duration
	rateLimit    int64
	approveFloor decimal.Decimal
}

// NewService builds the payments service. The metrics holder may be nil.
func NewService(repo Repository, devices deviceLookup, store ingestStore, matcher orderMatcher, events eventNotifier, cfg config.IngestConfig, gateway *metrics.GatewayMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if devices == nil {
		return nil, fmt.Errorf("device lookup required")
	}
	if store == nil {
		return nil, fmt.Errorf("ingest store required")
	}
	if matcher == nil {
		return nil, fmt.Errorf("order matcher required")
	}
	if events == nil {
		return nil, fmt.Errorf("event notifier required")
	}

	dedupWindow := cfg.DedupWindow
	if dedupWindow <= 0 {
		dedupWindow = defaultDedupWindow
	}
	rateWindow := cfg.RateLimitWindow
	if rateWindow <= 0 {
		rateWindow = defaultRateWindow
	}
	rateLimit := int64(cfg.RateLimitPerDevice)
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	approveFloor := decimal.NewFromFloat(cfg.AutoApproveThreshold)
	if !approveFloor.IsPositive() {
		approveFloor = defaultApproveFloor
	}
	return &service{
		repo:         repo,
		devices:      devices,
		store:        store,
		matcher:      matcher,
		events:       events,
		gateway:      gateway,
		dedupWindow:  dedupWindow,
		rateWindow:   rateWindow,
		rateLimit:    rateLimit,
		approveFloor: approveFloor,
	}, nil
}

func (s *service) IngestDevice(ctx context.Context, input DeviceIngestInput) (*PaymentOutcome, error) {
	if err := validateIngest(&input); err != nil {
		s.gateway.IncIngested(channelDevice, "invalid")
		return nil, err
	}

	device, err := s.authorizeDevice(ctx, input.DeviceCode, input.DeviceKey)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeUnauthorized {
			s.gateway.IncIngested(channelDevice, "unauthorized")
		}
		return nil, err
	}

	allowed, _, err := s.store.FixedWindowAllow(ctx, "device:"+device.ID.String(), s.rateLimit, s.rateWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limit check")
	}
	if !allowed {
		s.gateway.IncIngested(channelDevice, "rate_limited")
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "device submission rate exceeded")
	}

	sum := sha256.Sum256([]byte(input.SmsBody))
	bodyHash := hex.EncodeToString(sum[:])
	fresh, err := s.store.MarkSmsSeen(ctx, device.ID.String(), bodyHash, s.dedupWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dedup check")
	}
	if !fresh {
		s.gateway.IncIngested(channelDevice, "duplicate")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "duplicate sms submission")
	}

	saved, err := s.repo.Create(ctx, s.buildDevicePayment(device, input))
	if err != nil {
		// Release the dedup mark so the device keeps its retry window.
		_ = s.store.Del(ctx, s.store.SmsDedupKey(device.ID.String(), bodyHash))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment")
	}

	s.gateway.IncIngested(channelDevice, "accepted")
	s.events.PaymentReceived(ctx, saved.ID)
	if saved.Status == enums.PaymentStatusApproved {
		s.events.PaymentApproved(ctx, saved.ID)
	}

	outcome := &PaymentOutcome{Payment: NewPaymentDTO(*saved)}
	if saved.Status == enums.PaymentStatusApproved {
		s.runMatch(ctx, saved.ID, outcome)
	}
	return outcome, nil
}

// authorizeDevice resolves the device and verifies its key. Every failure
// is the same UNAUTHORIZED shape so callers cannot probe which credential
// part was wrong.
func (s *service) authorizeDevice(ctx context.Context, code, key string) (*models.MobileDevice, error) {
	device, err := s.devices.FindByCode(ctx, code)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device not authorized")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	if device.IsDisabled() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device not authorized")
	}
	// Devices registered before key issuance carry no hash and skip the
	// check.
	if device.APIKeyHash != nil {
		ok, err := security.VerifyDeviceKey(key, *device.APIKeyHash)
		if err != nil || !ok {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device not authorized")
		}
	}
	return device, nil
}

func validateIngest(input *DeviceIngestInput) error {
	input.DeviceCode = strings.TrimSpace(input.DeviceCode)
	input.SmsSender = strings.TrimSpace(input.SmsSender)
	if input.DeviceCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "device_code is required")
	}
	if input.SmsSender == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sms_sender is required")
	}
	if strings.TrimSpace(input.SmsBody) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sms_body is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Amount.GreaterThan(maxPaymentAmount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount exceeds maximum")
	}
	if input.Confidence.IsNegative() || input.Confidence.GreaterThan(maxConfidence) {
		return pkgerrors.New(pkgerrors.CodeValidation, "confidence must be between 0 and 1")
	}
	input.Amount = input.Amount.Round(2)
	return nil
}

func (s *service) buildDevicePayment(device *models.MobileDevice, input DeviceIngestInput) *models.SmsPayment {
	now := time.Now().UTC()
	payment := &models.SmsPayment{
		Channel:        enums.PaymentChannelDevice,
		DeviceID:       &device.ID,
		SmsSender:      input.SmsSender,
		SmsBody:        input.SmsBody,
		SmsReceivedAt:  input.SmsReceivedAt,
		Amount:         input.Amount,
		BankName:       input.BankName,
		AccountNumber:  input.AccountNumber,
		TransactionRef: input.TransactionRef,
		Confidence:     input.Confidence,
		Status:         enums.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if device.AutoApproveEnabled && input.Confidence.GreaterThanOrEqual(s.approveFloor) {
		payment.Status = enums.PaymentStatusApproved
		payment.AutoApproved = true
	}
	return payment
}

// runMatch attempts settlement. Match failures leave the approved payment
// unlinked for operator review instead of failing a request whose payment
// row already committed.
func (s *service) runMatch(ctx context.Context, paymentID uuid.UUID, outcome *PaymentOutcome) {
	result, err := s.matcher.Match(ctx, paymentID)
	if err != nil {
		s.gateway.IncMatchAttempt("error")
		return
	}
	if result == nil || !result.Matched {
		return
	}
	outcome.Matched = true
	if result.Payment != nil {
		outcome.Payment = NewPaymentDTO(*result.Payment)
	}
	if result.Order != nil {
		dto := orders.NewOrderDTO(*result.Order, time.Now().UTC())
		outcome.Order = &dto
	}
}

func (s *service) Get(ctx context.Context, paymentID uuid.UUID) (*PaymentDetail, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	detail := &PaymentDetail{Payment: NewPaymentDTO(*payment)}
	if payment.OrderID != nil {
		order, err := s.repo.FindOrder(ctx, *payment.OrderID)
		switch {
		case err == nil:
			dto := orders.NewOrderDTO(*order, time.Now().UTC())
			detail.Order = &dto
		case err == gorm.ErrRecordNotFound:
			// Linked order missing is a data fault, not a read fault.
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load linked order")
		}
	}
	return detail, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters PaymentFilters) (*PaymentList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if filters.Channel != nil && !filters.Channel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid channel filter")
	}
	if cursor := strings.TrimSpace(params.Cursor); cursor != "" {
		if _, err := pagination.ParseCursor(cursor); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
		}
	}

	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return list, nil
}

func (s *service) Approve(ctx context.Context, input ReviewInput) (*PaymentOutcome, error) {
	fields, err := reviewFields(input, enums.PaymentStatusApproved)
	if err != nil {
		return nil, err
	}

	claimed, err := s.repo.ReviewPending(ctx, input.PaymentID, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve payment")
	}
	if !claimed {
		return nil, s.reviewConflict(ctx, input.PaymentID)
	}

	payment, err := s.repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
	}

	s.events.PaymentApproved(ctx, payment.ID)
	outcome := &PaymentOutcome{Payment: NewPaymentDTO(*payment)}
	s.runMatch(ctx, payment.ID, outcome)
	return outcome, nil
}

func (s *service) Reject(ctx context.Context, input ReviewInput) (*PaymentDTO, error) {
	fields, err := reviewFields(input, enums.PaymentStatusRejected)
	if err != nil {
		return nil, err
	}

	claimed, err := s.repo.ReviewPending(ctx, input.PaymentID, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject payment")
	}
	if !claimed {
		return nil, s.reviewConflict(ctx, input.PaymentID)
	}

	payment, err := s.repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
	}

	s.events.PaymentRejected(ctx, payment.ID)
	dto := NewPaymentDTO(*payment)
	return &dto, nil
}

func reviewFields(input ReviewInput, status enums.PaymentStatus) (map[string]any, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	reviewer := strings.TrimSpace(input.Reviewer)
	if reviewer == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reviewer required")
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"status":      status,
		"reviewed_by": reviewer,
		"reviewed_at": now,
		"updated_at":  now,
	}
	if input.Note != nil {
		if note := strings.TrimSpace(*input.Note); note != "" {
			fields["review_note"] = note
		}
	}
	return fields, nil
}

// reviewConflict explains why a pending-only transition failed to claim.
func (s *service) reviewConflict(ctx context.Context, paymentID uuid.UUID) error {
	if _, err := s.repo.FindByID(ctx, paymentID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment review already finalized")
}
