package gatewaywebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/internal/matching"
	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/internal/payments"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/metrics"
)

type replayGuard interface {
	CheckAndMark(ctx context.Context, requestID string) (bool, error)
	Delete(ctx context.Context, requestID string) error
}

type orderMatcher interface {
	Match(ctx context.Context, paymentID uuid.UUID) (*matching.MatchResult, error)
}

type eventNotifier interface {
	PaymentReceived(ctx context.Context, paymentID uuid.UUID)
	PaymentApproved(ctx context.Context, paymentID uuid.UUID)
}

// readinessProber reports whether the gateway's backing stores answer.
type readinessProber interface {
	Ping(ctx context.Context) error
}

const (
	channelWebhook          = "webhook"
	defaultTimestampSkew    = 5 * time.Minute
	bankAccountCacheWindow  = 5 * time.Minute
	unauthorizedCredentials = "invalid webhook credentials"
)

var (
	maxWebhookAmount  = decimal.RequireFromString("9999999.99")
	webhookConfidence = decimal.New(1, 0)
)

type ServiceParams struct {
	Repo    Repository
	Guard   replayGuard
	Matcher orderMatcher
	Events  eventNotifier
	Prober  readinessProber
	Logger  *logger.Logger
	Config  config.WebhookConfig
	Metrics *metrics.GatewayMetrics
}

// Service authenticates and processes deliveries from upstream SMS gateways.
type Service struct {
	repo    Repository
	guard   replayGuard
	matcher orderMatcher
	events  eventNotifier
	prober  readinessProber
	logg    *logger.Logger
	gateway *metrics.GatewayMetrics

	tolerance time.Duration

	accountsMu       sync.Mutex
	accountsLoadedAt time.Time
	accounts         []BankAccountDTO
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook repo required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "replay guard required")
	}
	if params.Matcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order matcher required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event notifier required")
	}
	if params.Prober == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "readiness prober required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	tolerance := params.Config.TimestampTolerance()
	if tolerance <= 0 {
		tolerance = defaultTimestampSkew
	}
	return &Service{
		repo:      params.Repo,
		guard:     params.Guard,
		matcher:   params.Matcher,
		events:    params.Events,
		prober:    params.Prober,
		logg:      params.Logger,
		gateway:   params.Metrics,
		tolerance: tolerance,
	}, nil
}

// Handle runs one delivery through authentication, replay fencing and event
// dispatch.
func (s *Service) Handle(ctx context.Context, req Request) (*Outcome, error) {
	source, err := s.authenticate(ctx, req)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeUnauthorized {
			s.gateway.IncIngested(channelWebhook, "unauthorized")
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "malformed payload")
	}
	event := strings.TrimSpace(env.Event)
	if event == "" {
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "event is required")
	}
	if !source.AllowsEvent(event) {
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "event not permitted for source")
	}

	if err := s.prober.Ping(ctx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotReady, err, "gateway not ready")
	}

	s.touchSource(ctx, source)

	switch event {
	case EventConnectionTest:
		return s.handleConnectionTest(ctx)
	case EventPaymentReceived:
		return s.handlePayment(ctx, source, req)
	default:
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "unsupported event")
	}
}

// authenticate verifies credentials, timestamp freshness and the payload
// signature. Every failure shares one UNAUTHORIZED shape so senders cannot
// probe which part was wrong.
func (s *Service) authenticate(ctx context.Context, req Request) (*models.WebhookSource, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, unauthorizedCredentials)
	}
	source, err := s.repo.FindActiveSourceByKey(ctx, apiKey)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, unauthorizedCredentials)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook source")
	}
	if subtle.ConstantTimeCompare([]byte(source.APIKey), []byte(apiKey)) != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, unauthorizedCredentials)
	}

	millis, err := strconv.ParseInt(strings.TrimSpace(req.Timestamp), 10, 64)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, unauthorizedCredentials)
	}
	skew := time.Since(time.UnixMilli(millis))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.tolerance {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, unauthorizedCredentials)
	}

	if !verifySignature(source.Secret, strings.TrimSpace(req.Timestamp), req.Body, req.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, unauthorizedCredentials)
	}
	return source, nil
}

func verifySignature(secret, timestamp string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// touchSource records the last authenticated contact. Best effort only.
func (s *Service) touchSource(ctx context.Context, source *models.WebhookSource) {
	if err := s.repo.TouchSourceSeen(ctx, source.ID, time.Now().UTC()); err != nil {
		s.logg.Warn(ctx, "touch webhook source: "+err.Error())
	}
}

func (s *Service) handleConnectionTest(ctx context.Context) (*Outcome, error) {
	accounts, err := s.activeAccounts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bank accounts")
	}
	return &Outcome{Connection: &ConnectionCheck{OK: true, BankAccounts: accounts}}, nil
}

// activeAccounts serves the handshake from a short-lived cache so chatty
// gateways do not hammer the accounts table.
func (s *Service) activeAccounts(ctx context.Context) ([]BankAccountDTO, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	if !s.accountsLoadedAt.IsZero() && time.Since(s.accountsLoadedAt) < bankAccountCacheWindow {
		return s.accounts, nil
	}
	rows, err := s.repo.ListActiveBankAccounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]BankAccountDTO, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, NewBankAccountDTO(row))
	}
	s.accountsLoadedAt = time.Now()
	s.accounts = accounts
	return accounts, nil
}

func (s *Service) handlePayment(ctx context.Context, source *models.WebhookSource, req Request) (*Outcome, error) {
	var payload paymentEvent
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "malformed payment payload")
	}
	if !payload.Amount.IsPositive() {
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if payload.Amount.GreaterThan(maxWebhookAmount) {
		s.gateway.IncIngested(channelWebhook, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount exceeds maximum")
	}

	marker := ""
	if requestID := strings.TrimSpace(req.RequestID); requestID != "" {
		marker = source.ID.String() + ":" + requestID

		// The DB column catches replays that outlive the redis mark.
		existing, err := s.repo.FindPaymentByRequestID(ctx, marker)
		switch {
		case err == nil:
			s.gateway.IncIngested(channelWebhook, "replay")
			return s.replayOutcome(ctx, existing)
		case err != gorm.ErrRecordNotFound:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay lookup")
		}

		seen, err := s.guard.CheckAndMark(ctx, marker)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay guard")
		}
		if seen {
			// Marked but no row yet: the first delivery is still in flight.
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "request already in progress")
		}
	}

	saved, err := s.repo.CreatePayment(ctx, buildWebhookPayment(source, payload, marker))
	if err != nil {
		if marker != "" {
			if db.IsUniqueViolation(err, "") {
				if existing, lookupErr := s.repo.FindPaymentByRequestID(ctx, marker); lookupErr == nil {
					s.gateway.IncIngested(channelWebhook, "replay")
					return s.replayOutcome(ctx, existing)
				}
			}
			s.releaseMark(ctx, marker)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment")
	}

	s.gateway.IncIngested(channelWebhook, "accepted")
	s.events.PaymentReceived(ctx, saved.ID)
	s.events.PaymentApproved(ctx, saved.ID)

	outcome := &payments.PaymentOutcome{Payment: payments.NewPaymentDTO(*saved)}
	s.runMatch(ctx, saved.ID, outcome)
	return &Outcome{Payment: outcome}, nil
}

func buildWebhookPayment(source *models.WebhookSource, payload paymentEvent, marker string) *models.SmsPayment {
	now := time.Now().UTC()
	payment := &models.SmsPayment{
		Channel:         enums.PaymentChannelWebhook,
		WebhookSourceID: &source.ID,
		SmsSender:       strings.TrimSpace(payload.SmsSender),
		SmsBody:         payload.SmsBody,
		SmsReceivedAt:   payload.ReceivedAt,
		Amount:          payload.Amount.Round(2),
		BankName:        payload.BankName,
		AccountNumber:   payload.AccountNumber,
		TransactionRef:  payload.TransactionRef,
		Confidence:      webhookConfidence,
		Status:          enums.PaymentStatusApproved,
		AutoApproved:    true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if marker != "" {
		payment.WebhookRequestID = &marker
	}
	return payment
}

// replayOutcome reconstructs the original response for a repeated delivery.
func (s *Service) replayOutcome(ctx context.Context, payment *models.SmsPayment) (*Outcome, error) {
	outcome := &payments.PaymentOutcome{Payment: payments.NewPaymentDTO(*payment)}
	if payment.OrderID != nil {
		outcome.Matched = true
		order, err := s.repo.FindOrder(ctx, *payment.OrderID)
		switch {
		case err == nil:
			dto := orders.NewOrderDTO(*order, time.Now().UTC())
			outcome.Order = &dto
		case err == gorm.ErrRecordNotFound:
			// Linked order missing is a data fault, not a read fault.
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load linked order")
		}
	}
	return &Outcome{Payment: outcome}, nil
}

// runMatch attempts settlement. Failures leave the approved payment unlinked
// for operator review instead of failing a delivery whose row committed.
func (s *Service) runMatch(ctx context.Context, paymentID uuid.UUID, outcome *payments.PaymentOutcome) {
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
		outcome.Payment = payments.NewPaymentDTO(*result.Payment)
	}
	if result.Order != nil {
		dto := orders.NewOrderDTO(*result.Order, time.Now().UTC())
		outcome.Order = &dto
	}
}

func (s *Service) releaseMark(ctx context.Context, marker string) {
	if err := s.guard.Delete(ctx, marker); err != nil {
		s.logg.Warn(ctx, "release webhook replay mark: "+err.Error())
	}
}
