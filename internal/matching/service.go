package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// callbackDispatcher posts the merchant callback once an order settles. It
// must detach from the request lifecycle itself.
type callbackDispatcher interface {
	PaymentCompleted(order models.PaymentOrder, payment models.SmsPayment)
}

// matchNotifier publishes dashboard events; best-effort.
type matchNotifier interface {
	PaymentMatched(ctx context.Context, orderID, paymentID uuid.UUID)
}

// MatchResult reports the claim outcome with the rows as committed.
type MatchResult struct {
	Matched bool
	Order   *models.PaymentOrder
	Payment *models.SmsPayment
}

// Suggestion pairs a candidate order with its distance from the payment
// amount. Positive delta means the order asks for more than was paid.
type Suggestion struct {
	Order       orders.OrderDTO `json:"order"`
	AmountDelta decimal.Decimal `json:"amount_delta"`
}

// LinkOrderInput carries the operator override parameters.
type LinkOrderInput struct {
	PaymentID  uuid.UUID
	OrderID    uuid.UUID
	ReviewedBy string
}

// Service settles approved payments against pending orders.
type Service interface {
	Match(ctx context.Context, paymentID uuid.UUID) (*MatchResult, error)
	Suggest(ctx context.Context, paymentID uuid.UUID) ([]Suggestion, error)
	LinkOrder(ctx context.Context, input LinkOrderInput) (*MatchResult, error)
}

// claimAttempts bounds rescans when a concurrent matcher wins the same order.
const claimAttempts = 3

type service struct {
	repo       Repository
	tx         txRunner
	dispatcher callbackDispatcher
	notifier   matchNotifier
	gateway    *metrics.GatewayMetrics
	tolerance  decimal.Decimal
	window     decimal.Decimal
	limit      int
}

// NewService builds the matching service. The metrics holder may be nil.
func NewService(repo Repository, tx txRunner, dispatcher callbackDispatcher, notifier matchNotifier, cfg config.MatchingConfig, gateway *metrics.GatewayMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("matching repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("callback dispatcher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("event notifier required")
	}

	tolerance := decimal.NewFromFloat(cfg.Tolerance)
	if !tolerance.IsPositive() {
		tolerance = decimal.RequireFromString("0.005")
	}
	window := decimal.NewFromFloat(cfg.SuggestionWindow)
	if !window.IsPositive() {
		window = decimal.RequireFromString("1.00")
	}
	limit := cfg.SuggestionLimit
	if limit <= 0 {
		limit = 5
	}
	return &service{
		repo:       repo,
		tx:         tx,
		dispatcher: dispatcher,
		notifier:   notifier,
		gateway:    gateway,
		tolerance:  tolerance,
		window:     window,
		limit:      limit,
	}, nil
}

func (s *service) Match(ctx context.Context, paymentID uuid.UUID) (*MatchResult, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	now := time.Now().UTC()
	var result *MatchResult
	claimedNow := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindPayment(ctx, paymentID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.OrderID != nil {
			order, err := repo.FindOrder(ctx, *payment.OrderID)
			if err != nil && err != gorm.ErrRecordNotFound {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load linked order")
			}
			result = &MatchResult{Matched: true, Order: order, Payment: payment}
			return nil
		}
		if payment.Status != enums.PaymentStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment not approved")
		}

		for attempt := 0; attempt < claimAttempts; attempt++ {
			order, err := repo.OldestEligibleOrder(ctx, payment.Amount, s.tolerance, now)
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					result = &MatchResult{Matched: false, Payment: payment}
					return nil
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan eligible orders")
			}
			claimed, err := repo.ClaimOrderPaid(ctx, order.ID, payment.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order")
			}
			if !claimed {
				continue
			}
			if err := repo.UpdatePayment(ctx, payment.ID, map[string]any{
				"order_id":   order.ID,
				"updated_at": now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment")
			}

			markOrderPaid(order, payment.ID, now)
			payment.OrderID = &order.ID
			payment.UpdatedAt = now
			claimedNow = true
			result = &MatchResult{Matched: true, Order: order, Payment: payment}
			return nil
		}
		result = &MatchResult{Matched: false, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMatch(ctx, result, claimedNow)
	return result, nil
}

func (s *service) Suggest(ctx context.Context, paymentID uuid.UUID) ([]Suggestion, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	payment, err := s.repo.FindPayment(ctx, paymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	now := time.Now().UTC()
	candidates, err := s.repo.EligibleOrdersInWindow(ctx, payment.Amount, s.window, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan candidate orders")
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for _, order := range candidates {
		suggestions = append(suggestions, Suggestion{
			Order:       orders.NewOrderDTO(order, now),
			AmountDelta: order.Amount.Sub(payment.Amount),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		di, dj := suggestions[i].AmountDelta.Abs(), suggestions[j].AmountDelta.Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return suggestions[i].Order.CreatedAt.Before(suggestions[j].Order.CreatedAt)
	})
	if len(suggestions) > s.limit {
		suggestions = suggestions[:s.limit]
	}
	return suggestions, nil
}

func (s *service) LinkOrder(ctx context.Context, input LinkOrderInput) (*MatchResult, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	now := time.Now().UTC()
	var result *MatchResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindPayment(ctx, input.PaymentID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.OrderID != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already linked")
		}
		if payment.Status == enums.PaymentStatusRejected {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is rejected")
		}

		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status != enums.OrderStatusPending || order.IsExpired(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order not linkable in current state")
		}

		claimed, err := repo.ClaimOrderPaid(ctx, order.ID, payment.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order")
		}
		if !claimed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order no longer available")
		}

		fields := map[string]any{
			"order_id":   order.ID,
			"metadata":   string(withLinkedFlag(payment.Metadata)),
			"updated_at": now,
		}
		if payment.Status == enums.PaymentStatusPending {
			fields["status"] = enums.PaymentStatusApproved
			fields["reviewed_at"] = now
			if input.ReviewedBy != "" {
				fields["reviewed_by"] = input.ReviewedBy
			}
			payment.Status = enums.PaymentStatusApproved
			payment.ReviewedAt = &now
		}
		if err := repo.UpdatePayment(ctx, payment.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment")
		}

		markOrderPaid(order, payment.ID, now)
		payment.OrderID = &order.ID
		payment.Metadata = withLinkedFlag(payment.Metadata)
		payment.UpdatedAt = now
		result = &MatchResult{Matched: true, Order: order, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMatch(ctx, result, true)
	return result, nil
}

// afterMatch fires the post-commit effects. Only freshly claimed matches
// dispatch callbacks and events; idempotent re-reads stay silent.
func (s *service) afterMatch(ctx context.Context, result *MatchResult, claimedNow bool) {
	if result == nil {
		return
	}
	if claimedNow {
		s.gateway.IncMatchAttempt("matched")
		if result.Order != nil && result.Payment != nil {
			s.dispatcher.PaymentCompleted(*result.Order, *result.Payment)
			s.notifier.PaymentMatched(ctx, result.Order.ID, result.Payment.ID)
		}
		return
	}
	if !result.Matched {
		s.gateway.IncMatchAttempt("no_match")
	}
}

func markOrderPaid(order *models.PaymentOrder, paymentID uuid.UUID, now time.Time) {
	order.Status = enums.OrderStatusPaid
	order.PaymentID = &paymentID
	order.MatchedAt = &now
	order.PaidAt = &now
	order.UpdatedAt = now
}

// withLinkedFlag merges linked_manually into the payment metadata document.
func withLinkedFlag(raw json.RawMessage) json.RawMessage {
	meta := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &meta)
	}
	meta["linked_manually"] = true
	merged, err := json.Marshal(meta)
	if err != nil {
		return raw
	}
	return merged
}
