package orders

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// amountAllocator hands out the unique payable amount for a base amount
// inside the caller's transaction.
type amountAllocator interface {
	Allocate(ctx context.Context, tx *gorm.DB, base decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
}

// Service defines the merchant-facing order operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderDTO, error)
	Get(ctx context.Context, idOrNumber string) (*OrderDetail, error)
	List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	allocator amountAllocator
}

const (
	defaultExpiryMinutes = 1440
	minExpiryMinutes     = 5
	maxExpiryMinutes     = 43200
	defaultCurrency      = "THB"
	orderNumberPrefix    = "SG"

	// createAttempts bounds retries when a concurrent allocator on another
	// node wins the same amount, or an order number collides.
	createAttempts = 3
)

var maxOrderAmount = decimal.RequireFromString("9999999.99")

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, allocator amountAllocator) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if allocator == nil {
		return nil, fmt.Errorf("amount allocator required")
	}
	return &service{repo: repo, tx: tx, allocator: allocator}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderDTO, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Amount.GreaterThan(maxOrderAmount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount exceeds maximum")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description required")
	}
	expiresIn := input.ExpiresInMinutes
	if expiresIn == 0 {
		expiresIn = defaultExpiryMinutes
	}
	if expiresIn < minExpiryMinutes || expiresIn > maxExpiryMinutes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_in_minutes out of range")
	}
	if input.CallbackURL != nil {
		if err := validateCallbackURL(*input.CallbackURL); err != nil {
			return nil, err
		}
	}

	base := input.Amount.Round(2)
	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(expiresIn) * time.Minute)

	var created *models.PaymentOrder
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		created = nil
		lastErr = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			amount, suffix, err := s.allocator.Allocate(ctx, tx, base)
			if err != nil {
				return err
			}
			orderNumber, err := generateOrderNumber(now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
			}
			order := &models.PaymentOrder{
				OrderNumber:  orderNumber,
				BaseAmount:   base,
				Amount:       amount,
				AmountSuffix: suffix,
				Status:       enums.OrderStatusPending,
				Currency:     defaultCurrency,
				Description:  description,
				Reference:    input.Reference,
				CustomerName: input.CustomerName,
				CustomerTel:  input.CustomerPhone,
				CustomerMail: input.CustomerEmail,
				CallbackURL:  input.CallbackURL,
				Metadata:     input.Metadata,
				ExpiresAt:    expiresAt,
			}
			// Create errors stay unwrapped so the retry loop can still
			// recognize unique violations by message.
			if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			created = order
			return nil
		})
		if lastErr == nil {
			break
		}
		if !db.IsUniqueViolation(lastErr, "") {
			break
		}
	}
	if lastErr != nil {
		if db.IsUniqueViolation(lastErr, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "amount space exhausted")
		}
		if typed := pkgerrors.As(lastErr); typed != nil {
			return nil, lastErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "create order")
	}

	dto := NewOrderDTO(*created, now)
	return &dto, nil
}

func (s *service) Get(ctx context.Context, idOrNumber string) (*OrderDetail, error) {
	key := strings.TrimSpace(idOrNumber)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var (
		order *models.PaymentOrder
		err   error
	)
	if id, parseErr := uuid.Parse(key); parseErr == nil {
		order, err = s.repo.FindByID(ctx, id)
	} else {
		order, err = s.repo.FindByOrderNumber(ctx, key)
	}
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	detail := &OrderDetail{Order: NewOrderDTO(*order, time.Now().UTC())}
	if order.PaymentID != nil {
		payment, err := s.repo.FindPayment(ctx, *order.PaymentID)
		switch {
		case err == gorm.ErrRecordNotFound:
			// Matched payment row missing is a data fault, not a read fault.
		case err != nil:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load matched payment")
		default:
			summary := NewPaymentSummary(*payment)
			detail.Payment = &summary
		}
	}
	return detail, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if filters.CreatedFrom != nil && filters.CreatedTo != nil && filters.CreatedTo.Before(*filters.CreatedFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "created_to before created_from")
	}
	if _, err := pagination.ParseCursor(strings.TrimSpace(params.Cursor)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	now := time.Now().UTC()
	var cancelled *models.PaymentOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.CancelPending(ctx, orderID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !claimed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cancel not allowed in current state")
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto := NewOrderDTO(*cancelled, now)
	return &dto, nil
}

func validateCallbackURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return pkgerrors.New(pkgerrors.CodeValidation, "callback_url must be an http(s) URL")
	}
	return nil
}

// generateOrderNumber mints a human-scannable number like SG-20260615-K3QZ7A.
// Collisions are rare and handled by the caller's retry loop.
func generateOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	suffix := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:6]
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.Format("20060102"), suffix), nil
}
