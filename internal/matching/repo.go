package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// suggestionScanCap bounds the in-window candidate fetch; the window is at
// most a few hundred cent-distinct pending orders wide in practice.
const suggestionScanCap = 500

type repository struct {
	db *gorm.DB
}

// NewRepository builds a matching repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.SmsPayment, error) {
	var payment models.SmsPayment
	err := r.db.WithContext(ctx).
		Where("id = ?", paymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) OldestEligibleOrder(ctx context.Context, amount, tolerance decimal.Decimal, now time.Time) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND ABS(amount - ?) <= ?",
			enums.OrderStatusPending, now, amount, tolerance).
		Order("created_at ASC, id ASC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) EligibleOrdersInWindow(ctx context.Context, amount, window decimal.Decimal, now time.Time) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND ABS(amount - ?) <= ?",
			enums.OrderStatusPending, now, amount, window).
		Order("created_at ASC, id ASC").
		Limit(suggestionScanCap).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ClaimOrderPaid flips the order to paid for the given payment. The WHERE
// guard re-checks eligibility so a lost race simply reports false and the
// caller rescans.
func (r *repository) ClaimOrderPaid(ctx context.Context, orderID, paymentID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ? AND expires_at > ?", orderID, enums.OrderStatusPending, now).
		Updates(map[string]any{
			"status":     enums.OrderStatusPaid,
			"payment_id": paymentID,
			"matched_at": now,
			"paid_at":    now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdatePayment(ctx context.Context, paymentID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.SmsPayment{}).
		Where("id = ?", paymentID).
		Updates(fields).Error
}
