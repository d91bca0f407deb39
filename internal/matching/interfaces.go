package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
)

// Repository defines persistence operations the matcher needs on payments
// and orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.SmsPayment, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error)
	OldestEligibleOrder(ctx context.Context, amount, tolerance decimal.Decimal, now time.Time) (*models.PaymentOrder, error)
	EligibleOrdersInWindow(ctx context.Context, amount, window decimal.Decimal, now time.Time) ([]models.PaymentOrder, error)
	ClaimOrderPaid(ctx context.Context, orderID, paymentID uuid.UUID, now time.Time) (bool, error)
	UpdatePayment(ctx context.Context, paymentID uuid.UUID, fields map[string]any) error
}
