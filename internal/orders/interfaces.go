package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

// Repository defines persistence operations for payment orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.PaymentOrder) (*models.PaymentOrder, error)
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.PaymentOrder, error)
	List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
	CancelPending(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.SmsPayment, error)
	FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentOrder, error)
	MarkExpired(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
}
