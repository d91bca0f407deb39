package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

// Repository exposes the persistence operations for ingested payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.SmsPayment) (*models.SmsPayment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.SmsPayment, error)
	List(ctx context.Context, params pagination.Params, filters PaymentFilters) (*PaymentList, error)
	// ReviewPending applies the field set to a payment only while it is
	// still pending; the bool reports whether the claim won.
	ReviewPending(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
}

// deviceLookup resolves ingest credentials to a registered device.
type deviceLookup interface {
	FindByCode(ctx context.Context, code string) (*models.MobileDevice, error)
}

// ingestStore is the redis surface the ingest path needs.
type ingestStore interface {
	MarkSmsSeen(ctx context.Context, deviceID, bodyHash string, window time.Duration) (bool, error)
	SmsDedupKey(deviceID, bodyHash string) string
	Del(ctx context.Context, keys ...string) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// eventNotifier publishes payment lifecycle events; best-effort.
type eventNotifier interface {
	PaymentReceived(ctx context.Context, paymentID uuid.UUID)
	PaymentApproved(ctx context.Context, paymentID uuid.UUID)
	PaymentRejected(ctx context.Context, paymentID uuid.UUID)
}
