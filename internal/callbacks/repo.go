package callbacks

import (
	"context"

	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
)

// Repository persists callback delivery audit rows.
type Repository interface {
	Record(ctx context.Context, delivery *models.CallbackDelivery) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Record(ctx context.Context, delivery *models.CallbackDelivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}
