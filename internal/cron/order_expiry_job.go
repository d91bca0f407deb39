package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
)

const defaultOrderExpiryBatch = 500

// OrderExpiryJobParams configure the overdue order sweep.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    expirableOrderStore
	Notifier  orderExpiryNotifier
	BatchSize int
}

type expirableOrderStore interface {
	FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentOrder, error)
	MarkExpired(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
}

type orderExpiryNotifier interface {
	OrderExpired(ctx context.Context, orderID uuid.UUID)
}

// NewOrderExpiryJob builds the cron job that expires overdue pending orders.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders store required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultOrderExpiryBatch
	}
	return &orderExpiryJob{
		logg:     params.Logger,
		orders:   params.Orders,
		notifier: params.Notifier,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg     *logger.Logger
	orders   expirableOrderStore
	notifier orderExpiryNotifier
	batch    int
	now      func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	due, err := j.orders.FindExpiredPending(ctx, now, j.batch)
	if err != nil {
		return fmt.Errorf("query overdue orders: %w", err)
	}

	var errs []error
	expired := 0
	for _, order := range due {
		claimed, err := j.orders.MarkExpired(ctx, order.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if !claimed {
			// Paid or cancelled between the select and the claim.
			continue
		}
		expired++
		j.notifier.OrderExpired(ctx, order.ID)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"scanned": len(due), "expired": expired})
	j.logg.Info(logCtx, "order expiry sweep complete")
	return multierr.Combine(errs...)
}
