// Package allocator hands out unique payable amounts. Every pending order
// owns one exact amount; the cent suffix is what lets a bank SMS with no
// reference text identify its order.
package allocator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
)

// Allocator probes the pending-order amount space inside the caller's
// transaction. Uniqueness is ultimately enforced by the partial unique index
// on pending amounts; concurrent winners surface as unique violations the
// caller retries.
type Allocator struct {
	fallbackUnits int
}

// New builds an Allocator. fallbackUnits bounds how many whole units above
// the base may be probed once all cent suffixes are taken.
func New(cfg config.MatchingConfig) *Allocator {
	units := cfg.SuffixFallbackUnits
	if units < 0 {
		units = 0
	}
	return &Allocator{fallbackUnits: units}
}

var centStep = decimal.New(1, -2)

// Allocate returns the payable amount and its suffix (amount - base) for a
// new order. The base amount is normalized to two decimals first; if it is
// free it wins with suffix zero, otherwise cent suffixes 0.01..0.99 are
// scanned, then whole-unit bands up to the fallback bound.
func (a *Allocator) Allocate(ctx context.Context, tx *gorm.DB, base decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if tx == nil {
		return decimal.Zero, decimal.Zero, pkgerrors.New(pkgerrors.CodeInternal, "allocator requires a transaction")
	}
	base = base.Round(2)
	if !base.IsPositive() {
		return decimal.Zero, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "base amount must be positive")
	}

	now := time.Now().UTC()
	upper := base.
		Add(decimal.NewFromInt(int64(a.fallbackUnits))).
		Add(centStep.Mul(decimal.NewFromInt(99)))

	if err := a.sweepExpired(ctx, tx, base, upper, now); err != nil {
		return decimal.Zero, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sweep expired amounts")
	}
	taken, err := a.takenAmounts(ctx, tx, base, upper, now)
	if err != nil {
		return decimal.Zero, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan allocated amounts")
	}

	for unit := 0; unit <= a.fallbackUnits; unit++ {
		unitBase := base.Add(decimal.NewFromInt(int64(unit)))
		for cents := int64(0); cents <= 99; cents++ {
			candidate := unitBase.Add(centStep.Mul(decimal.NewFromInt(cents)))
			if _, used := taken[candidate.StringFixed(2)]; !used {
				return candidate, candidate.Sub(base), nil
			}
		}
	}
	return decimal.Zero, decimal.Zero, pkgerrors.New(pkgerrors.CodeConflict, "amount space exhausted")
}

// sweepExpired materializes expiry for stale pending rows in the probe band.
// The partial unique index only releases an amount once the row leaves
// pending, so without this sweep a dead order would 409 every reallocation
// attempt until the janitor's next pass.
func (a *Allocator) sweepExpired(ctx context.Context, tx *gorm.DB, lower, upper decimal.Decimal, now time.Time) error {
	return tx.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("status = ? AND expires_at <= ? AND amount >= ? AND amount <= ?",
			enums.OrderStatusPending, now, lower, upper).
		Updates(map[string]any{
			"status":     enums.OrderStatusExpired,
			"updated_at": now,
		}).Error
}

func (a *Allocator) takenAmounts(ctx context.Context, tx *gorm.DB, lower, upper decimal.Decimal, now time.Time) (map[string]struct{}, error) {
	var amounts []decimal.Decimal
	err := tx.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("status = ? AND expires_at > ? AND amount >= ? AND amount <= ?",
			enums.OrderStatusPending, now, lower, upper).
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, err
	}

	taken := make(map[string]struct{}, len(amounts))
	for _, amount := range amounts {
		taken[amount.Round(2).StringFixed(2)] = struct{}{}
	}
	return taken, nil
}
