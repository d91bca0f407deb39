package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasit-dev/slipgate-backend/pkg/redis"
)

const (
	replayScope      = "webhook"
	defaultReplayTTL = 5 * time.Minute
)

// ReplayGuard fences webhook deliveries by request id so only one delivery
// per id is processed while the mark lives.
type ReplayGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewReplayGuard(store redis.IdempotencyStore, ttl time.Duration) (*ReplayGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &ReplayGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the id was already marked, marking it when
// fresh.
func (g *ReplayGuard) CheckAndMark(ctx context.Context, requestID string) (bool, error) {
	if requestID == "" {
		return false, errors.New("request id is required")
	}
	key := g.store.IdempotencyKey(replayScope, requestID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set replay key: %w", err)
	}
	return !set, nil
}

// Delete releases the mark so the sender may retry after a handler failure.
func (g *ReplayGuard) Delete(ctx context.Context, requestID string) error {
	if requestID == "" {
		return errors.New("request id is required")
	}
	key := g.store.IdempotencyKey(replayScope, requestID)
	return g.store.Del(ctx, key)
}
