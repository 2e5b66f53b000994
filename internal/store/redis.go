package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spikebot/spike/internal/model"
)

// CachedLedger wraps a primary Ledger with a Redis read-through cache for
// balances. Adjustments go to the primary and then invalidate the cached
// value, so the next read goes back to the primary.
type CachedLedger struct {
	primary Ledger
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedLedger creates a cached wrapper around a primary ledger.
func NewCachedLedger(primary Ledger, rdb *redis.Client, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedLedger) Adjust(ctx context.Context, accountID string, delta int64, name string, enforce bool) (int64, error) {
	bal, err := s.primary.Adjust(ctx, accountID, delta, name, enforce)
	if err != nil {
		return bal, err
	}
	s.invalidate(ctx, accountID)
	return bal, nil
}

func (s *CachedLedger) AdjustFunc(ctx context.Context, accountID, name string, fn DeltaFunc) (int64, error) {
	bal, err := s.primary.AdjustFunc(ctx, accountID, name, fn)
	if err != nil {
		return bal, err
	}
	s.invalidate(ctx, accountID)
	return bal, nil
}

func (s *CachedLedger) invalidate(ctx context.Context, accountID string) {
	if err := s.rdb.Del(ctx, balanceKey(accountID)).Err(); err != nil {
		slog.Warn("balance cache invalidate failed", "account", accountID, "err", err)
	}
}

// --- Read-through ---

func (s *CachedLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	raw, err := s.rdb.Get(ctx, balanceKey(accountID)).Result()
	if err == nil {
		if bal, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return bal, nil
		}
	}

	// Cache miss: read from primary.
	bal, err := s.primary.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.rdb.Set(ctx, balanceKey(accountID), bal, s.ttl)
	return bal, nil
}

// --- Passthrough ---

func (s *CachedLedger) Accounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.Accounts(ctx)
}

// Flush forwards to the primary if it batches writes.
func (s *CachedLedger) Flush(ctx context.Context) error {
	if f, ok := s.primary.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func balanceKey(id string) string { return fmt.Sprintf("spike:balance:%s", id) }
