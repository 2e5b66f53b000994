// Package store defines the persistence interfaces for the bot.
// Implementations include JSON documents on disk (the default), PostgreSQL,
// a Redis read-through cache for balances, and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"math"

	"github.com/spikebot/spike/internal/model"
)

var (
	// ErrNotFound is returned when an account or wager does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientFunds is returned when an enforced adjustment would
	// drive a balance below zero. No mutation is made.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrBalanceOverflow is returned when an adjustment would take a
	// balance outside the int64 range. No mutation is made.
	ErrBalanceOverflow = errors.New("store: balance overflow")
)

// DeltaFunc decides an adjustment from the account's current balance, which
// is 0 for an account that does not exist yet.
type DeltaFunc func(balance int64) (int64, error)

// Ledger maps account ids to balances. Every implementation must give
// read-your-writes: a Balance following an Adjust in the same process sees
// the new value even if the durable flush has not happened yet.
type Ledger interface {
	// Balance returns the account's current wallet or ErrNotFound.
	Balance(ctx context.Context, accountID string) (int64, error)

	// Adjust atomically applies delta to the account and returns the new
	// balance. A missing account is created with balance = delta and the
	// given display name. With enforce set, a result below zero fails with
	// ErrInsufficientFunds and nothing changes.
	Adjust(ctx context.Context, accountID string, delta int64, name string, enforce bool) (int64, error)

	// AdjustFunc is an enforced Adjust whose delta is computed by fn from
	// the balance at the moment of the write. fn runs while the account is
	// locked against every other adjustment; an error from fn aborts with
	// no change and is returned as is.
	AdjustFunc(ctx context.Context, accountID, name string, fn DeltaFunc) (int64, error)

	// Accounts returns every account.
	Accounts(ctx context.Context) ([]model.Account, error)
}

// Wagers maps wager ids to open wagers. The backing storage is a single
// document; every mutation rewrites the whole document.
type Wagers interface {
	// All returns every open wager keyed by id.
	All(ctx context.Context) (map[string]*model.Wager, error)

	// Get returns one wager or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Wager, error)

	// Put inserts or replaces a wager.
	Put(ctx context.Context, w *model.Wager) error

	// Remove deletes a wager. Removing a missing id returns ErrNotFound.
	Remove(ctx context.Context, id string) error
}

// Flusher is implemented by stores that batch writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

func applyAdjust(acct *model.Account, exists bool, delta int64, enforce bool) error {
	next := delta
	if exists {
		next = acct.Wallet + delta
	}
	if exists && addOverflows(acct.Wallet, delta) {
		return ErrBalanceOverflow
	}
	if enforce && next < 0 {
		return ErrInsufficientFunds
	}
	acct.Wallet = next
	return nil
}

func addOverflows(a, b int64) bool {
	if b > 0 {
		return a > math.MaxInt64-b
	}
	return a < math.MinInt64-b
}

func fixed(delta int64) DeltaFunc {
	return func(int64) (int64, error) { return delta, nil }
}
