package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spikebot/spike/internal/model"
)

// MemoryLedger implements Ledger with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]*model.Account)}
}

func (l *MemoryLedger) Balance(_ context.Context, accountID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return a.Wallet, nil
}

func (l *MemoryLedger) Adjust(_ context.Context, accountID string, delta int64, name string, enforce bool) (int64, error) {
	return l.update(accountID, name, fixed(delta), enforce)
}

func (l *MemoryLedger) AdjustFunc(_ context.Context, accountID, name string, fn DeltaFunc) (int64, error) {
	return l.update(accountID, name, fn, true)
}

func (l *MemoryLedger) update(accountID, name string, fn DeltaFunc, enforce bool) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[accountID]
	next := model.Account{ID: accountID, Name: name}
	if ok {
		next = *a
	}
	delta, err := fn(next.Wallet)
	if err != nil {
		return next.Wallet, err
	}
	if err := applyAdjust(&next, ok, delta, enforce); err != nil {
		return next.Wallet, fmt.Errorf("account %s: %w", accountID, err)
	}
	l.accounts[accountID] = &next
	return next.Wallet, nil
}

func (l *MemoryLedger) Accounts(_ context.Context) ([]model.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryWagers implements Wagers with an in-memory map.
type MemoryWagers struct {
	mu     sync.RWMutex
	wagers map[string]*model.Wager
}

// NewMemoryWagers creates a new in-memory wager store.
func NewMemoryWagers() *MemoryWagers {
	return &MemoryWagers{wagers: make(map[string]*model.Wager)}
}

func (s *MemoryWagers) All(_ context.Context) (map[string]*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*model.Wager, len(s.wagers))
	for id, w := range s.wagers {
		out[id] = w.Clone()
	}
	return out, nil
}

func (s *MemoryWagers) Get(_ context.Context, id string) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	return w.Clone(), nil
}

func (s *MemoryWagers) Put(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.wagers[w.ID] = w.Clone()
	return nil
}

func (s *MemoryWagers) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wagers[id]; !ok {
		return fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	delete(s.wagers, id)
	return nil
}
