package wager

import (
	"strconv"
	"sync"
	"time"
)

// IDs hands out strictly increasing millisecond-timestamp wager ids. Two
// wagers created in the same millisecond get consecutive ids.
type IDs struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDs creates a generator that never returns an id at or below floor.
func NewIDs(floor int64) *IDs {
	return &IDs{last: floor, now: time.Now}
}

// Next returns a fresh id.
func (g *IDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := max(g.now().UnixMilli(), g.last+1)
	g.last = id
	return strconv.FormatInt(id, 10)
}

// Observe raises the floor past an id seen in storage. Non-numeric ids are
// ignored.
func (g *IDs) Observe(id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.last = max(g.last, n)
	g.mu.Unlock()
}
