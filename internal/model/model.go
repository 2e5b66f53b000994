// Package model defines the core domain types shared across the bot.
// All amounts are whole Spike Bucks held in int64, never float64.
package model

import (
	"slices"
	"time"
)

// Account is one user's wallet. Accounts are created lazily on the first
// credit and are never deleted.
type Account struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Wallet int64  `json:"wallet"`
}

// Status is the lifecycle state of a wager.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Option is one possible outcome of a wager. Bettors pay Bet to enter and
// each winner is owed Win when the option is chosen at close.
type Option struct {
	Glyph       string   `json:"glyph"`
	Description string   `json:"description"`
	Bet         int64    `json:"bet"`
	Win         int64    `json:"win"`
	Bettors     []string `json:"bettors"`
}

// HasBettor reports whether userID has committed to this option.
func (o *Option) HasBettor(userID string) bool {
	return slices.Contains(o.Bettors, userID)
}

// Wager is a single betting event with one or more mutually exclusive
// options keyed by the emoji used to vote for them. A wager is open for as
// long as it is present in the wager store.
type Wager struct {
	ID          string             `json:"id,omitempty"`
	GuildID     string             `json:"guildID,omitempty"`
	ChannelID   string             `json:"channelID"`
	MessageID   string             `json:"messageID"`
	MessageURL  string             `json:"messageURL,omitempty"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	CreatedBy   string             `json:"createdBy"`
	CreatedAt   time.Time          `json:"createdAt"`
	Status      Status             `json:"status"`
	Options     map[string]*Option `json:"wagers"`
	// Order preserves the option order given at creation for rendering.
	Order []string `json:"order,omitempty"`
}

// OptionKeys returns option keys in creation order. Keys missing from Order
// (older documents) are appended in map order.
func (w *Wager) OptionKeys() []string {
	keys := make([]string, 0, len(w.Options))
	seen := make(map[string]bool, len(w.Options))
	for _, k := range w.Order {
		if _, ok := w.Options[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range w.Options {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

// CommittedOption returns the key of the option userID holds, if any.
func (w *Wager) CommittedOption(userID string) (string, bool) {
	for k, o := range w.Options {
		if o.HasBettor(userID) {
			return k, true
		}
	}
	return "", false
}

// Pot is Σ stake × |bettors| across every option.
func (w *Wager) Pot() int64 {
	var pot int64
	for _, o := range w.Options {
		pot += o.Bet * int64(len(o.Bettors))
	}
	return pot
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (w *Wager) Clone() *Wager {
	c := *w
	c.Order = slices.Clone(w.Order)
	c.Options = make(map[string]*Option, len(w.Options))
	for k, o := range w.Options {
		oc := *o
		oc.Bettors = slices.Clone(o.Bettors)
		c.Options[k] = &oc
	}
	return &c
}

// Payout records a single credit made to a winner at settlement.
type Payout struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// PayoutFailure records a winner that could not be paid.
type PayoutFailure struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Settlement is the computed outcome of closing a wager. It is rendered
// into the result message and never persisted.
type Settlement struct {
	ID              string          `json:"id"`
	WagerID         string          `json:"wager_id"`
	WinningKey      string          `json:"winning_key"`
	Pot             int64           `json:"pot"`
	GrossWinnings   int64           `json:"gross_winnings"`
	Shortfall       bool            `json:"shortfall"`
	PayoutPerWinner int64           `json:"payout_per_winner"`
	CreatorBefore   int64           `json:"creator_before"`
	CreatorDelta    int64           `json:"creator_delta"`
	Payouts         []Payout        `json:"payouts"`
	Failures        []PayoutFailure `json:"failures,omitempty"`
	SettledAt       time.Time       `json:"settled_at"`
}
