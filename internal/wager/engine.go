// Package wager runs the betting lifecycle: opening wagers, recording and
// withdrawing commitments from reactions, and settling a wager when its
// creator closes it.
//
// All amounts move through store.Ledger. Mutations to one wager id are
// serialized; different wagers proceed independently.
package wager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spikebot/spike/internal/metrics"
	"github.com/spikebot/spike/internal/model"
	"github.com/spikebot/spike/internal/platform"
	"github.com/spikebot/spike/internal/store"
)

// Name is the plugin name. Anchor titles start with "<Name>: " so the
// router can route their reactions here.
const Name = "Bet"

// Event types published to a Broadcaster.
const (
	EventCreated   = "wager.created"
	EventCommitted = "wager.committed"
	EventWithdrawn = "wager.withdrawn"
	EventClosed    = "wager.closed"
)

// Event describes one lifecycle transition.
type Event struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	WagerID string       `json:"wager_id"`
	Status  model.Status `json:"status"`
	UserID  string       `json:"user_id,omitempty"`
	Option  string       `json:"option,omitempty"`
	Amount  int64        `json:"amount,omitempty"`
	At      time.Time    `json:"at"`
}

// Broadcaster receives lifecycle events. It must not block.
type Broadcaster interface {
	Broadcast(Event)
}

// CreateRequest is a parsed bet command.
type CreateRequest struct {
	GuildID     string
	ChannelID   string
	CreatorID   string
	CreatorName string
	Body        string
}

// CloseRequest is a parsed endbet command.
type CloseRequest struct {
	GuildID   string
	ChannelID string
	UserID    string
	WagerID   string
	Glyph     string
}

// Engine owns every wager state transition.
type Engine struct {
	ledger store.Ledger
	wagers store.Wagers
	client platform.Client
	ids    *IDs
	events Broadcaster
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine. Pass nil for events if nothing observes
// lifecycle events.
func NewEngine(ledger store.Ledger, wagers store.Wagers, client platform.Client, events Broadcaster) *Engine {
	return &Engine{
		ledger: ledger,
		wagers: wagers,
		client: client,
		ids:    NewIDs(0),
		events: events,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock serializes work on one wager id and returns the unlock func.
func (e *Engine) lock(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// forget drops the lock of a wager that no longer exists. Ids are never
// reused, so a late waiter on the old mutex only finds the wager gone.
func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

func (e *Engine) publish(typ string, w *model.Wager, userID, option string, amount int64) {
	if e.events == nil {
		return
	}
	e.events.Broadcast(Event{
		ID:      uuid.New().String(),
		Type:    typ,
		WagerID: w.ID,
		Status:  w.Status,
		UserID:  userID,
		Option:  option,
		Amount:  amount,
		At:      e.now().UTC(),
	})
}

// balance reads an account, treating a missing one as empty.
func (e *Engine) balance(ctx context.Context, id string) (int64, error) {
	bal, err := e.ledger.Balance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return bal, err
}

// Create opens a wager from a bet body and posts its anchor message.
// Nothing is persisted unless the body parses and the creator is funded.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.Wager, error) {
	body, err := ParseBody(ctx, e.client, req.GuildID, req.Body)
	if err != nil {
		return nil, err
	}

	bal, err := e.balance(ctx, req.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("read creator balance: %w", err)
	}
	if bal <= 0 {
		return nil, ErrCreatorNotFunded
	}

	w := &model.Wager{
		ID:          e.ids.Next(),
		GuildID:     req.GuildID,
		ChannelID:   req.ChannelID,
		Title:       body.Title,
		Description: body.Description,
		CreatedBy:   req.CreatorID,
		CreatedAt:   e.now().UTC(),
		Status:      model.StatusOpen,
		Options:     body.Options,
		Order:       body.Order,
	}

	unlock := e.lock(w.ID)
	defer unlock()

	if err := e.wagers.Put(ctx, w); err != nil {
		return nil, fmt.Errorf("persist wager: %w", err)
	}
	if err := e.render(ctx, w, req.CreatorName); err != nil {
		if rmErr := e.wagers.Remove(ctx, w.ID); rmErr != nil {
			slog.Error("remove unrendered wager failed", "wager_id", w.ID, "err", rmErr)
		} else {
			defer e.forget(w.ID)
		}
		return nil, err
	}

	metrics.WagersCreated.Inc()
	metrics.OpenWagers.Inc()
	e.publish(EventCreated, w, w.CreatedBy, "", 0)
	slog.Info("wager opened",
		"wager_id", w.ID,
		"creator", w.CreatedBy,
		"options", len(w.Options),
	)
	return w.Clone(), nil
}

// render posts the anchor, attaches one reaction per option and stores the
// anchor reference. A failed final persist leaves the wager without an
// anchor id; Recover re-renders it.
func (e *Engine) render(ctx context.Context, w *model.Wager, creatorName string) error {
	ref, err := e.client.Send(ctx, w.ChannelID, RenderAnchor(w, creatorName))
	if err != nil {
		return fmt.Errorf("send anchor: %w", err)
	}
	ref.GuildID = w.GuildID
	for _, key := range w.OptionKeys() {
		if err := e.client.AddReaction(ctx, ref, key); err != nil {
			slog.Warn("attach option reaction failed", "wager_id", w.ID, "emoji", key, "err", err)
		}
	}

	w.MessageID = ref.MessageID
	w.MessageURL = ref.URL
	if err := e.wagers.Put(ctx, w); err != nil {
		slog.Error("persist anchor reference failed", "wager_id", w.ID, "message", ref.MessageID, "err", err)
	}
	return nil
}

// byMessage finds the id of the single open wager anchored at messageID.
func (e *Engine) byMessage(ctx context.Context, messageID string) (string, error) {
	all, err := e.wagers.All(ctx)
	if err != nil {
		return "", fmt.Errorf("list wagers: %w", err)
	}
	var matches []string
	for id, w := range all {
		if w.MessageID == messageID {
			matches = append(matches, id)
		}
	}
	if len(matches) != 1 {
		metrics.IntegrityFaults.Inc()
		slog.Error("reaction matched wrong number of wagers",
			"message", messageID,
			"matches", len(matches),
		)
		return "", fmt.Errorf("%w: message %s matched %d wagers", ErrAmbiguousWagerReference, messageID, len(matches))
	}
	return matches[0], nil
}

// undo retracts a rejected reaction so it does not look like a live vote.
func (e *Engine) undo(ctx context.Context, ref platform.MessageRef, emojiKey, userID string) {
	if err := e.client.RemoveReaction(ctx, ref, emojiKey, userID); err != nil {
		slog.Warn("retract reaction failed", "message", ref.MessageID, "emoji", emojiKey, "user", userID, "err", err)
	}
}

// Commit records userID's reaction with emojiKey on an anchor message as a
// bet on that option, debiting the stake.
func (e *Engine) Commit(ctx context.Context, ref platform.MessageRef, emojiKey, userID, userName string) error {
	id, err := e.byMessage(ctx, ref.MessageID)
	if err != nil {
		metrics.Commitments.WithLabelValues("commit", "integrity").Inc()
		return err
	}

	unlock := e.lock(id)
	defer unlock()

	w, err := e.wagers.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownWager, id)
	}
	if err != nil {
		return fmt.Errorf("load wager %s: %w", id, err)
	}

	if w.CreatedBy == userID {
		e.undo(ctx, ref, emojiKey, userID)
		metrics.Commitments.WithLabelValues("commit", "self").Inc()
		return ErrSelfWager
	}
	opt, ok := w.Options[emojiKey]
	if !ok {
		e.undo(ctx, ref, emojiKey, userID)
		metrics.Commitments.WithLabelValues("commit", "invalid").Inc()
		return fmt.Errorf("%w: %s", ErrInvalidOption, emojiKey)
	}
	if held, ok := w.CommittedOption(userID); ok {
		if held == emojiKey {
			metrics.Commitments.WithLabelValues("commit", "duplicate").Inc()
			return nil
		}
		// Already on another option: drop the extra vote.
		e.undo(ctx, ref, emojiKey, userID)
		metrics.Commitments.WithLabelValues("commit", "switch").Inc()
		return nil
	}

	if _, err := e.ledger.Adjust(ctx, userID, -opt.Bet, userName, true); err != nil {
		e.undo(ctx, ref, emojiKey, userID)
		if errors.Is(err, store.ErrInsufficientFunds) {
			metrics.Commitments.WithLabelValues("commit", "insufficient").Inc()
			return fmt.Errorf("%w: stake %d", ErrInsufficientFunds, opt.Bet)
		}
		return fmt.Errorf("debit stake: %w", err)
	}

	opt.Bettors = append(opt.Bettors, userID)
	if err := e.wagers.Put(ctx, w); err != nil {
		if _, refundErr := e.ledger.Adjust(ctx, userID, opt.Bet, userName, false); refundErr != nil {
			slog.Error("refund after failed commit", "wager_id", id, "user", userID, "amount", opt.Bet, "err", refundErr)
		}
		e.undo(ctx, ref, emojiKey, userID)
		return fmt.Errorf("persist commitment: %w", err)
	}

	metrics.Commitments.WithLabelValues("commit", "ok").Inc()
	e.publish(EventCommitted, w, userID, emojiKey, opt.Bet)
	slog.Info("bet placed", "wager_id", id, "user", userID, "emoji", emojiKey, "stake", opt.Bet)
	return nil
}

// Withdraw reverses a commitment when its reaction is removed. Removing a
// reaction that was not a commitment does nothing.
func (e *Engine) Withdraw(ctx context.Context, ref platform.MessageRef, emojiKey, userID string) error {
	id, err := e.byMessage(ctx, ref.MessageID)
	if err != nil {
		metrics.Commitments.WithLabelValues("withdraw", "integrity").Inc()
		return err
	}

	unlock := e.lock(id)
	defer unlock()

	w, err := e.wagers.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownWager, id)
	}
	if err != nil {
		return fmt.Errorf("load wager %s: %w", id, err)
	}

	opt, ok := w.Options[emojiKey]
	if !ok || !opt.HasBettor(userID) {
		metrics.Commitments.WithLabelValues("withdraw", "noop").Inc()
		return nil
	}

	opt.Bettors = slices.DeleteFunc(opt.Bettors, func(b string) bool { return b == userID })
	if err := e.wagers.Put(ctx, w); err != nil {
		return fmt.Errorf("persist withdrawal: %w", err)
	}
	if _, err := e.ledger.Adjust(ctx, userID, opt.Bet, "", false); err != nil {
		slog.Error("refund stake failed", "wager_id", id, "user", userID, "amount", opt.Bet, "err", err)
		return fmt.Errorf("refund stake: %w", err)
	}

	metrics.Commitments.WithLabelValues("withdraw", "ok").Inc()
	e.publish(EventWithdrawn, w, userID, emojiKey, opt.Bet)
	slog.Info("bet withdrawn", "wager_id", id, "user", userID, "emoji", emojiKey, "stake", opt.Bet)
	return nil
}

// optionKey maps a typed glyph to the option it names.
func (e *Engine) optionKey(ctx context.Context, w *model.Wager, glyph string) (string, bool) {
	if _, ok := w.Options[glyph]; ok {
		return glyph, true
	}
	for key, o := range w.Options {
		if o.Glyph == glyph {
			return key, true
		}
	}
	emoji, err := ResolveGlyph(ctx, e.client, w.GuildID, glyph)
	if err != nil {
		return "", false
	}
	_, ok := w.Options[emoji.Key]
	return emoji.Key, ok
}

// Close settles a wager on the option named by req.Glyph and removes it.
// Only the creator may close. A failed creator adjustment leaves the wager
// open; a failed winner payout is recorded and the rest are still paid.
func (e *Engine) Close(ctx context.Context, req CloseRequest) (*model.Settlement, error) {
	unlock := e.lock(req.WagerID)
	defer unlock()

	w, err := e.wagers.Get(ctx, req.WagerID)
	if errors.Is(err, store.ErrNotFound) {
		defer e.forget(req.WagerID)
		return nil, fmt.Errorf("%w: %s", ErrUnknownWager, req.WagerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load wager %s: %w", req.WagerID, err)
	}
	if w.CreatedBy != req.UserID {
		return nil, ErrNotWagerOwner
	}
	key, ok := e.optionKey(ctx, w, req.Glyph)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOption, req.Glyph)
	}

	// Planned against the creator's balance at the moment of the write.
	var (
		plan   Plan
		before int64
	)
	_, err = e.ledger.AdjustFunc(ctx, w.CreatedBy, "", func(bal int64) (int64, error) {
		p, err := PlanSettlement(w, key, bal)
		if err != nil {
			return 0, err
		}
		plan, before = p, bal
		return p.CreatorDelta, nil
	})
	if err != nil {
		return nil, fmt.Errorf("settle creator: %w", err)
	}

	s := &model.Settlement{
		ID:              uuid.New().String(),
		WagerID:         w.ID,
		WinningKey:      key,
		Pot:             plan.Pot,
		GrossWinnings:   plan.GrossWinnings,
		Shortfall:       plan.Shortfall,
		PayoutPerWinner: plan.PayoutPerWinner,
		CreatorBefore:   before,
		CreatorDelta:    plan.CreatorDelta,
		Payouts:         []model.Payout{},
		SettledAt:       e.now().UTC(),
	}
	for _, uid := range plan.Winners {
		if err := e.pay(ctx, s, uid); err != nil {
			metrics.PayoutFailures.Inc()
			s.Failures = append(s.Failures, model.PayoutFailure{UserID: uid, Reason: err.Error()})
			slog.Warn("winner payout failed", "wager_id", w.ID, "user", uid, "err", err)
		}
	}

	if err := e.wagers.Remove(ctx, w.ID); err != nil {
		metrics.IntegrityFaults.Inc()
		slog.Error("remove settled wager failed", "wager_id", w.ID, "err", err)
	} else {
		defer e.forget(w.ID)
	}
	w.Status = model.StatusClosed

	path := "full"
	if plan.Shortfall {
		path = "shortfall"
	}
	metrics.Settlements.WithLabelValues(path).Inc()
	metrics.OpenWagers.Dec()

	result, err := e.client.Send(ctx, w.ChannelID, RenderResults(w, s))
	if err != nil {
		slog.Warn("send settlement summary failed", "wager_id", w.ID, "err", err)
	}
	if w.MessageID != "" {
		anchor := platform.MessageRef{GuildID: w.GuildID, ChannelID: w.ChannelID, MessageID: w.MessageID}
		if err := e.client.Edit(ctx, anchor, RenderClosed(w, result.URL)); err != nil {
			slog.Warn("mark anchor closed failed", "wager_id", w.ID, "err", err)
		}
	}

	e.publish(EventClosed, w, w.CreatedBy, key, plan.PayoutPerWinner*int64(len(s.Payouts)))
	slog.Info("wager settled",
		"wager_id", w.ID,
		"path", path,
		"pot", plan.Pot,
		"creator_delta", plan.CreatorDelta,
		"winners", len(s.Payouts),
		"failures", len(s.Failures),
	)
	return s, nil
}

func (e *Engine) pay(ctx context.Context, s *model.Settlement, userID string) error {
	name, err := e.client.DisplayName(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownBettor, err)
	}
	if _, err := e.ledger.Adjust(ctx, userID, s.PayoutPerWinner, name, false); err != nil {
		return fmt.Errorf("credit winnings: %w", err)
	}
	s.Payouts = append(s.Payouts, model.Payout{UserID: userID, Name: name, Amount: s.PayoutPerWinner})
	metrics.SettlementVolume.Add(float64(s.PayoutPerWinner))
	return nil
}

// Active returns every open wager, oldest first.
func (e *Engine) Active(ctx context.Context) ([]*model.Wager, error) {
	all, err := e.wagers.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	out := make([]*model.Wager, 0, len(all))
	for _, w := range all {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b *model.Wager) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

// compareIDs orders numeric ids numerically and anything else lexically.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Recover prepares open wagers after a restart: it seeds the id generator,
// re-fetches every anchor into the platform cache and re-renders wagers
// that never stored an anchor reference. Individual failures are logged.
func (e *Engine) Recover(ctx context.Context) error {
	wagers, err := e.Active(ctx)
	if err != nil {
		return err
	}
	for _, w := range wagers {
		e.ids.Observe(w.ID)
	}
	metrics.OpenWagers.Set(float64(len(wagers)))

	var fetched, rendered int
	for _, w := range wagers {
		if w.MessageID == "" {
			if e.rerender(ctx, w.ID) {
				rendered++
			}
			continue
		}
		ref := platform.MessageRef{GuildID: w.GuildID, ChannelID: w.ChannelID, MessageID: w.MessageID}
		if err := e.client.Fetch(ctx, ref); err != nil {
			slog.Warn("fetch anchor failed", "wager_id", w.ID, "message", w.MessageID, "err", err)
			continue
		}
		fetched++
	}
	slog.Info("wagers recovered", "open", len(wagers), "fetched", fetched, "rendered", rendered)
	return nil
}

func (e *Engine) rerender(ctx context.Context, id string) bool {
	unlock := e.lock(id)
	defer unlock()

	w, err := e.wagers.Get(ctx, id)
	if err != nil || w.MessageID != "" {
		return false
	}
	name, err := e.client.DisplayName(ctx, w.CreatedBy)
	if err != nil {
		name = w.CreatedBy
	}
	if err := e.render(ctx, w, name); err != nil {
		slog.Warn("re-render anchor failed", "wager_id", id, "err", err)
		return false
	}
	slog.Info("anchor re-rendered", "wager_id", id, "message", w.MessageID)
	return true
}
