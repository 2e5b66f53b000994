package wager

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spikebot/spike/internal/model"
	"github.com/spikebot/spike/internal/platform"
)

// closedPrefix marks an anchor that no longer takes reactions. It keeps the
// title from matching the plugin's reaction prefix.
const closedPrefix = "[CLOSED] "

// Multiplier returns payout/stake rounded to two places, e.g. "2.50x".
func Multiplier(o *model.Option) string {
	return decimal.NewFromInt(o.Win).Div(decimal.NewFromInt(o.Bet)).StringFixed(2) + "x"
}

func anchorTitle(w *model.Wager) string {
	return Name + ": " + w.Title
}

// RenderAnchor builds the message bettors react to.
func RenderAnchor(w *model.Wager, footer string) platform.Message {
	var b strings.Builder
	if w.Description != "" {
		b.WriteString(w.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "ID: %s", w.ID)
	for _, key := range w.OptionKeys() {
		o := w.Options[key]
		fmt.Fprintf(&b, "\n%s  bet %d, win %d (%s)  %s", o.Glyph, o.Bet, o.Win, Multiplier(o), o.Description)
	}
	b.WriteString("\n\nReact with an option to place your bet. Remove the reaction to take it back.")
	return platform.Embed(anchorTitle(w), b.String(), footer, false)
}

// RenderClosed replaces the anchor once the wager is settled.
func RenderClosed(w *model.Wager, resultURL string) platform.Message {
	text := fmt.Sprintf("This bet is closed.\nID: %s", w.ID)
	if resultURL != "" {
		text += "\nResults: " + resultURL
	}
	m := platform.Embed(closedPrefix+anchorTitle(w), text, "", false)
	m.URL = resultURL
	return m
}

// RenderResults builds the settlement summary.
func RenderResults(w *model.Wager, s *model.Settlement) platform.Message {
	win := w.Options[s.WinningKey]

	var b strings.Builder
	fmt.Fprintf(&b, "Winning option: %s %s\n", win.Glyph, win.Description)
	fmt.Fprintf(&b, "Pot: %d\nOwed to winners: %d\n", s.Pot, s.GrossWinnings)
	if s.Shortfall {
		fmt.Fprintf(&b, "The host could not cover the payout. Each winner gets their %d back plus 1.\n", win.Bet)
	}
	switch {
	case s.CreatorDelta > 0:
		fmt.Fprintf(&b, "Host collects %d.\n", s.CreatorDelta)
	case s.CreatorDelta < 0:
		fmt.Fprintf(&b, "Host pays %d.\n", -s.CreatorDelta)
	}

	if len(s.Payouts) == 0 && len(s.Failures) == 0 {
		b.WriteString("\nNobody bet on the winning option.")
	}
	if len(s.Payouts) > 0 {
		b.WriteString("\nPayouts:")
		for _, p := range s.Payouts {
			fmt.Fprintf(&b, "\n  %s +%d", p.Name, p.Amount)
		}
	}
	if len(s.Failures) > 0 {
		b.WriteString("\nCould not pay:")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "\n  %s (%s)", f.UserID, f.Reason)
		}
	}
	return platform.Embed(Name+" Results: "+w.Title, b.String(), "Settlement "+s.ID, true)
}

// RenderActive lists open wagers with links to their anchors.
func RenderActive(wagers []*model.Wager, footer string) platform.Message {
	if len(wagers) == 0 {
		return platform.Embed("Active Bets", "There are no active bets.", footer, false)
	}
	var b strings.Builder
	for i, w := range wagers {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "ID %s: %s (pot %d)", w.ID, w.Title, w.Pot())
		if w.MessageURL != "" {
			fmt.Fprintf(&b, "\n%s", w.MessageURL)
		}
	}
	return platform.Embed("Active Bets", b.String(), footer, false)
}
