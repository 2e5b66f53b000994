// Package gamble shows Spike Bucks balances: a user's wallet and the
// server-wide leaderboard.
package gamble

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/spikebot/spike/internal/dispatch"
	"github.com/spikebot/spike/internal/model"
	"github.com/spikebot/spike/internal/platform"
	"github.com/spikebot/spike/internal/store"
)

// LeaderboardSize is the number of accounts shown on the leaderboard.
const LeaderboardSize = 10

// mention matches <@id> and <@!id>.
var mention = regexp.MustCompile(`^<@!?(\d+)>$`)

// Plugin implements the wallet and leaderboard commands.
type Plugin struct {
	ledger store.Ledger
	client platform.Client
}

func NewPlugin(ledger store.Ledger, client platform.Client) *Plugin {
	return &Plugin{ledger: ledger, client: client}
}

func (p *Plugin) Name() string       { return "Gamble" }
func (p *Plugin) Slug() string       { return "gamble" }
func (p *Plugin) Author() string     { return "Spike Team" }
func (p *Plugin) Commands() []string { return []string{"wallet", "leaderboard"} }

func (p *Plugin) Help(prefix, command string) string {
	switch command {
	case "wallet":
		return prefix + "wallet [user]\nCheck the amount of Spike Bucks in anyone's wallet. Leave the user blank to see your own."
	case "leaderboard":
		return prefix + "leaderboard\nView the users with the most Spike Bucks. Climb to the top if you can!"
	}
	return ""
}

func (p *Plugin) ShortHelp(prefix string) string {
	return fmt.Sprintf("Check Spike Bucks balances.\n%swallet - View Spike Bucks balance.\n%sleaderboard - View the leaderboard.", prefix, prefix)
}

func (p *Plugin) HandleCommand(ctx context.Context, cmd dispatch.Command) error {
	switch cmd.Name {
	case "wallet":
		return p.wallet(ctx, cmd)
	case "leaderboard":
		return p.leaderboard(ctx, cmd)
	}
	return fmt.Errorf("unhandled command %q", cmd.Name)
}

// Detag strips mention markup from a user reference.
func Detag(s string) string {
	s = strings.TrimSpace(s)
	if m := mention.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func (p *Plugin) wallet(ctx context.Context, cmd dispatch.Command) error {
	id := cmd.AuthorID
	if args := strings.TrimSpace(cmd.Args); args != "" {
		id = Detag(strings.Fields(args)[0])
	}

	bal, err := p.ledger.Balance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		_, err = p.client.Send(ctx, cmd.ChannelID,
			platform.Notice("Invalid User", "That user has no Spike Bucks wallet yet.", cmd.AuthorName))
		return err
	}
	if err != nil {
		return fmt.Errorf("read wallet %s: %w", id, err)
	}

	title := id
	if name, err := p.client.DisplayName(ctx, id); err == nil {
		title = name
	}
	_, err = p.client.Send(ctx, cmd.ChannelID, platform.Embed(title, fmt.Sprintf("%d", bal), cmd.AuthorName, true))
	return err
}

// Top returns the richest accounts, at most n, ties broken by id.
func Top(ctx context.Context, ledger store.Ledger, n int) ([]string, error) {
	accts, err := ledger.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	slices.SortStableFunc(accts, func(a, b model.Account) int {
		switch {
		case a.Wallet > b.Wallet:
			return -1
		case a.Wallet < b.Wallet:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	lines := make([]string, 0, min(n, len(accts)))
	for i, a := range accts[:min(n, len(accts))] {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		lines = append(lines, fmt.Sprintf("%d | %s - %d", i+1, name, a.Wallet))
	}
	return lines, nil
}

func (p *Plugin) leaderboard(ctx context.Context, cmd dispatch.Command) error {
	lines, err := Top(ctx, p.ledger, LeaderboardSize)
	if err != nil {
		return err
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		text = "Nobody has any Spike Bucks yet."
	}
	_, err = p.client.Send(ctx, cmd.ChannelID, platform.Embed("Leaderboard", text, cmd.AuthorName, true))
	return err
}
