package wager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spikebot/spike/internal/dispatch"
	"github.com/spikebot/spike/internal/platform"
)

// Plugin exposes the engine as the bet, endbet and activebets commands
// and consumes reactions on anchor messages.
type Plugin struct {
	engine *Engine
	client platform.Client
}

// NewPlugin wraps engine for the router.
func NewPlugin(engine *Engine, client platform.Client) *Plugin {
	return &Plugin{engine: engine, client: client}
}

func (p *Plugin) Name() string       { return Name }
func (p *Plugin) Slug() string       { return "betting" }
func (p *Plugin) Author() string     { return "Spike Team" }
func (p *Plugin) Commands() []string { return []string{"bet", "endbet", "activebets"} }

func (p *Plugin) Help(prefix, command string) string {
	switch command {
	case "bet":
		return fmt.Sprintf("%sbet - Create a new bet. You cannot wager on a bet you create. Format the message as shown below, noting the newlines. Repeat the last line for every option you want.\n\n%sbet Title\nThis is what the bet is about\n:emoji: {bet amount} {winnings} What this wager means", prefix, prefix)
	case "endbet":
		return fmt.Sprintf("%sendbet {id} {:emoji:} - Ends a bet. Only the user that starts a bet can end it.\n\n{id} is the bet ID given when created\n{:emoji:} is the emoji representing the winning wager.", prefix)
	case "activebets":
		return fmt.Sprintf("%sactivebets - See all bets currently active, including IDs and links.", prefix)
	}
	return ""
}

func (p *Plugin) ShortHelp(prefix string) string {
	return fmt.Sprintf("Create and manage option-based wagers.\n%sbet - Create a new bet.\n%sendbet - End a bet you created.\n%sactivebets - See all bets currently active, including IDs and links.",
		prefix, prefix, prefix)
}

func (p *Plugin) HandleCommand(ctx context.Context, cmd dispatch.Command) error {
	var err error
	switch cmd.Name {
	case "bet":
		err = p.bet(ctx, cmd)
	case "endbet":
		err = p.endbet(ctx, cmd)
	case "activebets":
		err = p.activebets(ctx, cmd)
	default:
		return fmt.Errorf("unhandled command %q", cmd.Name)
	}
	return p.report(ctx, cmd.ChannelID, cmd.AuthorName, err)
}

func (p *Plugin) bet(ctx context.Context, cmd dispatch.Command) error {
	if strings.TrimSpace(cmd.Args) == "" {
		return ErrMalformedCommand
	}
	_, err := p.engine.Create(ctx, CreateRequest{
		GuildID:     cmd.GuildID,
		ChannelID:   cmd.ChannelID,
		CreatorID:   cmd.AuthorID,
		CreatorName: cmd.AuthorName,
		Body:        cmd.Args,
	})
	return err
}

func (p *Plugin) endbet(ctx context.Context, cmd dispatch.Command) error {
	fields := strings.Fields(cmd.Args)
	if len(fields) < 2 {
		return ErrMalformedCommand
	}
	_, err := p.engine.Close(ctx, CloseRequest{
		GuildID:   cmd.GuildID,
		ChannelID: cmd.ChannelID,
		UserID:    cmd.AuthorID,
		WagerID:   fields[0],
		Glyph:     fields[1],
	})
	return err
}

func (p *Plugin) activebets(ctx context.Context, cmd dispatch.Command) error {
	wagers, err := p.engine.Active(ctx)
	if err != nil {
		return err
	}
	_, err = p.client.Send(ctx, cmd.ChannelID, RenderActive(wagers, cmd.AuthorName))
	return err
}

// HandleReaction commits on an added reaction and withdraws on a removed one.
func (p *Plugin) HandleReaction(ctx context.Context, r dispatch.Reaction) error {
	ref := r.Ref()
	var err error
	if r.Added {
		err = p.engine.Commit(ctx, ref, r.EmojiKey, r.UserID, r.UserName)
	} else {
		err = p.engine.Withdraw(ctx, ref, r.EmojiKey, r.UserID)
	}
	return p.report(ctx, r.ChannelID, r.UserName, err)
}

// OnStart recovers open wagers.
func (p *Plugin) OnStart(ctx context.Context) error {
	return p.engine.Recover(ctx)
}

// report sends user-facing failures as a notice and swallows them. Anything
// else is returned for the router to log.
func (p *Plugin) report(ctx context.Context, channelID, footer string, err error) error {
	if err == nil {
		return nil
	}
	title, desc, ok := Notice(err)
	if !ok {
		return err
	}
	slog.Info("bet rejected", "reason", err)
	if _, sendErr := p.client.Send(ctx, channelID, platform.Notice(title, desc, footer)); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return nil
}
