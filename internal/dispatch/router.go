// Package dispatch routes inbound commands and reactions to plugins.
//
// The plugin list is fixed when the Router is built and its order is a
// priority list: a command goes to the first plugin that declares it, and
// a reaction goes to the first reaction-capable plugin whose name prefixes
// the reacted message's title as "<Name>: ".
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spikebot/spike/internal/metrics"
	"github.com/spikebot/spike/internal/platform"
)

// ErrUnknownCommand is returned when no plugin declares a command.
var ErrUnknownCommand = errors.New("dispatch: unknown command")

// Command is a parsed text command.
type Command struct {
	Name   string // lowercased, without the prefix
	Args   string // everything after the first whitespace
	Prefix string

	GuildID    string
	ChannelID  string
	MessageID  string
	AuthorID   string
	AuthorName string
}

// Reaction is a reaction added to or removed from a bot message.
type Reaction struct {
	GuildID   string
	ChannelID string
	MessageID string
	// Titles are the embed titles of the reacted message.
	Titles   []string
	EmojiKey string
	UserID   string
	UserName string
	Added    bool
}

// Ref returns the reacted message's reference.
func (r Reaction) Ref() platform.MessageRef {
	return platform.MessageRef{GuildID: r.GuildID, ChannelID: r.ChannelID, MessageID: r.MessageID}
}

// Plugin is a unit of commands.
type Plugin interface {
	Name() string
	Slug() string
	Author() string
	Commands() []string
	HandleCommand(ctx context.Context, cmd Command) error
	// Help returns help text for one of the plugin's commands.
	Help(prefix, command string) string
	// ShortHelp returns the plugin's summary for the help screen.
	ShortHelp(prefix string) string
}

// ReactionHandler is implemented by plugins that consume reactions on the
// messages they render.
type ReactionHandler interface {
	HandleReaction(ctx context.Context, r Reaction) error
}

// Starter is implemented by plugins with startup work.
type Starter interface {
	OnStart(ctx context.Context) error
}

type commandRoute struct {
	plugin Plugin
	match  func(name string) bool
}

type reactionRoute struct {
	plugin  Plugin
	prefix  string
	handler ReactionHandler
}

// Router is the static dispatch table built from the plugin list.
type Router struct {
	client    platform.Client
	prefix    string
	plugins   []Plugin
	commands  []commandRoute
	reactions []reactionRoute
}

// NewRouter resolves the routing tables once from plugins, in order.
func NewRouter(client platform.Client, prefix string, plugins ...Plugin) *Router {
	r := &Router{client: client, prefix: prefix, plugins: plugins}
	for _, p := range plugins {
		names := make(map[string]bool)
		for _, c := range p.Commands() {
			names[strings.ToLower(c)] = true
		}
		r.commands = append(r.commands, commandRoute{
			plugin: p,
			match:  func(name string) bool { return names[name] },
		})
		if h, ok := p.(ReactionHandler); ok {
			r.reactions = append(r.reactions, reactionRoute{
				plugin:  p,
				prefix:  strings.ToLower(p.Name()) + ": ",
				handler: h,
			})
		}
	}
	return r
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Parse splits message content into a command name and its arguments.
// ok is false when content does not start with the prefix.
func (r *Router) Parse(content string) (name, args string, ok bool) {
	if r.prefix == "" || !strings.HasPrefix(content, r.prefix) {
		return "", "", false
	}
	end := strings.IndexFunc(content, unicode.IsSpace)
	if end < 0 {
		end = len(content)
	}
	name = strings.ToLower(content[len(r.prefix):end])
	if name == "" {
		return "", "", false
	}
	if end < len(content) {
		// Drop exactly the one separator so multi-line bodies keep their layout.
		_, size := utf8.DecodeRuneInString(content[end:])
		args = content[end+size:]
	}
	return name, args, true
}

// Start runs every plugin's startup hook. A failing hook is logged and
// does not stop the others.
func (r *Router) Start(ctx context.Context) {
	for _, p := range r.plugins {
		s, ok := p.(Starter)
		if !ok {
			continue
		}
		if err := s.OnStart(ctx); err != nil {
			slog.Error("plugin start failed", "plugin", p.Name(), "err", err)
		}
	}
}

// DispatchCommand runs cmd on the first plugin that declares it. help and
// man are answered by the router. An undeclared command gets a
// "Command not found" notice and returns ErrUnknownCommand.
func (r *Router) DispatchCommand(ctx context.Context, cmd Command) error {
	if cmd.Prefix == "" {
		cmd.Prefix = r.prefix
	}
	if cmd.Name == "help" || cmd.Name == "man" {
		metrics.CommandsTotal.WithLabelValues("help", cmd.Name).Inc()
		return r.help(ctx, cmd)
	}

	for _, route := range r.commands {
		if !route.match(cmd.Name) {
			continue
		}
		slog.Debug("running command", "command", cmd.Prefix+cmd.Name, "plugin", route.plugin.Name())
		metrics.CommandsTotal.WithLabelValues(route.plugin.Slug(), cmd.Name).Inc()
		if err := route.plugin.HandleCommand(ctx, cmd); err != nil {
			slog.Error("command failed",
				"command", cmd.Name,
				"plugin", route.plugin.Name(),
				"user", cmd.AuthorID,
				"err", err,
			)
			return fmt.Errorf("%s: %w", route.plugin.Name(), err)
		}
		return nil
	}

	metrics.CommandsTotal.WithLabelValues("none", "unknown").Inc()
	notice := platform.Notice("Command not found",
		fmt.Sprintf("The given command cannot be found. To view the list of commands, type \"%shelp\"", cmd.Prefix),
		cmd.AuthorName)
	if _, err := r.client.Send(ctx, cmd.ChannelID, notice); err != nil {
		slog.Warn("unknown command notice failed", "channel", cmd.ChannelID, "err", err)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
}

// DispatchReaction hands rx to the first matching reaction handler. A
// reaction no plugin claims is ignored.
func (r *Router) DispatchReaction(ctx context.Context, rx Reaction) error {
	for _, title := range rx.Titles {
		lower := strings.ToLower(title)
		for _, route := range r.reactions {
			if !strings.HasPrefix(lower, route.prefix) {
				continue
			}
			action := "remove"
			if rx.Added {
				action = "add"
			}
			slog.Debug("processing reaction", "action", action, "plugin", route.plugin.Name())
			metrics.ReactionsTotal.WithLabelValues(route.plugin.Slug(), action).Inc()
			if err := route.handler.HandleReaction(ctx, rx); err != nil {
				slog.Error("reaction failed",
					"plugin", route.plugin.Name(),
					"message", rx.MessageID,
					"user", rx.UserID,
					"err", err,
				)
				return fmt.Errorf("%s: %w", route.plugin.Name(), err)
			}
			return nil
		}
	}
	return nil
}

func (r *Router) help(ctx context.Context, cmd Command) error {
	title, text := r.helpText(cmd.Prefix, strings.TrimSpace(cmd.Args))
	if text == "" {
		return nil
	}
	_, err := r.client.Send(ctx, cmd.ChannelID, platform.Embed(title, text, cmd.AuthorName, true))
	return err
}

// helpText builds the help screen. With no args it lists the plugins;
// "plugin <slug>" gives a plugin's short help; "<command>" gives that
// command's help from its plugin.
func (r *Router) helpText(prefix, args string) (title, text string) {
	if args == "" {
		var b strings.Builder
		fmt.Fprintf(&b, "Use the given help commands to learn more about each plugin and its commands.\nUse `%shelp <command>` to jump to info on that command.", prefix)
		for _, p := range r.plugins {
			fmt.Fprintf(&b, "\n-------\n\"%s\" by %s\n`%shelp plugin %s`", p.Name(), p.Author(), prefix, p.Slug())
		}
		return "Help", b.String()
	}

	fields := strings.Fields(args)
	first := strings.ToLower(fields[0])
	rest := strings.Join(fields[1:], " ")
	for _, p := range r.plugins {
		if first == "plugin" && rest == p.Slug() {
			return p.Name() + " Help", fmt.Sprintf("%s\nby %s\nUse `%shelp <command>` for info on that command.\n\n%s",
				p.Name(), p.Author(), prefix, p.ShortHelp(prefix))
		}
	}
	for _, route := range r.commands {
		if route.match(first) {
			return route.plugin.Name() + " Help", route.plugin.Help(prefix, first)
		}
	}
	return "", ""
}
