// Package discord connects the bot to the Discord gateway. Client
// implements platform.Client over a discordgo session and feeds message and
// reaction events to a dispatch.Router.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spikebot/spike/internal/dispatch"
	"github.com/spikebot/spike/internal/platform"
)

// stateMessages is how many messages per channel the session keeps cached.
const stateMessages = 500

// Client is a platform.Client backed by a discordgo session.
type Client struct {
	s       *discordgo.Session
	timeout time.Duration
}

var _ platform.Client = (*Client)(nil)

// New creates a session for a bot token. The gateway is not opened until
// Open.
func New(token string, timeout time.Duration) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	s.State.MaxMessageCount = stateMessages
	return &Client{s: s, timeout: timeout}, nil
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.s.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error { return c.s.Close() }

func (c *Client) selfID() string {
	if c.s.State == nil || c.s.State.User == nil {
		return ""
	}
	return c.s.State.User.ID
}

func (c *Client) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// toEmbed renders a platform message as a Discord embed.
func toEmbed(m platform.Message) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       m.Title,
		Description: m.Body(),
		Color:       m.Color,
		URL:         m.URL,
	}
	if m.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: m.Footer}
	}
	return e
}

// messageURL is the jump link for a message.
func messageURL(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func (c *Client) Send(ctx context.Context, channelID string, m platform.Message) (platform.MessageRef, error) {
	ctx, cancel := c.call(ctx)
	defer cancel()

	msg, err := c.s.ChannelMessageSendEmbed(channelID, toEmbed(m), discordgo.WithContext(ctx))
	if err != nil {
		return platform.MessageRef{}, fmt.Errorf("send to %s: %w", channelID, err)
	}
	return platform.MessageRef{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		URL:       messageURL(msg.GuildID, msg.ChannelID, msg.ID),
	}, nil
}

func (c *Client) Edit(ctx context.Context, ref platform.MessageRef, m platform.Message) error {
	ctx, cancel := c.call(ctx)
	defer cancel()

	if _, err := c.s.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, toEmbed(m), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit %s: %w", ref.MessageID, err)
	}
	return nil
}

// Fetch loads a message over REST and stores it in the session state so
// reaction events on it can be matched to their embed title.
func (c *Client) Fetch(ctx context.Context, ref platform.MessageRef) error {
	_, err := c.fetch(ctx, ref.ChannelID, ref.MessageID)
	return err
}

func (c *Client) fetch(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	ctx, cancel := c.call(ctx)
	defer cancel()

	msg, err := c.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %v", messageID, platform.ErrUnknownMessage, err)
	}
	if err := c.s.State.MessageAdd(msg); err != nil {
		slog.Debug("cache message failed", "message", messageID, "err", err)
	}
	return msg, nil
}

// message returns a message from state, fetching it on a miss.
func (c *Client) message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	if msg, err := c.s.State.Message(channelID, messageID); err == nil {
		return msg, nil
	}
	return c.fetch(ctx, channelID, messageID)
}

func (c *Client) AddReaction(ctx context.Context, ref platform.MessageRef, emojiKey string) error {
	ctx, cancel := c.call(ctx)
	defer cancel()

	if err := c.s.MessageReactionAdd(ref.ChannelID, ref.MessageID, emojiKey, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("react %s on %s: %w", emojiKey, ref.MessageID, err)
	}
	return nil
}

func (c *Client) RemoveReaction(ctx context.Context, ref platform.MessageRef, emojiKey, userID string) error {
	ctx, cancel := c.call(ctx)
	defer cancel()

	if err := c.s.MessageReactionRemove(ref.ChannelID, ref.MessageID, emojiKey, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unreact %s on %s: %w", emojiKey, ref.MessageID, err)
	}
	return nil
}

// ResolveEmoji finds a custom emoji by id or name, checking the session
// state before the REST registry.
func (c *Client) ResolveEmoji(ctx context.Context, guildID, nameOrID string) (platform.Emoji, error) {
	if _, err := strconv.ParseUint(nameOrID, 10, 64); err == nil {
		if e, err := c.s.State.Emoji(guildID, nameOrID); err == nil {
			return emojiOf(e), nil
		}
	}

	ctx, cancel := c.call(ctx)
	defer cancel()

	list, err := c.s.GuildEmojis(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Emoji{}, fmt.Errorf("%w: %s: %v", platform.ErrUnknownEmoji, nameOrID, err)
	}
	if e := findEmoji(list, nameOrID); e != nil {
		return emojiOf(e), nil
	}
	return platform.Emoji{}, fmt.Errorf("%w: %s", platform.ErrUnknownEmoji, nameOrID)
}

func findEmoji(list []*discordgo.Emoji, nameOrID string) *discordgo.Emoji {
	for _, e := range list {
		if e.ID == nameOrID || e.Name == nameOrID {
			return e
		}
	}
	return nil
}

func emojiOf(e *discordgo.Emoji) platform.Emoji {
	return platform.Emoji{Key: e.APIName(), Display: e.MessageFormat()}
}

func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	ctx, cancel := c.call(ctx)
	defer cancel()

	u, err := c.s.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", platform.ErrUnknownUser, userID, err)
	}
	if u.GlobalName != "" {
		return u.GlobalName, nil
	}
	return u.Username, nil
}

// Attach routes gateway events to router. Call before Open.
func (c *Client) Attach(router *dispatch.Router) {
	c.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	c.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		cmd, ok := commandOf(c.selfID(), router, m.Message)
		if !ok {
			return
		}
		if err := router.DispatchCommand(context.Background(), cmd); err != nil {
			slog.Debug("command not handled", "command", cmd.Name, "err", err)
		}
	})
	c.s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		c.onReaction(router, r.MessageReaction, true)
	})
	c.s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		c.onReaction(router, r.MessageReaction, false)
	})
}

func (c *Client) onReaction(router *dispatch.Router, r *discordgo.MessageReaction, added bool) {
	self := c.selfID()
	if r.UserID == self {
		return
	}
	ctx := context.Background()
	msg, err := c.message(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		slog.Warn("reaction on uncached message", "message", r.MessageID, "err", err)
		return
	}
	rx, ok := reactionOf(self, msg, r, added)
	if !ok {
		return
	}
	if name, err := c.DisplayName(ctx, r.UserID); err == nil {
		rx.UserName = name
	}
	if err := router.DispatchReaction(ctx, rx); err != nil {
		slog.Debug("reaction not handled", "message", r.MessageID, "err", err)
	}
}

// commandOf turns a message into a command. Bot and self messages and
// messages without the prefix are dropped.
func commandOf(selfID string, router *dispatch.Router, m *discordgo.Message) (dispatch.Command, bool) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return dispatch.Command{}, false
	}
	name, args, ok := router.Parse(m.Content)
	if !ok {
		return dispatch.Command{}, false
	}
	author := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		author = m.Member.Nick
	}
	return dispatch.Command{
		Name:       name,
		Args:       args,
		Prefix:     router.Prefix(),
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: author,
	}, true
}

// reactionOf builds a routed reaction. Only reactions by other users on
// the bot's own embed messages are kept.
func reactionOf(selfID string, msg *discordgo.Message, r *discordgo.MessageReaction, added bool) (dispatch.Reaction, bool) {
	if r.UserID == selfID {
		return dispatch.Reaction{}, false
	}
	if msg.Author == nil || msg.Author.ID != selfID || len(msg.Embeds) == 0 {
		return dispatch.Reaction{}, false
	}
	titles := make([]string, 0, len(msg.Embeds))
	for _, e := range msg.Embeds {
		titles = append(titles, e.Title)
	}
	return dispatch.Reaction{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Titles:    titles,
		EmojiKey:  r.Emoji.APIName(),
		UserID:    r.UserID,
		Added:     added,
	}, true
}
