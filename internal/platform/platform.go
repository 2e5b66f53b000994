// Package platform defines the chat-platform collaborator the bot talks to:
// sending and editing rendered messages, managing reactions, and resolving
// emoji and user identities. The discord package provides the production
// implementation; MemoryClient backs tests and local runs.
package platform

import (
	"context"
	"errors"
)

// Colors used for rendered messages.
const (
	ColorPurple = 0xcc00ff
	ColorRed    = 0xfc0004
)

var (
	// ErrUnknownEmoji is returned when a custom emoji is not in the guild registry.
	ErrUnknownEmoji = errors.New("platform: unknown emoji")

	// ErrUnknownUser is returned when a user id cannot be resolved.
	ErrUnknownUser = errors.New("platform: unknown user")

	// ErrUnknownMessage is returned when a referenced message does not exist.
	ErrUnknownMessage = errors.New("platform: unknown message")
)

// Message is a rendered embed.
type Message struct {
	Title       string
	Description string
	// Code, when set, wraps the description in a code block of that language.
	Code   string
	Color  int
	Footer string
	URL    string
}

// Embed builds a standard purple reply.
func Embed(title, content, footer string, monospace bool) Message {
	m := Message{Title: title, Description: content, Color: ColorPurple, Footer: footer}
	if monospace {
		m.Code = "yaml"
	}
	return m
}

// Notice builds a red error reply.
func Notice(title, content, footer string) Message {
	return Message{Title: title, Description: content, Code: "fix", Color: ColorRed, Footer: footer}
}

// Body returns the description as it should be displayed.
func (m Message) Body() string {
	if m.Code == "" {
		return m.Description
	}
	return "```" + m.Code + "\n" + m.Description + "\n```"
}

// MessageRef identifies a sent message.
type MessageRef struct {
	GuildID   string
	ChannelID string
	MessageID string
	// URL is a jump link to the message, when the platform provides one.
	URL string
}

// Emoji is a reaction glyph. Key is the stable identifier used in reaction
// events; Display is how the glyph is written in message text.
type Emoji struct {
	Key     string
	Display string
}

// Client is everything the bot needs from the chat platform.
type Client interface {
	// Send renders m into channelID and returns its reference.
	Send(ctx context.Context, channelID string, m Message) (MessageRef, error)

	// Edit replaces the content of an existing message.
	Edit(ctx context.Context, ref MessageRef, m Message) error

	// Fetch loads a message into the client's cache so later reaction
	// events on it can be correlated.
	Fetch(ctx context.Context, ref MessageRef) error

	// AddReaction attaches emojiKey to a message as the bot.
	AddReaction(ctx context.Context, ref MessageRef, emojiKey string) error

	// RemoveReaction retracts userID's emojiKey reaction from a message.
	RemoveReaction(ctx context.Context, ref MessageRef, emojiKey, userID string) error

	// ResolveEmoji looks up a custom emoji by name or id in a guild.
	ResolveEmoji(ctx context.Context, guildID, nameOrID string) (Emoji, error)

	// DisplayName returns the user's name.
	DisplayName(ctx context.Context, userID string) (string, error)
}
