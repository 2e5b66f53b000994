package platform

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// Reaction is a reaction recorded by MemoryClient.
type Reaction struct {
	EmojiKey string
	UserID   string
}

// SentMessage is a message held by MemoryClient.
type SentMessage struct {
	Ref       MessageRef
	Message   Message
	Reactions []Reaction
	Edits     int
}

// MemoryClient implements Client in memory. Used for testing and for
// running the bot without a gateway connection.
type MemoryClient struct {
	mu       sync.Mutex
	nextID   int
	messages map[string]*SentMessage
	order    []string
	fetched  map[string]int
	users    map[string]string
	emoji    map[string]map[string]Emoji // guild → name/id → emoji

	// SendErr, when set, fails every Send.
	SendErr error
	// SelfID is the user id reactions added by the bot are recorded under.
	SelfID string
}

// NewMemoryClient creates an empty in-memory platform.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		messages: make(map[string]*SentMessage),
		fetched:  make(map[string]int),
		users:    make(map[string]string),
		emoji:    make(map[string]map[string]Emoji),
		SelfID:   "bot",
	}
}

// AddUser registers a resolvable user.
func (c *MemoryClient) AddUser(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[id] = name
}

// AddEmoji registers a custom emoji in a guild, addressable by name or id.
func (c *MemoryClient) AddEmoji(guildID, name, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emoji[guildID] == nil {
		c.emoji[guildID] = make(map[string]Emoji)
	}
	e := Emoji{Key: name + ":" + id, Display: "<:" + name + ":" + id + ">"}
	c.emoji[guildID][name] = e
	c.emoji[guildID][id] = e
}

func (c *MemoryClient) Send(_ context.Context, channelID string, m Message) (MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return MessageRef{}, c.SendErr
	}
	c.nextID++
	id := "m" + strconv.Itoa(c.nextID)
	ref := MessageRef{
		ChannelID: channelID,
		MessageID: id,
		URL:       fmt.Sprintf("memory://%s/%s", channelID, id),
	}
	c.messages[id] = &SentMessage{Ref: ref, Message: m}
	c.order = append(c.order, id)
	return ref, nil
}

func (c *MemoryClient) Edit(_ context.Context, ref MessageRef, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm, ok := c.messages[ref.MessageID]
	if !ok {
		return fmt.Errorf("edit %s: %w", ref.MessageID, ErrUnknownMessage)
	}
	sm.Message = m
	sm.Edits++
	return nil
}

func (c *MemoryClient) Fetch(_ context.Context, ref MessageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.messages[ref.MessageID]; !ok {
		return fmt.Errorf("fetch %s: %w", ref.MessageID, ErrUnknownMessage)
	}
	c.fetched[ref.MessageID]++
	return nil
}

func (c *MemoryClient) AddReaction(_ context.Context, ref MessageRef, emojiKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm, ok := c.messages[ref.MessageID]
	if !ok {
		return fmt.Errorf("react %s: %w", ref.MessageID, ErrUnknownMessage)
	}
	sm.Reactions = append(sm.Reactions, Reaction{EmojiKey: emojiKey, UserID: c.SelfID})
	return nil
}

// React records a user reaction, as a gateway would before dispatching it.
func (c *MemoryClient) React(messageID, emojiKey, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sm, ok := c.messages[messageID]; ok {
		sm.Reactions = append(sm.Reactions, Reaction{EmojiKey: emojiKey, UserID: userID})
	}
}

func (c *MemoryClient) RemoveReaction(_ context.Context, ref MessageRef, emojiKey, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm, ok := c.messages[ref.MessageID]
	if !ok {
		return fmt.Errorf("unreact %s: %w", ref.MessageID, ErrUnknownMessage)
	}
	sm.Reactions = slices.DeleteFunc(sm.Reactions, func(r Reaction) bool {
		return r.EmojiKey == emojiKey && r.UserID == userID
	})
	return nil
}

func (c *MemoryClient) ResolveEmoji(_ context.Context, guildID, nameOrID string) (Emoji, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.emoji[guildID][nameOrID]
	if !ok {
		return Emoji{}, fmt.Errorf("%w: %s", ErrUnknownEmoji, nameOrID)
	}
	return e, nil
}

func (c *MemoryClient) DisplayName(_ context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, ok := c.users[userID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return name, nil
}

// Message returns a copy of a sent message.
func (c *MemoryClient) Message(messageID string) (SentMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm, ok := c.messages[messageID]
	if !ok {
		return SentMessage{}, false
	}
	cp := *sm
	cp.Reactions = slices.Clone(sm.Reactions)
	return cp, true
}

// Sent returns every sent message in send order.
func (c *MemoryClient) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SentMessage, 0, len(c.order))
	for _, id := range c.order {
		sm := *c.messages[id]
		sm.Reactions = slices.Clone(sm.Reactions)
		out = append(out, sm)
	}
	return out
}

// Last returns the most recently sent message.
func (c *MemoryClient) Last() (SentMessage, bool) {
	sent := c.Sent()
	if len(sent) == 0 {
		return SentMessage{}, false
	}
	return sent[len(sent)-1], true
}

// FetchCount reports how many times a message was fetched.
func (c *MemoryClient) FetchCount(messageID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetched[messageID]
}
