package wager

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/spikebot/spike/internal/model"
	"github.com/spikebot/spike/internal/platform"
)

// EmojiResolver looks up custom emoji in a guild's registry.
type EmojiResolver interface {
	ResolveEmoji(ctx context.Context, guildID, nameOrID string) (platform.Emoji, error)
}

// customEmoji matches a custom emoji reference: <:name:id> or <a:name:id>.
var customEmoji = regexp.MustCompile(`^<a?:(\w+):(\d+)>$`)

// shortcode matches :name:, which clients leave unconverted for some
// custom emoji.
var shortcode = regexp.MustCompile(`^:(\w+):$`)

// OptionLineError names the option line that failed to parse. It unwraps
// to ErrMalformedOptionLine, ErrUnknownEmoji or ErrInvalidAmount.
type OptionLineError struct {
	Line string
	Err  error
}

func (e *OptionLineError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Line)
}

func (e *OptionLineError) Unwrap() error { return e.Err }

// Body is a parsed bet command body.
type Body struct {
	Title       string
	Description string
	Options     map[string]*model.Option
	Order       []string
}

// ResolveGlyph turns a typed glyph into the reaction key and display form.
// Custom references are resolved against the guild registry; anything else
// printable is used as-is.
func ResolveGlyph(ctx context.Context, res EmojiResolver, guildID, glyph string) (platform.Emoji, error) {
	if m := customEmoji.FindStringSubmatch(glyph); m != nil {
		e, err := res.ResolveEmoji(ctx, guildID, m[2])
		if err != nil {
			return platform.Emoji{}, fmt.Errorf("%w: %s", ErrUnknownEmoji, glyph)
		}
		return e, nil
	}
	if m := shortcode.FindStringSubmatch(glyph); m != nil {
		e, err := res.ResolveEmoji(ctx, guildID, m[1])
		if err != nil {
			return platform.Emoji{}, fmt.Errorf("%w: %s", ErrUnknownEmoji, glyph)
		}
		return e, nil
	}
	if glyph == "" || strings.ContainsFunc(glyph, func(r rune) bool { return !unicode.IsGraphic(r) || unicode.IsSpace(r) }) {
		return platform.Emoji{}, fmt.Errorf("%w: %q", ErrUnknownEmoji, glyph)
	}
	return platform.Emoji{Key: glyph, Display: glyph}, nil
}

// ParseOption parses one `<glyph> <stake> <payout> <description>` line.
func ParseOption(ctx context.Context, res EmojiResolver, guildID, line string) (string, *model.Option, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return "", nil, &OptionLineError{Line: line, Err: ErrMalformedOptionLine}
	}

	emoji, err := ResolveGlyph(ctx, res, guildID, fields[0])
	if err != nil {
		return "", nil, &OptionLineError{Line: line, Err: err}
	}
	bet, err := parseAmount(fields[1])
	if err != nil {
		return "", nil, &OptionLineError{Line: line, Err: err}
	}
	win, err := parseAmount(fields[2])
	if err != nil {
		return "", nil, &OptionLineError{Line: line, Err: err}
	}

	return emoji.Key, &model.Option{
		Glyph:       emoji.Display,
		Description: strings.Join(fields[3:], " "),
		Bet:         bet,
		Win:         win,
		Bettors:     []string{},
	}, nil
}

// MaxAmount is the largest stake or payout an option may advertise.
const MaxAmount int64 = 1_000_000_000_000

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d must be positive", ErrInvalidAmount, n)
	}
	if n > MaxAmount {
		return 0, fmt.Errorf("%w: %d is over %d", ErrInvalidAmount, n, MaxAmount)
	}
	return n, nil
}

// ParseBody parses a bet body: a title line, a description line, then one
// option per line. Parsing stops at the first bad option line.
func ParseBody(ctx context.Context, res EmojiResolver, guildID, body string) (*Body, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedCommand)
	}

	b := &Body{
		Title:   strings.TrimSpace(lines[0]),
		Options: make(map[string]*model.Option),
	}
	if len(lines) > 1 {
		b.Description = strings.TrimSpace(lines[1])
	}
	for _, line := range lines[min(2, len(lines)):] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, opt, err := ParseOption(ctx, res, guildID, line)
		if err != nil {
			return nil, err
		}
		if _, dup := b.Options[key]; dup {
			return nil, &OptionLineError{Line: line, Err: fmt.Errorf("%w: duplicate emoji", ErrMalformedOptionLine)}
		}
		b.Options[key] = opt
		b.Order = append(b.Order, key)
	}
	if len(b.Options) == 0 {
		return nil, ErrEmptyOptions
	}
	return b, nil
}

// lineOf returns the offending line for option parse failures.
func lineOf(err error) (string, bool) {
	var le *OptionLineError
	if errors.As(err, &le) {
		return le.Line, true
	}
	return "", false
}
