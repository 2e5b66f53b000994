package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spikebot/spike/internal/platform"
)

type fakePlugin struct {
	name     string
	commands []string
	got      []Command
	err      error
}

func (p *fakePlugin) Name() string       { return p.name }
func (p *fakePlugin) Slug() string       { return "slug-" + p.name }
func (p *fakePlugin) Author() string     { return "tester" }
func (p *fakePlugin) Commands() []string { return p.commands }
func (p *fakePlugin) HandleCommand(_ context.Context, cmd Command) error {
	p.got = append(p.got, cmd)
	return p.err
}
func (p *fakePlugin) Help(prefix, command string) string { return prefix + command + " help from " + p.name }
func (p *fakePlugin) ShortHelp(prefix string) string     { return p.name + " short help" }

type reactingPlugin struct {
	fakePlugin
	reactions []Reaction
	started   int
}

func (p *reactingPlugin) HandleReaction(_ context.Context, r Reaction) error {
	p.reactions = append(p.reactions, r)
	return p.err
}

func (p *reactingPlugin) OnStart(context.Context) error {
	p.started++
	return errors.New("start failure is logged only")
}

func TestParse(t *testing.T) {
	r := NewRouter(platform.NewMemoryClient(), "$")

	tests := []struct {
		content string
		name    string
		args    string
		ok      bool
	}{
		{"$bet Title\nDesc\n🟢 1 2 x", "bet", "Title\nDesc\n🟢 1 2 x", true},
		{"$BET", "bet", "", true},
		{"$bet\nTitle", "bet", "Title", true},
		{"$endbet  123 🟢", "endbet", " 123 🟢", true},
		{"$", "", "", false},
		{"hello", "", "", false},
		{"!bet x", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := r.Parse(tt.content)
		assert.Equal(t, tt.ok, ok, tt.content)
		assert.Equal(t, tt.name, name, tt.content)
		assert.Equal(t, tt.args, args, tt.content)
	}
}

func TestDispatchCommand_FirstMatchWins(t *testing.T) {
	first := &fakePlugin{name: "First", commands: []string{"shared", "one"}}
	second := &fakePlugin{name: "Second", commands: []string{"shared", "two"}}
	r := NewRouter(platform.NewMemoryClient(), "$", first, second)
	ctx := context.Background()

	require.NoError(t, r.DispatchCommand(ctx, Command{Name: "shared"}))
	require.NoError(t, r.DispatchCommand(ctx, Command{Name: "two"}))

	assert.Len(t, first.got, 1)
	require.Len(t, second.got, 1)
	assert.Equal(t, "two", second.got[0].Name)
	assert.Equal(t, "$", second.got[0].Prefix)
}

func TestDispatchCommand_PluginErrorReturned(t *testing.T) {
	p := &fakePlugin{name: "Broken", commands: []string{"x"}, err: errors.New("boom")}
	r := NewRouter(platform.NewMemoryClient(), "$", p)

	err := r.DispatchCommand(context.Background(), Command{Name: "x"})
	assert.ErrorContains(t, err, "Broken: boom")
}

func TestDispatchCommand_UnknownSendsNotice(t *testing.T) {
	client := platform.NewMemoryClient()
	r := NewRouter(client, "$", &fakePlugin{name: "A", commands: []string{"a"}})

	err := r.DispatchCommand(context.Background(), Command{Name: "nope", ChannelID: "c1", AuthorName: "bob"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	last, ok := client.Last()
	require.True(t, ok)
	assert.Equal(t, "Command not found", last.Message.Title)
	assert.Contains(t, last.Message.Description, `"$help"`)
	assert.Equal(t, "bob", last.Message.Footer)
}

func TestDispatchReaction_TitlePrefix(t *testing.T) {
	bet := &reactingPlugin{fakePlugin: fakePlugin{name: "Bet"}}
	other := &reactingPlugin{fakePlugin: fakePlugin{name: "Bet Results"}}
	plain := &fakePlugin{name: "Poll"}
	r := NewRouter(platform.NewMemoryClient(), "$", plain, bet, other)
	ctx := context.Background()

	require.NoError(t, r.DispatchReaction(ctx, Reaction{Titles: []string{"bet: Match"}, EmojiKey: "🟢", Added: true}))
	require.NoError(t, r.DispatchReaction(ctx, Reaction{Titles: []string{"Bet Results: Match"}}))
	require.NoError(t, r.DispatchReaction(ctx, Reaction{Titles: []string{"[CLOSED] Bet: Match"}}))
	require.NoError(t, r.DispatchReaction(ctx, Reaction{Titles: []string{"Poll: x"}}))
	require.NoError(t, r.DispatchReaction(ctx, Reaction{}))

	require.Len(t, bet.reactions, 1)
	assert.Equal(t, "🟢", bet.reactions[0].EmojiKey)
	assert.Len(t, other.reactions, 1)
}

func TestDispatchReaction_HandlerError(t *testing.T) {
	bet := &reactingPlugin{fakePlugin: fakePlugin{name: "Bet", err: errors.New("bad")}}
	r := NewRouter(platform.NewMemoryClient(), "$", bet)

	err := r.DispatchReaction(context.Background(), Reaction{Titles: []string{"Bet: x"}})
	assert.ErrorContains(t, err, "Bet: bad")
}

func TestStart_RunsEveryStarter(t *testing.T) {
	a := &reactingPlugin{fakePlugin: fakePlugin{name: "A"}}
	b := &reactingPlugin{fakePlugin: fakePlugin{name: "B"}}
	r := NewRouter(platform.NewMemoryClient(), "$", a, &fakePlugin{name: "C"}, b)

	r.Start(context.Background())
	assert.Equal(t, 1, a.started)
	assert.Equal(t, 1, b.started)
}

func TestHelp(t *testing.T) {
	client := platform.NewMemoryClient()
	r := NewRouter(client, "!", &fakePlugin{name: "Bet", commands: []string{"bet"}})
	ctx := context.Background()

	require.NoError(t, r.DispatchCommand(ctx, Command{Name: "help", ChannelID: "c"}))
	last, _ := client.Last()
	assert.Equal(t, "Help", last.Message.Title)
	assert.Contains(t, last.Message.Description, "`!help plugin slug-Bet`")

	require.NoError(t, r.DispatchCommand(ctx, Command{Name: "man", Args: "bet", ChannelID: "c"}))
	last, _ = client.Last()
	assert.Equal(t, "!bet help from Bet", last.Message.Description)

	require.NoError(t, r.DispatchCommand(ctx, Command{Name: "help", Args: "plugin slug-Bet", ChannelID: "c"}))
	last, _ = client.Last()
	assert.Contains(t, last.Message.Description, "Bet short help")

	before := len(client.Sent())
	require.NoError(t, r.DispatchCommand(ctx, Command{Name: "help", Args: "unknown", ChannelID: "c"}))
	assert.Len(t, client.Sent(), before)
}
