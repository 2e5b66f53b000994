package wager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spikebot/spike/internal/dispatch"
	"github.com/spikebot/spike/internal/wager"
)

func newRouter(t *testing.T) (*testEnv, *dispatch.Router) {
	t.Helper()
	env := newTestEnv(t)
	return env, dispatch.NewRouter(env.client, "$", wager.NewPlugin(env.engine, env.client))
}

func command(name, args, author string) dispatch.Command {
	return dispatch.Command{
		Name: name, Args: args, GuildID: "g1", ChannelID: "c1",
		AuthorID: author, AuthorName: "name-" + author,
	}
}

func TestPlugin_BetThroughRouter(t *testing.T) {
	env, router := newRouter(t)
	env.fund(t, "creator", 100)
	env.fund(t, "b1", 50)
	ctx := context.Background()

	require.NoError(t, router.DispatchCommand(ctx, command("bet", matchBody, "creator")))

	anchorMsg, ok := env.client.Last()
	require.True(t, ok)
	require.Equal(t, "Bet: Match", anchorMsg.Message.Title)

	rx := dispatch.Reaction{
		GuildID: "g1", ChannelID: "c1", MessageID: anchorMsg.Ref.MessageID,
		Titles: []string{anchorMsg.Message.Title}, EmojiKey: "🟢",
		UserID: "b1", UserName: "name-b1", Added: true,
	}
	require.NoError(t, router.DispatchReaction(ctx, rx))
	assert.Equal(t, int64(40), env.balance(t, "b1"))

	active, err := env.engine.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, router.DispatchCommand(ctx, command("activebets", "", "b1")))
	list, _ := env.client.Last()
	assert.Equal(t, "Active Bets", list.Message.Title)
	assert.Contains(t, list.Message.Description, active[0].ID)

	require.NoError(t, router.DispatchCommand(ctx, command("endbet", active[0].ID+" 🟢", "creator")))
	assert.Equal(t, int64(65), env.balance(t, "b1"))
	assert.Equal(t, int64(85), env.balance(t, "creator"))

	// The closed anchor no longer routes reactions.
	closed, _ := env.client.Message(anchorMsg.Ref.MessageID)
	rx.Titles = []string{closed.Message.Title}
	rx.Added = false
	require.NoError(t, router.DispatchReaction(ctx, rx))
	assert.Equal(t, int64(65), env.balance(t, "b1"))
}

func TestPlugin_UserErrorsBecomeNotices(t *testing.T) {
	env, router := newRouter(t)
	env.fund(t, "creator", 100)
	env.fund(t, "poor", 1)
	ctx := context.Background()

	require.NoError(t, router.DispatchCommand(ctx, command("endbet", "only-id", "creator")))
	notice, _ := env.client.Last()
	assert.Equal(t, "Invalid Syntax", notice.Message.Title)

	require.NoError(t, router.DispatchCommand(ctx, command("bet", "Title\nDescription", "creator")))
	notice, _ = env.client.Last()
	assert.Equal(t, "Invalid Bet Parts", notice.Message.Title)

	require.NoError(t, router.DispatchCommand(ctx, command("endbet", "123 🟢", "creator")))
	notice, _ = env.client.Last()
	assert.Equal(t, "Invalid ID", notice.Message.Title)

	require.NoError(t, router.DispatchCommand(ctx, command("bet", matchBody, "creator")))
	anchorMsg, _ := env.client.Last()

	err := router.DispatchReaction(ctx, dispatch.Reaction{
		GuildID: "g1", ChannelID: "c1", MessageID: anchorMsg.Ref.MessageID,
		Titles: []string{anchorMsg.Message.Title}, EmojiKey: "🟢",
		UserID: "poor", UserName: "name-poor", Added: true,
	})
	require.NoError(t, err)
	notice, _ = env.client.Last()
	assert.Equal(t, "Invalid Wager", notice.Message.Title)
	assert.Equal(t, "name-poor", notice.Message.Footer)
	assert.Equal(t, int64(1), env.balance(t, "poor"))

	active, err := env.engine.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NoError(t, router.DispatchCommand(ctx, command("endbet", active[0].ID+" 🟢", "poor")))
	notice, _ = env.client.Last()
	assert.Equal(t, "Invalid close error", notice.Message.Title)
}

func TestPlugin_IntegrityFaultIsReturned(t *testing.T) {
	env, router := newRouter(t)

	err := router.DispatchReaction(context.Background(), dispatch.Reaction{
		MessageID: "stray", Titles: []string{"Bet: something"}, EmojiKey: "🟢", UserID: "u", Added: true,
	})
	assert.ErrorIs(t, err, wager.ErrAmbiguousWagerReference)
	assert.Empty(t, env.client.Sent())
}

func TestPlugin_Help(t *testing.T) {
	p := wager.NewPlugin(nil, nil)
	assert.Contains(t, p.Help("$", "bet"), "$bet Title\nThis is what the bet is about")
	assert.Contains(t, p.Help("$", "endbet"), "Only the user that starts a bet can end it")
	assert.Contains(t, p.ShortHelp("$"), "$activebets")
	assert.Empty(t, p.Help("$", "nope"))
}

func TestPlugin_OnStartRecovers(t *testing.T) {
	env, router := newRouter(t)
	env.fund(t, "creator", 100)
	w := env.open(t, "creator", matchBody)

	router.Start(context.Background())
	assert.Equal(t, 1, env.client.FetchCount(w.MessageID))
}
