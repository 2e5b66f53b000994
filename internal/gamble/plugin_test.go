package gamble_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spikebot/spike/internal/dispatch"
	"github.com/spikebot/spike/internal/gamble"
	"github.com/spikebot/spike/internal/platform"
	"github.com/spikebot/spike/internal/store"
)

func newTestEnv(t *testing.T) (*store.MemoryLedger, *platform.MemoryClient, *dispatch.Router) {
	t.Helper()
	ledger := store.NewMemoryLedger()
	client := platform.NewMemoryClient()
	return ledger, client, dispatch.NewRouter(client, "$", gamble.NewPlugin(ledger, client))
}

func TestWallet_OwnAndMentioned(t *testing.T) {
	ledger, client, router := newTestEnv(t)
	ctx := context.Background()
	client.AddUser("111", "alice")
	_, err := ledger.Adjust(ctx, "111", 42, "alice", true)
	require.NoError(t, err)

	require.NoError(t, router.DispatchCommand(ctx, dispatch.Command{Name: "wallet", ChannelID: "c", AuthorID: "111"}))
	last, _ := client.Last()
	assert.Equal(t, "alice", last.Message.Title)
	assert.Equal(t, "42", last.Message.Description)

	require.NoError(t, router.DispatchCommand(ctx, dispatch.Command{Name: "wallet", Args: "<@!111>", ChannelID: "c", AuthorID: "222"}))
	last, _ = client.Last()
	assert.Equal(t, "42", last.Message.Description)
}

func TestWallet_UnknownUser(t *testing.T) {
	_, client, router := newTestEnv(t)

	require.NoError(t, router.DispatchCommand(context.Background(), dispatch.Command{Name: "wallet", Args: "<@999>", ChannelID: "c"}))
	last, _ := client.Last()
	assert.Equal(t, "Invalid User", last.Message.Title)
	assert.Equal(t, platform.ColorRed, last.Message.Color)
}

func TestLeaderboard_TopTen(t *testing.T) {
	ledger, client, router := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := ledger.Adjust(ctx, fmt.Sprintf("u%02d", i), int64(i*10), fmt.Sprintf("user%d", i), true)
		require.NoError(t, err)
	}

	lines, err := gamble.Top(ctx, ledger, gamble.LeaderboardSize)
	require.NoError(t, err)
	require.Len(t, lines, 10)
	assert.Equal(t, "1 | user11 - 110", lines[0])
	assert.Equal(t, "10 | user2 - 20", lines[9])

	require.NoError(t, router.DispatchCommand(ctx, dispatch.Command{Name: "leaderboard", ChannelID: "c"}))
	last, _ := client.Last()
	assert.Equal(t, "Leaderboard", last.Message.Title)
	assert.Contains(t, last.Message.Body(), "1 | user11 - 110")
}

func TestDetag(t *testing.T) {
	assert.Equal(t, "123", gamble.Detag("<@123>"))
	assert.Equal(t, "123", gamble.Detag("<@!123>"))
	assert.Equal(t, "plain", gamble.Detag(" plain "))
}
