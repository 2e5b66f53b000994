package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spikebot/spike/internal/model"
)

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	fl, err := OpenFileLedger(filepath.Join(t.TempDir(), "records.json"), 5)
	require.NoError(t, err)
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"file":   fl,
	}
}

func TestLedger_AdjustCreatesLazily(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := l.Balance(ctx, "u1")
			assert.ErrorIs(t, err, ErrNotFound)

			bal, err := l.Adjust(ctx, "u1", 40, "alice", true)
			require.NoError(t, err)
			assert.Equal(t, int64(40), bal)

			bal, err = l.Adjust(ctx, "u1", 2, "ignored", true)
			require.NoError(t, err)
			assert.Equal(t, int64(42), bal)

			got, err := l.Balance(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(42), got)

			accts, err := l.Accounts(ctx)
			require.NoError(t, err)
			require.Len(t, accts, 1)
			assert.Equal(t, "alice", accts[0].Name)
		})
	}
}

func TestLedger_EnforcedDebitRejectedWithoutMutation(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Adjust(ctx, "u1", 10, "alice", true)
			require.NoError(t, err)

			_, err = l.Adjust(ctx, "u1", -11, "", true)
			assert.ErrorIs(t, err, ErrInsufficientFunds)

			bal, _ := l.Balance(ctx, "u1")
			assert.Equal(t, int64(10), bal, "failed debit must not change the balance")

			bal, err = l.Adjust(ctx, "u1", -10, "", true)
			require.NoError(t, err)
			assert.Equal(t, int64(0), bal)
		})
	}
}

func TestLedger_NewAccountNegativeDeltaEnforced(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := l.Adjust(context.Background(), "ghost", -1, "ghost", true)
			assert.ErrorIs(t, err, ErrInsufficientFunds)
			_, err = l.Balance(context.Background(), "ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLedger_CreditOverflowRejected(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Adjust(ctx, "u1", 10, "alice", true)
			require.NoError(t, err)

			_, err = l.Adjust(ctx, "u1", math.MaxInt64, "", false)
			assert.ErrorIs(t, err, ErrBalanceOverflow)

			bal, _ := l.Balance(ctx, "u1")
			assert.Equal(t, int64(10), bal)
		})
	}
}

func TestLedger_AdjustFuncSeesCurrentBalance(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Adjust(ctx, "u1", 30, "alice", true)
			require.NoError(t, err)

			drain := func(bal int64) (int64, error) { return -bal, nil }
			bal, err := l.AdjustFunc(ctx, "u1", "", drain)
			require.NoError(t, err)
			assert.Equal(t, int64(0), bal)

			boom := errors.New("boom")
			_, err = l.AdjustFunc(ctx, "u2", "bob", func(int64) (int64, error) { return 0, boom })
			assert.ErrorIs(t, err, boom)
			_, err = l.Balance(ctx, "u2")
			assert.ErrorIs(t, err, ErrNotFound, "aborted AdjustFunc must not create the account")

			_, err = l.AdjustFunc(ctx, "u1", "", func(int64) (int64, error) { return -1, nil })
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		})
	}
}

func TestLedger_AdjustFuncSerializesWithAdjust(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Adjust(ctx, "u1", 100, "alice", true)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					l.Adjust(ctx, "u1", 1, "", false)
				}()
			}
			bal, err := l.AdjustFunc(ctx, "u1", "", func(bal int64) (int64, error) { return -bal, nil })
			require.NoError(t, err)
			assert.Equal(t, int64(0), bal)
			wg.Wait()

			// Each credit landed either before the drain or after it.
			got, _ := l.Balance(ctx, "u1")
			assert.GreaterOrEqual(t, got, int64(0))
			assert.LessOrEqual(t, got, int64(20))
		})
	}
}

func TestCachedLedger_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	l := NewCachedLedger(NewMemoryLedger(), db, time.Minute)
	key := balanceKey("u1")

	mock.ExpectDel(key).SetVal(0)
	bal, err := l.Adjust(ctx, "u1", 7, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)

	// Miss fills the cache from the primary.
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, int64(7), time.Minute).SetVal("OK")
	bal, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)

	mock.ExpectGet(key).SetVal("7")
	bal, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)

	mock.ExpectDel(key).SetVal(1)
	bal, err = l.AdjustFunc(ctx, "u1", "", func(b int64) (int64, error) { return -b, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	// A rejected write leaves the cache alone.
	_, err = l.Adjust(ctx, "u1", -1, "", true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, l.Flush(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileLedger_BatchedFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	ctx := context.Background()

	l, err := OpenFileLedger(path, 3)
	require.NoError(t, err)

	_, err = l.Adjust(ctx, "u1", 5, "alice", true)
	require.NoError(t, err)
	_, err = l.Adjust(ctx, "u2", 7, "bob", true)
	require.NoError(t, err)

	// Two writes are below the batch size: reads see them, the disk does not.
	reopened, err := OpenFileLedger(path, 3)
	require.NoError(t, err)
	_, err = reopened.Balance(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)

	_, err = l.Adjust(ctx, "u1", 1, "", true)
	require.NoError(t, err)

	reopened, err = OpenFileLedger(path, 3)
	require.NoError(t, err)
	bal, err = reopened.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)

	_, err = l.Adjust(ctx, "u2", 1, "", true)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err = OpenFileLedger(path, 3)
	require.NoError(t, err)
	bal, err = reopened.Balance(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(8), bal)
}

func TestFileLedger_ReadsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"123":{"name":"spike","wallet":99}}`), 0o644))

	l, err := OpenFileLedger(path, 5)
	require.NoError(t, err)
	bal, err := l.Balance(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, int64(99), bal)
}

func sampleWager(id string) *model.Wager {
	return &model.Wager{
		ID:        id,
		ChannelID: "c1",
		Title:     "Rain tomorrow",
		CreatedBy: "creator",
		Status:    model.StatusOpen,
		Options: map[string]*model.Option{
			"🟢": {Glyph: "🟢", Description: "yes", Bet: 10, Win: 25},
		},
		Order: []string{"🟢"},
	}
}

func TestWagers_PutGetRemove(t *testing.T) {
	fw, err := OpenFileWagers(filepath.Join(t.TempDir(), "bets.json"))
	require.NoError(t, err)

	for name, s := range map[string]Wagers{"memory": NewMemoryWagers(), "file": fw} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := sampleWager("1000")
			require.NoError(t, s.Put(ctx, w))

			// Mutating the caller's copy must not leak into the store.
			w.Options["🟢"].Bettors = append(w.Options["🟢"].Bettors, "leak")

			got, err := s.Get(ctx, "1000")
			require.NoError(t, err)
			assert.Equal(t, "Rain tomorrow", got.Title)
			assert.Empty(t, got.Options["🟢"].Bettors)

			all, err := s.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			require.NoError(t, s.Remove(ctx, "1000"))
			_, err = s.Get(ctx, "1000")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Remove(ctx, "1000"), ErrNotFound)
		})
	}
}

func TestFileWagers_DocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bets.json")
	doc := `{"1650000000000":{"channelID":"c","messageID":"m","title":"t","description":"d","createdBy":"u",
		"wagers":{"🔴":{"description":"no","bet":10,"win":5,"bettors":["b1"]}}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := OpenFileWagers(path)
	require.NoError(t, err)
	w, err := s.Get(context.Background(), "1650000000000")
	require.NoError(t, err)
	assert.Equal(t, "1650000000000", w.ID)
	assert.Equal(t, model.StatusOpen, w.Status)
	assert.Equal(t, []string{"b1"}, w.Options["🔴"].Bettors)
	assert.Equal(t, int64(10), w.Pot())
}
