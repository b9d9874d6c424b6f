package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLimits map[interfaces.AccountID]int64

func (s staticLimits) DailyLimit(account interfaces.AccountID) int64 {
	return s[account]
}

var testLimits = staticLimits{"ops": 1000, "jackpotReserve": 100000}

const today = "2025-03-01"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ledgers returns a fresh instance of every implementation.
func ledgers(t *testing.T) map[string]interfaces.UsageLedger {
	t.Helper()

	db, err := sqlitedb.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]interfaces.UsageLedger{
		"memory": NewMemoryLedger(testLimits),
		"sql":    NewSQLLedger(db, testLimits, discardLogger()),
		"redis":  NewRedisLedgerWithClient(client, testLimits, discardLogger()),
	}
}

func forEachLedger(t *testing.T, fn func(t *testing.T, l interfaces.UsageLedger)) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) { fn(t, l) })
	}
}

func TestLedger_SequentialScenario(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		first, err := l.TryReserve(ctx, "ops", 600, today)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, first.Token))

		_, err = l.TryReserve(ctx, "ops", 500, today)
		require.ErrorIs(t, err, interfaces.ErrDailyLimitExceeded)

		var limitErr *interfaces.DailyLimitExceededError
		require.True(t, errors.As(err, &limitErr))
		assert.Equal(t, int64(400), limitErr.Remaining)
		assert.Equal(t, int64(1000), limitErr.Limit)
		assert.Equal(t, int64(500), limitErr.Requested)

		usage, err := l.Usage(ctx, "ops", today)
		require.NoError(t, err)
		assert.Equal(t, int64(600), usage.Committed)
		assert.Equal(t, int64(0), usage.Reserved)
		assert.Equal(t, int64(400), usage.Remaining())
	})
}

func TestLedger_ReleaseRestoresHeadroom(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		res, err := l.TryReserve(ctx, "ops", 1000, today)
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, "ops", 1, today)
		require.ErrorIs(t, err, interfaces.ErrDailyLimitExceeded)

		require.NoError(t, l.Release(ctx, res.Token))

		usage, err := l.Usage(ctx, "ops", today)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), usage.Remaining())
		assert.Zero(t, usage.Committed)

		_, err = l.TryReserve(ctx, "ops", 1000, today)
		require.NoError(t, err)
	})
}

func TestLedger_TokenIsSingleUse(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		res, err := l.TryReserve(ctx, "ops", 100, today)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, res.Token))

		assert.ErrorIs(t, l.Commit(ctx, res.Token), interfaces.ErrInvalidToken)
		assert.ErrorIs(t, l.Release(ctx, res.Token), interfaces.ErrInvalidToken)
		assert.ErrorIs(t, l.Release(ctx, "no-such-token"), interfaces.ErrInvalidToken)

		usage, err := l.Usage(ctx, "ops", today)
		require.NoError(t, err)
		assert.Equal(t, int64(100), usage.Committed)
	})
}

func TestLedger_DaysAndAccountsAreIndependent(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		_, err := l.TryReserve(ctx, "ops", 1000, today)
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, "ops", 1000, "2025-03-02")
		require.NoError(t, err)

		_, err = l.TryReserve(ctx, "jackpotReserve", 1000, today)
		require.NoError(t, err)
	})
}

func TestLedger_UnknownAccountHasNoBudget(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		_, err := l.TryReserve(context.Background(), "nobody", 1, today)
		assert.ErrorIs(t, err, interfaces.ErrDailyLimitExceeded)
	})
}

func TestLedger_InvalidInput(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		_, err := l.TryReserve(ctx, "ops", 0, today)
		assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)

		_, err = l.TryReserve(ctx, "ops", -5, today)
		assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)

		_, err = l.TryReserve(ctx, "ops", 5, "yesterday")
		assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)

		_, err = l.TryReserve(ctx, "../ops", 5, today)
		assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)
	})
}

func TestLedger_AmountsAboveExactRange(t *testing.T) {
	huge := staticLimits{"ops": 1000, "whale": interfaces.MaxAmount + 1, "edge": interfaces.MaxAmount}

	db, err := sqlitedb.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	impls := map[string]interfaces.UsageLedger{
		"memory": NewMemoryLedger(huge),
		"sql":    NewSQLLedger(db, huge, discardLogger()),
		"redis":  NewRedisLedgerWithClient(client, huge, discardLogger()),
	}
	for name, l := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := l.TryReserve(ctx, "ops", interfaces.MaxAmount+1, today)
			assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)

			_, err = l.TryReserve(ctx, "whale", 1, today)
			assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)

			// The largest exact limit still admits an exact fill and nothing more.
			_, err = l.TryReserve(ctx, "edge", interfaces.MaxAmount-1, today)
			require.NoError(t, err)
			_, err = l.TryReserve(ctx, "edge", 1, today)
			require.NoError(t, err)
			_, err = l.TryReserve(ctx, "edge", 1, today)
			assert.ErrorIs(t, err, interfaces.ErrDailyLimitExceeded)
		})
	}
}

func TestLedger_ConcurrentReservationsNeverExceedLimit(t *testing.T) {
	const (
		limit = int64(1000)
		k     = 10
	)
	perCall := limit/k + 1

	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded []interfaces.Reservation
			failures  []error
		)
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := l.TryReserve(ctx, "ops", perCall, today)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, err)
					return
				}
				succeeded = append(succeeded, res)
			}()
		}
		wg.Wait()

		assert.Len(t, succeeded, int(limit/perCall))
		for _, err := range failures {
			assert.ErrorIs(t, err, interfaces.ErrDailyLimitExceeded)
		}

		for _, res := range succeeded {
			require.NoError(t, l.Commit(ctx, res.Token))
		}

		usage, err := l.Usage(ctx, "ops", today)
		require.NoError(t, err)
		assert.LessOrEqual(t, usage.Committed, limit)
		assert.Equal(t, int64(len(succeeded))*perCall, usage.Committed)
	})
}

func TestLedger_Prune(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l interfaces.UsageLedger) {
		ctx := context.Background()

		old, err := l.TryReserve(ctx, "ops", 10, "2025-01-01")
		require.NoError(t, err)
		_, err = l.TryReserve(ctx, "ops", 10, "2025-01-02")
		require.NoError(t, err)
		_, err = l.TryReserve(ctx, "ops", 10, today)
		require.NoError(t, err)

		pruned, err := l.Prune(ctx, "2025-02-01")
		require.NoError(t, err)
		assert.Equal(t, 2, pruned)

		usage, err := l.Usage(ctx, "ops", "2025-01-01")
		require.NoError(t, err)
		assert.Zero(t, usage.Reserved)

		usage, err = l.Usage(ctx, "ops", today)
		require.NoError(t, err)
		assert.Equal(t, int64(10), usage.Reserved)

		assert.ErrorIs(t, l.Commit(ctx, old.Token), interfaces.ErrInvalidToken)

		_, err = l.Prune(ctx, "not-a-date")
		assert.Error(t, err)
	})
}
