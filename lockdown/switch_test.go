package lockdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/journal"
	"github.com/ruteri/treasury-vault/sqlitedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwitch(t *testing.T, sentinel interfaces.LockdownSentinel) (*Switch, *journal.MemorySink, *clock.Mock) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC))

	sink := journal.NewMemorySink()
	j, err := journal.New(context.Background(), sink, log, journal.WithClock(mockClock))
	require.NoError(t, err)

	return NewSwitch(sentinel, j, mockClock, log, nil), sink, mockClock
}

func sentinels(t *testing.T) map[string]interfaces.LockdownSentinel {
	db, err := sqlitedb.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]interfaces.LockdownSentinel{
		"memory": NewMemorySentinel(),
		"file":   NewFileSentinel(t.TempDir()),
		"sqlite": NewSQLiteSentinel(db),
	}
}

func TestSwitch_ActivateAndClear(t *testing.T) {
	for name, sentinel := range sentinels(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sw, sink, mockClock := newTestSwitch(t, sentinel)

			locked, err := sw.IsLocked(ctx)
			require.NoError(t, err)
			assert.False(t, locked)

			require.NoError(t, sw.Activate(ctx, "suspected key compromise", "alice"))

			locked, err = sw.IsLocked(ctx)
			require.NoError(t, err)
			assert.True(t, locked)

			state, err := sw.State(ctx)
			require.NoError(t, err)
			assert.True(t, state.Locked)
			assert.Equal(t, "suspected key compromise", state.Reason)
			assert.Equal(t, "alice", state.Actor)
			require.NotNil(t, state.ActivatedAt)
			assert.True(t, mockClock.Now().Equal(*state.ActivatedAt))

			require.NoError(t, sw.Clear(ctx, "bob"))
			locked, err = sw.IsLocked(ctx)
			require.NoError(t, err)
			assert.False(t, locked)

			events, err := sink.Events(ctx, interfaces.AuditFilter{})
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, interfaces.ActionLockdown, events[0].Action)
			assert.Equal(t, ScopeAll, events[0].AccountID)
			assert.Equal(t, "alice", events[0].Actor)
			assert.Equal(t, interfaces.ActionLockdownCleared, events[1].Action)
			assert.Equal(t, "suspected key compromise", events[1].Reason)
		})
	}
}

func TestSwitch_ReasonRequired(t *testing.T) {
	sw, sink, _ := newTestSwitch(t, NewMemorySentinel())

	err := sw.Activate(context.Background(), "   ", "alice")
	assert.ErrorIs(t, err, ErrReasonRequired)

	events, _ := sink.Events(context.Background(), interfaces.AuditFilter{})
	assert.Empty(t, events)
}

func TestSwitch_UnreadableSentinelFailsClosed(t *testing.T) {
	sentinel := NewMemorySentinel()
	sw, _, _ := newTestSwitch(t, sentinel)

	sentinel.SetLoadError(errors.New("disk gone"))
	locked, err := sw.IsLocked(context.Background())
	assert.True(t, locked)
	assert.ErrorIs(t, err, interfaces.ErrVaultLocked)
}

func TestFileSentinel_ExistingFileMeansLocked(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SentinelFileName), []byte("not json"), 0o600))

	state, err := NewFileSentinel(dir).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Locked)
}

func TestFileSentinel_SeenByOtherInstances(t *testing.T) {
	dir := t.TempDir()
	sw, _, _ := newTestSwitch(t, NewFileSentinel(dir))
	other, _, _ := newTestSwitch(t, NewFileSentinel(dir))

	require.NoError(t, sw.Activate(context.Background(), "drill", "ops"))

	locked, err := other.IsLocked(context.Background())
	require.NoError(t, err)
	assert.True(t, locked)

	info, err := os.Stat(filepath.Join(dir, SentinelFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
