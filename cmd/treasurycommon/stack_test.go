package treasurycommon

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/treasury-vault/broadcaster"
	"github.com/ruteri/treasury-vault/config"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MasterKey:      testMasterKey,
		KMSType:        config.KMSSimple,
		VaultURI:       "memory://",
		Journal:        "memory://",
		Lockdown:       "file://" + filepath.Join(t.TempDir(), "lockdown"),
		Ledger:         "memory://",
		ApprovalSecret: "approval-secret",
		Location:       time.UTC,
		RetentionDays:  30,
		Broadcaster:    config.BroadcasterMock,
	}
}

func openStack(t *testing.T, cfg *config.Config) *Stack {
	t.Helper()
	keys, err := SimpleKMS(cfg)
	require.NoError(t, err)
	t.Cleanup(keys.Close)

	s, err := Open(context.Background(), cfg, keys, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestOpen_TransferEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := openStack(t, memoryConfig(t))

	level, err := s.Store.Put(ctx, "operationsReserve", []byte("operations-key"), interfaces.CredentialMetadata{Label: "OPS"})
	require.NoError(t, err)
	require.Equal(t, interfaces.LevelHigh, level)

	mock := broadcaster.NewMock()
	authority, err := NewAuthority(s, mock, testLogger(), nil)
	require.NoError(t, err)

	receipt, err := authority.Execute(ctx, interfaces.TransferRequest{
		Source:      "operationsReserve",
		Destination: "0x00000000000000000000000000000000000000bb",
		Amount:      1000,
		Operation:   interfaces.OpTransfer,
		Reason:      "vendor invoice",
		Actor:       "ops",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), receipt.Amount)
	require.NotEmpty(t, receipt.RequestID)
	require.Len(t, mock.Submissions(), 1)

	usage, err := authority.UsageSummary(ctx)
	require.NoError(t, err)
	for _, u := range usage {
		if u.AccountID == "operationsReserve" {
			require.Equal(t, int64(1000), u.Committed)
		}
	}

	events, err := s.Journal.Events(ctx, interfaces.AuditFilter{RequestID: receipt.RequestID})
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestOpen_LockdownPersistsInDirectory(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)

	s := openStack(t, cfg)
	require.NoError(t, s.Lock.Activate(ctx, "suspicious activity", "ops"))
	s.Close()

	reopened := openStack(t, cfg)
	state, err := reopened.Lock.State(ctx)
	require.NoError(t, err)
	require.True(t, state.Locked)

	_, err = reopened.Store.Get(ctx, "operationsReserve", "payout")
	require.ErrorIs(t, err, interfaces.ErrVaultLocked)
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Database = filepath.Join(t.TempDir(), "treasury.db")
	cfg.VaultURI = "sqlite://"
	cfg.Journal = "sqlite://"
	cfg.Lockdown = "sqlite://"
	cfg.Ledger = "sqlite://"

	s := openStack(t, cfg)
	_, err := s.Store.Put(ctx, "marketing", []byte("marketing-key"), interfaces.CredentialMetadata{})
	require.NoError(t, err)
	s.Close()

	reopened := openStack(t, cfg)
	cred, err := reopened.Store.Get(ctx, "marketing", "check")
	require.NoError(t, err)
	defer cred.Wipe()
	require.Equal(t, []byte("marketing-key"), cred.Secret)

	events, err := reopened.Journal.Events(ctx, interfaces.AuditFilter{AccountID: "marketing"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *config.Config)
	}{
		{name: "bad vault uri", modify: func(c *config.Config) { c.VaultURI = "ftp://nowhere" }},
		{name: "bad journal uri", modify: func(c *config.Config) { c.Journal = "ftp://nowhere" }},
		{name: "missing policy file", modify: func(c *config.Config) { c.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml") }},
		{name: "bad seal algorithm", modify: func(c *config.Config) { c.SealAlgorithm = "rot13" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.modify(cfg)
			keys, err := SimpleKMS(cfg)
			require.NoError(t, err)
			defer keys.Close()

			_, err = Open(context.Background(), cfg, keys, testLogger(), nil)
			require.Error(t, err)
		})
	}
}

func TestPruneUsage(t *testing.T) {
	ctx := context.Background()
	s := openStack(t, memoryConfig(t))

	old := interfaces.DateKey(s.Clock.Now().AddDate(0, 0, -60), time.UTC)
	res, err := s.Ledger.TryReserve(ctx, "marketing", 10, old)
	require.NoError(t, err)
	require.NoError(t, s.Ledger.Commit(ctx, res.Token))

	pruned, err := PruneUsage(ctx, s, testLogger(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	usage, err := s.Ledger.Usage(ctx, "marketing", old)
	require.NoError(t, err)
	require.Zero(t, usage.Committed)
}

func TestSimpleKMS_RefusesShamir(t *testing.T) {
	_, err := SimpleKMS(&config.Config{KMSType: config.KMSShamir})
	require.Error(t, err)

	_, err = SimpleKMS(&config.Config{KMSType: config.KMSSimple, MasterKey: "not-hex"})
	require.Error(t, err)
}
