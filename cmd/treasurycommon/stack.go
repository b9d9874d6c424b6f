// Package treasurycommon opens the vault stack shared by treasury-server and treasuryctl.
package treasurycommon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/treasury-vault/approval"
	"github.com/ruteri/treasury-vault/config"
	"github.com/ruteri/treasury-vault/cryptoutils"
	"github.com/ruteri/treasury-vault/httpserver"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/journal"
	"github.com/ruteri/treasury-vault/kms"
	"github.com/ruteri/treasury-vault/ledger"
	"github.com/ruteri/treasury-vault/lockdown"
	"github.com/ruteri/treasury-vault/metrics"
	"github.com/ruteri/treasury-vault/policy"
	"github.com/ruteri/treasury-vault/sqlitedb"
	"github.com/ruteri/treasury-vault/storage"
	"github.com/ruteri/treasury-vault/vault"
)

// Stack is every component below the transfer authority.
type Stack struct {
	Config   *config.Config
	Clock    clock.Clock
	DB       *sqlitedb.DB
	Box      *cryptoutils.Box
	Backend  interfaces.RecordBackend
	Journal  *journal.Journal
	Lock     *lockdown.Switch
	Policies *policy.Registry
	Ledger   interfaces.UsageLedger
	Approver *approval.Approver
	Store    *vault.Store

	closers []func()
}

// Open builds the stack from cfg. The master secret is taken from keys and wiped from memory
// once the crypto box holds its own copy.
func Open(ctx context.Context, cfg *config.Config, keys kms.MasterKeySource, log *slog.Logger, m *metrics.Metrics) (_ *Stack, err error) {
	s := &Stack{Config: cfg, Clock: clock.New()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if cfg.Database != "" {
		db, err := sqlitedb.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.DB = db
		s.onClose(func() { db.Close() })
	}

	masterKey, err := keys.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("master key unavailable: %w", err)
	}
	var boxOpts []cryptoutils.BoxOption
	if cfg.SealAlgorithm != "" {
		boxOpts = append(boxOpts, cryptoutils.WithAlgorithm(cfg.SealAlgorithm))
	}
	box, err := cryptoutils.NewBox(masterKey, boxOpts...)
	cryptoutils.WipeBytes(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create crypto box: %w", err)
	}
	s.Box = box
	s.onClose(box.Close)

	if cfg.PolicyFile != "" {
		s.Policies, err = policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
	} else {
		s.Policies = policy.NewDefaultRegistry()
	}
	log.Info("Account policies loaded", slog.Int("accounts", len(s.Policies.Accounts())))

	s.Backend, err = storage.NewStorageBackendFactory(log, s.DB).StorageBackendFor(cfg.VaultURI)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault backend: %w", err)
	}
	if !s.Backend.Available(ctx) {
		log.Warn("Vault backend is not reachable", slog.String("location", s.Backend.LocationURI()))
	}

	sink, err := s.auditSink()
	if err != nil {
		return nil, err
	}
	s.Journal, err = journal.New(ctx, sink, log,
		journal.WithClock(s.Clock),
		journal.WithMetrics(m),
		journal.WithActor(config.Hostname()))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	sentinel, err := s.sentinel()
	if err != nil {
		return nil, err
	}
	s.Lock = lockdown.NewSwitch(sentinel, s.Journal, s.Clock, log, m)

	s.Ledger, err = s.usageLedger(ctx, log)
	if err != nil {
		return nil, err
	}

	s.Approver, err = approval.NewApprover([]byte(cfg.ApprovalSecret))
	if err != nil {
		return nil, err
	}

	s.Store = vault.NewStore(vault.Config{
		Backend: s.Backend,
		Sealer:  box,
		Lock:    s.Lock,
		Journal: s.Journal,
		Levels:  s.Policies,
		Clock:   s.Clock,
		Log:     log,
		Metrics: m,
	})
	return s, nil
}

func (s *Stack) auditSink() (interfaces.AuditSink, error) {
	scheme, path, err := config.SplitURI(s.Config.Journal)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "file":
		return journal.NewFileSink(path)
	case "sqlite":
		return journal.NewSQLiteSink(s.DB), nil
	case "memory":
		return journal.NewMemorySink(), nil
	}
	return nil, fmt.Errorf("unsupported journal location %q", s.Config.Journal)
}

func (s *Stack) sentinel() (interfaces.LockdownSentinel, error) {
	scheme, dir, err := config.SplitURI(s.Config.Lockdown)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "file":
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create lockdown directory: %w", err)
		}
		return lockdown.NewFileSentinel(dir), nil
	case "sqlite":
		return lockdown.NewSQLiteSentinel(s.DB), nil
	case "memory":
		return lockdown.NewMemorySentinel(), nil
	}
	return nil, fmt.Errorf("unsupported lockdown location %q", s.Config.Lockdown)
}

func (s *Stack) usageLedger(ctx context.Context, log *slog.Logger) (interfaces.UsageLedger, error) {
	scheme, redisURL, err := config.SplitURI(s.Config.Ledger)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "memory":
		return ledger.NewMemoryLedger(s.Policies), nil
	case "sqlite":
		return ledger.NewSQLLedger(s.DB, s.Policies, log), nil
	case "redis":
		l, err := ledger.NewRedisLedger(ctx, redisURL, s.Policies, log)
		if err != nil {
			return nil, err
		}
		s.onClose(func() { l.Close() })
		return l, nil
	}
	return nil, fmt.Errorf("unsupported ledger location %q", s.Config.Ledger)
}

func (s *Stack) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// Close releases everything Open acquired, in reverse order.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// SimpleKMS builds the in-memory KMS from the configured hex master key.
func SimpleKMS(cfg *config.Config) (*kms.SimpleKMS, error) {
	if cfg.KMSType != config.KMSSimple {
		return nil, errors.New("this command needs kms-type simple; shamir keys are only unsealed by treasury-server")
	}
	return kms.NewSimpleKMSFromHex(cfg.MasterKey)
}

// LoadAdmins reads the admin key file and returns the keys by admin id together with the
// recovery KMS configured for them.
func LoadAdmins(cfg *config.Config) (map[string][]byte, *kms.ShamirKMS, error) {
	f, err := os.Open(cfg.AdminKeysFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open admin keys file: %w", err)
	}
	defer f.Close()

	adminKeys, err := httpserver.LoadAdminKeys(f)
	if err != nil {
		return nil, nil, err
	}

	pubKeys := make([][]byte, 0, len(adminKeys))
	for _, key := range adminKeys {
		pubKeys = append(pubKeys, key)
	}
	shamirKMS, err := kms.NewShamirKMSRecovery(kms.ShamirConfig{
		Threshold:    cfg.ShamirThreshold,
		AdminPubKeys: pubKeys,
	})
	if err != nil {
		return nil, nil, err
	}
	return adminKeys, shamirKMS, nil
}
