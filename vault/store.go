package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/treasury-vault/cryptoutils"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/metrics"
)

// RecordVersion is written into every record.
const RecordVersion = "2"

// Sealer encrypts payloads bound to an account. cryptoutils.Box satisfies it.
type Sealer interface {
	Seal(account interfaces.AccountID, plaintext []byte) (interfaces.SealedBlob, error)
	Open(account interfaces.AccountID, blob interfaces.SealedBlob) ([]byte, error)
}

// LevelSource classifies accounts. policy.Registry satisfies it.
type LevelSource interface {
	SecurityLevel(account interfaces.AccountID) interfaces.SecurityLevel
}

// Credential is decrypted key material handed to an authorized caller.
// Call Wipe as soon as the secret is no longer needed.
type Credential struct {
	AccountID     interfaces.AccountID
	SecurityLevel interfaces.SecurityLevel
	Metadata      interfaces.CredentialMetadata
	Secret        []byte
}

// Wipe zeroes the secret.
func (c *Credential) Wipe() {
	if c == nil {
		return
	}
	cryptoutils.WipeBytes(c.Secret)
	c.Secret = nil
}

// Store persists one sealed record per account and journals every access.
type Store struct {
	backend interfaces.RecordBackend
	sealer  Sealer
	lock    interfaces.LockChecker
	journal interfaces.Journal
	levels  LevelSource
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	// accountLocks serialises read-modify-write of one account's record within the process.
	accountLocks sync.Map
}

// Config holds the collaborators of a Store.
type Config struct {
	Backend interfaces.RecordBackend
	Sealer  Sealer
	Lock    interfaces.LockChecker
	Journal interfaces.Journal
	Levels  LevelSource
	Clock   clock.Clock
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// NewStore creates a credential store over cfg.Backend. A nil Clock uses the wall clock.
func NewStore(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Store{
		backend: cfg.Backend,
		sealer:  cfg.Sealer,
		lock:    cfg.Lock,
		journal: cfg.Journal,
		levels:  cfg.Levels,
		clock:   cfg.Clock,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}
}

func (s *Store) accountLock(account interfaces.AccountID) *sync.Mutex {
	mu, _ := s.accountLocks.LoadOrStore(account, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// checkLock returns ErrVaultLocked when the switch is set or cannot be read.
func (s *Store) checkLock(ctx context.Context) error {
	locked, err := s.lock.IsLocked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return interfaces.ErrVaultLocked
	}
	return nil
}

// Put seals payload and replaces the record of account. It returns the security level the
// record was stored under. Exactly one STORE event is journaled.
func (s *Store) Put(ctx context.Context, account interfaces.AccountID, payload []byte, metadata interfaces.CredentialMetadata) (level interfaces.SecurityLevel, err error) {
	defer func() {
		s.record(ctx, interfaces.ActionStore, account, metadata.Purpose, err)
	}()

	if err := s.checkLock(ctx); err != nil {
		return "", err
	}
	if err := account.Validate(); err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", interfaces.ErrInvalidRequest)
	}

	mu := s.accountLock(account)
	mu.Lock()
	defer mu.Unlock()

	level = s.levels.SecurityLevel(account)
	blob, err := s.sealer.Seal(account, payload)
	if err != nil {
		return "", fmt.Errorf("failed to seal payload: %w", err)
	}

	record := interfaces.CredentialRecord{
		AccountID:     account,
		SecurityLevel: level,
		Payload:       blob,
		Metadata:      metadata,
		StoredAt:      s.clock.Now().UTC(),
		Version:       RecordVersion,
	}
	if err := s.write(ctx, &record); err != nil {
		return "", err
	}

	s.log.Info("Credential stored",
		slog.String("account", account.String()),
		slog.String("securityLevel", string(level)),
		slog.String("backend", s.backend.Name()))
	return level, nil
}

// Get decrypts the key material of account. The lockdown switch is checked before any record
// is read. On success the access time and count are updated under a freshly sealed payload.
// Exactly one RETRIEVE event is journaled.
func (s *Store) Get(ctx context.Context, account interfaces.AccountID, reason string) (cred *Credential, err error) {
	defer func() {
		s.record(ctx, interfaces.ActionRetrieve, account, reason, err)
	}()

	if err := s.checkLock(ctx); err != nil {
		return nil, err
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}

	mu := s.accountLock(account)
	mu.Lock()
	defer mu.Unlock()

	record, err := s.read(ctx, account)
	if err != nil {
		return nil, err
	}

	secret, err := s.sealer.Open(account, record.Payload)
	if err != nil {
		s.log.Error("Credential failed integrity check",
			slog.String("account", account.String()),
			"err", err)
		return nil, err
	}

	s.touch(ctx, record, secret)

	return &Credential{
		AccountID:     account,
		SecurityLevel: record.SecurityLevel,
		Metadata:      record.Metadata,
		Secret:        secret,
	}, nil
}

// touch bumps the access counters. Losing an update is tolerated, so failures are only logged.
func (s *Store) touch(ctx context.Context, record *interfaces.CredentialRecord, secret []byte) {
	blob, err := s.sealer.Seal(record.AccountID, secret)
	if err != nil {
		s.log.Warn("Failed to reseal credential", slog.String("account", record.AccountID.String()), "err", err)
		return
	}

	now := s.clock.Now().UTC()
	record.Payload = blob
	record.LastAccessedAt = &now
	record.AccessCount++
	record.Version = RecordVersion

	if err := s.write(ctx, record); err != nil {
		s.log.Warn("Failed to persist access counters",
			slog.String("account", record.AccountID.String()),
			"err", err)
	}
}

// List returns the metadata of every stored record. It never decrypts and is allowed while locked.
func (s *Store) List(ctx context.Context) ([]interfaces.CredentialSummary, error) {
	accounts, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	summaries := make([]interfaces.CredentialSummary, 0, len(accounts))
	for _, account := range accounts {
		record, err := s.read(ctx, account)
		if err != nil {
			s.log.Warn("Skipping unreadable credential record",
				slog.String("account", account.String()),
				"err", err)
			continue
		}
		summaries = append(summaries, record.Summary())
	}
	return summaries, nil
}

func (s *Store) read(ctx context.Context, account interfaces.AccountID) (*interfaces.CredentialRecord, error) {
	data, err := s.backend.Fetch(ctx, account)
	if err != nil {
		return nil, err
	}

	var record interfaces.CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: malformed record: %v", interfaces.ErrIntegrity, err)
	}
	if record.AccountID != account {
		return nil, fmt.Errorf("%w: record belongs to %q", interfaces.ErrIntegrity, record.AccountID)
	}
	return &record, nil
}

func (s *Store) write(ctx context.Context, record *interfaces.CredentialRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.backend.Store(ctx, record.AccountID, data); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (s *Store) record(ctx context.Context, action interfaces.AuditAction, account interfaces.AccountID, reason string, err error) {
	event := interfaces.AuditEvent{
		AccountID: account,
		Action:    action,
		Outcome:   interfaces.OutcomeSuccess,
		Reason:    reason,
	}
	if err != nil {
		event.Outcome = interfaces.OutcomeFailed
		event.ErrorDetail = err.Error()
	}
	s.journal.Append(ctx, event)
	s.metrics.ObserveVaultAccess(string(action), string(event.Outcome))
}

// IntegrityReport is the outcome of VerifyIntegrity.
type IntegrityReport struct {
	Checked  int                             `json:"checked"`
	Verified []interfaces.AccountID          `json:"verified"`
	Missing  []interfaces.AccountID          `json:"missing,omitempty"`
	Failed   map[interfaces.AccountID]string `json:"failed,omitempty"`
	Score    float64                         `json:"integrityScore"`
}

// Healthy reports whether every checked account decrypted.
func (r IntegrityReport) Healthy() bool {
	return r.Checked > 0 && len(r.Verified) == r.Checked
}

// VerifyIntegrity opens the record of each account and discards the plaintext. With no accounts
// given every stored record is checked. Access counters are not touched and nothing is journaled.
func (s *Store) VerifyIntegrity(ctx context.Context, accounts []interfaces.AccountID) (IntegrityReport, error) {
	if err := s.checkLock(ctx); err != nil {
		return IntegrityReport{}, err
	}

	if len(accounts) == 0 {
		listed, err := s.backend.List(ctx)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("failed to list credentials: %w", err)
		}
		accounts = listed
	}

	report := IntegrityReport{Failed: make(map[interfaces.AccountID]string)}
	for _, account := range accounts {
		report.Checked++

		record, err := s.read(ctx, account)
		if errors.Is(err, interfaces.ErrCredentialNotFound) {
			report.Missing = append(report.Missing, account)
			continue
		}
		if err != nil {
			report.Failed[account] = err.Error()
			continue
		}

		secret, err := s.sealer.Open(account, record.Payload)
		if err != nil {
			report.Failed[account] = err.Error()
			continue
		}
		cryptoutils.WipeBytes(secret)
		report.Verified = append(report.Verified, account)
	}

	if report.Checked > 0 {
		report.Score = float64(len(report.Verified)) / float64(report.Checked) * 100
	}

	s.log.Info("Vault integrity check completed",
		slog.Int("checked", report.Checked),
		slog.Int("verified", len(report.Verified)),
		slog.Int("missing", len(report.Missing)),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}
