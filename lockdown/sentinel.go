package lockdown

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
)

// SentinelFileName is the file whose presence means the vault is locked.
const SentinelFileName = "EMERGENCY_LOCKDOWN"

// FileSentinel stores the lockdown state as a JSON file. The file exists only while locked.
type FileSentinel struct {
	path string
}

// NewFileSentinel places the sentinel file in dir.
func NewFileSentinel(dir string) *FileSentinel {
	return &FileSentinel{path: filepath.Join(dir, SentinelFileName)}
}

// Load reports locked whenever the file exists, even if its content is unreadable.
func (s *FileSentinel) Load(ctx context.Context) (interfaces.LockdownState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return interfaces.LockdownState{}, nil
	}
	if err != nil {
		return interfaces.LockdownState{}, fmt.Errorf("read lockdown sentinel: %w", err)
	}

	var state interfaces.LockdownState
	if err := json.Unmarshal(data, &state); err != nil {
		return interfaces.LockdownState{Locked: true, Reason: "unparseable lockdown sentinel"}, nil
	}
	state.Locked = true
	return state, nil
}

// Save writes the file when locking and removes it when clearing.
func (s *FileSentinel) Save(ctx context.Context, state interfaces.LockdownState) error {
	if !state.Locked {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove lockdown sentinel: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write lockdown sentinel: %w", err)
	}
	return os.Chmod(s.path, 0o600)
}

// SQLiteSentinel keeps the state in the single-row lockdown_state table.
type SQLiteSentinel struct {
	db *sqlitedb.DB
}

// NewSQLiteSentinel creates a sentinel stored in the lockdown_state table of db.
func NewSQLiteSentinel(db *sqlitedb.DB) *SQLiteSentinel {
	return &SQLiteSentinel{db: db}
}

func (s *SQLiteSentinel) Load(ctx context.Context) (interfaces.LockdownState, error) {
	var (
		state       interfaces.LockdownState
		activatedAt sql.NullString
	)
	err := s.db.Reader.QueryRowContext(ctx,
		`SELECT locked, reason, actor, activated_at FROM lockdown_state WHERE id = 1`,
	).Scan(&state.Locked, &state.Reason, &state.Actor, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.LockdownState{}, nil
	}
	if err != nil {
		return interfaces.LockdownState{}, fmt.Errorf("query lockdown state: %w", err)
	}

	if activatedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, activatedAt.String)
		if err != nil {
			return interfaces.LockdownState{Locked: true, Reason: state.Reason}, nil
		}
		state.ActivatedAt = &t
	}
	return state, nil
}

func (s *SQLiteSentinel) Save(ctx context.Context, state interfaces.LockdownState) error {
	var activatedAt any
	if state.ActivatedAt != nil {
		activatedAt = state.ActivatedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.Writer.ExecContext(ctx,
		`INSERT INTO lockdown_state (id, locked, reason, actor, activated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET locked = excluded.locked, reason = excluded.reason,
		 actor = excluded.actor, activated_at = excluded.activated_at`,
		state.Locked, state.Reason, state.Actor, activatedAt)
	if err != nil {
		return fmt.Errorf("save lockdown state: %w", err)
	}
	return nil
}

// MemorySentinel keeps the state in memory.
type MemorySentinel struct {
	mu      sync.Mutex
	state   interfaces.LockdownState
	loadErr error
}

func NewMemorySentinel() *MemorySentinel {
	return &MemorySentinel{}
}

func (s *MemorySentinel) Load(ctx context.Context) (interfaces.LockdownState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return interfaces.LockdownState{}, s.loadErr
	}
	return s.state, nil
}

func (s *MemorySentinel) Save(ctx context.Context, state interfaces.LockdownState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

// SetLoadError makes Load fail with err until cleared with nil.
func (s *MemorySentinel) SetLoadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}
