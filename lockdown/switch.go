package lockdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/metrics"
)

// ScopeAll is the account recorded on lockdown audit events.
const ScopeAll interfaces.AccountID = "ALL"

// ErrReasonRequired is returned by Activate without a reason.
var ErrReasonRequired = errors.New("lockdown reason is required")

// Switch is the process-wide emergency flag. Every call reads the sentinel; nothing is cached.
type Switch struct {
	sentinel interfaces.LockdownSentinel
	journal  interfaces.Journal
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewSwitch creates a switch on top of sentinel. Activations and clears are journaled.
func NewSwitch(sentinel interfaces.LockdownSentinel, journal interfaces.Journal, c clock.Clock, log *slog.Logger, m *metrics.Metrics) *Switch {
	if c == nil {
		c = clock.New()
	}
	return &Switch{
		sentinel: sentinel,
		journal:  journal,
		clock:    c,
		log:      log,
		metrics:  m,
	}
}

// IsLocked reports whether the vault is locked. If the sentinel cannot be read the vault is
// treated as locked and the read error is returned alongside.
func (s *Switch) IsLocked(ctx context.Context) (bool, error) {
	state, err := s.sentinel.Load(ctx)
	if err != nil {
		s.log.Error("Failed to read lockdown sentinel, treating vault as locked", "err", err)
		return true, fmt.Errorf("%w: lockdown state unreadable: %v", interfaces.ErrVaultLocked, err)
	}
	s.metrics.SetLockdown(state.Locked)
	return state.Locked, nil
}

// State returns the current lockdown state.
func (s *Switch) State(ctx context.Context) (interfaces.LockdownState, error) {
	return s.sentinel.Load(ctx)
}

// Activate locks the vault. Activating an already locked vault replaces the reason.
func (s *Switch) Activate(ctx context.Context, reason, actor string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}

	now := s.clock.Now().UTC()
	state := interfaces.LockdownState{
		Locked:      true,
		Reason:      reason,
		ActivatedAt: &now,
		Actor:       actor,
	}

	if err := s.sentinel.Save(ctx, state); err != nil {
		s.journal.Append(ctx, interfaces.AuditEvent{
			AccountID:   ScopeAll,
			Action:      interfaces.ActionLockdown,
			Outcome:     interfaces.OutcomeFailed,
			Reason:      reason,
			Actor:       actor,
			ErrorDetail: err.Error(),
		})
		return fmt.Errorf("failed to activate lockdown: %w", err)
	}

	s.metrics.SetLockdown(true)
	s.log.Warn("EMERGENCY LOCKDOWN ACTIVATED",
		slog.String("reason", reason),
		slog.String("actor", actor))

	s.journal.Append(ctx, interfaces.AuditEvent{
		AccountID: ScopeAll,
		Action:    interfaces.ActionLockdown,
		Outcome:   interfaces.OutcomeSuccess,
		Reason:    reason,
		Actor:     actor,
	})
	return nil
}

// Clear unlocks the vault. It is an operator action, exposed only by operator tooling.
func (s *Switch) Clear(ctx context.Context, actor string) error {
	previous, err := s.sentinel.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read lockdown state: %w", err)
	}

	if err := s.sentinel.Save(ctx, interfaces.LockdownState{}); err != nil {
		return fmt.Errorf("failed to clear lockdown: %w", err)
	}

	s.metrics.SetLockdown(false)
	s.log.Info("Lockdown cleared",
		slog.String("actor", actor),
		slog.String("previousReason", previous.Reason))

	s.journal.Append(ctx, interfaces.AuditEvent{
		AccountID: ScopeAll,
		Action:    interfaces.ActionLockdownCleared,
		Outcome:   interfaces.OutcomeSuccess,
		Reason:    previous.Reason,
		Actor:     actor,
	})
	return nil
}
