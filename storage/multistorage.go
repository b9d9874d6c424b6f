package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/treasury-vault/interfaces"
)

// MultiStorageBackend implements interfaces.RecordBackend on top of several backends.
// Writes go to every available backend, reads come from the first one holding the record.
type MultiStorageBackend struct {
	backends []interfaces.RecordBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.RecordBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the record from the first available backend that has it.
// ErrCredentialNotFound is returned only when every reachable backend reports it missing.
func (m *MultiStorageBackend) Fetch(ctx context.Context, account interfaces.AccountID) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("account", account.String()))
			continue
		}

		data, err := backend.Fetch(ctx, account)
		if err == nil {
			m.log.Debug("Fetched record",
				slog.String("backend_name", backend.Name()),
				slog.String("account", account.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrCredentialNotFound) {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("account", account.String()),
			"err", err)
	}

	if len(errs) == 0 && notFound > 0 {
		return nil, interfaces.ErrCredentialNotFound
	}

	m.log.Error("All backends failed to fetch record",
		slog.String("account", account.String()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %v", interfaces.ErrBackendUnavailable, account, errs)
}

// Store writes the record to every available backend. It succeeds if at least one write did.
func (m *MultiStorageBackend) Store(ctx context.Context, account interfaces.AccountID, data []byte) error {
	start := time.Now()
	stored := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Store(ctx, account, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("account", account.String()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All backends failed to store record",
			slog.String("account", account.String()),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: all backends failed to store %s: %v", interfaces.ErrBackendUnavailable, account, errs)
	}

	m.log.Debug("Stored record",
		slog.String("account", account.String()),
		slog.Int("backends", stored),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// List returns the union of accounts across available backends.
func (m *MultiStorageBackend) List(ctx context.Context) ([]interfaces.AccountID, error) {
	seen := make(map[interfaces.AccountID]struct{})
	listed := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		accounts, err := backend.List(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		listed++
		for _, account := range accounts {
			seen[account] = struct{}{}
		}
	}

	if listed == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%w: all backends failed to list: %v", interfaces.ErrBackendUnavailable, errs)
	}

	accounts := make([]interfaces.AccountID, 0, len(seen))
	for account := range seen {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts, nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the comma-separated URIs of the wrapped backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return strings.Join(locations, ",")
}
