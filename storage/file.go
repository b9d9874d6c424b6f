package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/ruteri/treasury-vault/interfaces"
)

const vaultFileSuffix = ".vault"

// FileBackend implements a record backend using the local file system.
// Each account is stored as <account>.vault in a directory only the owner can read.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file record backend using the specified base directory.
// The directory is created with mode 0700 if it doesn't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch reads the record file of an account.
// Returns ErrCredentialNotFound if the file doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, account interfaces.AccountID) ([]byte, error) {
	filePath, err := b.getFilePath(account)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault file: %w", err)
	}

	b.log.Debug("Fetched record from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Store atomically replaces the record file of an account.
// Readers never observe a partially written record.
func (b *FileBackend) Store(ctx context.Context, account interfaces.AccountID, data []byte) error {
	filePath, err := b.getFilePath(account)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(filePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	if err := os.Chmod(filePath, 0o600); err != nil {
		return fmt.Errorf("failed to restrict vault file: %w", err)
	}

	b.log.Debug("Stored record in file",
		slog.String("path", filePath),
		slog.String("account", account.String()))

	return nil
}

// List returns every account with a .vault file, sorted.
func (b *FileBackend) List(ctx context.Context) ([]interfaces.AccountID, error) {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault directory: %w", err)
	}

	accounts := make([]interfaces.AccountID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), vaultFileSuffix) {
			continue
		}
		account := interfaces.AccountID(strings.TrimSuffix(entry.Name(), vaultFileSuffix))
		if account.Validate() != nil {
			b.log.Warn("Skipping vault file with invalid name", slog.String("file", entry.Name()))
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts, nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(account interfaces.AccountID) (string, error) {
	if err := account.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, account.String()+vaultFileSuffix), nil
}
