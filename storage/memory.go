package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ruteri/treasury-vault/interfaces"
)

// MemoryBackend keeps records in process memory. Used for tests and dry runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[interfaces.AccountID][]byte
	name    string
}

// NewMemoryBackend creates an empty in-memory record backend.
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{records: make(map[interfaces.AccountID][]byte), name: name}
}

func (b *MemoryBackend) Fetch(ctx context.Context, account interfaces.AccountID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.records[account]
	if !ok {
		return nil, interfaces.ErrCredentialNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Store(ctx context.Context, account interfaces.AccountID, data []byte) error {
	if err := account.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[account] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) List(ctx context.Context) ([]interfaces.AccountID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	accounts := make([]interfaces.AccountID, 0, len(b.records))
	for account := range b.records {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts, nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return "memory-" + b.name
}

func (b *MemoryBackend) LocationURI() string {
	return "memory://" + b.name
}

// Delete removes the record of account if present.
func (b *MemoryBackend) Delete(account interfaces.AccountID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, account)
}
