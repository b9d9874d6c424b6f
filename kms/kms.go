package kms

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MinMasterKeyLen is the minimum length of a master secret.
const MinMasterKeyLen = 32

var (
	// ErrLocked is returned while not enough shares have been submitted.
	ErrLocked = errors.New("KMS is locked - need more shares to unlock")

	// ErrMasterKeyTooShort is returned for master secrets under MinMasterKeyLen bytes.
	ErrMasterKeyTooShort = fmt.Errorf("master key must be at least %d bytes", MinMasterKeyLen)
)

// MasterKeySource hands out the treasury master secret.
type MasterKeySource interface {
	MasterKey() ([]byte, error)
}

// SimpleKMS holds a master secret in memory.
type SimpleKMS struct {
	mu        sync.RWMutex
	masterKey []byte
}

// NewSimpleKMS creates a KMS from masterKey. The key is copied.
func NewSimpleKMS(masterKey []byte) (*SimpleKMS, error) {
	if len(masterKey) < MinMasterKeyLen {
		return nil, ErrMasterKeyTooShort
	}
	return &SimpleKMS{masterKey: append([]byte(nil), masterKey...)}, nil
}

// NewSimpleKMSFromHex creates a KMS from a hex encoded master secret, as found in TREASURY_MASTER_KEY.
func NewSimpleKMSFromHex(encoded string) (*SimpleKMS, error) {
	masterKey, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		return nil, errors.New("master key is not valid hex")
	}
	defer wipeBytes(masterKey)
	return NewSimpleKMS(masterKey)
}

// MasterKey returns a copy of the master secret.
func (k *SimpleKMS) MasterKey() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.masterKey == nil {
		return nil, errors.New("master key has been wiped")
	}
	return append([]byte(nil), k.masterKey...), nil
}

// Close wipes the master secret.
func (k *SimpleKMS) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	wipeBytes(k.masterKey)
	k.masterKey = nil
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
