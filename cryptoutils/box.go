package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ruteri/treasury-vault/interfaces"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrBoxClosed is returned by Seal and Open after Close.
var ErrBoxClosed = errors.New("crypto box is closed")

const (
	// AlgAES256GCM is the default sealing algorithm.
	AlgAES256GCM = "aes-256-gcm"
	// AlgXChaCha20Poly1305 uses 24-byte random nonces.
	AlgXChaCha20Poly1305 = "xchacha20-poly1305"

	// KDFScrypt derives account keys with scrypt(N=16384, r=8, p=1).
	KDFScrypt = "scrypt"
	// KDFArgon2id derives account keys with argon2id(t=1, m=64MiB, p=4).
	KDFArgon2id = "argon2id"

	keySize      = 32
	tagSize      = 16
	minMasterLen = 16
)

// Box seals and opens payloads under per-account keys derived from one master secret.
// It performs no I/O. Derived keys are cached in memory until Close.
type Box struct {
	master    []byte
	algorithm string
	kdf       string
	now       func() time.Time

	mu   sync.Mutex
	keys map[interfaces.AccountID][]byte
}

// BoxOption customises a Box.
type BoxOption func(*Box)

// WithAlgorithm selects the sealing algorithm for new blobs. Open dispatches on the blob's own tag.
func WithAlgorithm(alg string) BoxOption {
	return func(b *Box) { b.algorithm = alg }
}

// WithKDF selects the key derivation function.
func WithKDF(kdf string) BoxOption {
	return func(b *Box) { b.kdf = kdf }
}

// WithTimeSource overrides the clock used for EncryptedAt.
func WithTimeSource(now func() time.Time) BoxOption {
	return func(b *Box) { b.now = now }
}

// NewBox creates a crypto box. The master secret is copied.
func NewBox(master []byte, opts ...BoxOption) (*Box, error) {
	if len(master) < minMasterLen {
		return nil, fmt.Errorf("master secret must be at least %d bytes", minMasterLen)
	}

	b := &Box{
		master:    append([]byte(nil), master...),
		algorithm: AlgAES256GCM,
		kdf:       KDFScrypt,
		now:       time.Now,
		keys:      make(map[interfaces.AccountID][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}

	switch b.algorithm {
	case AlgAES256GCM, AlgXChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", b.algorithm)
	}
	switch b.kdf {
	case KDFScrypt, KDFArgon2id:
	default:
		return nil, fmt.Errorf("unsupported kdf %q", b.kdf)
	}
	return b, nil
}

// Seal encrypts plaintext for account with a fresh random nonce.
// The account identifier is bound as associated data.
func (b *Box) Seal(account interfaces.AccountID, plaintext []byte) (interfaces.SealedBlob, error) {
	key, err := b.accountKey(account)
	if err != nil {
		return interfaces.SealedBlob{}, err
	}

	aead, err := newAEAD(b.algorithm, key, 0)
	if err != nil {
		return interfaces.SealedBlob{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return interfaces.SealedBlob{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, []byte(account))
	split := len(sealed) - tagSize

	return interfaces.SealedBlob{
		Algorithm:   b.algorithm,
		Nonce:       nonce,
		Ciphertext:  sealed[:split],
		Tag:         sealed[split:],
		EncryptedAt: b.now().UTC(),
	}, nil
}

// Open decrypts a blob sealed for account. Any mismatch fails with ErrIntegrity and no plaintext.
func (b *Box) Open(account interfaces.AccountID, blob interfaces.SealedBlob) ([]byte, error) {
	key, err := b.accountKey(account)
	if err != nil {
		return nil, err
	}
	return openRaw(blob.Algorithm, key, blob.Nonce, blob.Ciphertext, blob.Tag, []byte(account))
}

// Close wipes the master secret and every cached account key. The box is unusable afterwards.
func (b *Box) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	WipeBytes(b.master)
	b.master = nil
	for account, key := range b.keys {
		WipeBytes(key)
		delete(b.keys, account)
	}
}

func (b *Box) accountKey(account interfaces.AccountID) ([]byte, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.master == nil {
		return nil, ErrBoxClosed
	}
	if key, ok := b.keys[account]; ok {
		return key, nil
	}

	key, err := deriveKey(b.kdf, b.master, account)
	if err != nil {
		return nil, err
	}
	b.keys[account] = key
	return key, nil
}

// deriveKey derives the 32-byte key of an account. The salt format matches existing vault files.
func deriveKey(kdf string, master []byte, account interfaces.AccountID) ([]byte, error) {
	salt := []byte("salt_" + string(account))
	switch kdf {
	case KDFScrypt:
		key, err := scrypt.Key(master, salt, 16384, 8, 1, keySize)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
		return key, nil
	case KDFArgon2id:
		return argon2.IDKey(master, salt, 1, 64*1024, 4, keySize), nil
	default:
		return nil, fmt.Errorf("unsupported kdf %q", kdf)
	}
}

// newAEAD builds the cipher for an algorithm. nonceSize 0 means the algorithm default.
func newAEAD(alg string, key []byte, nonceSize int) (cipher.AEAD, error) {
	switch alg {
	case AlgAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		// Vaults written by the previous service used 16-byte IVs.
		if nonceSize != 0 && nonceSize != 12 {
			return cipher.NewGCMWithNonceSize(block, nonceSize)
		}
		return cipher.NewGCM(block)
	case AlgXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", interfaces.ErrIntegrity, alg)
	}
}

func openRaw(alg string, key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(tag) != tagSize || len(nonce) == 0 {
		return nil, fmt.Errorf("%w: truncated blob", interfaces.ErrIntegrity)
	}

	aead, err := newAEAD(alg, key, len(nonce))
	if err != nil {
		if errors.Is(err, interfaces.ErrIntegrity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIntegrity, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", interfaces.ErrIntegrity)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIntegrity, err)
	}
	return plaintext, nil
}

// WipeBytes zeroes a secret buffer in place.
func WipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
