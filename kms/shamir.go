package kms

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/shamir"
)

// ShamirKMS keeps the master secret split into administrator shares. The secret is never
// persisted: it is reconstructed in memory once a threshold of signed shares has been submitted.
type ShamirKMS struct {
	mu             sync.RWMutex
	masterKey      []byte            // reconstructed master secret, memory only
	isUnlocked     bool              // whether enough shares have been combined
	threshold      int               // minimum number of shares to reconstruct
	receivedShares map[string][]byte // shares by admin fingerprint, wiped after reconstruction
	unlocked       chan struct{}

	adminPubKeys map[string][]byte // registered admin public keys by fingerprint
}

// ShamirConfig contains configuration parameters for creating a ShamirKMS instance.
type ShamirConfig struct {
	// Threshold is the minimum number of shares required to reconstruct the master secret.
	Threshold int
	// AdminPubKeys lists the administrators' public keys in PEM format, one share each.
	AdminPubKeys [][]byte
}

// ShareStatus describes the progress of a recovery.
type ShareStatus struct {
	Unlocked  bool `json:"unlocked"`
	Received  int  `json:"received"`
	Threshold int  `json:"threshold"`
	Admins    int  `json:"admins"`
}

// NewShamirKMS splits masterKey into one share per administrator. Share i belongs to the holder
// of AdminPubKeys[i]. The returned KMS is unlocked; the caller should wipe masterKey.
func NewShamirKMS(masterKey []byte, config ShamirConfig) (*ShamirKMS, [][]byte, error) {
	if len(masterKey) < MinMasterKeyLen {
		return nil, nil, ErrMasterKeyTooShort
	}
	if config.Threshold < 2 {
		return nil, nil, errors.New("threshold must be at least 2")
	}
	if len(config.AdminPubKeys) < config.Threshold {
		return nil, nil, errors.New("total shares must be at least equal to threshold")
	}

	k, err := newShamirKMS(config)
	if err != nil {
		return nil, nil, err
	}

	shares, err := shamir.Split(masterKey, len(config.AdminPubKeys), config.Threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split master key: %w", err)
	}

	k.masterKey = append([]byte(nil), masterKey...)
	k.isUnlocked = true
	close(k.unlocked)
	return k, shares, nil
}

// NewShamirKMSRecovery creates a locked ShamirKMS that waits for administrator shares.
func NewShamirKMSRecovery(config ShamirConfig) (*ShamirKMS, error) {
	if config.Threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(config.AdminPubKeys) < config.Threshold {
		return nil, errors.New("registered admins must be at least equal to threshold")
	}
	return newShamirKMS(config)
}

func newShamirKMS(config ShamirConfig) (*ShamirKMS, error) {
	k := &ShamirKMS{
		threshold:      config.Threshold,
		receivedShares: make(map[string][]byte),
		unlocked:       make(chan struct{}),
		adminPubKeys:   make(map[string][]byte),
	}

	for _, publicKeyPEM := range config.AdminPubKeys {
		if _, err := parseAdminPubKey(publicKeyPEM); err != nil {
			return nil, fmt.Errorf("invalid admin pubkey: %w", err)
		}
		fp := fingerprint(publicKeyPEM)
		if _, dup := k.adminPubKeys[fp]; dup {
			return nil, errors.New("duplicate admin pubkey")
		}
		k.adminPubKeys[fp] = publicKeyPEM
	}
	return k, nil
}

// SubmitShare accepts a share signed by a registered administrator. Each administrator counts
// once; a resubmission replaces the earlier share. Once the threshold is reached the master
// secret is reconstructed and the KMS unlocks.
func (k *ShamirKMS) SubmitShare(share, signature, adminPubKeyPEM []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isUnlocked {
		return errors.New("KMS is already unlocked")
	}

	fp := fingerprint(adminPubKeyPEM)
	registered, found := k.adminPubKeys[fp]
	if !found {
		return errors.New("unregistered admin public key")
	}
	if !bytes.Equal(registered, adminPubKeyPEM) {
		return errors.New("invalid pubkey passed for a matching fingerprint")
	}

	pubKey, err := parseAdminPubKey(adminPubKeyPEM)
	if err != nil {
		return err
	}

	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(share)
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return errors.New("invalid signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, share, signature) {
			return errors.New("invalid signature")
		}
	}

	if previous, ok := k.receivedShares[fp]; ok {
		wipeBytes(previous)
	}
	k.receivedShares[fp] = append([]byte(nil), share...)

	return k.tryReconstruct()
}

// tryReconstruct combines the received shares once there are enough of them.
// All shares are wiped afterwards, whether or not reconstruction succeeded.
func (k *ShamirKMS) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}

	masterKey, err := shamir.Combine(shares)

	for fp, share := range k.receivedShares {
		wipeBytes(share)
		delete(k.receivedShares, fp)
	}

	if err != nil {
		return fmt.Errorf("failed to reconstruct master key: %w", err)
	}
	if len(masterKey) < MinMasterKeyLen {
		wipeBytes(masterKey)
		return errors.New("reconstructed master key is too short, shares do not belong together")
	}

	k.masterKey = masterKey
	k.isUnlocked = true
	close(k.unlocked)
	return nil
}

// IsUnlocked returns whether the master secret is available.
func (k *ShamirKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.isUnlocked
}

// Unlocked is closed once the master secret is available.
func (k *ShamirKMS) Unlocked() <-chan struct{} {
	return k.unlocked
}

// Status reports recovery progress.
func (k *ShamirKMS) Status() ShareStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return ShareStatus{
		Unlocked:  k.isUnlocked,
		Received:  len(k.receivedShares),
		Threshold: k.threshold,
		Admins:    len(k.adminPubKeys),
	}
}

// MasterKey returns a copy of the reconstructed master secret, or ErrLocked.
func (k *ShamirKMS) MasterKey() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if !k.isUnlocked {
		return nil, ErrLocked
	}
	if k.masterKey == nil {
		return nil, errors.New("master key has been wiped")
	}
	return append([]byte(nil), k.masterKey...), nil
}

// Close wipes the master secret and any pending shares.
func (k *ShamirKMS) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	wipeBytes(k.masterKey)
	k.masterKey = nil
	for fp, share := range k.receivedShares {
		wipeBytes(share)
		delete(k.receivedShares, fp)
	}
}

// SignShare signs a share with an administrator's ECDSA key for submission.
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
}

// ReadAdminPubKeys loads PEM encoded admin public keys from files.
func ReadAdminPubKeys(paths []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read admin pubkey %s: %w", path, err)
		}
		if _, err := parseAdminPubKey(data); err != nil {
			return nil, fmt.Errorf("admin pubkey %s: %w", path, err)
		}
		keys = append(keys, data)
	}
	return keys, nil
}

func parseAdminPubKey(publicKeyPEM []byte) (any, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode admin public key PEM")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin public key: %w", err)
	}

	switch pubKey.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey:
		return pubKey, nil
	default:
		return nil, errors.New("admin public key is neither ECDSA nor ED25519 key")
	}
}

func fingerprint(publicKeyPEM []byte) string {
	sum := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(sum[:])
}
