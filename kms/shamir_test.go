package kms

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdmin struct {
	pem  []byte
	sign func(share []byte) []byte
}

func pemEncode(t *testing.T, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err, "Failed to marshal public key")
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func newECDSAAdmin(t *testing.T) testAdmin {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "Failed to generate admin key")
	return testAdmin{
		pem: pemEncode(t, &key.PublicKey),
		sign: func(share []byte) []byte {
			sig, err := SignShare(share, key)
			require.NoError(t, err)
			return sig
		},
	}
}

func newEd25519Admin(t *testing.T) testAdmin {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err, "Failed to generate admin key")
	return testAdmin{
		pem:  pemEncode(t, pub),
		sign: func(share []byte) []byte { return ed25519.Sign(priv, share) },
	}
}

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err, "Failed to generate test master key")
	return masterKey
}

func setupAdmins(t *testing.T) ([]testAdmin, ShamirConfig) {
	t.Helper()
	admins := []testAdmin{newECDSAAdmin(t), newEd25519Admin(t), newECDSAAdmin(t), newEd25519Admin(t), newECDSAAdmin(t)}
	config := ShamirConfig{Threshold: 3}
	for _, admin := range admins {
		config.AdminPubKeys = append(config.AdminPubKeys, admin.pem)
	}
	return admins, config
}

func TestShamirKMS_NewShamirKMS(t *testing.T) {
	masterKey := testMasterKey(t)
	_, config := setupAdmins(t)

	kms, shares, err := NewShamirKMS(masterKey, config)
	require.NoError(t, err, "NewShamirKMS should succeed with valid parameters")
	assert.Len(t, shares, 5, "Should generate one share per admin")
	assert.True(t, kms.IsUnlocked(), "KMS should start unlocked when created with a master key")

	got, err := kms.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, masterKey, got)

	select {
	case <-kms.Unlocked():
	default:
		t.Fatal("Unlocked channel should be closed")
	}

	_, _, err = NewShamirKMS(masterKey, ShamirConfig{Threshold: 6, AdminPubKeys: config.AdminPubKeys})
	assert.Error(t, err, "Should fail when threshold > total shares")

	_, _, err = NewShamirKMS(masterKey, ShamirConfig{Threshold: 1, AdminPubKeys: config.AdminPubKeys})
	assert.Error(t, err, "Should fail when threshold < 2")

	_, _, err = NewShamirKMS(make([]byte, 16), config)
	assert.ErrorIs(t, err, ErrMasterKeyTooShort, "Should fail with master key < 32 bytes")

	_, _, err = NewShamirKMS(masterKey, ShamirConfig{Threshold: 2, AdminPubKeys: [][]byte{config.AdminPubKeys[0], config.AdminPubKeys[0]}})
	assert.Error(t, err, "Should fail with duplicate admin keys")
}

func TestShamirKMS_AdminKeyValidation(t *testing.T) {
	admins, _ := setupAdmins(t)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	testCases := []struct {
		name string
		key  []byte
	}{
		{name: "invalid PEM", key: []byte("not-a-valid-pem")},
		{name: "invalid key", key: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte("not-a-valid-key")})},
		{name: "unsupported key type", key: pemEncode(t, &rsaKey.PublicKey)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewShamirKMSRecovery(ShamirConfig{Threshold: 2, AdminPubKeys: [][]byte{admins[0].pem, tc.key}})
			assert.Error(t, err)
		})
	}
}

func TestShamirKMS_ShareSubmission(t *testing.T) {
	masterKey := testMasterKey(t)
	admins, config := setupAdmins(t)

	_, shares, err := NewShamirKMS(masterKey, config)
	require.NoError(t, err, "Failed to create KMS")

	recovery, err := NewShamirKMSRecovery(config)
	require.NoError(t, err)
	assert.False(t, recovery.IsUnlocked(), "KMS should start in locked state")

	_, err = recovery.MasterKey()
	assert.ErrorIs(t, err, ErrLocked)

	// Unregistered admin
	stranger := newECDSAAdmin(t)
	err = recovery.SubmitShare(shares[0], stranger.sign(shares[0]), stranger.pem)
	assert.Error(t, err, "Should reject shares from unregistered admins")

	// Signature by another admin
	err = recovery.SubmitShare(shares[0], admins[1].sign(shares[0]), admins[0].pem)
	assert.Error(t, err, "Should reject invalid signatures")

	// Resubmission by the same admin counts once
	for i := 0; i < 2; i++ {
		require.NoError(t, recovery.SubmitShare(shares[0], admins[0].sign(shares[0]), admins[0].pem))
	}
	assert.Equal(t, ShareStatus{Received: 1, Threshold: 3, Admins: 5}, recovery.Status())

	require.NoError(t, recovery.SubmitShare(shares[3], admins[3].sign(shares[3]), admins[3].pem))
	assert.False(t, recovery.IsUnlocked(), "Two shares are below the threshold")

	require.NoError(t, recovery.SubmitShare(shares[4], admins[4].sign(shares[4]), admins[4].pem))
	assert.True(t, recovery.IsUnlocked(), "KMS should unlock at the threshold")
	assert.Zero(t, recovery.Status().Received, "Shares should be wiped after reconstruction")

	got, err := recovery.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, masterKey, got)

	err = recovery.SubmitShare(shares[1], admins[1].sign(shares[1]), admins[1].pem)
	assert.Error(t, err, "Should reject shares once unlocked")

	recovery.Close()
	_, err = recovery.MasterKey()
	assert.Error(t, err, "Master key should be gone after Close")
}

func TestSimpleKMS(t *testing.T) {
	masterKey := testMasterKey(t)

	kms, err := NewSimpleKMS(masterKey)
	require.NoError(t, err)

	got, err := kms.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, masterKey, got)

	got[0] ^= 0xFF
	again, err := kms.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, masterKey, again, "MasterKey should return a copy")

	fromHex, err := NewSimpleKMSFromHex("0x" + hex.EncodeToString(masterKey))
	require.NoError(t, err)
	got, err = fromHex.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, masterKey, got)

	_, err = NewSimpleKMS(make([]byte, 31))
	assert.ErrorIs(t, err, ErrMasterKeyTooShort)
	_, err = NewSimpleKMSFromHex("zz")
	assert.Error(t, err)

	kms.Close()
	_, err = kms.MasterKey()
	assert.Error(t, err)
}

func TestReadAdminPubKeys(t *testing.T) {
	admins, _ := setupAdmins(t)
	dir := t.TempDir()

	var paths []string
	for i, admin := range admins[:2] {
		path := filepath.Join(dir, "admin"+string(rune('a'+i))+".pem")
		require.NoError(t, os.WriteFile(path, admin.pem, 0o600))
		paths = append(paths, path)
	}

	keys, err := ReadAdminPubKeys(paths)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{admins[0].pem, admins[1].pem}, keys)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0o600))
	_, err = ReadAdminPubKeys([]string{bad})
	assert.Error(t, err)
}
