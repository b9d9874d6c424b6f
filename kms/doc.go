// Package kms provides custody of the treasury master secret.
//
// The master secret is the root from which the crypto box derives every per-account key.
// Implementations expose it through a single method:
//
//	type MasterKeySource interface {
//	    MasterKey() ([]byte, error)
//	}
//
// # SimpleKMS
//
// Holds a master secret supplied at start, typically from the TREASURY_MASTER_KEY environment
// variable. Suitable for development and single-operator deployments.
//
// # ShamirKMS
//
// Splits the master secret into shares with Shamir's Secret Sharing so that it never has to be
// stored. Each share is handed to an administrator. After a restart the KMS starts locked and
// only returns the master secret once a threshold of administrators have submitted their share,
// each signed with the administrator's registered ECDSA or Ed25519 key. Shares are wiped from
// memory as soon as the secret is reconstructed.
//
//	kms, shares, err := kms.NewShamirKMS(master, kms.ShamirConfig{Threshold: 2, AdminPubKeys: pems})
//	// distribute shares[i] to the holder of pems[i], then wipe master
//
//	recovery, err := kms.NewShamirKMSRecovery(kms.ShamirConfig{Threshold: 2, AdminPubKeys: pems})
//	err = recovery.SubmitShare(share, signature, adminPubKeyPEM)
//	<-recovery.Unlocked()
//	master, err := recovery.MasterKey()
//
// MasterKey returns a copy; callers wipe it once the crypto box holds its own.
package kms
