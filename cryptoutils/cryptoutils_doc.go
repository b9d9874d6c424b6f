// Package cryptoutils seals treasury key material at rest.
//
// A Box holds one master secret and derives a separate 256-bit key per account, so a
// blob sealed for one account never opens for another. The account identifier is also
// bound as associated data.
//
// # Algorithms
//
//   - aes-256-gcm (default) with 12-byte random nonces
//   - xchacha20-poly1305 with 24-byte random nonces
//
// Key derivation is scrypt by default, argon2id optionally. Every SealedBlob carries its
// algorithm tag, nonce, ciphertext and authentication tag separately, and Open dispatches
// on the blob's tag so records sealed before an algorithm change still open.
//
// # Usage
//
//	box, err := cryptoutils.NewBox(master, cryptoutils.WithAlgorithm(cryptoutils.AlgXChaCha20Poly1305))
//	if err != nil {
//	    return err
//	}
//	defer box.Close()
//
//	blob, err := box.Seal("jackpotReserve", secret)
//	plain, err := box.Open("jackpotReserve", blob)
//	defer cryptoutils.WipeBytes(plain)
//
// A tampered blob, a blob opened under the wrong account or master secret, and an unknown
// algorithm tag all fail with interfaces.ErrIntegrity.
package cryptoutils
