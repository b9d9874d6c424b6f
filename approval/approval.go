// Package approval derives and checks daily approval codes.
//
// A code is a deterministic function of a shared secret, the account, the operation and the
// calendar date. Anyone holding the secret can compute it, so it gives neither
// non-repudiation nor multi-party control. It is a placeholder until a real approval
// mechanism (hardware token, multi-signature or external approver) is integrated.
package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/ruteri/treasury-vault/interfaces"
	"golang.org/x/crypto/hkdf"
)

const (
	codeBytes = 4
	hkdfInfo  = "treasury-approval-code-v1"
)

// ErrNoSecret is returned when the approver is built without a secret.
var ErrNoSecret = errors.New("approval secret is required")

// Approver computes and verifies approval codes with a key derived from a shared secret.
type Approver struct {
	key []byte
}

// NewApprover derives the code key from secret with HKDF-SHA256.
func NewApprover(secret []byte) (*Approver, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return &Approver{key: key}, nil
}

// Code returns the 8 character code for account, operation and date (YYYY-MM-DD).
func (a *Approver) Code(account interfaces.AccountID, op interfaces.Operation, date string) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(account))
	mac.Write([]byte{'|'})
	mac.Write([]byte(op))
	mac.Write([]byte{'|'})
	mac.Write([]byte(date))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)[:codeBytes]))
}

// Verify compares proof with the expected code in constant time. Case and surrounding
// whitespace are ignored.
func (a *Approver) Verify(account interfaces.AccountID, op interfaces.Operation, date, proof string) bool {
	expected := a.Code(account, op, date)
	supplied := strings.ToUpper(strings.TrimSpace(proof))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
