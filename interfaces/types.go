// Package interfaces defines the core interfaces and types for the treasury custody core.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AccountID identifies a treasury account and the signing key it holds.
type AccountID string

var accountIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

// NewAccountID creates an account identifier with validation.
// Identifiers are used as file names and storage keys, so path separators are rejected.
func NewAccountID(id string) (AccountID, error) {
	a := AccountID(id)
	return a, a.Validate()
}

// String returns the account identifier as a string.
func (a AccountID) String() string {
	return string(a)
}

// Validate checks if the account identifier has a valid format.
func (a AccountID) Validate() error {
	if !accountIDRegex.MatchString(string(a)) {
		return fmt.Errorf("%w: invalid account id %q", ErrInvalidRequest, string(a))
	}
	return nil
}

// SecurityLevel classifies how sensitive the key material of an account is.
type SecurityLevel string

const (
	LevelCritical SecurityLevel = "CRITICAL"
	LevelHigh     SecurityLevel = "HIGH"
	LevelMedium   SecurityLevel = "MEDIUM"
	LevelLow      SecurityLevel = "LOW"
)

// Valid reports whether the level is one of the known levels.
func (l SecurityLevel) Valid() bool {
	switch l {
	case LevelCritical, LevelHigh, LevelMedium, LevelLow:
		return true
	default:
		return false
	}
}

// Operation is the kind of fund movement requested from an account.
type Operation string

const (
	OpTransfer Operation = "transfer"
	OpBurn     Operation = "burn"
	OpMint     Operation = "mint"
	OpAirdrop  Operation = "airdrop"
	OpRelease  Operation = "release"
)

// AllOperations lists every operation an account policy may permit.
var AllOperations = []Operation{OpTransfer, OpBurn, OpMint, OpAirdrop, OpRelease}

// ParseOperation converts a string to an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllOperations {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, s)
}

// RequiresDestination reports whether the operation moves funds to a destination.
func (o Operation) RequiresDestination() bool {
	return o != OpBurn
}

// String returns the operation name.
func (o Operation) String() string {
	return string(o)
}

// SealedBlob is the output of the crypto box: ciphertext, nonce, authentication tag and algorithm tag.
// The account identifier is bound as associated data and is not stored in the blob.
type SealedBlob struct {
	Algorithm   string    `json:"algorithm"`
	Nonce       []byte    `json:"nonce"`
	Ciphertext  []byte    `json:"ciphertext"`
	Tag         []byte    `json:"tag"`
	EncryptedAt time.Time `json:"encryptedAt"`
}

// CredentialMetadata describes a stored credential. It is never encrypted.
type CredentialMetadata struct {
	Label            string `json:"label" yaml:"label"`
	Purpose          string `json:"purpose" yaml:"purpose"`
	PublicIdentifier string `json:"publicIdentifier,omitempty" yaml:"publicIdentifier,omitempty"`
	TokenAccount     string `json:"tokenAccount,omitempty" yaml:"tokenAccount,omitempty"`
}

// CredentialRecord is the persisted form of one account's key material.
type CredentialRecord struct {
	AccountID      AccountID          `json:"accountId"`
	SecurityLevel  SecurityLevel      `json:"securityLevel"`
	Payload        SealedBlob         `json:"encryptedPayload"`
	Metadata       CredentialMetadata `json:"metadata"`
	StoredAt       time.Time          `json:"storedAt"`
	LastAccessedAt *time.Time         `json:"lastAccessedAt,omitempty"`
	AccessCount    uint64             `json:"accessCount"`
	Version        string             `json:"version"`
}

// Summary strips the sealed payload from the record.
func (r *CredentialRecord) Summary() CredentialSummary {
	return CredentialSummary{
		AccountID:      r.AccountID,
		SecurityLevel:  r.SecurityLevel,
		Metadata:       r.Metadata,
		StoredAt:       r.StoredAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
	}
}

// CredentialSummary is what List exposes: everything but the sealed payload.
type CredentialSummary struct {
	AccountID      AccountID          `json:"accountId"`
	SecurityLevel  SecurityLevel      `json:"securityLevel"`
	Metadata       CredentialMetadata `json:"metadata"`
	StoredAt       time.Time          `json:"storedAt"`
	LastAccessedAt *time.Time         `json:"lastAccessedAt,omitempty"`
	AccessCount    uint64             `json:"accessCount"`
}

// AccountPolicy is the static authorization configuration of one account.
type AccountPolicy struct {
	AccountID           AccountID     `json:"account" yaml:"account"`
	PermittedOperations []Operation   `json:"permissions" yaml:"permissions"`
	RequiresApproval    bool          `json:"requiresApproval" yaml:"requiresApproval"`
	DailyLimit          int64         `json:"dailyLimit" yaml:"dailyLimit"`
	SecurityLevel       SecurityLevel `json:"securityLevel,omitempty" yaml:"securityLevel,omitempty"`
	Description         string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// Permits reports whether op is in the permitted operations set.
func (p AccountPolicy) Permits(op Operation) bool {
	for _, permitted := range p.PermittedOperations {
		if permitted == op {
			return true
		}
	}
	return false
}

// MaxAmount is the largest amount or daily limit accepted, 2^53-1. Usage counters are compared
// in Redis Lua scripts, whose numbers are doubles.
const MaxAmount int64 = 1<<53 - 1

// Validate checks the policy for configuration errors.
func (p AccountPolicy) Validate() error {
	if err := p.AccountID.Validate(); err != nil {
		return err
	}
	if p.DailyLimit < 0 {
		return fmt.Errorf("%w: negative daily limit for %s", ErrInvalidRequest, p.AccountID)
	}
	if p.DailyLimit > MaxAmount {
		return fmt.Errorf("%w: daily limit for %s exceeds %d", ErrInvalidRequest, p.AccountID, MaxAmount)
	}
	for _, op := range p.PermittedOperations {
		if _, err := ParseOperation(string(op)); err != nil {
			return fmt.Errorf("policy %s: %w", p.AccountID, err)
		}
	}
	if p.SecurityLevel != "" && !p.SecurityLevel.Valid() {
		return fmt.Errorf("%w: invalid security level %q for %s", ErrInvalidRequest, p.SecurityLevel, p.AccountID)
	}
	return nil
}

// DailyUsage is the usage of one account on one calendar day.
type DailyUsage struct {
	AccountID AccountID `json:"accountId"`
	Date      string    `json:"date"`
	Limit     int64     `json:"limit"`
	Reserved  int64     `json:"reserved"`
	Committed int64     `json:"committed"`
}

// Remaining returns the headroom left for new reservations.
func (u DailyUsage) Remaining() int64 {
	remaining := u.Limit - u.Reserved - u.Committed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reservation is a provisional hold against an account's daily ceiling.
type Reservation struct {
	Token     string    `json:"token"`
	AccountID AccountID `json:"accountId"`
	Date      string    `json:"date"`
	Amount    int64     `json:"amount"`
}

// TransferRequest asks the transfer authority to move funds out of a treasury account.
type TransferRequest struct {
	RequestID     string
	Source        AccountID
	Destination   string
	Amount        int64
	Operation     Operation
	Reason        string
	ApprovalProof string
	Actor         string
}

// Validate checks the request for missing or malformed fields.
func (r *TransferRequest) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if _, err := ParseOperation(string(r.Operation)); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.Amount > MaxAmount {
		return fmt.Errorf("%w: amount exceeds %d", ErrInvalidRequest, MaxAmount)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}
	if r.Operation.RequiresDestination() && strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("%w: destination is required for %s", ErrInvalidRequest, r.Operation)
	}
	return nil
}

// TransferReceipt is returned for a transfer the broadcaster accepted.
type TransferReceipt struct {
	RequestID         string        `json:"requestId"`
	AccountID         AccountID     `json:"accountId"`
	Operation         Operation     `json:"operation"`
	Amount            int64         `json:"amount"`
	Destination       string        `json:"destination,omitempty"`
	ExternalReference string        `json:"externalReference"`
	SecurityLevel     SecurityLevel `json:"securityLevel"`
	Timestamp         time.Time     `json:"timestamp"`
}

// AuditAction names what an audit event records.
type AuditAction string

const (
	ActionStore           AuditAction = "STORE"
	ActionRetrieve        AuditAction = "RETRIEVE"
	ActionTransfer        AuditAction = "TRANSFER"
	ActionTransferFailed  AuditAction = "TRANSFER_FAILED"
	ActionBurn            AuditAction = "BURN"
	ActionLockdown        AuditAction = "LOCKDOWN"
	ActionLockdownCleared AuditAction = "LOCKDOWN_CLEARED"
)

// AuditOutcome is the result recorded in an audit event.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "SUCCESS"
	OutcomeFailed  AuditOutcome = "FAILED"
)

// AuditEvent is one append-only entry of the access journal.
type AuditEvent struct {
	LogID             uint64       `json:"logId"`
	Timestamp         time.Time    `json:"timestamp"`
	AccountID         AccountID    `json:"accountId"`
	Action            AuditAction  `json:"action"`
	Outcome           AuditOutcome `json:"outcome"`
	Reason            string       `json:"reason,omitempty"`
	Actor             string       `json:"actor"`
	ErrorDetail       string       `json:"errorDetail,omitempty"`
	RequestID         string       `json:"requestId,omitempty"`
	Operation         Operation    `json:"operation,omitempty"`
	Amount            int64        `json:"amount,omitempty"`
	Destination       string       `json:"destination,omitempty"`
	ExternalReference string       `json:"externalReference,omitempty"`
}

// LockdownState is the process-wide emergency state.
type LockdownState struct {
	Locked      bool       `json:"locked"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	Actor       string     `json:"actor,omitempty"`
}

// DateKey buckets a timestamp into a calendar date in the given location.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// ParseDateKey parses a date produced by DateKey.
func ParseDateKey(date string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, errors.New("invalid date key: " + date)
	}
	return t, nil
}
