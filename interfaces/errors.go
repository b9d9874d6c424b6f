package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrVaultLocked is returned by every vault and transfer operation while the lockdown switch is set.
	ErrVaultLocked = errors.New("treasury vault is locked")

	// ErrIntegrity is returned when a sealed blob fails authentication: tampered ciphertext or tag,
	// truncated input, wrong account or unknown algorithm.
	ErrIntegrity = errors.New("sealed blob failed integrity check")

	// ErrCredentialNotFound is returned when no record exists for an account.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrOperationNotPermitted is returned when the account policy does not list the operation.
	ErrOperationNotPermitted = errors.New("operation not permitted")

	// ErrApprovalRequired is returned when the account requires approval and no proof was supplied.
	ErrApprovalRequired = errors.New("approval required")

	// ErrInvalidApproval is returned when a supplied approval proof does not verify.
	ErrInvalidApproval = errors.New("invalid approval proof")

	// ErrDailyLimitExceeded is matched by *DailyLimitExceededError.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")

	// ErrBroadcaster is matched by *BroadcasterError.
	ErrBroadcaster = errors.New("broadcaster failure")

	// ErrInvalidToken is returned when a reservation token is unknown or already settled.
	ErrInvalidToken = errors.New("invalid reservation token")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// DailyLimitExceededError carries the headroom left when a reservation is refused.
type DailyLimitExceededError struct {
	AccountID AccountID
	Date      string
	Requested int64
	Remaining int64
	Limit     int64
}

func (e *DailyLimitExceededError) Error() string {
	return fmt.Sprintf("daily limit exceeded for %s on %s: requested %d, remaining %d of %d",
		e.AccountID, e.Date, e.Requested, e.Remaining, e.Limit)
}

func (e *DailyLimitExceededError) Is(target error) bool {
	return target == ErrDailyLimitExceeded
}

// BroadcastOutcome tells whether a failed broadcast is known not to have moved funds.
type BroadcastOutcome int

const (
	// BroadcastFailed means the broadcaster positively did not commit the transfer.
	BroadcastFailed BroadcastOutcome = iota
	// BroadcastUnknown means funds may have moved. Callers must not retry automatically.
	BroadcastUnknown
)

func (o BroadcastOutcome) String() string {
	switch o {
	case BroadcastFailed:
		return "failed"
	case BroadcastUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// BroadcasterError wraps a failure of the external signer/broadcaster.
type BroadcasterError struct {
	Outcome BroadcastOutcome
	Err     error
}

// NewBroadcasterError wraps err with the given outcome.
func NewBroadcasterError(outcome BroadcastOutcome, err error) *BroadcasterError {
	return &BroadcasterError{Outcome: outcome, Err: err}
}

func (e *BroadcasterError) Error() string {
	return fmt.Sprintf("broadcaster failure (outcome %s): %v", e.Outcome, e.Err)
}

func (e *BroadcasterError) Unwrap() error {
	return e.Err
}

func (e *BroadcasterError) Is(target error) bool {
	return target == ErrBroadcaster
}

// IsOutcomeUnknown reports whether err carries a broadcaster failure whose outcome is unknown.
func IsOutcomeUnknown(err error) bool {
	var be *BroadcasterError
	return errors.As(err, &be) && be.Outcome == BroadcastUnknown
}
