// Package interfaces defines the types, contracts and sentinel errors shared by the
// treasury components, separating them from their implementations.
//
// # Domain Types
//
//   - AccountID, AccountPolicy, Operation, SecurityLevel
//   - CredentialRecord, SealedBlob, CredentialMetadata
//   - TransferRequest, TransferReceipt, Reservation, DailyUsage
//   - AuditEvent, AuditAction, LockdownState
//
// # Component Interfaces
//
//   - RecordBackend: persists sealed credential records (file, sqlite, s3, vault, memory)
//   - UsageLedger: reserves, commits and releases daily spending
//   - AuditSink and Journal: append-only access journal
//   - LockdownSentinel and LockChecker: emergency lockdown state
//   - PolicySource: per-account permissions and limits
//   - Broadcaster and OutcomeProber: the external signer that moves tokens
//
// # Errors
//
// Every refusal wraps one of the sentinel errors (ErrVaultLocked, ErrOperationNotPermitted,
// ErrApprovalRequired, ErrDailyLimitExceeded, ...) so callers can branch with errors.Is.
// Broadcaster failures are *BroadcasterError values; IsOutcomeUnknown tells whether funds
// may have moved.
package interfaces
