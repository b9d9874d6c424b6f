package interfaces

import (
	"context"
	"time"
)

// RecordBackend persists one opaque record per account identifier.
type RecordBackend interface {
	// Fetch retrieves the record for an account. Returns ErrCredentialNotFound if absent.
	Fetch(ctx context.Context, account AccountID) ([]byte, error)

	// Store writes the record for an account, replacing any previous one.
	Store(ctx context.Context, account AccountID, data []byte) error

	// List returns the accounts that have a record.
	List(ctx context.Context) ([]AccountID, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// UsageLedger tracks per account and per calendar day the amount already moved.
type UsageLedger interface {
	// TryReserve atomically checks committed + reserved + amount <= limit and holds amount.
	TryReserve(ctx context.Context, account AccountID, amount int64, date string) (Reservation, error)

	// Commit moves a reservation into the committed amount.
	Commit(ctx context.Context, token string) error

	// Release returns a reservation without touching the committed amount.
	Release(ctx context.Context, token string) error

	// Usage returns the usage record for an account and day.
	Usage(ctx context.Context, account AccountID, date string) (DailyUsage, error)

	// Prune deletes usage records for days strictly before the given date.
	Prune(ctx context.Context, before string) (int, error)
}

// AuditSink is the durable destination of audit events.
type AuditSink interface {
	Write(ctx context.Context, event AuditEvent) error
	LastID(ctx context.Context) (uint64, error)
	Events(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter selects journal events for read-back.
type AuditFilter struct {
	AccountID AccountID
	RequestID string
	Since     time.Time
	Limit     int
}

// Matches reports whether event passes the filter.
func (f AuditFilter) Matches(event AuditEvent) bool {
	if f.AccountID != "" && event.AccountID != f.AccountID {
		return false
	}
	if f.RequestID != "" && event.RequestID != f.RequestID {
		return false
	}
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Journal records audit events. Append never fails on caller-visible paths.
type Journal interface {
	Append(ctx context.Context, event AuditEvent)
}

// LockdownSentinel is the single authoritative store of the lockdown state.
type LockdownSentinel interface {
	Load(ctx context.Context) (LockdownState, error)
	Save(ctx context.Context, state LockdownState) error
}

// LockChecker is consulted before every vault and transfer operation.
type LockChecker interface {
	IsLocked(ctx context.Context) (bool, error)
}

// PolicySource answers authorization questions for accounts.
type PolicySource interface {
	IsPermitted(account AccountID, op Operation) bool
	Policy(account AccountID) (AccountPolicy, bool)
}

// SubmitRequest is what the broadcaster receives. Secret is only valid for the duration of the call.
type SubmitRequest struct {
	RequestID   string
	Account     AccountID
	Secret      []byte
	Destination string
	Amount      int64
	Operation   Operation
}

// Broadcaster signs and submits a fund movement and returns an external reference.
type Broadcaster interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// OutcomeProber is implemented by broadcasters that can tell, after a timeout,
// whether a submission was committed.
type OutcomeProber interface {
	// Probe returns committed=true if the transfer landed, committed=false with known=true if it
	// positively did not, and known=false if it cannot tell.
	Probe(ctx context.Context, requestID string) (committed bool, known bool, err error)
}
