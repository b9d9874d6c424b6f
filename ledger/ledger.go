package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ruteri/treasury-vault/interfaces"
)

// LimitSource supplies the daily ceiling of an account. Unknown accounts have a zero limit.
// policy.Registry satisfies it.
type LimitSource interface {
	DailyLimit(account interfaces.AccountID) int64
}

// DefaultRetentionDays is how long daily usage records are kept before Prune removes them.
const DefaultRetentionDays = 30

// validateReserve rejects amounts and limits above interfaces.MaxAmount, which the Redis
// scripts could not compare exactly.
func validateReserve(account interfaces.AccountID, amount, limit int64, date string) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: reservation amount must be positive", interfaces.ErrInvalidRequest)
	}
	if amount > interfaces.MaxAmount {
		return fmt.Errorf("%w: reservation amount exceeds %d", interfaces.ErrInvalidRequest, interfaces.MaxAmount)
	}
	if limit > interfaces.MaxAmount {
		return fmt.Errorf("%w: daily limit of %s exceeds %d", interfaces.ErrInvalidRequest, account, interfaces.MaxAmount)
	}
	if _, err := interfaces.ParseDateKey(date); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidRequest, err)
	}
	return nil
}

// exceeds reports whether amount does not fit in the headroom. Written to avoid overflow.
func exceeds(limit, committed, reserved, amount int64) bool {
	return amount > limit-committed-reserved
}

func limitError(account interfaces.AccountID, date string, limit, committed, reserved, amount int64) error {
	remaining := limit - committed - reserved
	if remaining < 0 {
		remaining = 0
	}
	return &interfaces.DailyLimitExceededError{
		AccountID: account,
		Date:      date,
		Requested: amount,
		Remaining: remaining,
		Limit:     limit,
	}
}

func newToken() string {
	return uuid.NewString()
}
