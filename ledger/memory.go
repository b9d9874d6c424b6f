package ledger

import (
	"context"
	"sync"

	"github.com/ruteri/treasury-vault/interfaces"
)

type usageKey struct {
	account interfaces.AccountID
	date    string
}

type usageCounter struct {
	reserved  int64
	committed int64
}

// MemoryLedger keeps usage in process memory. A single mutex makes check-and-increment atomic.
type MemoryLedger struct {
	limits LimitSource

	mu           sync.Mutex
	usage        map[usageKey]*usageCounter
	reservations map[string]interfaces.Reservation
}

// NewMemoryLedger creates a ledger that keeps usage in process memory.
func NewMemoryLedger(limits LimitSource) *MemoryLedger {
	return &MemoryLedger{
		limits:       limits,
		usage:        make(map[usageKey]*usageCounter),
		reservations: make(map[string]interfaces.Reservation),
	}
}

// TryReserve holds amount against the account's limit for date under a single lock.
func (l *MemoryLedger) TryReserve(ctx context.Context, account interfaces.AccountID, amount int64, date string) (interfaces.Reservation, error) {
	limit := l.limits.DailyLimit(account)
	if err := validateReserve(account, amount, limit, date); err != nil {
		return interfaces.Reservation{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := usageKey{account, date}
	counter, ok := l.usage[key]
	if !ok {
		counter = &usageCounter{}
	}

	if exceeds(limit, counter.committed, counter.reserved, amount) {
		return interfaces.Reservation{}, limitError(account, date, limit, counter.committed, counter.reserved, amount)
	}

	counter.reserved += amount
	l.usage[key] = counter

	res := interfaces.Reservation{Token: newToken(), AccountID: account, Date: date, Amount: amount}
	l.reservations[res.Token] = res
	return res, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, token string) error {
	return l.settle(token, true)
}

func (l *MemoryLedger) Release(ctx context.Context, token string) error {
	return l.settle(token, false)
}

func (l *MemoryLedger) settle(token string, commit bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[token]
	if !ok {
		return interfaces.ErrInvalidToken
	}
	delete(l.reservations, token)

	counter := l.usage[usageKey{res.AccountID, res.Date}]
	if counter == nil {
		// pruned while held
		return nil
	}
	counter.reserved -= res.Amount
	if commit {
		counter.committed += res.Amount
	}
	return nil
}

func (l *MemoryLedger) Usage(ctx context.Context, account interfaces.AccountID, date string) (interfaces.DailyUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := interfaces.DailyUsage{AccountID: account, Date: date, Limit: l.limits.DailyLimit(account)}
	if counter, ok := l.usage[usageKey{account, date}]; ok {
		usage.Reserved = counter.reserved
		usage.Committed = counter.committed
	}
	return usage, nil
}

func (l *MemoryLedger) Prune(ctx context.Context, before string) (int, error) {
	if _, err := interfaces.ParseDateKey(before); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key := range l.usage {
		if key.date < before {
			delete(l.usage, key)
			pruned++
		}
	}
	for token, res := range l.reservations {
		if res.Date < before {
			delete(l.reservations, token)
		}
	}
	return pruned, nil
}
