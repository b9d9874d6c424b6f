package policy

import (
	"fmt"
	"sort"

	"github.com/ruteri/treasury-vault/interfaces"
)

// Registry is the static table of account policies. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	policies map[interfaces.AccountID]interfaces.AccountPolicy
}

// NewRegistry validates the policies and builds a registry.
// Duplicate accounts, negative limits and unknown operations are rejected.
func NewRegistry(policies []interfaces.AccountPolicy) (*Registry, error) {
	r := &Registry{policies: make(map[interfaces.AccountID]interfaces.AccountPolicy, len(policies))}

	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.policies[p.AccountID]; dup {
			return nil, fmt.Errorf("%w: duplicate policy for %s", interfaces.ErrInvalidRequest, p.AccountID)
		}

		ops := make([]interfaces.Operation, 0, len(p.PermittedOperations))
		for _, op := range p.PermittedOperations {
			parsed, _ := interfaces.ParseOperation(string(op))
			ops = append(ops, parsed)
		}
		p.PermittedOperations = ops
		r.policies[p.AccountID] = p
	}

	return r, nil
}

// IsPermitted reports whether op is allowed on account. Unknown accounts are never permitted.
func (r *Registry) IsPermitted(account interfaces.AccountID, op interfaces.Operation) bool {
	p, ok := r.policies[account]
	if !ok {
		return false
	}
	return p.Permits(op)
}

// Policy returns a copy of the policy of account.
func (r *Registry) Policy(account interfaces.AccountID) (interfaces.AccountPolicy, bool) {
	p, ok := r.policies[account]
	if !ok {
		return interfaces.AccountPolicy{}, false
	}
	p.PermittedOperations = append([]interfaces.Operation(nil), p.PermittedOperations...)
	return p, true
}

// DailyLimit returns the daily ceiling of account, zero when the account is unknown.
func (r *Registry) DailyLimit(account interfaces.AccountID) int64 {
	return r.policies[account].DailyLimit
}

// SecurityLevel returns the configured level of account, MEDIUM when unset or unknown.
func (r *Registry) SecurityLevel(account interfaces.AccountID) interfaces.SecurityLevel {
	if p, ok := r.policies[account]; ok && p.SecurityLevel != "" {
		return p.SecurityLevel
	}
	return interfaces.LevelMedium
}

// Accounts returns the configured accounts in sorted order.
func (r *Registry) Accounts() []interfaces.AccountID {
	accounts := make([]interfaces.AccountID, 0, len(r.policies))
	for account := range r.policies {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}
