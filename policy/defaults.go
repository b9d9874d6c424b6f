package policy

import "github.com/ruteri/treasury-vault/interfaces"

// DefaultPolicies returns the built-in treasury account table.
func DefaultPolicies() []interfaces.AccountPolicy {
	return []interfaces.AccountPolicy{
		{
			AccountID:           "jackpotReserve",
			PermittedOperations: []interfaces.Operation{interfaces.OpRelease},
			RequiresApproval:    true,
			DailyLimit:          100000,
			SecurityLevel:       interfaces.LevelCritical,
			Description:         "Jackpot mining pool - only for gameplay rewards",
		},
		{
			AccountID:           "operationsReserve",
			PermittedOperations: []interfaces.Operation{interfaces.OpTransfer, interfaces.OpBurn},
			DailyLimit:          500000,
			SecurityLevel:       interfaces.LevelHigh,
			Description:         "Operations treasury - business expenses",
		},
		{
			AccountID:           "teamReserve",
			PermittedOperations: []interfaces.Operation{interfaces.OpTransfer},
			RequiresApproval:    true,
			DailyLimit:          200000,
			SecurityLevel:       interfaces.LevelHigh,
			Description:         "Team compensation treasury",
		},
		{
			AccountID:           "communityRewards",
			PermittedOperations: []interfaces.Operation{interfaces.OpTransfer, interfaces.OpAirdrop},
			DailyLimit:          150000,
			SecurityLevel:       interfaces.LevelMedium,
			Description:         "Community events and rewards",
		},
		{
			AccountID:           "marketing",
			PermittedOperations: []interfaces.Operation{interfaces.OpTransfer, interfaces.OpBurn},
			DailyLimit:          100000,
			SecurityLevel:       interfaces.LevelLow,
			Description:         "Marketing and growth treasury",
		},
		{
			AccountID:           "testing",
			PermittedOperations: []interfaces.Operation{interfaces.OpTransfer, interfaces.OpBurn, interfaces.OpMint},
			DailyLimit:          50000,
			SecurityLevel:       interfaces.LevelLow,
			Description:         "Development and testing treasury",
		},
	}
}

// NewDefaultRegistry builds a registry from DefaultPolicies.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPolicies())
	if err != nil {
		panic(err)
	}
	return r
}
