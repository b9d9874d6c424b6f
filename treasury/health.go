package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/vault"
)

const (
	StatusHealthy           = "HEALTHY"
	StatusAttentionRequired = "ATTENTION_REQUIRED"

	// UsageWarningPercent is the share of the daily limit above which health reports a warning.
	UsageWarningPercent = 80.0
)

// AccountUsage is the daily usage of one account as reported to operators.
type AccountUsage struct {
	AccountID   interfaces.AccountID `json:"accountId"`
	Date        string               `json:"date"`
	Limit       int64                `json:"limit"`
	Committed   int64                `json:"committed"`
	Reserved    int64                `json:"reserved"`
	Remaining   int64                `json:"remaining"`
	PercentUsed float64              `json:"percentUsed"`
}

// UsageSummary reports today's usage of every configured account.
func (a *Authority) UsageSummary(ctx context.Context) ([]AccountUsage, error) {
	date := a.Today()
	accounts := a.policies.Accounts()

	summary := make([]AccountUsage, 0, len(accounts))
	for _, account := range accounts {
		usage, err := a.ledger.Usage(ctx, account, date)
		if err != nil {
			return nil, fmt.Errorf("failed to read usage of %s: %w", account, err)
		}

		entry := AccountUsage{
			AccountID: account,
			Date:      date,
			Limit:     usage.Limit,
			Committed: usage.Committed,
			Reserved:  usage.Reserved,
			Remaining: usage.Remaining(),
		}
		if usage.Limit > 0 {
			entry.PercentUsed = float64(usage.Committed+usage.Reserved) / float64(usage.Limit) * 100
		}
		a.metrics.SetDailyUsage(account.String(), entry.PercentUsed/100)
		summary = append(summary, entry)
	}
	return summary, nil
}

// Health is the operator view of the treasury.
type Health struct {
	Status    string                 `json:"status"`
	Locked    bool                   `json:"locked"`
	Integrity *vault.IntegrityReport `json:"vaultIntegrity,omitempty"`
	Usage     []AccountUsage         `json:"dailyLimits"`
	Warnings  []string               `json:"warnings"`
	CheckedAt time.Time              `json:"lastCheck"`
}

// HealthCheck verifies every configured account's credential, reads the lockdown state and
// today's usage. Any warning turns the status to ATTENTION_REQUIRED.
func (a *Authority) HealthCheck(ctx context.Context) (*Health, error) {
	health := &Health{
		Warnings:  []string{},
		CheckedAt: a.clock.Now().UTC(),
	}

	locked, err := a.lock.IsLocked(ctx)
	if err != nil {
		a.log.Warn("Lockdown state unreadable during health check", "err", err)
	}
	health.Locked = locked
	if locked {
		health.Warnings = append(health.Warnings, "Treasury is in emergency lockdown")
	} else {
		report, err := a.vault.VerifyIntegrity(ctx, a.policies.Accounts())
		if err != nil {
			return nil, fmt.Errorf("failed to verify vault integrity: %w", err)
		}
		health.Integrity = &report
		if report.Score < 100 {
			health.Warnings = append(health.Warnings, "Vault integrity issues detected")
		}
	}

	usage, err := a.UsageSummary(ctx)
	if err != nil {
		return nil, err
	}
	health.Usage = usage
	for _, u := range usage {
		if u.PercentUsed > UsageWarningPercent {
			health.Warnings = append(health.Warnings, fmt.Sprintf("%s daily limit %.1f%% used", u.AccountID, u.PercentUsed))
		}
	}

	health.Status = StatusHealthy
	if len(health.Warnings) > 0 {
		health.Status = StatusAttentionRequired
		a.log.Warn("Treasury needs attention", slog.Any("warnings", health.Warnings))
	}
	return health, nil
}
