package treasury

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/ruteri/treasury-vault/interfaces"
)

// JackpotAccount is the default account jackpot payouts are drawn from.
const JackpotAccount interfaces.AccountID = "jackpotReserve"

// JackpotTier is the size class of a jackpot.
type JackpotTier string

const (
	TierMinor JackpotTier = "minor"
	TierMajor JackpotTier = "major"
	TierMega  JackpotTier = "mega"
)

// ParseJackpotTier converts a string to a JackpotTier.
func ParseJackpotTier(s string) (JackpotTier, error) {
	switch tier := JackpotTier(strings.ToLower(strings.TrimSpace(s))); tier {
	case TierMinor, TierMajor, TierMega:
		return tier, nil
	default:
		return "", fmt.Errorf("%w: unknown jackpot tier %q", interfaces.ErrInvalidRequest, s)
	}
}

// JackpotRelease is a payout of a won jackpot to a player.
// GameSession is recorded for traceability and is not validated here.
type JackpotRelease struct {
	RequestID     string
	Destination   string
	Amount        int64
	Tier          JackpotTier
	MachineID     string
	GameSession   string
	ApprovalProof string
	Actor         string
}

func (r JackpotRelease) reason() string {
	session := r.GameSession
	if session == "" {
		session = "N/A"
	}
	return fmt.Sprintf("%s jackpot on %s - session: %s", r.Tier, r.MachineID, session)
}

func (r JackpotRelease) validate() error {
	if _, err := ParseJackpotTier(string(r.Tier)); err != nil {
		return err
	}
	if strings.TrimSpace(r.MachineID) == "" {
		return fmt.Errorf("%w: machine id is required", interfaces.ErrInvalidRequest)
	}
	return nil
}

// ReleaseJackpot pays a jackpot out of the jackpot account with the release operation.
// An unknown tier or a missing machine id is rejected like any other invalid request,
// after the lockdown check and with a TRANSFER_FAILED event.
func (a *Authority) ReleaseJackpot(ctx context.Context, release JackpotRelease) (*interfaces.TransferReceipt, error) {
	if tier, err := ParseJackpotTier(string(release.Tier)); err == nil {
		release.Tier = tier
	}

	receipt, err := a.execute(ctx, interfaces.TransferRequest{
		RequestID:     release.RequestID,
		Source:        a.jackpotAccount,
		Destination:   release.Destination,
		Amount:        release.Amount,
		Operation:     interfaces.OpRelease,
		Reason:        release.reason(),
		ApprovalProof: release.ApprovalProof,
		Actor:         release.Actor,
	}, release.validate)
	if err != nil {
		return nil, err
	}

	a.recordJackpot(release.Tier, release.MachineID, release.Amount, receipt.Timestamp)
	return receipt, nil
}

// JackpotTally counts released jackpots and their total amount.
type JackpotTally struct {
	Count  int64 `json:"count"`
	Amount int64 `json:"amount"`
}

func (t *JackpotTally) add(amount int64) {
	t.Count++
	t.Amount += amount
}

// JackpotStats summarises the jackpots released since the authority was created.
type JackpotStats struct {
	TotalJackpots  int64                        `json:"totalJackpots"`
	TotalAmount    int64                        `json:"totalAmount"`
	ByTier         map[JackpotTier]JackpotTally `json:"byTier"`
	ByMachine      map[string]JackpotTally      `json:"byMachine"`
	LastReleasedAt time.Time                    `json:"lastReleasedAt"`
}

func newJackpotStats() JackpotStats {
	return JackpotStats{
		ByTier:    make(map[JackpotTier]JackpotTally),
		ByMachine: make(map[string]JackpotTally),
	}
}

func (a *Authority) recordJackpot(tier JackpotTier, machineID string, amount int64, at time.Time) {
	a.jackpotMu.Lock()
	defer a.jackpotMu.Unlock()

	a.jackpots.TotalJackpots++
	a.jackpots.TotalAmount += amount
	byTier := a.jackpots.ByTier[tier]
	byTier.add(amount)
	a.jackpots.ByTier[tier] = byTier
	byMachine := a.jackpots.ByMachine[machineID]
	byMachine.add(amount)
	a.jackpots.ByMachine[machineID] = byMachine
	a.jackpots.LastReleasedAt = at

	a.metrics.ObserveJackpot(string(tier), machineID, amount)
}

// JackpotStats returns a copy of the release statistics.
func (a *Authority) JackpotStats() JackpotStats {
	a.jackpotMu.Lock()
	defer a.jackpotMu.Unlock()

	stats := a.jackpots
	stats.ByTier = maps.Clone(a.jackpots.ByTier)
	stats.ByMachine = maps.Clone(a.jackpots.ByMachine)
	return stats
}

// Burn destroys amount from account.
func (a *Authority) Burn(ctx context.Context, account interfaces.AccountID, amount int64, reason, approvalProof string) (*interfaces.TransferReceipt, error) {
	return a.Execute(ctx, interfaces.TransferRequest{
		Source:        account,
		Amount:        amount,
		Operation:     interfaces.OpBurn,
		Reason:        reason,
		ApprovalProof: approvalProof,
	})
}
