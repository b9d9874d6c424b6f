package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/treasury-vault/cmd/treasurycommon"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/treasury"
	"github.com/urfave/cli/v2"
)

var (
	flagAmount   = &cli.Int64Flag{Name: "amount", Required: true, Usage: "whole tokens"}
	flagTo       = &cli.StringFlag{Name: "to", Usage: "destination address"}
	flagReason   = &cli.StringFlag{Name: "reason", Usage: "recorded in the access journal"}
	flagApproval = &cli.StringFlag{Name: "approval", Usage: "approval code for accounts that require one"}
	flagRequest  = &cli.StringFlag{Name: "request-id", Usage: "idempotency and journal correlation id; generated when empty"}
)

// withAuthority opens the stack and the configured broadcaster.
func withAuthority(fn func(ctx context.Context, cCtx *cli.Context, a *treasury.Authority) (*interfaces.TransferReceipt, error)) cli.ActionFunc {
	return withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		b, closeBroadcaster, err := treasurycommon.NewBroadcaster(s.Config, logger)
		if err != nil {
			return err
		}
		defer closeBroadcaster()

		authority, err := treasurycommon.NewAuthority(s, b, logger, nil)
		if err != nil {
			return err
		}

		receipt, err := fn(ctx, cCtx, authority)
		if interfaces.IsOutcomeUnknown(err) {
			return cli.Exit(fmt.Sprintf("outcome unknown, reconcile manually: %v", err), 3)
		}
		if err != nil {
			return err
		}
		return printJSON(receipt)
	})
}

var transferCommand = &cli.Command{
	Name:  "transfer",
	Usage: "move tokens out of a treasury account",
	Flags: []cli.Flag{
		flagAccount, flagAmount, flagTo, flagReason, flagApproval, flagRequest,
		&cli.StringFlag{Name: "operation", Value: string(interfaces.OpTransfer), Usage: "transfer, airdrop, mint or release"},
	},
	Action: withAuthority(func(ctx context.Context, cCtx *cli.Context, a *treasury.Authority) (*interfaces.TransferReceipt, error) {
		account, err := parseAccount(cCtx, flagAccount.Name)
		if err != nil {
			return nil, err
		}
		op, err := interfaces.ParseOperation(cCtx.String("operation"))
		if err != nil {
			return nil, err
		}
		return a.Execute(ctx, interfaces.TransferRequest{
			RequestID:     cCtx.String(flagRequest.Name),
			Source:        account,
			Destination:   cCtx.String(flagTo.Name),
			Amount:        cCtx.Int64(flagAmount.Name),
			Operation:     op,
			Reason:        cCtx.String(flagReason.Name),
			ApprovalProof: cCtx.String(flagApproval.Name),
			Actor:         cCtx.String(flagActor.Name),
		})
	}),
}

var burnCommand = &cli.Command{
	Name:  "burn",
	Usage: "destroy tokens held by a treasury account",
	Flags: []cli.Flag{flagAccount, flagAmount, flagReason, flagApproval},
	Action: withAuthority(func(ctx context.Context, cCtx *cli.Context, a *treasury.Authority) (*interfaces.TransferReceipt, error) {
		account, err := parseAccount(cCtx, flagAccount.Name)
		if err != nil {
			return nil, err
		}
		return a.Burn(ctx, account, cCtx.Int64(flagAmount.Name), cCtx.String(flagReason.Name), cCtx.String(flagApproval.Name))
	}),
}

var releaseJackpotCommand = &cli.Command{
	Name:  "release-jackpot",
	Usage: "pay a won jackpot from the jackpot reserve",
	Flags: []cli.Flag{
		flagAmount, flagApproval, flagRequest,
		&cli.StringFlag{Name: "to", Required: true, Usage: "winner address"},
		&cli.StringFlag{Name: "tier", Required: true, Usage: "minor, major or mega"},
		&cli.StringFlag{Name: "machine", Required: true, Usage: "machine id"},
		&cli.StringFlag{Name: "session", Usage: "game session id"},
	},
	Action: withAuthority(func(ctx context.Context, cCtx *cli.Context, a *treasury.Authority) (*interfaces.TransferReceipt, error) {
		tier, err := treasury.ParseJackpotTier(cCtx.String("tier"))
		if err != nil {
			return nil, err
		}
		return a.ReleaseJackpot(ctx, treasury.JackpotRelease{
			RequestID:     cCtx.String(flagRequest.Name),
			Destination:   cCtx.String("to"),
			Amount:        cCtx.Int64(flagAmount.Name),
			Tier:          tier,
			MachineID:     cCtx.String("machine"),
			GameSession:   cCtx.String("session"),
			ApprovalProof: cCtx.String(flagApproval.Name),
			Actor:         cCtx.String(flagActor.Name),
		})
	}),
}
