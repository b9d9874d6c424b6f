package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ruteri/treasury-vault/broadcaster"
	"github.com/ruteri/treasury-vault/cmd/treasurycommon"
	"github.com/ruteri/treasury-vault/cryptoutils"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/urfave/cli/v2"
)

var flagAccount = &cli.StringFlag{
	Name:     "account",
	Required: true,
	Usage:    "treasury account id",
}

var provisionCommand = &cli.Command{
	Name:  "provision",
	Usage: "seal an account's key file into the vault",
	Flags: []cli.Flag{
		flagAccount,
		&cli.StringFlag{Name: "key-file", Required: true, Usage: "JSON key file (byte array or object with secretKey/privateKey)"},
	},
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		account, err := parseAccount(cCtx, flagAccount.Name)
		if err != nil {
			return err
		}
		level, err := provisionFile(ctx, s, account, cCtx.String("key-file"))
		if err != nil {
			return err
		}
		fmt.Printf("%s stored with security level %s\n", account, level)
		return nil
	}),
}

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "seal every <account>-wallet.json file of a keys directory",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "keys-dir", Required: true, Usage: "directory with plaintext key files"},
	},
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		files, accounts, err := walletFiles(cCtx.String("keys-dir"))
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return fmt.Errorf("no *%s files found", walletSuffix)
		}

		failed := 0
		for _, account := range accounts {
			level, err := provisionFile(ctx, s, account, files[account])
			if err != nil {
				failed++
				logger.Error("Failed to migrate key file", slog.String("account", account.String()), "err", err)
				continue
			}
			fmt.Printf("%s migrated (%s)\n", account, level)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d key files failed to migrate", failed, len(accounts))
		}
		return nil
	}),
}

func provisionFile(ctx context.Context, s *treasurycommon.Stack, account interfaces.AccountID, path string) (interfaces.SecurityLevel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	defer cryptoutils.WipeBytes(data)

	secret, meta, err := parseKeyFile(data, account)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	defer cryptoutils.WipeBytes(secret)

	return s.Store.Put(ctx, account, secret, meta)
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list vault records without decrypting them",
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		summaries, err := s.Store.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(summaries)
	}),
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "decrypt every account's record and report integrity",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "accounts", Usage: "accounts to verify; all policy accounts when empty"},
	},
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		accounts := s.Policies.Accounts()
		if names := cCtx.StringSlice("accounts"); len(names) > 0 {
			accounts = accounts[:0]
			for _, name := range names {
				account, err := interfaces.NewAccountID(name)
				if err != nil {
					return err
				}
				accounts = append(accounts, account)
			}
		}

		report, err := s.Store.VerifyIntegrity(ctx, accounts)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.Healthy() {
			return cli.Exit("vault integrity issues detected", 2)
		}
		return nil
	}),
}

var usageCommand = &cli.Command{
	Name:  "usage",
	Usage: "show today's usage against the daily limits",
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		authority, err := treasurycommon.NewAuthority(s, broadcaster.NewMock(), logger, nil)
		if err != nil {
			return err
		}
		usage, err := authority.UsageSummary(ctx)
		if err != nil {
			return err
		}
		return printJSON(usage)
	}),
}

var pruneCommand = &cli.Command{
	Name:  "prune",
	Usage: "delete usage records older than the retention period",
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		pruned, err := treasurycommon.PruneUsage(ctx, s, logger, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%d records pruned\n", pruned)
		return nil
	}),
}

var eventsCommand = &cli.Command{
	Name:  "events",
	Usage: "read back the access journal",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "account", Usage: "only events of this account"},
		&cli.StringFlag{Name: "request-id", Usage: "only events of this transfer request"},
		&cli.DurationFlag{Name: "since", Usage: "only events newer than this"},
		&cli.IntFlag{Name: "limit", Value: 100, Usage: "maximum number of events"},
	},
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		filter := interfaces.AuditFilter{
			AccountID: interfaces.AccountID(cCtx.String("account")),
			RequestID: cCtx.String("request-id"),
			Limit:     cCtx.Int("limit"),
		}
		if since := cCtx.Duration("since"); since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		events, err := s.Journal.Events(ctx, filter)
		if err != nil {
			return err
		}
		return printJSON(events)
	}),
}

var lockdownCommand = &cli.Command{
	Name:  "lockdown",
	Usage: "inspect or change the emergency lockdown",
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "show the lockdown state",
			Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
				state, err := s.Lock.State(ctx)
				if err != nil {
					return err
				}
				return printJSON(state)
			}),
		},
		{
			Name:  "activate",
			Usage: "refuse every vault and transfer operation",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "reason", Required: true},
			},
			Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
				return s.Lock.Activate(ctx, cCtx.String("reason"), cCtx.String(flagActor.Name))
			}),
		},
		{
			Name:  "clear",
			Usage: "lift the lockdown",
			Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
				return s.Lock.Clear(ctx, cCtx.String(flagActor.Name))
			}),
		},
	},
}

var approvalCodeCommand = &cli.Command{
	Name:  "approval-code",
	Usage: "print the approval code for an account, operation and day",
	Flags: []cli.Flag{
		flagAccount,
		&cli.StringFlag{Name: "operation", Value: string(interfaces.OpRelease)},
		&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD; today in the configured timezone when empty"},
	},
	Action: withStack(func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error {
		account, err := parseAccount(cCtx, flagAccount.Name)
		if err != nil {
			return err
		}
		op, err := interfaces.ParseOperation(cCtx.String("operation"))
		if err != nil {
			return err
		}
		date := cCtx.String("date")
		if date == "" {
			date = interfaces.DateKey(s.Clock.Now(), s.Config.Location)
		} else if _, err := time.Parse(time.DateOnly, date); err != nil {
			return fmt.Errorf("invalid date %q", date)
		}
		fmt.Println(s.Approver.Code(account, op, date))
		return nil
	}),
}
