package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/ruteri/treasury-vault/cmd/flags"
	"github.com/ruteri/treasury-vault/cmd/treasurycommon"
	"github.com/ruteri/treasury-vault/config"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/urfave/cli/v2"
)

var flagActor = &cli.StringFlag{
	Name:    "actor",
	Value:   defaultActor(),
	Usage:   "operator name recorded in the access journal",
	EnvVars: []string{"TREASURY_ACTOR"},
}

func defaultActor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "treasuryctl"
}

func main() {
	if err := flags.LoadEnvFile(os.Args); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "treasuryctl",
		Usage: "Operate the treasury vault",
		Flags: append(append(append(config.StoreFlags, config.ServerFlags...), flags.CommonFlags...), flagActor),
		Commands: []*cli.Command{
			provisionCommand,
			migrateCommand,
			listCommand,
			verifyCommand,
			usageCommand,
			pruneCommand,
			eventsCommand,
			lockdownCommand,
			approvalCodeCommand,
			transferCommand,
			burnCommand,
			releaseJackpotCommand,
			masterKeyCommand,
			adminCommand,
			unsealCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withStack opens the vault stack for the duration of fn. The journal actor is taken from --actor.
func withStack(fn func(ctx context.Context, cCtx *cli.Context, s *treasurycommon.Stack, logger *slog.Logger) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		cfg, err := config.FromCLI(cCtx)
		if err != nil {
			return err
		}
		keys, err := treasurycommon.SimpleKMS(cfg)
		if err != nil {
			return err
		}
		defer keys.Close()

		ctx := interfaces.ContextWithActor(cCtx.Context, cCtx.String(flagActor.Name))
		stack, err := treasurycommon.Open(ctx, cfg, keys, logger, nil)
		if err != nil {
			return err
		}
		defer stack.Close()

		return fn(ctx, cCtx, stack, logger)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseAccount(cCtx *cli.Context, flag string) (interfaces.AccountID, error) {
	return interfaces.NewAccountID(cCtx.String(flag))
}
