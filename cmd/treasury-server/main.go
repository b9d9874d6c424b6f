package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/treasury-vault/cmd/flags"
	"github.com/ruteri/treasury-vault/cmd/treasurycommon"
	"github.com/ruteri/treasury-vault/common"
	"github.com/ruteri/treasury-vault/config"
	"github.com/ruteri/treasury-vault/httpserver"
	"github.com/ruteri/treasury-vault/kms"
	"github.com/ruteri/treasury-vault/metrics"
	"github.com/urfave/cli/v2"
)

const pruneInterval = 24 * time.Hour

func main() {
	if err := flags.LoadEnvFile(os.Args); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "treasury-server",
		Usage: "Hold treasury credentials and serve the ops API",
		Flags: append(append(append(config.StoreFlags, config.ServerFlags...), flags.ServerFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.FromCLI(cCtx)
			if err != nil {
				logger.Error("Invalid configuration", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.NewMetrics(common.PackageName)
			serverCfg := flags.ConfigureServer(cCtx, logger)
			serverCfg.Metrics = m

			var keys kms.MasterKeySource
			var admin *httpserver.AdminHandler
			switch cfg.KMSType {
			case config.KMSSimple:
				logger.Info("Using SimpleKMS")
				simpleKMS, err := treasurycommon.SimpleKMS(cfg)
				if err != nil {
					logger.Error("Failed to create SimpleKMS", "err", err)
					return err
				}
				defer simpleKMS.Close()
				keys = simpleKMS

			case config.KMSShamir:
				logger.Info("Using ShamirKMS, waiting for admin shares", "file", cfg.AdminKeysFile, "threshold", cfg.ShamirThreshold)
				adminKeys, shamirKMS, err := treasurycommon.LoadAdmins(cfg)
				if err != nil {
					logger.Error("Failed to load admin keys", "err", err)
					return err
				}
				defer shamirKMS.Close()
				logger.Info("Admin keys loaded successfully", "count", len(adminKeys))
				admin = httpserver.NewAdminHandler(logger, adminKeys, shamirKMS)
				keys = shamirKMS
			}

			// The handler is installed once the vault can be opened.
			server, err := httpserver.New(serverCfg, nil, admin)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()
			defer server.Shutdown()

			if admin != nil {
				unsealCtx, cancel := context.WithTimeout(ctx, cfg.UnsealTimeout)
				err := admin.WaitForUnseal(unsealCtx)
				cancel()
				if err != nil {
					logger.Error("Vault was not unsealed", "err", err)
					return err
				}
				logger.Info("Vault unsealed")
			}

			stack, err := treasurycommon.Open(ctx, cfg, keys, logger, m)
			if err != nil {
				logger.Error("Failed to open treasury", "err", err)
				return err
			}
			defer stack.Close()

			b, closeBroadcaster, err := treasurycommon.NewBroadcaster(cfg, logger)
			if err != nil {
				logger.Error("Failed to create broadcaster", "err", err)
				return err
			}
			defer closeBroadcaster()

			authority, err := treasurycommon.NewAuthority(stack, b, logger, m)
			if err != nil {
				logger.Error("Failed to create transfer authority", "err", err)
				return err
			}

			health, err := authority.HealthCheck(ctx)
			if err != nil {
				logger.Error("Startup health check failed", "err", err)
				return err
			}
			logger.Info("Treasury started", "status", health.Status, "locked", health.Locked, "warnings", len(health.Warnings))

			if cfg.AdminToken == "" {
				logger.Warn("No admin token configured, lockdown can only be activated with treasuryctl")
			}
			server.SetHandler(httpserver.NewHandler(authority, stack.Lock, cfg.AdminToken, logger))

			go treasurycommon.RunPruner(ctx, stack, pruneInterval, logger, m)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-ctx.Done()
			logger.Info("Shutdown signal received")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
