package treasurycommon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/treasury-vault/broadcaster"
	"github.com/ruteri/treasury-vault/broadcaster/ethereum"
	"github.com/ruteri/treasury-vault/config"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/metrics"
	"github.com/ruteri/treasury-vault/treasury"
)

// NewBroadcaster connects the configured broadcaster. The returned func releases the connection.
func NewBroadcaster(cfg *config.Config, log *slog.Logger) (interfaces.Broadcaster, func(), error) {
	switch cfg.Broadcaster {
	case config.BroadcasterEthereum:
		log.Info("Connecting to Ethereum RPC", "address", cfg.RPCAddr)
		client, err := ethclient.Dial(cfg.RPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial RPC: %w", err)
		}
		b, err := ethereum.NewBroadcaster(client, ethereum.Config{
			Token:    cfg.Token,
			ChainID:  cfg.ChainID,
			Decimals: cfg.TokenDecimals,
			GasLimit: cfg.GasLimit,
		}, log)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return b, client.Close, nil
	default:
		log.Warn("Using mock broadcaster, no transactions reach a chain")
		return broadcaster.NewMock(), func() {}, nil
	}
}

// NewAuthority builds the transfer authority over an opened stack.
func NewAuthority(s *Stack, b interfaces.Broadcaster, log *slog.Logger, m *metrics.Metrics) (*treasury.Authority, error) {
	return treasury.NewAuthority(treasury.Config{
		Vault:         s.Store,
		Policies:      s.Policies,
		Ledger:        s.Ledger,
		Approver:      s.Approver,
		Broadcaster:   b,
		Lock:          s.Lock,
		Journal:       s.Journal,
		Clock:         s.Clock,
		Location:      s.Config.Location,
		SubmitTimeout: s.Config.SubmitTimeout,
		ProbeTimeout:  s.Config.ProbeTimeout,
		Log:           log,
		Metrics:       m,
	})
}

// PruneUsage removes usage records older than the configured retention.
func PruneUsage(ctx context.Context, s *Stack, log *slog.Logger, m *metrics.Metrics) (int, error) {
	cutoff := s.Clock.Now().AddDate(0, 0, -s.Config.RetentionDays)
	before := interfaces.DateKey(cutoff, s.Config.Location)

	pruned, err := s.Ledger.Prune(ctx, before)
	if err != nil {
		return 0, err
	}
	m.AddPruned(pruned)
	log.Info("Pruned daily usage records", slog.Int("records", pruned), slog.String("before", before))
	return pruned, nil
}

// RunPruner prunes once immediately and then every interval until ctx is done.
func RunPruner(ctx context.Context, s *Stack, interval time.Duration, log *slog.Logger, m *metrics.Metrics) {
	ticker := s.Clock.Ticker(interval)
	defer ticker.Stop()
	for {
		if _, err := PruneUsage(ctx, s, log, m); err != nil {
			log.Error("Failed to prune usage records", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
