package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolLedger/internal/chain"
	"poolLedger/internal/config"
	"poolLedger/internal/indexer"
	"poolLedger/internal/storage"
)

func runIndex(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIndex(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	addresses, err := indexer.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}

	topic0, err := indexer.ParseTopic0(cfg.Topic0)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startMetrics(ctx, cmd, logger)

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	from, to, err := resolveBlocks(ctx, chainClient, cfg)
	if err != nil {
		return err
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:         from,
		ToBlock:           to,
		Addresses:         addresses,
		Topic0:            topic0,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		Retry: indexer.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
			MaxDelay:   cfg.RetryMaxDelay,
		},
	}, chainClient, storage.NewJSONLLogSink(cfg.Out), logger)

	logger.Info("index start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("addresses", len(addresses)),
		zap.Int("topic0", len(topic0)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	return runner.Run(ctx)
}

// resolveBlocks maps from-ts/to-ts onto block numbers when the block bounds
// are not given explicitly.
func resolveBlocks(ctx context.Context, client *chain.Client, cfg config.IndexConfig) (uint64, uint64, error) {
	from, to := cfg.FromBlock, cfg.ToBlock
	if from == 0 && cfg.FromTimestamp > 0 {
		block, err := client.BlockAtTimestamp(ctx, cfg.FromTimestamp)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve from-ts: %w", err)
		}
		from = block
	}
	if to == 0 && cfg.ToTimestamp > 0 {
		block, err := client.BlockAtTimestamp(ctx, cfg.ToTimestamp+1)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve to-ts: %w", err)
		}
		ts, err := client.BlockTimestamp(ctx, block)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve to-ts: %w", err)
		}
		if ts > cfg.ToTimestamp && block > 0 {
			block--
		}
		to = block
	}
	if to != 0 && from > to {
		return 0, 0, fmt.Errorf("from block %d is after to block %d", from, to)
	}
	return from, to, nil
}
