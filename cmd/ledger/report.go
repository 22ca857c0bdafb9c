package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolLedger/internal/chain"
	"poolLedger/internal/config"
	"poolLedger/internal/dex"
	"poolLedger/internal/indexer"
	"poolLedger/internal/ledger"
	"poolLedger/internal/pool"
	"poolLedger/internal/price"
	"poolLedger/internal/storage"
	"poolLedger/internal/storage/postgres"
)

func newReportCommand(use, short string, ops ledger.Operation) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, ops)
		},
	}

	cmd.Flags().String("source", config.SourceJSONL, "record source (jsonl, pg)")
	cmd.Flags().String("swaps", "./data/swaps.jsonl", "swaps JSONL for the jsonl source")
	cmd.Flags().String("events", "./data/liquidity_events.jsonl", "liquidity events JSONL for the jsonl source")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for the pg source and stored prices")
	cmd.Flags().StringSlice("address", nil, "account addresses (comma-separated)")
	cmd.Flags().String("from", "", "window start (unix seconds or RFC3339)")
	cmd.Flags().String("to", "", "window end (unix seconds or RFC3339), defaults to now")
	cmd.Flags().String("currency", "USD", "reference currency")
	cmd.Flags().String("valuation", string(pool.ValuationLPToken), "LP valuation mode (lp_token, constituents)")
	cmd.Flags().Int("concurrency", 4, "addresses processed in parallel")
	cmd.Flags().String("registry", "", "asset registry JSON, defaults to the embedded registry")
	cmd.Flags().String("out", "", "output JSON path, defaults to stdout")
	cmd.Flags().String("prices", "", "static price table JSON")
	cmd.Flags().Duration("price-max-age", 0, "oldest stored price accepted for a timestamp")
	cmd.Flags().Bool("cryptocompare", false, "fall back to CryptoCompare historical prices")
	cmd.Flags().String("cryptocompare-url", price.DefaultCryptoCompareURL, "CryptoCompare API base URL")
	cmd.Flags().String("cryptocompare-api-key", "", "CryptoCompare API key")
	cmd.Flags().Duration("cryptocompare-timeout", 0, "CryptoCompare request timeout")
	cmd.Flags().Int("cryptocompare-retries", 0, "CryptoCompare retry count")
	cmd.Flags().Float64("cryptocompare-rate", 0, "CryptoCompare requests per second")
	cmd.Flags().String("rpc", "", "read pool-share balances on chain through this RPC URL")
	cmd.Flags().Uint64("share-block", 0, "block for on-chain share balances, 0 means latest")
	addLogFlags(cmd)

	return cmd
}

func runReport(cmd *cobra.Command, ops ledger.Operation) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReport(cfgFile, cmd.Flags())
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
	valuation, err := pool.ParseValuation(cfg.Valuation)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg.Registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startMetrics(ctx, cmd, logger)

	var (
		swaps  ledger.SwapSource
		events ledger.EventSource
		oracle price.Chain
	)

	if cfg.Prices != "" {
		static, err := price.LoadStaticOracle(cfg.Prices)
		if err != nil {
			return err
		}
		oracle = append(oracle, static)
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, postgres.Config{DSN: cfg.PGDSN, PriceMaxAge: cfg.PriceMaxAge}, registry)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		oracle = append(oracle, store)
		if cfg.Source == config.SourcePostgres {
			swaps, events = store, store
		}
	}
	if cfg.Source == config.SourceJSONL {
		source := storage.NewJSONLSource(cfg.Swaps, cfg.Events, registry, logger)
		swaps, events = source, source
	}

	if cfg.CryptoCompare {
		oracle = append(oracle, price.NewCryptoCompareOracle(price.CryptoCompareConfig{
			BaseURL:       cfg.CryptoCompareURL,
			APIKey:        cfg.CryptoCompareAPIKey,
			Timeout:       cfg.CryptoCompareTimeout,
			RetryCount:    cfg.CryptoCompareRetries,
			RatePerSecond: cfg.CryptoCompareRate,
		}, logger))
	}

	service := ledger.NewService(ledger.Config{
		Currency:    cfg.Currency,
		Valuation:   valuation,
		Concurrency: cfg.Concurrency,
		SourceName:  cfg.Source,
	}, swaps, events, oracle, registry, logger)

	if cfg.RPCURL != "" && ops&ledger.OpPoolShares != 0 {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		service.SetShareReader(dex.NewShareReader(chainClient, cfg.ShareBlock))
	}

	logger.Info("report start",
		zap.String("command", cmd.Name()),
		zap.String("source", cfg.Source),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Int("addresses", len(addresses)),
		zap.Uint64("from", cfg.From),
		zap.Uint64("to", cfg.To),
		zap.String("currency", cfg.Currency),
		zap.String("valuation", string(valuation)),
		zap.Int("oracles", len(oracle)),
	)

	reports := service.Batch(ctx, addresses, cfg.From, cfg.To, ops)
	if err := ctx.Err(); err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
	}
	logger.Info("report complete", zap.Int("addresses", len(reports)), zap.Int("failed", failed))

	if err := writeReports(cfg.Out, reports); err != nil {
		return err
	}
	if failed == len(reports) && failed > 0 {
		return fmt.Errorf("all %d addresses failed", failed)
	}
	return nil
}

func writeReports(path string, reports []ledger.Report) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reports: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	return nil
}
