package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/chain"
	"poolLedger/internal/config"
	"poolLedger/internal/dex"
	"poolLedger/internal/model"
	"poolLedger/internal/monitor"
	"poolLedger/internal/storage"
	"poolLedger/internal/storage/postgres"
)

const upsertBatchSize = 1000

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	registry, err := loadRegistry(cfg.Registry)
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

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, postgres.Config{DSN: cfg.PGDSN}, registry)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	decoder, err := dex.NewDecoder(dex.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}

	decodeCtx := dex.DecodeContext{
		Context:       ctx,
		Chain:         chainClient,
		Senders:       chainClient,
		PoolMetaCache: dex.NewPoolMetaCache(),
		Tokens:        dex.NewTokenResolver(registry, dex.NewTokenMetaCache(), chainClient, logger),
		Logger:        logger,
	}

	swapWriter, err := storage.NewJSONLWriter(cfg.OutSwaps, false)
	if err != nil {
		return err
	}
	defer swapWriter.Close()

	eventWriter, err := storage.NewJSONLWriter(cfg.OutEvents, false)
	if err != nil {
		return err
	}
	defer eventWriter.Close()

	errWriter, err := storage.NewJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("in", cfg.In),
		zap.String("out_swaps", cfg.OutSwaps),
		zap.String("out_events", cfg.OutEvents),
		zap.String("errors", cfg.Errors),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	var (
		records []model.LogRecord
		total   int
		skipped int
		failed  int
	)
	err = storage.ScanFile(cfg.In, func(lineNo int, line []byte) error {
		total++
		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			writeDecodeError(errWriter, model.DecodeError{Line: lineNo, Error: err.Error()})
			return nil
		}
		if record.Topic0() == "" {
			failed++
			writeDecodeError(errWriter, model.NewDecodeError(record, fmt.Errorf("missing topic0")))
			return nil
		}
		if !decoder.CanDecode(record.Topic0()) {
			skipped++
			return nil
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	var (
		swaps   []model.Swap
		events  []model.LiquidityEvent
		nSwaps  int
		nEvents int
		nFailed int
	)
	flush := func(force bool) error {
		if store == nil {
			return nil
		}
		if force || len(swaps) >= upsertBatchSize {
			if err := store.UpsertSwaps(ctx, swaps); err != nil {
				return fmt.Errorf("upsert swaps: %w", err)
			}
			swaps = swaps[:0]
		}
		if force || len(events) >= upsertBatchSize {
			if err := store.UpsertLiquidityEvents(ctx, events); err != nil {
				return fmt.Errorf("upsert liquidity events: %w", err)
			}
			events = events[:0]
		}
		return nil
	}

	for _, txLogs := range dex.GroupByTransaction(records) {
		if err := ctx.Err(); err != nil {
			return err
		}

		decoded, decodeErr := decoder.DecodeTransaction(txLogs, decodeCtx)
		for _, logErr := range logErrors(decodeErr) {
			nFailed++
			writeDecodeError(errWriter, model.NewDecodeError(logErr.Log, logErr.Err))
		}

		for _, swap := range decoded.Swaps {
			if err := swapWriter.Write(swap); err != nil {
				return err
			}
		}
		for _, ev := range decoded.Events {
			if err := eventWriter.Write(ev); err != nil {
				return err
			}
		}
		nSwaps += len(decoded.Swaps)
		nEvents += len(decoded.Events)

		if store != nil {
			swaps = append(swaps, decoded.Swaps...)
			events = append(events, decoded.Events...)
			if err := flush(false); err != nil {
				return err
			}
		}
	}
	if err := flush(true); err != nil {
		return err
	}

	failed += nFailed
	monitor.LogsDecoded.WithLabelValues("decoded").Add(float64(len(records) - nFailed))
	monitor.LogsDecoded.WithLabelValues("skipped").Add(float64(skipped))
	monitor.LogsDecoded.WithLabelValues("failed").Add(float64(failed))

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("swaps", nSwaps),
		zap.Int("liquidity_events", nEvents),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func loadRegistry(path string) (*asset.Registry, error) {
	if path == "" {
		return asset.DefaultRegistry()
	}
	return asset.LoadRegistry(path)
}

// logErrors flattens the joined per-log failures of a transaction.
func logErrors(err error) []*dex.LogError {
	if err == nil {
		return nil
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	out := make([]*dex.LogError, 0, len(errs))
	for _, e := range errs {
		var logErr *dex.LogError
		if errors.As(e, &logErr) {
			out = append(out, logErr)
			continue
		}
		out = append(out, &dex.LogError{Err: e})
	}
	return out
}

func writeDecodeError(writer *storage.JSONLWriter, errRecord model.DecodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(errRecord)
}
