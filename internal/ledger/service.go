// Package ledger exposes the read operations over an address's swaps and
// liquidity events: trade history, pool events balances and pool-share
// balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/monitor"
	"poolLedger/internal/money"
	"poolLedger/internal/pool"
	"poolLedger/internal/price"
	"poolLedger/internal/trades"
)

// SwapSource yields the swaps of an address within [from, to], ordered by
// (timestamp, log index). Re-reading a window yields the same records.
type SwapSource interface {
	Swaps(ctx context.Context, address common.Address, from, to uint64) ([]model.Swap, error)
}

// EventSource yields the liquidity events of an address within [from, to],
// ordered by (timestamp, log index).
type EventSource interface {
	LiquidityEvents(ctx context.Context, address common.Address, from, to uint64) ([]model.LiquidityEvent, error)
}

// ShareBalanceReader reads the current pool-share balance of a holder.
type ShareBalanceReader interface {
	ShareBalance(ctx context.Context, pool, holder common.Address) (money.Decimal, error)
}

// PartialError wraps failures that were isolated to some transactions or
// pools. The result returned alongside it is usable.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string { return "partial result: " + e.Err.Error() }
func (e *PartialError) Unwrap() error { return e.Err }

// Config controls the service.
type Config struct {
	Currency    string
	Valuation   pool.Valuation
	Concurrency int
	SourceName  string
}

// Service answers the read operations for one or many addresses.
type Service struct {
	cfg      Config
	swaps    SwapSource
	events   EventSource
	oracle   price.Oracle
	registry *asset.Registry
	shares   ShareBalanceReader
	logger   *zap.Logger
}

func NewService(cfg Config, swaps SwapSource, events EventSource, oracle price.Oracle, registry *asset.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = price.DefaultCurrency
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "unknown"
	}
	return &Service{
		cfg:      cfg,
		swaps:    swaps,
		events:   events,
		oracle:   oracle,
		registry: registry,
		logger:   logger,
	}
}

// SetShareReader makes PoolShareBalances read holdings from chain instead of
// summing events.
func (s *Service) SetShareReader(r ShareBalanceReader) {
	s.shares = r
}

// run carries the state of one address run. Its price cache is not shared.
type run struct {
	s      *Service
	oracle price.Oracle
	logger *zap.Logger
}

func (s *Service) newRun(address common.Address) *run {
	return &run{
		s:      s,
		oracle: price.NewRunCache(s.oracle),
		logger: s.logger.With(zap.String("address", address.Hex())),
	}
}

// TradesHistory returns the trades of address in [from, to], most recent
// first. Transactions with malformed swaps are dropped and reported through a
// *PartialError.
func (s *Service) TradesHistory(ctx context.Context, address common.Address, from, to uint64) ([]model.Trade, error) {
	return s.newRun(address).trades(ctx, address, from, to)
}

// PoolEventsBalances returns one balance per pool the address touched in
// [from, to], keyed by pool address. Pools that fail are omitted and reported
// through a *PartialError.
func (s *Service) PoolEventsBalances(ctx context.Context, address common.Address, from, to uint64) (map[common.Address]model.PoolEventsBalance, error) {
	return s.newRun(address).poolEvents(ctx, address, from, to)
}

// PoolShareBalances returns the pool-share holdings of address at to.
func (s *Service) PoolShareBalances(ctx context.Context, address common.Address, to uint64) ([]model.PoolShareBalance, error) {
	return s.newRun(address).poolShares(ctx, address, to)
}

func (r *run) trades(ctx context.Context, address common.Address, from, to uint64) ([]model.Trade, error) {
	start := time.Now()
	defer func() { monitor.RunDuration.WithLabelValues("trades").Observe(time.Since(start).Seconds()) }()

	if r.s.swaps == nil {
		return nil, fmt.Errorf("swap source is nil")
	}
	swaps, err := r.s.swaps.Swaps(ctx, address, from, to)
	if err != nil {
		return nil, fmt.Errorf("read swaps: %w", err)
	}
	monitor.SwapsRead.WithLabelValues(r.s.cfg.SourceName).Add(float64(len(swaps)))

	out, err := trades.NewAggregator(r.logger).Aggregate(swaps)
	monitor.TradesBuilt.Add(float64(len(out)))
	if out == nil {
		out = []model.Trade{}
	}
	if err != nil {
		if !errors.Is(err, trades.ErrMalformedSwap) {
			return nil, err
		}
		monitor.MalformedSwaps.Add(float64(countJoined(err)))
		return out, &PartialError{Err: err}
	}
	r.logger.Debug("trades built", zap.Int("swaps", len(swaps)), zap.Int("trades", len(out)))
	return out, nil
}

func (r *run) poolEvents(ctx context.Context, address common.Address, from, to uint64) (map[common.Address]model.PoolEventsBalance, error) {
	start := time.Now()
	defer func() { monitor.RunDuration.WithLabelValues("pool_events").Observe(time.Since(start).Seconds()) }()

	if r.s.events == nil {
		return nil, fmt.Errorf("event source is nil")
	}
	events, err := r.s.events.LiquidityEvents(ctx, address, from, to)
	if err != nil {
		return nil, fmt.Errorf("read liquidity events: %w", err)
	}
	for _, ev := range events {
		monitor.LiquidityEventsRead.WithLabelValues(string(ev.Type())).Inc()
	}

	acct := pool.NewAccountant(pool.Config{
		Currency:  r.s.cfg.Currency,
		Valuation: r.s.cfg.Valuation,
	}, r.oracle, r.s.registry, r.logger)
	balances, err := acct.AccountAll(ctx, address, events)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	out := make(map[common.Address]model.PoolEventsBalance, len(balances))
	for _, b := range balances {
		if b.USDProfitLoss == nil {
			monitor.PoolsAccounted.WithLabelValues(monitor.OutcomeUnpriced).Inc()
		} else {
			monitor.PoolsAccounted.WithLabelValues(monitor.OutcomePriced).Inc()
		}
		out[b.PoolAddress] = b
	}
	if err != nil {
		monitor.PoolsAccounted.WithLabelValues(monitor.OutcomeFailed).Add(float64(countJoined(err)))
		return out, &PartialError{Err: err}
	}
	return out, nil
}

func (r *run) poolShares(ctx context.Context, address common.Address, to uint64) ([]model.PoolShareBalance, error) {
	start := time.Now()
	defer func() { monitor.RunDuration.WithLabelValues("pool_shares").Observe(time.Since(start).Seconds()) }()

	if r.s.events == nil {
		return nil, fmt.Errorf("event source is nil")
	}
	events, err := r.s.events.LiquidityEvents(ctx, address, 0, to)
	if err != nil {
		return nil, fmt.Errorf("read liquidity events: %w", err)
	}

	type holding struct {
		amount money.Decimal
		tokens []model.PoolToken
	}
	holdings := make(map[common.Address]*holding)
	var order []common.Address
	for _, ev := range events {
		h := ev.Header()
		cur := holdings[h.PoolAddress]
		if cur == nil {
			cur = &holding{}
			holdings[h.PoolAddress] = cur
			order = append(order, h.PoolAddress)
		}
		if len(h.PoolTokens) > 0 {
			cur.tokens = h.PoolTokens
		}
		var err error
		switch ev.(type) {
		case model.Mint:
			cur.amount, err = cur.amount.Add(h.LPBalance.Amount)
		case model.Burn:
			cur.amount, err = cur.amount.Sub(h.LPBalance.Amount)
		}
		if err != nil {
			return nil, fmt.Errorf("event %s/%d: share balance: %w", h.TxHash, h.LogIndex, err)
		}
	}

	out := make([]model.PoolShareBalance, 0, len(order))
	var errs []error
	for _, p := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := holdings[p]
		balance := model.PoolShareBalance{
			Address:     address,
			PoolAddress: p,
			PoolTokens:  h.tokens,
			Timestamp:   to,
			Balance:     model.Balance{Amount: h.amount},
			Source:      model.BalanceFromEvents,
		}
		if r.s.shares != nil {
			onChain, err := r.s.shares.ShareBalance(ctx, p, address)
			if err != nil {
				errs = append(errs, fmt.Errorf("pool %s: read share balance: %w", p.Hex(), err))
				continue
			}
			balance.Balance.Amount = onChain
			balance.Source = model.BalanceFromChain
		}
		if balance.Balance.Amount.Sign() <= 0 {
			continue
		}

		share := model.PoolShareAsset(r.s.registry, p)
		px, err := r.oracle.PriceAt(ctx, share, r.s.cfg.Currency, to)
		switch {
		case err == nil:
			usd, err := balance.Balance.Amount.Mul(px)
			if err != nil {
				return nil, fmt.Errorf("value pool share %s: %w", p.Hex(), err)
			}
			balance.Balance.USDValue = &usd
		case errors.Is(err, price.ErrPriceUnavailable):
			balance.Warning = fmt.Sprintf("usd value unavailable: %v", err)
		default:
			return nil, fmt.Errorf("price pool share %s: %w", p.Hex(), err)
		}
		out = append(out, balance)
	}
	if len(errs) > 0 {
		return out, &PartialError{Err: errors.Join(errs...)}
	}
	return out, nil
}

func countJoined(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
