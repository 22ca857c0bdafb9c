package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"poolLedger/internal/model"
)

// Operation selects which read operations a batch runs.
type Operation int

const (
	OpTrades Operation = 1 << iota
	OpPoolEvents
	OpPoolShares
)

// Report is the outcome of the selected operations for one address.
type Report struct {
	Address    common.Address                             `json:"address"`
	Trades     []model.Trade                              `json:"trades,omitempty"`
	PoolEvents map[common.Address]model.PoolEventsBalance `json:"pool_events_balances,omitempty"`
	PoolShares []model.PoolShareBalance                   `json:"pool_share_balances,omitempty"`
	Warnings   []string                                   `json:"warnings,omitempty"`
	Error      string                                     `json:"error,omitempty"`
}

// Batch runs ops for every address concurrently, bounded by the configured
// concurrency. Reports are returned in input order. Addresses share no
// mutable state; each gets its own price cache.
func (s *Service) Batch(ctx context.Context, addresses []common.Address, from, to uint64, ops Operation) []Report {
	reports := make([]Report, len(addresses))
	worker := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for i, address := range addresses {
		worker.Go(func() {
			reports[i] = s.report(ctx, address, from, to, ops)
		})
	}
	worker.Wait()
	return reports
}

func (s *Service) report(ctx context.Context, address common.Address, from, to uint64, ops Operation) Report {
	r := s.newRun(address)
	out := Report{Address: address}

	fail := func(op string, err error) bool {
		if err == nil {
			return false
		}
		var partial *PartialError
		if errors.As(err, &partial) {
			out.Warnings = append(out.Warnings, splitJoined(partial.Err)...)
			return false
		}
		r.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
		out.Error = op + ": " + err.Error()
		return true
	}

	if ops&OpTrades != 0 {
		trades, err := r.trades(ctx, address, from, to)
		if fail("trades", err) {
			return out
		}
		out.Trades = trades
	}
	if ops&OpPoolEvents != 0 {
		balances, err := r.poolEvents(ctx, address, from, to)
		if fail("pool_events", err) {
			return out
		}
		out.PoolEvents = balances
		for _, b := range balances {
			if b.Warning != "" {
				out.Warnings = append(out.Warnings, "pool "+b.PoolAddress.Hex()+": "+b.Warning)
			}
		}
	}
	if ops&OpPoolShares != 0 {
		shares, err := r.poolShares(ctx, address, to)
		if fail("pool_shares", err) {
			return out
		}
		out.PoolShares = shares
		for _, b := range shares {
			if b.Warning != "" {
				out.Warnings = append(out.Warnings, "pool share "+b.PoolAddress.Hex()+": "+b.Warning)
			}
		}
	}
	return out
}

func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
