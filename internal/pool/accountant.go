// Package pool computes per-pool profit and loss from liquidity events.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/money"
	"poolLedger/internal/price"
)

// Valuation selects how an unpriced LP balance is valued.
type Valuation string

const (
	// ValuationLPToken prices the pool-share token itself.
	ValuationLPToken Valuation = "lp_token"
	// ValuationConstituents sums each token amount times its price.
	ValuationConstituents Valuation = "constituents"
)

// ParseValuation maps a configuration string to a Valuation.
func ParseValuation(s string) (Valuation, error) {
	switch Valuation(s) {
	case "", ValuationLPToken:
		return ValuationLPToken, nil
	case ValuationConstituents:
		return ValuationConstituents, nil
	default:
		return "", fmt.Errorf("unknown valuation %q", s)
	}
}

// Config controls accounting behavior.
type Config struct {
	Currency  string
	Valuation Valuation
}

// Accountant turns ordered liquidity events into pool events balances.
type Accountant struct {
	cfg      Config
	oracle   price.Oracle
	registry *asset.Registry
	logger   *zap.Logger
}

func NewAccountant(cfg Config, oracle price.Oracle, registry *asset.Registry, logger *zap.Logger) *Accountant {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = price.DefaultCurrency
	}
	if cfg.Valuation == "" {
		cfg.Valuation = ValuationLPToken
	}
	return &Accountant{cfg: cfg, oracle: oracle, registry: registry, logger: logger}
}

// Account computes the balance of address in a single pool. Events must be
// ordered by (timestamp, log index) and belong to the same pool.
func (a *Accountant) Account(ctx context.Context, address common.Address, events []model.LiquidityEvent) (model.PoolEventsBalance, error) {
	if len(events) == 0 {
		return model.PoolEventsBalance{}, fmt.Errorf("account pool: no events")
	}
	acc := NewAccumulator(address, events[0])
	for _, ev := range events {
		priced, err := a.value(ctx, acc.PoolTokens, ev)
		if err != nil {
			return model.PoolEventsBalance{}, err
		}
		if err := acc.AddEvent(priced); err != nil {
			return model.PoolEventsBalance{}, err
		}
	}
	result := acc.Result()
	if result.Warning != "" {
		a.logger.Warn("pool valuation incomplete",
			zap.String("address", address.Hex()),
			zap.String("pool", result.PoolAddress.Hex()),
			zap.String("warning", result.Warning),
		)
	}
	return result, nil
}

// AccountAll splits events by pool, in order of first appearance, and
// accounts each pool on its own. A failing pool is left out of the result and
// reported in the joined error; the other pools are still returned. The
// context is checked between pools.
func (a *Accountant) AccountAll(ctx context.Context, address common.Address, events []model.LiquidityEvent) ([]model.PoolEventsBalance, error) {
	byPool := make(map[common.Address][]model.LiquidityEvent)
	var order []common.Address
	for _, ev := range events {
		p := ev.Header().PoolAddress
		if _, ok := byPool[p]; !ok {
			order = append(order, p)
		}
		byPool[p] = append(byPool[p], ev)
	}

	out := make([]model.PoolEventsBalance, 0, len(order))
	var errs []error
	for _, p := range order {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		balance, err := a.Account(ctx, address, byPool[p])
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			a.logger.Warn("pool accounting failed",
				zap.String("address", address.Hex()),
				zap.String("pool", p.Hex()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("pool %s: %w", p.Hex(), err))
			continue
		}
		out = append(out, balance)
	}
	return out, errors.Join(errs...)
}

// value fills in the LP balance value of ev when it is missing. A missing
// price leaves it empty; any other oracle failure is returned.
func (a *Accountant) value(ctx context.Context, tokens []model.PoolToken, ev model.LiquidityEvent) (model.LiquidityEvent, error) {
	h := ev.Header()
	if h.LPBalance.USDValue != nil {
		return ev, nil
	}

	var (
		usd money.Decimal
		err error
	)
	switch a.cfg.Valuation {
	case ValuationConstituents:
		usd, err = a.constituentValue(ctx, tokens, h)
	default:
		usd, err = a.shareValue(ctx, h)
	}
	if err != nil {
		if errors.Is(err, price.ErrPriceUnavailable) {
			a.logger.Debug("event left unpriced",
				zap.String("tx_hash", h.TxHash),
				zap.Uint64("log_index", h.LogIndex),
				zap.Error(err),
			)
			return ev, nil
		}
		return nil, err
	}
	return model.WithLPBalance(ev, model.Balance{Amount: h.LPBalance.Amount, USDValue: &usd}), nil
}

func (a *Accountant) shareValue(ctx context.Context, h model.EventHeader) (money.Decimal, error) {
	share := model.PoolShareAsset(a.registry, h.PoolAddress)
	p, err := a.oracle.PriceAt(ctx, share, a.cfg.Currency, h.Timestamp)
	if err != nil {
		return money.Decimal{}, fmt.Errorf("price pool share %s: %w", h.PoolAddress.Hex(), err)
	}
	return h.LPBalance.Amount.Mul(p)
}

func (a *Accountant) constituentValue(ctx context.Context, tokens []model.PoolToken, h model.EventHeader) (money.Decimal, error) {
	if len(h.Amounts) != len(tokens) {
		return money.Decimal{}, fmt.Errorf("%w: event %s/%d has %d amounts, pool has %d tokens",
			ErrInconsistentPoolComposition, h.TxHash, h.LogIndex, len(h.Amounts), len(tokens))
	}
	total := money.Zero
	for i, amt := range h.Amounts {
		if amt.IsZero() {
			continue
		}
		p, err := a.oracle.PriceAt(ctx, tokens[i].Token, a.cfg.Currency, h.Timestamp)
		if err != nil {
			return money.Decimal{}, fmt.Errorf("price %s: %w", tokens[i].Token.Identifier(), err)
		}
		if total, err = amt.FMA(p, total); err != nil {
			return money.Decimal{}, fmt.Errorf("value %s: %w", tokens[i].Token.Identifier(), err)
		}
	}
	return total, nil
}
