// Package trades rebuilds logical trades from the pool-level swaps of each
// transaction.
package trades

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/money"
)

// ErrMalformedSwap marks a structurally invalid swap record.
var ErrMalformedSwap = errors.New("malformed swap")

// Aggregator groups swaps into trades.
type Aggregator struct {
	logger *zap.Logger
}

func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// leg is the net effect of one swap for the trading address.
type leg struct {
	spent       asset.Asset
	spentAmount money.Decimal
	recv        asset.Asset
	recvAmount  money.Decimal
}

type chain struct {
	legs  []leg
	swaps []model.Swap
}

func (c *chain) tail() leg {
	return c.legs[len(c.legs)-1]
}

// Aggregate turns swaps into trades, most recent first. A transaction with a
// malformed swap yields no trades; the returned error joins every rejection
// and wraps ErrMalformedSwap. Trades of the other transactions are still
// returned.
func (a *Aggregator) Aggregate(swaps []model.Swap) ([]model.Trade, error) {
	groups, order := groupByTx(swaps)

	var (
		out  []model.Trade
		errs []error
	)
	for _, txHash := range order {
		txTrades, err := a.tradesForTx(groups[txHash])
		if err != nil {
			a.logger.Warn("transaction swaps rejected", zap.String("tx_hash", txHash), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		out = append(out, txTrades...)
	}

	sortTrades(out)
	return out, errors.Join(errs...)
}

func groupByTx(swaps []model.Swap) (map[string][]model.Swap, []string) {
	groups := make(map[string][]model.Swap)
	var order []string
	for _, s := range swaps {
		if _, ok := groups[s.TxHash]; !ok {
			order = append(order, s.TxHash)
		}
		groups[s.TxHash] = append(groups[s.TxHash], s)
	}
	for _, txHash := range order {
		group := groups[txHash]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].LogIndex < group[j].LogIndex
		})
	}
	return groups, order
}

func (a *Aggregator) tradesForTx(swaps []model.Swap) ([]model.Trade, error) {
	var chains []*chain
	for _, s := range swaps {
		l, err := swapLeg(s)
		if err != nil {
			return nil, fmt.Errorf("tx %s log %d: %w", s.TxHash, s.LogIndex, err)
		}
		if c := findContinuation(chains, l); c != nil {
			c.legs = append(c.legs, l)
			c.swaps = append(c.swaps, s)
			continue
		}
		chains = append(chains, &chain{legs: []leg{l}, swaps: []model.Swap{s}})
	}

	trades := make([]model.Trade, 0, len(chains))
	for i, c := range chains {
		first, last := c.legs[0], c.tail()
		rate, err := first.spentAmount.Div(last.recvAmount)
		if err != nil {
			return nil, fmt.Errorf("tx %s log %d: rate: %w", c.swaps[0].TxHash, c.swaps[0].LogIndex, err)
		}
		trades = append(trades, model.Trade{
			TradeType:  model.TradeBuy,
			BaseAsset:  last.recv,
			QuoteAsset: first.spent,
			Amount:     last.recvAmount,
			Rate:       rate,
			TradeIndex: i,
			Swaps:      c.swaps,
		})
	}
	a.logger.Debug("transaction aggregated",
		zap.String("tx_hash", swaps[0].TxHash),
		zap.Int("swaps", len(swaps)),
		zap.Int("trades", len(trades)),
	)
	return trades, nil
}

// findContinuation returns the first chain whose last received token and
// amount are exactly what l spends.
func findContinuation(chains []*chain, l leg) *chain {
	for _, c := range chains {
		t := c.tail()
		if asset.Same(t.recv, l.spent) && t.recvAmount.Equal(l.spentAmount) {
			return c
		}
	}
	return nil
}

func swapLeg(s model.Swap) (leg, error) {
	if s.Token0 == nil || s.Token1 == nil {
		return leg{}, fmt.Errorf("%w: missing token", ErrMalformedSwap)
	}
	if asset.Same(s.Token0, s.Token1) {
		return leg{}, fmt.Errorf("%w: both legs are %s", ErrMalformedSwap, s.Token0.Identifier())
	}
	for _, amt := range []money.Decimal{s.Amount0In, s.Amount1In, s.Amount0Out, s.Amount1Out} {
		if amt.Sign() < 0 {
			return leg{}, fmt.Errorf("%w: negative amount %s", ErrMalformedSwap, amt)
		}
	}

	net0, err := s.Amount0Out.Sub(s.Amount0In)
	if err != nil {
		return leg{}, fmt.Errorf("%w: token0 net amount: %v", ErrMalformedSwap, err)
	}
	net1, err := s.Amount1Out.Sub(s.Amount1In)
	if err != nil {
		return leg{}, fmt.Errorf("%w: token1 net amount: %v", ErrMalformedSwap, err)
	}
	switch {
	case net0.Sign() < 0 && net1.Sign() > 0:
		return leg{spent: s.Token0, spentAmount: net0.Neg(), recv: s.Token1, recvAmount: net1}, nil
	case net1.Sign() < 0 && net0.Sign() > 0:
		return leg{spent: s.Token1, spentAmount: net1.Neg(), recv: s.Token0, recvAmount: net0}, nil
	case net0.IsZero() && net1.IsZero():
		return leg{}, fmt.Errorf("%w: no amount exchanged", ErrMalformedSwap)
	default:
		return leg{}, fmt.Errorf("%w: net amounts %s and %s do not describe one exchange", ErrMalformedSwap, net0, net1)
	}
}

// sortTrades orders by timestamp descending. Transactions sharing a
// timestamp order by their first log index, descending; trades of one
// transaction keep ascending trade index.
func sortTrades(trades []model.Trade) {
	firstLog := make(map[string]uint64)
	for _, t := range trades {
		for _, s := range t.Swaps {
			if cur, ok := firstLog[t.TxHash()]; !ok || s.LogIndex < cur {
				firstLog[t.TxHash()] = s.LogIndex
			}
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if a.Timestamp() != b.Timestamp() {
			return a.Timestamp() > b.Timestamp()
		}
		if a.TxHash() != b.TxHash() {
			ai, bi := firstLog[a.TxHash()], firstLog[b.TxHash()]
			if ai != bi {
				return ai > bi
			}
			return a.TxHash() < b.TxHash()
		}
		return a.TradeIndex < b.TradeIndex
	})
}
