package pool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/model"
	"poolLedger/internal/money"
)

// ErrInconsistentPoolComposition is returned when an event's token amounts do
// not line up with the pool composition.
var ErrInconsistentPoolComposition = errors.New("inconsistent pool composition")

// Accumulator holds running totals for one (address, pool) window.
type Accumulator struct {
	Address     common.Address
	PoolAddress common.Address
	PoolTokens  []model.PoolToken
	Amounts     []money.Decimal
	USD         money.Decimal
	Events      []model.LiquidityEvent
	unpriced    []string
}

// NewAccumulator takes the pool composition from the first event of the window.
func NewAccumulator(address common.Address, first model.LiquidityEvent) *Accumulator {
	h := first.Header()
	tokens := make([]model.PoolToken, len(h.PoolTokens))
	copy(tokens, h.PoolTokens)
	amounts := make([]money.Decimal, len(tokens))
	return &Accumulator{
		Address:     address,
		PoolAddress: h.PoolAddress,
		PoolTokens:  tokens,
		Amounts:     amounts,
	}
}

// AddEvent folds one event in. Burns add their amounts and LP value, mints
// subtract theirs. An event without an LP value leaves the USD total
// unavailable for the window.
func (a *Accumulator) AddEvent(ev model.LiquidityEvent) error {
	h := ev.Header()
	if h.PoolAddress != a.PoolAddress {
		return fmt.Errorf("event %s/%d: pool %s in window of %s", h.TxHash, h.LogIndex, h.PoolAddress.Hex(), a.PoolAddress.Hex())
	}
	if len(h.Amounts) != len(a.PoolTokens) {
		return fmt.Errorf("%w: event %s/%d has %d amounts, pool %s has %d tokens",
			ErrInconsistentPoolComposition, h.TxHash, h.LogIndex, len(h.Amounts), a.PoolAddress.Hex(), len(a.PoolTokens))
	}
	if len(h.PoolTokens) != 0 && len(h.PoolTokens) != len(a.PoolTokens) {
		return fmt.Errorf("%w: event %s/%d lists %d pool tokens, pool %s has %d",
			ErrInconsistentPoolComposition, h.TxHash, h.LogIndex, len(h.PoolTokens), a.PoolAddress.Hex(), len(a.PoolTokens))
	}

	var sign money.Decimal
	switch ev.(type) {
	case model.Mint:
		sign = money.One.Neg()
	case model.Burn:
		sign = money.One
	default:
		return fmt.Errorf("event %s/%d: unsupported liquidity event %T", h.TxHash, h.LogIndex, ev)
	}

	amounts := make([]money.Decimal, len(a.Amounts))
	for i, amt := range h.Amounts {
		next, err := amt.FMA(sign, a.Amounts[i])
		if err != nil {
			return fmt.Errorf("event %s/%d: amount %d: %w", h.TxHash, h.LogIndex, i, err)
		}
		amounts[i] = next
	}
	usd := a.USD
	if h.LPBalance.USDValue != nil {
		var err error
		if usd, err = h.LPBalance.USDValue.FMA(sign, a.USD); err != nil {
			return fmt.Errorf("event %s/%d: usd value: %w", h.TxHash, h.LogIndex, err)
		}
	} else {
		a.unpriced = append(a.unpriced, fmt.Sprintf("%s/%d", h.TxHash, h.LogIndex))
	}
	a.Amounts, a.USD = amounts, usd
	a.Events = append(a.Events, ev)
	return nil
}

// Result builds the pool events balance for the accumulated window.
func (a *Accumulator) Result() model.PoolEventsBalance {
	out := model.PoolEventsBalance{
		Address:           a.Address,
		PoolAddress:       a.PoolAddress,
		PoolTokens:        a.PoolTokens,
		ProfitLossAmounts: a.Amounts,
		Events:            a.Events,
	}
	if len(a.unpriced) == 0 {
		usd := a.USD
		out.USDProfitLoss = &usd
	} else {
		out.Warning = fmt.Sprintf("usd value unavailable for %d event(s): %s", len(a.unpriced), strings.Join(a.unpriced, ", "))
	}
	return out
}
