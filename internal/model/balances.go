package model

import (
	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/money"
)

// PoolEventsBalance is the profit and loss of one address in one pool over a
// queried window. A nil USDProfitLoss means valuation was unavailable and
// Warning says why.
type PoolEventsBalance struct {
	Address           common.Address   `json:"address"`
	PoolAddress       common.Address   `json:"pool_address"`
	PoolTokens        []PoolToken      `json:"pool_tokens"`
	ProfitLossAmounts []money.Decimal  `json:"profit_loss_amounts"`
	USDProfitLoss     *money.Decimal   `json:"usd_profit_loss"`
	Events            []LiquidityEvent `json:"events"`
	Warning           string           `json:"warning,omitempty"`
}

// BalanceSource tells where a pool-share amount was read from.
type BalanceSource string

const (
	BalanceFromEvents BalanceSource = "events"
	BalanceFromChain  BalanceSource = "chain"
)

// PoolShareBalance is the pool-share holding of an address at a point in time.
type PoolShareBalance struct {
	Address     common.Address `json:"address"`
	PoolAddress common.Address `json:"pool_address"`
	PoolTokens  []PoolToken    `json:"pool_tokens"`
	Timestamp   uint64         `json:"timestamp"`
	Balance     Balance        `json:"balance"`
	Source      BalanceSource  `json:"source"`
	Warning     string         `json:"warning,omitempty"`
}
