package model

import (
	"encoding/json"
	"fmt"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Trade is a logical trade synthesized from the swaps of one transaction.
// Swaps are kept in log index order.
type Trade struct {
	TradeType  TradeType     `json:"trade_type"`
	BaseAsset  asset.Asset   `json:"base_asset"`
	QuoteAsset asset.Asset   `json:"quote_asset"`
	Amount     money.Decimal `json:"amount"`
	Rate       money.Decimal `json:"rate"`
	TradeIndex int           `json:"trade_index"`
	Swaps      []Swap        `json:"swaps"`
}

func (t Trade) TxHash() string {
	if len(t.Swaps) == 0 {
		return ""
	}
	return t.Swaps[0].TxHash
}

func (t Trade) Timestamp() uint64 {
	if len(t.Swaps) == 0 {
		return 0
	}
	return t.Swaps[0].Timestamp
}

func (t Trade) Location() Location {
	if len(t.Swaps) == 0 {
		return ""
	}
	return t.Swaps[0].Location
}

// ID is unique per trade: the transaction hash plus the trade index.
func (t Trade) ID() string {
	return fmt.Sprintf("%s-%d", t.TxHash(), t.TradeIndex)
}

func (t Trade) MarshalJSON() ([]byte, error) {
	type Alias Trade
	return json.Marshal(struct {
		TradeID   string   `json:"trade_id"`
		TxHash    string   `json:"tx_hash"`
		Timestamp uint64   `json:"timestamp"`
		Location  Location `json:"location"`
		Alias
	}{
		TradeID:   t.ID(),
		TxHash:    t.TxHash(),
		Timestamp: t.Timestamp(),
		Location:  t.Location(),
		Alias:     Alias(t),
	})
}
