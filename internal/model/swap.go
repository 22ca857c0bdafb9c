package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

// Location names the protocol an on-chain record comes from.
type Location string

const LocationBalancer Location = "balancer"

// Swap is one pool-level exchange leg.
type Swap struct {
	TxHash      string         `json:"tx_hash"`
	LogIndex    uint64         `json:"log_index"`
	Address     common.Address `json:"address"`
	PoolAddress common.Address `json:"pool_address"`
	FromAddress common.Address `json:"from_address"`
	ToAddress   common.Address `json:"to_address"`
	Timestamp   uint64         `json:"timestamp"`
	Location    Location       `json:"location"`
	Token0      asset.Asset    `json:"token0"`
	Token1      asset.Asset    `json:"token1"`
	Amount0In   money.Decimal  `json:"amount0_in"`
	Amount1In   money.Decimal  `json:"amount1_in"`
	Amount0Out  money.Decimal  `json:"amount0_out"`
	Amount1Out  money.Decimal  `json:"amount1_out"`
}

type swapWire struct {
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     common.Address  `json:"address"`
	PoolAddress common.Address  `json:"pool_address"`
	FromAddress common.Address  `json:"from_address"`
	ToAddress   common.Address  `json:"to_address"`
	Timestamp   uint64          `json:"timestamp"`
	Location    Location        `json:"location"`
	Token0      json.RawMessage `json:"token0"`
	Token1      json.RawMessage `json:"token1"`
	Amount0In   money.Decimal   `json:"amount0_in"`
	Amount1In   money.Decimal   `json:"amount1_in"`
	Amount0Out  money.Decimal   `json:"amount0_out"`
	Amount1Out  money.Decimal   `json:"amount1_out"`
}

// DecodeSwap parses the JSON form of a Swap, resolving assets through reg.
func DecodeSwap(data []byte, reg *asset.Registry) (Swap, error) {
	var w swapWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Swap{}, fmt.Errorf("decode swap: %w", err)
	}
	token0, err := reg.Decode(w.Token0)
	if err != nil {
		return Swap{}, fmt.Errorf("decode swap token0: %w", err)
	}
	token1, err := reg.Decode(w.Token1)
	if err != nil {
		return Swap{}, fmt.Errorf("decode swap token1: %w", err)
	}
	return Swap{
		TxHash:      w.TxHash,
		LogIndex:    w.LogIndex,
		Address:     w.Address,
		PoolAddress: w.PoolAddress,
		FromAddress: w.FromAddress,
		ToAddress:   w.ToAddress,
		Timestamp:   w.Timestamp,
		Location:    w.Location,
		Token0:      token0,
		Token1:      token1,
		Amount0In:   w.Amount0In,
		Amount1In:   w.Amount1In,
		Amount0Out:  w.Amount0Out,
		Amount1Out:  w.Amount1Out,
	}, nil
}
