package model

import (
	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/money"
)

// PoolMeta captures a weighted pool's composition as read from chain.
// Weights are percentages in token order.
type PoolMeta struct {
	Address common.Address   `json:"address"`
	Tokens  []common.Address `json:"tokens"`
	Weights []money.Decimal  `json:"weights"`
}

// IndexOf returns the position of token in the pool, or -1.
func (m PoolMeta) IndexOf(token common.Address) int {
	for i, t := range m.Tokens {
		if t == token {
			return i
		}
	}
	return -1
}
