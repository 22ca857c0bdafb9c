package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// LogRecord is one raw pool log as written by the indexer and read by the
// decoder. Hex fields keep the node's encoding.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
	IngestedAt  string   `json:"ingested_at"`
}

// Topic0 returns the event signature topic, or "" for anonymous logs.
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}

// TxKey identifies the transaction of the log independent of hex casing.
func (lr LogRecord) TxKey() string {
	return strings.ToLower(lr.TxHash)
}

// PoolAddress parses the emitting contract address.
func (lr LogRecord) PoolAddress() (common.Address, error) {
	if !common.IsHexAddress(lr.Address) {
		return common.Address{}, fmt.Errorf("invalid pool address: %s", lr.Address)
	}
	return common.HexToAddress(lr.Address), nil
}
