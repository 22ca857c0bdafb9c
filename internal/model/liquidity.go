package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

type EventType string

const (
	EventMint EventType = "mint"
	EventBurn EventType = "burn"
)

// Balance is an amount with its reference currency value. A nil USDValue
// means the amount has not been priced.
type Balance struct {
	Amount   money.Decimal  `json:"amount"`
	USDValue *money.Decimal `json:"usd_value"`
}

// PoolToken is one constituent of a weighted pool. Weight is a percentage.
type PoolToken struct {
	Token  asset.Asset   `json:"token"`
	Weight money.Decimal `json:"weight"`
}

// EventHeader holds the fields shared by mints and burns. LPBalance is the
// pool-share amount moved by the event; Amounts follow the PoolTokens order.
type EventHeader struct {
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     common.Address  `json:"address"`
	PoolAddress common.Address  `json:"pool_address"`
	Timestamp   uint64          `json:"timestamp"`
	LPBalance   Balance         `json:"lp_balance"`
	Amounts     []money.Decimal `json:"amounts"`
	PoolTokens  []PoolToken     `json:"pool_tokens"`
}

// LiquidityEvent is implemented by Mint and Burn only.
type LiquidityEvent interface {
	Header() EventHeader
	Type() EventType
	isLiquidityEvent()
}

// Mint is a deposit into a pool.
type Mint struct {
	EventHeader
}

// Burn is a withdrawal from a pool.
type Burn struct {
	EventHeader
}

func (m Mint) Header() EventHeader { return m.EventHeader }
func (Mint) Type() EventType       { return EventMint }
func (Mint) isLiquidityEvent()     {}

func (b Burn) Header() EventHeader { return b.EventHeader }
func (Burn) Type() EventType       { return EventBurn }
func (Burn) isLiquidityEvent()     {}

func (m Mint) MarshalJSON() ([]byte, error) { return marshalEvent(EventMint, m.EventHeader) }
func (b Burn) MarshalJSON() ([]byte, error) { return marshalEvent(EventBurn, b.EventHeader) }

func marshalEvent(kind EventType, h EventHeader) ([]byte, error) {
	return json.Marshal(struct {
		EventType EventType `json:"event_type"`
		EventHeader
	}{EventType: kind, EventHeader: h})
}

// WithLPBalance returns a copy of ev carrying balance.
func WithLPBalance(ev LiquidityEvent, balance Balance) LiquidityEvent {
	switch e := ev.(type) {
	case Mint:
		e.LPBalance = balance
		return e
	case Burn:
		e.LPBalance = balance
		return e
	default:
		return ev
	}
}

type poolTokenWire struct {
	Token  json.RawMessage `json:"token"`
	Weight money.Decimal   `json:"weight"`
}

type eventWire struct {
	EventType   EventType       `json:"event_type"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     common.Address  `json:"address"`
	PoolAddress common.Address  `json:"pool_address"`
	Timestamp   uint64          `json:"timestamp"`
	LPBalance   Balance         `json:"lp_balance"`
	Amounts     []money.Decimal `json:"amounts"`
	PoolTokens  []poolTokenWire `json:"pool_tokens"`
}

// DecodeLiquidityEvent parses the JSON form of a mint or burn.
func DecodeLiquidityEvent(data []byte, reg *asset.Registry) (LiquidityEvent, error) {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode liquidity event: %w", err)
	}
	tokens, err := decodePoolTokens(w.PoolTokens, reg)
	if err != nil {
		return nil, err
	}
	h := EventHeader{
		TxHash:      w.TxHash,
		LogIndex:    w.LogIndex,
		Address:     w.Address,
		PoolAddress: w.PoolAddress,
		Timestamp:   w.Timestamp,
		LPBalance:   w.LPBalance,
		Amounts:     w.Amounts,
		PoolTokens:  tokens,
	}
	switch w.EventType {
	case EventMint:
		return Mint{EventHeader: h}, nil
	case EventBurn:
		return Burn{EventHeader: h}, nil
	default:
		return nil, fmt.Errorf("decode liquidity event: unknown event_type %q", w.EventType)
	}
}

// decodePoolTokens resolves the wire form of a pool composition.
func decodePoolTokens(wire []poolTokenWire, reg *asset.Registry) ([]PoolToken, error) {
	tokens := make([]PoolToken, 0, len(wire))
	for i, pt := range wire {
		token, err := reg.Decode(pt.Token)
		if err != nil {
			return nil, fmt.Errorf("decode pool token %d: %w", i, err)
		}
		tokens = append(tokens, PoolToken{Token: token, Weight: pt.Weight})
	}
	return tokens, nil
}

// PoolShareAsset returns the asset of a pool's share token. Balancer pools
// are their own ERC20 share token.
func PoolShareAsset(reg *asset.Registry, pool common.Address) asset.Asset {
	meta := asset.Metadata{Address: pool, Symbol: "BPT", Name: "Balancer Pool Token", Decimals: 18}
	if reg == nil {
		return asset.NewUnknown(meta.Address, meta.Symbol, meta.Name, meta.Decimals)
	}
	return reg.Resolve(meta)
}
