package price

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

// StaticOracle serves prices from an in-memory table keyed by asset
// identifier, currency and exact timestamp.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]map[string]map[uint64]money.Decimal
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]map[string]map[uint64]money.Decimal)}
}

// LoadStaticOracle reads a JSON document shaped as
// {"<asset id>": {"<currency>": {"<unix ts>": "<price>"}}}.
func LoadStaticOracle(path string) (*StaticOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	var raw map[string]map[string]map[string]money.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode price table: %w", err)
	}
	o := NewStaticOracle()
	for id, byCurrency := range raw {
		for currency, byTs := range byCurrency {
			for tsText, p := range byTs {
				ts, err := strconv.ParseUint(tsText, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("price table %s/%s: invalid timestamp %q", id, currency, tsText)
				}
				o.Set(id, currency, ts, p)
			}
		}
	}
	return o, nil
}

// Set stores the price of asset id in currency at ts.
func (o *StaticOracle) Set(id, currency string, ts uint64, p money.Decimal) {
	id = strings.ToLower(id)
	currency = strings.ToUpper(currency)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.prices[id] == nil {
		o.prices[id] = make(map[string]map[uint64]money.Decimal)
	}
	if o.prices[id][currency] == nil {
		o.prices[id][currency] = make(map[uint64]money.Decimal)
	}
	o.prices[id][currency][ts] = p
}

func (o *StaticOracle) PriceAt(_ context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	o.mu.RLock()
	p, ok := o.prices[strings.ToLower(a.Identifier())][strings.ToUpper(currency)][ts]
	o.mu.RUnlock()
	if !ok {
		return money.Decimal{}, fmt.Errorf("%w: %s in %s at %d", ErrPriceUnavailable, a.Identifier(), currency, ts)
	}
	return p, nil
}
