// Package price resolves historical asset prices in a reference currency.
package price

import (
	"context"
	"errors"
	"strings"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

// ErrPriceUnavailable is returned when no historical quote exists.
var ErrPriceUnavailable = errors.New("price unavailable")

// DefaultCurrency is the reference currency used when none is configured.
const DefaultCurrency = "USD"

// Oracle resolves the price of one unit of an asset at a unix timestamp.
type Oracle interface {
	PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error)

func (f OracleFunc) PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	return f(ctx, a, currency, ts)
}

// Chain asks each oracle in turn and returns the first price found. Errors
// other than ErrPriceUnavailable stop the lookup.
type Chain []Oracle

func (c Chain) PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	for _, o := range c {
		p, err := o.PriceAt(ctx, a, currency, ts)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPriceUnavailable) {
			return money.Decimal{}, err
		}
	}
	return money.Decimal{}, ErrPriceUnavailable
}

// lookupSymbol is the ticker used by external price sources.
func lookupSymbol(a asset.Asset) string {
	symbol := a.Metadata().Symbol
	if symbol == "" {
		symbol = a.Identifier()
	}
	symbol = strings.ToUpper(symbol)
	if symbol == "WETH" {
		return "ETH"
	}
	return symbol
}
