package price

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/patrickmn/go-cache"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

type cachedPrice struct {
	price money.Decimal
	err   error
}

// RunCache memoizes an oracle for the duration of one accounting run, so a
// repeated (asset, currency, timestamp) key always yields the same answer.
// Misses are remembered as well. Entries never expire; create a new cache per
// run instead of sharing one.
type RunCache struct {
	oracle Oracle
	cache  *cache.Cache
}

func NewRunCache(oracle Oracle) *RunCache {
	return &RunCache{
		oracle: oracle,
		cache:  cache.New(cache.NoExpiration, 0),
	}
}

func (c *RunCache) PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	key := fmt.Sprintf("%s|%s|%d", strings.ToLower(a.Identifier()), strings.ToUpper(currency), ts)
	if v, ok := c.cache.Get(key); ok {
		entry := v.(cachedPrice)
		return entry.price, entry.err
	}
	p, err := c.oracle.PriceAt(ctx, a, currency, ts)
	if err != nil && !errors.Is(err, ErrPriceUnavailable) {
		// Cancellation and transport errors are not answers.
		return money.Decimal{}, err
	}
	c.cache.SetDefault(key, cachedPrice{price: p, err: err})
	return p, err
}

// Len reports the number of memoized keys.
func (c *RunCache) Len() int {
	return c.cache.ItemCount()
}
