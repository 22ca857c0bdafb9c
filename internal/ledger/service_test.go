package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/money"
	"poolLedger/internal/pool"
	"poolLedger/internal/price"
	"poolLedger/internal/trades"
)

var (
	alice = common.HexToAddress("0x7716a99194d758c8537F056825b75Dd0C8FDD89f")
	bob   = common.HexToAddress("0x029f388aC4D5C8BfF490550ce0853221030E822b")
	poolA = common.HexToAddress("0x59A19D8c652FA0284f44113D0ff9aBa70bd46fB4")
	poolB = common.HexToAddress("0x574FdB861a0247401B317a3E68a83aDEAF758cf6")
)

type memorySource struct {
	swaps  map[common.Address][]model.Swap
	events map[common.Address][]model.LiquidityEvent
}

func (m memorySource) Swaps(_ context.Context, address common.Address, from, to uint64) ([]model.Swap, error) {
	var out []model.Swap
	for _, s := range m.swaps[address] {
		if s.Timestamp >= from && s.Timestamp <= to {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m memorySource) LiquidityEvents(_ context.Context, address common.Address, from, to uint64) ([]model.LiquidityEvent, error) {
	var out []model.LiquidityEvent
	for _, ev := range m.events[address] {
		ts := ev.Header().Timestamp
		if ts >= from && ts <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

type countingOracle struct {
	mu    sync.Mutex
	calls int
	inner price.Oracle
}

func (c *countingOracle) PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.PriceAt(ctx, a, currency, ts)
}

type fixedShares map[common.Address]money.Decimal

func (f fixedShares) ShareBalance(_ context.Context, p, _ common.Address) (money.Decimal, error) {
	if v, ok := f[p]; ok {
		return v, nil
	}
	return money.Decimal{}, errors.New("no balance")
}

func registry(t *testing.T) *asset.Registry {
	t.Helper()
	reg, err := asset.DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return reg
}

func dec(s string) money.Decimal {
	return money.MustNew(s)
}

func event(kind model.EventType, tx string, logIndex, ts uint64, p common.Address, lp string, amounts []money.Decimal, tokens []model.PoolToken) model.LiquidityEvent {
	h := model.EventHeader{
		TxHash:      tx,
		LogIndex:    logIndex,
		Address:     alice,
		PoolAddress: p,
		Timestamp:   ts,
		LPBalance:   model.Balance{Amount: dec(lp)},
		Amounts:     amounts,
		PoolTokens:  tokens,
	}
	if kind == model.EventMint {
		return model.Mint{EventHeader: h}
	}
	return model.Burn{EventHeader: h}
}

func fixture(t *testing.T) (memorySource, *price.StaticOracle) {
	reg := registry(t)
	wethBal := []model.PoolToken{
		{Token: reg.MustLookup("WETH"), Weight: dec("20")},
		{Token: reg.MustLookup("BAL"), Weight: dec("80")},
	}
	wethDai := []model.PoolToken{
		{Token: reg.MustLookup("WETH"), Weight: dec("50")},
		{Token: reg.MustLookup("DAI"), Weight: dec("50")},
	}
	src := memorySource{
		swaps: map[common.Address][]model.Swap{
			bob: {
				{
					TxHash: "0x3c45", LogIndex: 24, Address: bob, Timestamp: 1607008178,
					Location: model.LocationBalancer,
					Token0:   reg.MustLookup("AAVE"), Token1: reg.MustLookup("WETH"),
					Amount0In: dec("11.260284842802604032"), Amount1Out: dec("1.616934038985744521"),
				},
				{
					TxHash: "0xbad", LogIndex: 3, Address: bob, Timestamp: 1607009000,
					Location: model.LocationBalancer,
					Token0:   reg.MustLookup("AAVE"), Token1: reg.MustLookup("WETH"),
				},
			},
		},
		events: map[common.Address][]model.LiquidityEvent{
			alice: {
				event(model.EventMint, "0xb9df", 331, 1597144247, poolA, "0.042569019597126949",
					[]money.Decimal{dec("0.05"), dec("0")}, wethBal),
				event(model.EventMint, "0x1111", 5, 1597150000, poolB, "10",
					[]money.Decimal{dec("1"), dec("400")}, wethDai),
				event(model.EventBurn, "0xfa1d", 92, 1597243001, poolA, "0.042569019597126949",
					[]money.Decimal{dec("0.010687148200906598"), dec("0.744372160905819159")}, wethBal),
			},
		},
	}
	o := price.NewStaticOracle()
	o.Set("WETH", "USD", 1597144247, dec("395.5897732474379"))
	o.Set("WETH", "USD", 1597243001, dec("378.7996188665494"))
	o.Set("BAL", "USD", 1597243001, dec("20.104674263041243"))
	o.Set("WETH", "USD", 1597150000, dec("400"))
	return src, o
}

func TestTradesHistoryReportsMalformedAsPartial(t *testing.T) {
	src, o := fixture(t)
	svc := NewService(Config{}, src, src, o, registry(t), nil)

	got, err := svc.TradesHistory(context.Background(), bob, 0, 1700000000)
	var partial *PartialError
	if !errors.As(err, &partial) || !errors.Is(err, trades.ErrMalformedSwap) {
		t.Fatalf("expected partial malformed swap error, got %v", err)
	}
	if len(got) != 1 || got[0].BaseAsset.Identifier() != "WETH" {
		t.Fatalf("unexpected trades %+v", got)
	}
}

func TestTradesHistoryWindow(t *testing.T) {
	src, o := fixture(t)
	svc := NewService(Config{}, src, src, o, registry(t), nil)

	got, err := svc.TradesHistory(context.Background(), bob, 0, 1607008178)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
	got, err = svc.TradesHistory(context.Background(), bob, 0, 100)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty trades, got %v %v", got, err)
	}
}

func TestPoolEventsBalancesKeyedByPool(t *testing.T) {
	src, o := fixture(t)
	svc := NewService(Config{Valuation: pool.ValuationConstituents}, src, src, o, registry(t), nil)

	got, err := svc.PoolEventsBalances(context.Background(), alice, 0, 1700000000)
	if err != nil {
		t.Fatalf("pool events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(got))
	}
	a := got[poolA]
	if a.USDProfitLoss == nil || !a.USDProfitLoss.Equal(dec("-0.76584117161052920880190053")) {
		t.Fatalf("unexpected pool A usd profit loss %v", a.USDProfitLoss)
	}
	b := got[poolB]
	// No DAI price at the pool B mint.
	if b.USDProfitLoss != nil || b.Warning == "" {
		t.Fatalf("expected pool B to be unpriced, got %+v", b)
	}
	if !b.ProfitLossAmounts[0].Equal(dec("-1")) || !b.ProfitLossAmounts[1].Equal(dec("-400")) {
		t.Fatalf("unexpected pool B amounts %v", b.ProfitLossAmounts)
	}
}

func TestPoolEventsBalancesEmptyWindow(t *testing.T) {
	src, o := fixture(t)
	svc := NewService(Config{}, src, src, o, registry(t), nil)
	got, err := svc.PoolEventsBalances(context.Background(), bob, 0, 1700000000)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
}

func TestPoolShareBalances(t *testing.T) {
	src, o := fixture(t)
	reg := registry(t)
	o.Set(model.PoolShareAsset(reg, poolB).Identifier(), "USD", 1700000000, dec("80"))
	svc := NewService(Config{}, src, src, o, reg, nil)

	got, err := svc.PoolShareBalances(context.Background(), alice, 1700000000)
	if err != nil {
		t.Fatalf("pool shares: %v", err)
	}
	// Pool A was fully withdrawn.
	if len(got) != 1 || got[0].PoolAddress != poolB {
		t.Fatalf("unexpected balances %+v", got)
	}
	if !got[0].Balance.Amount.Equal(dec("10")) || got[0].Balance.USDValue == nil || !got[0].Balance.USDValue.Equal(dec("800")) {
		t.Fatalf("unexpected balance %+v", got[0].Balance)
	}
	if got[0].Source != model.BalanceFromEvents {
		t.Fatalf("unexpected source %s", got[0].Source)
	}

	svc.SetShareReader(fixedShares{poolA: dec("0"), poolB: dec("12.5")})
	got, err = svc.PoolShareBalances(context.Background(), alice, 1700000000)
	if err != nil {
		t.Fatalf("pool shares: %v", err)
	}
	if len(got) != 1 || !got[0].Balance.Amount.Equal(dec("12.5")) || got[0].Source != model.BalanceFromChain {
		t.Fatalf("unexpected on-chain balances %+v", got)
	}
}

func TestBatchUsesPerAddressCache(t *testing.T) {
	src, o := fixture(t)
	oracle := &countingOracle{inner: o}
	svc := NewService(Config{Valuation: pool.ValuationConstituents, Concurrency: 2}, src, src, oracle, registry(t), nil)

	reports := svc.Batch(context.Background(), []common.Address{alice, bob}, 0, 1700000000, OpTrades|OpPoolEvents)
	if len(reports) != 2 || reports[0].Address != alice || reports[1].Address != bob {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if reports[0].Error != "" || len(reports[0].PoolEvents) != 2 {
		t.Fatalf("unexpected alice report %+v", reports[0])
	}
	if len(reports[0].Warnings) != 1 {
		t.Fatalf("expected one pricing warning, got %v", reports[0].Warnings)
	}
	if len(reports[1].Trades) != 1 || len(reports[1].Warnings) != 1 {
		t.Fatalf("unexpected bob report %+v", reports[1])
	}

	// Runs never share a cache, so a repeat run asks the oracle again.
	first := oracle.calls
	svc.Batch(context.Background(), []common.Address{alice}, 0, 1700000000, OpPoolEvents)
	if second := oracle.calls - first; second != first {
		t.Fatalf("expected the same number of lookups per run, got %d then %d", first, second)
	}
}
