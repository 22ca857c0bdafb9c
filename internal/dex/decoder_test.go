package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/money"
)

var (
	testPool   = common.HexToAddress("0x59A19D8c652FA0284f44113D0ff9aBa70bd46fB4")
	testCaller = common.HexToAddress("0x7716a99194d758c8537F056825b75Dd0C8FDD89f")
	testToken  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testRegistry(t *testing.T) *asset.Registry {
	t.Helper()
	reg, err := asset.DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return reg
}

func addressOf(t *testing.T, reg *asset.Registry, id string) common.Address {
	t.Helper()
	return reg.MustLookup(id).Metadata().Address
}

func testContext(t *testing.T, reg *asset.Registry) DecodeContext {
	weth := addressOf(t, reg, "WETH")
	bal := addressOf(t, reg, "BAL")
	pools := NewPoolMetaCache()
	pools.Set(testPool, model.PoolMeta{
		Address: testPool,
		Tokens:  []common.Address{weth, bal},
		Weights: []money.Decimal{money.MustNew("20"), money.MustNew("80")},
	})
	tokens := NewTokenMetaCache()
	tokens.Set(testToken, asset.Metadata{Address: testToken, Symbol: "TST", Name: "Test Token", Decimals: 6})
	return DecodeContext{
		PoolMetaCache: pools,
		Tokens:        NewTokenResolver(reg, tokens, nil, zap.NewNop()),
		Logger:        zap.NewNop(),
	}
}

func buildLog(t *testing.T, name string, address common.Address, logIndex uint64, indexed []common.Hash, values ...interface{}) model.LogRecord {
	t.Helper()
	poolABI, err := BalancerPoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	event := poolABI.Events[name]
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	topics := []string{event.ID.Hex()}
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}
	return model.LogRecord{
		ChainID:     1,
		BlockNumber: 10636447,
		TxHash:      "0xb9dff9df4e3838c75d354d62c4596d94e5eb8904e07cee07a3b7ffa611c05544",
		LogIndex:    logIndex,
		Address:     address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1597144247,
	}
}

func topic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func raw(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return v
}

func TestDecodeSwap(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	aave := addressOf(t, reg, "AAVE")
	weth := addressOf(t, reg, "WETH")

	log := buildLog(t, eventSwap, testPool, 24,
		[]common.Hash{topic(testCaller), topic(aave), topic(weth)},
		raw("11260284842802604032"), raw("1616934038985744521"))

	out, err := decoder.DecodeTransaction([]model.LogRecord{log}, testContext(t, reg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Swaps) != 1 || len(out.Events) != 0 {
		t.Fatalf("unexpected output %+v", out)
	}
	swap := out.Swaps[0]
	if swap.Token0.Identifier() != "AAVE" || swap.Token1.Identifier() != "WETH" {
		t.Fatalf("token mismatch: %s %s", swap.Token0, swap.Token1)
	}
	if !swap.Amount0In.Equal(money.MustNew("11.260284842802604032")) || !swap.Amount1Out.Equal(money.MustNew("1.616934038985744521")) {
		t.Fatalf("amount mismatch: %s %s", swap.Amount0In, swap.Amount1Out)
	}
	if !swap.Amount1In.IsZero() || !swap.Amount0Out.IsZero() {
		t.Fatalf("unexpected opposite amounts")
	}
	if swap.Address != testCaller || swap.PoolAddress != testPool || swap.LogIndex != 24 || swap.Location != model.LocationBalancer {
		t.Fatalf("header mismatch: %+v", swap)
	}
	if swap.FromAddress != testCaller || swap.ToAddress != testPool {
		t.Fatalf("from/to mismatch: %s %s", swap.FromAddress.Hex(), swap.ToAddress.Hex())
	}
}

type fakeSenders struct {
	sender common.Address
	err    error
	calls  int
}

func (f *fakeSenders) TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	f.calls++
	return f.sender, f.err
}

var (
	testProxy = common.HexToAddress("0x3E66B66Fd1d0b02fDa6C811Da9E0547970DB2f21")
	testUser  = common.HexToAddress("0x0000000000007F150Bd6f54c40A34d7C3d5e9f56")
)

func TestDecodeSwapThroughProxy(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	aave := addressOf(t, reg, "AAVE")
	weth := addressOf(t, reg, "WETH")

	logs := []model.LogRecord{
		buildLog(t, eventSwap, testPool, 24,
			[]common.Hash{topic(testProxy), topic(aave), topic(weth)},
			raw("11260284842802604032"), raw("1616934038985744521")),
		buildLog(t, eventSwap, testPool, 25,
			[]common.Hash{topic(testProxy), topic(weth), topic(aave)},
			raw("1000000000000000000"), raw("6000000000000000000")),
	}
	senders := &fakeSenders{sender: testUser}
	ctx := testContext(t, reg)
	ctx.Senders = senders

	out, err := decoder.DecodeTransaction(logs, ctx)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Swaps) != 2 {
		t.Fatalf("expected two swaps, got %d", len(out.Swaps))
	}
	for _, swap := range out.Swaps {
		if swap.Address != testUser {
			t.Fatalf("expected sender %s, got %s", testUser.Hex(), swap.Address.Hex())
		}
		if swap.FromAddress != testProxy || swap.ToAddress != testPool {
			t.Fatalf("expected from %s to %s, got %s to %s",
				testProxy.Hex(), testPool.Hex(), swap.FromAddress.Hex(), swap.ToAddress.Hex())
		}
	}
	if senders.calls != 1 {
		t.Fatalf("expected one sender lookup, got %d", senders.calls)
	}
}

func TestDecodeJoinThroughProxy(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	weth := addressOf(t, reg, "WETH")

	logs := []model.LogRecord{
		buildLog(t, eventJoin, testPool, 331,
			[]common.Hash{topic(testProxy), topic(weth)}, raw("50000000000000000")),
		buildLog(t, eventTransfer, testPool, 332,
			[]common.Hash{topic(testPool), topic(testProxy)}, raw("42569019597126949")),
	}
	ctx := testContext(t, reg)
	ctx.Senders = &fakeSenders{sender: testUser}

	out, err := decoder.DecodeTransaction(logs, ctx)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(out.Events))
	}
	h := out.Events[0].Header()
	if h.Address != testUser || h.PoolAddress != testPool {
		t.Fatalf("header mismatch: %+v", h)
	}
	if !h.LPBalance.Amount.Equal(money.MustNew("0.042569019597126949")) {
		t.Fatalf("lp mismatch: %s", h.LPBalance.Amount)
	}
}

func TestDecodeSenderLookupFailure(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	aave := addressOf(t, reg, "AAVE")
	weth := addressOf(t, reg, "WETH")

	log := buildLog(t, eventSwap, testPool, 24,
		[]common.Hash{topic(testProxy), topic(aave), topic(weth)},
		raw("11260284842802604032"), raw("1616934038985744521"))
	lookupErr := errors.New("not found")
	ctx := testContext(t, reg)
	ctx.Senders = &fakeSenders{err: lookupErr}

	out, err := decoder.DecodeTransaction([]model.LogRecord{log}, ctx)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	var logErr *LogError
	if !errors.As(err, &logErr) || logErr.Log.LogIndex != 24 {
		t.Fatalf("expected log error for index 24, got %v", err)
	}
	if len(out.Swaps) != 0 {
		t.Fatalf("expected no swaps, got %d", len(out.Swaps))
	}
}

func TestDecodeJoinBuildsMint(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	weth := addressOf(t, reg, "WETH")

	logs := []model.LogRecord{
		buildLog(t, eventTransfer, testPool, 333,
			[]common.Hash{topic(testPool), topic(testCaller)}, raw("42569019597126949")),
		buildLog(t, eventJoin, testPool, 331,
			[]common.Hash{topic(testCaller), topic(weth)}, raw("50000000000000000")),
		buildLog(t, eventTransfer, testPool, 332,
			[]common.Hash{topic(common.Address{}), topic(testPool)}, raw("42569019597126949")),
	}

	groups := GroupByTransaction(logs)
	if len(groups) != 1 || groups[0][0].LogIndex != 331 {
		t.Fatalf("unexpected grouping %+v", groups)
	}
	out, err := decoder.DecodeTransaction(groups[0], testContext(t, reg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(out.Events))
	}
	mint, ok := out.Events[0].(model.Mint)
	if !ok {
		t.Fatalf("expected mint, got %T", out.Events[0])
	}
	if mint.LogIndex != 331 || mint.Address != testCaller || mint.PoolAddress != testPool {
		t.Fatalf("header mismatch: %+v", mint.EventHeader)
	}
	if !mint.LPBalance.Amount.Equal(money.MustNew("0.042569019597126949")) || mint.LPBalance.USDValue != nil {
		t.Fatalf("lp mismatch: %+v", mint.LPBalance)
	}
	if len(mint.Amounts) != 2 || !mint.Amounts[0].Equal(money.MustNew("0.05")) || !mint.Amounts[1].IsZero() {
		t.Fatalf("amounts mismatch: %v", mint.Amounts)
	}
	if mint.PoolTokens[1].Token.Identifier() != "BAL" || !mint.PoolTokens[1].Weight.Equal(money.MustNew("80")) {
		t.Fatalf("pool tokens mismatch: %+v", mint.PoolTokens)
	}
}

func TestDecodeExitBuildsBurn(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	weth := addressOf(t, reg, "WETH")
	bal := addressOf(t, reg, "BAL")

	logs := []model.LogRecord{
		buildLog(t, eventExit, testPool, 92,
			[]common.Hash{topic(testCaller), topic(weth)}, raw("10687148200906598")),
		buildLog(t, eventExit, testPool, 93,
			[]common.Hash{topic(testCaller), topic(bal)}, raw("744372160905819159")),
		buildLog(t, eventTransfer, testPool, 94,
			[]common.Hash{topic(testCaller), topic(testPool)}, raw("42569019597126949")),
		buildLog(t, eventTransfer, testPool, 95,
			[]common.Hash{topic(testPool), topic(common.Address{})}, raw("42569019597126949")),
	}
	out, err := decoder.DecodeTransaction(logs, testContext(t, reg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	burn, ok := out.Events[0].(model.Burn)
	if !ok || len(out.Events) != 1 {
		t.Fatalf("expected one burn, got %+v", out.Events)
	}
	if !burn.Amounts[0].Equal(money.MustNew("0.010687148200906598")) || !burn.Amounts[1].Equal(money.MustNew("0.744372160905819159")) {
		t.Fatalf("amounts mismatch: %v", burn.Amounts)
	}
	if !burn.LPBalance.Amount.Equal(money.MustNew("0.042569019597126949")) {
		t.Fatalf("lp mismatch: %s", burn.LPBalance.Amount)
	}
}

func TestDecodeIsolatesFailures(t *testing.T) {
	reg := testRegistry(t)
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	weth := addressOf(t, reg, "WETH")

	logs := []model.LogRecord{
		// Join without any pool share transfer.
		buildLog(t, eventJoin, testPool, 1,
			[]common.Hash{topic(testCaller), topic(weth)}, raw("1000")),
		buildLog(t, eventSwap, testPool, 2,
			[]common.Hash{topic(testCaller), topic(testToken), topic(weth)}, raw("2500000"), raw("1000")),
	}
	out, err := decoder.DecodeTransaction(logs, testContext(t, reg))
	if !errors.Is(err, ErrNoShareTransfer) {
		t.Fatalf("expected missing transfer error, got %v", err)
	}
	var logErr *LogError
	if !errors.As(err, &logErr) || logErr.Log.LogIndex != 1 {
		t.Fatalf("expected log error for index 1, got %v", err)
	}
	if len(out.Swaps) != 1 || len(out.Events) != 0 {
		t.Fatalf("unexpected output %+v", out)
	}
	swap := out.Swaps[0]
	if _, ok := swap.Token0.(asset.Unknown); !ok || swap.Token0.Metadata().Symbol != "TST" {
		t.Fatalf("expected unknown token, got %#v", swap.Token0)
	}
	if !swap.Amount0In.Equal(money.MustNew("2.5")) {
		t.Fatalf("amount mismatch: %s", swap.Amount0In)
	}
}

func TestDecoderTopicAliases(t *testing.T) {
	decoder, err := NewDecoder(DecoderConfig{Topic0Map: map[string]string{"0xabc": "swap"}})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if !decoder.CanDecode("0xABC") || decoder.CanDecode("") || decoder.CanDecode("0xdef") {
		t.Fatalf("unexpected topic support")
	}
	if _, err := NewDecoder(DecoderConfig{Topic0Map: map[string]string{"0xabc": "sync"}}); err == nil {
		t.Fatalf("expected unsupported event name error")
	}
	topics, err := DefaultTopics()
	if err != nil || len(topics) != 4 {
		t.Fatalf("unexpected default topics %v %v", topics, err)
	}
	for _, tp := range topics {
		if !decoder.CanDecode(tp) {
			t.Fatalf("default topic %s not decodable", tp)
		}
	}
}

// fakeCaller answers view calls by method selector.
type fakeCaller struct {
	responses map[string]func(args []byte) ([]byte, error)
}

func (f fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for selector, respond := range f.responses {
		if bytes.HasPrefix(msg.Data, hexutil.MustDecode(selector)) {
			return respond(msg.Data[4:])
		}
	}
	return nil, fmt.Errorf("unexpected call %x", msg.Data)
}

func TestFetchPoolMetaAndShareBalance(t *testing.T) {
	reg := testRegistry(t)
	poolABI, err := BalancerPoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	weth := addressOf(t, reg, "WETH")
	bal := addressOf(t, reg, "BAL")
	weights := map[common.Address]*big.Int{
		weth: raw("200000000000000000"),
		bal:  raw("800000000000000000"),
	}

	caller := fakeCaller{responses: map[string]func([]byte) ([]byte, error){
		hexutil.Encode(poolABI.Methods["getCurrentTokens"].ID): func([]byte) ([]byte, error) {
			return poolABI.Methods["getCurrentTokens"].Outputs.Pack([]common.Address{weth, bal})
		},
		hexutil.Encode(poolABI.Methods["getNormalizedWeight"].ID): func(args []byte) ([]byte, error) {
			token := common.BytesToAddress(args[:32])
			return poolABI.Methods["getNormalizedWeight"].Outputs.Pack(weights[token])
		},
		hexutil.Encode(poolABI.Methods["balanceOf"].ID): func([]byte) ([]byte, error) {
			return poolABI.Methods["balanceOf"].Outputs.Pack(raw("1500000000000000000"))
		},
	}}

	meta, err := FetchPoolMeta(context.Background(), caller, testPool, 0)
	if err != nil {
		t.Fatalf("fetch pool meta: %v", err)
	}
	if len(meta.Tokens) != 2 || meta.IndexOf(bal) != 1 || !meta.Weights[1].Equal(money.MustNew("80")) {
		t.Fatalf("unexpected meta %+v", meta)
	}

	balance, err := NewShareReader(caller, 0).ShareBalance(context.Background(), testPool, testCaller)
	if err != nil {
		t.Fatalf("share balance: %v", err)
	}
	if !balance.Equal(money.MustNew("1.5")) {
		t.Fatalf("unexpected balance %s", balance)
	}

	if _, err := NewShareReader(nil, 0).ShareBalance(context.Background(), testPool, testCaller); err == nil {
		t.Fatalf("expected error without chain client")
	}
}
