package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"poolLedger/internal/model"
	"poolLedger/internal/money"
)

const (
	eventSwap     = "LOG_SWAP"
	eventJoin     = "LOG_JOIN"
	eventExit     = "LOG_EXIT"
	eventTransfer = "Transfer"

	shareDecimals = 18
)

// ErrNoShareTransfer is returned when a join or exit has no matching
// pool-share transfer in its transaction.
var ErrNoShareTransfer = errors.New("no pool share transfer")

// DecoderConfig configures decoder behavior. Topic0Map adds topic0 aliases
// for the supported event names.
type DecoderConfig struct {
	Topic0Map map[string]string
}

// TxSenderReader resolves the account that signed a transaction.
type TxSenderReader interface {
	TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error)
}

// DecodeContext provides shared dependencies for decoding. Without Senders
// the event caller stands in for the transaction sender.
type DecodeContext struct {
	Context       context.Context
	Chain         ContractCaller
	Senders       TxSenderReader
	PoolMetaCache *PoolMetaCache
	Tokens        *TokenResolver
	Logger        *zap.Logger
}

// Decoded holds the records produced from one transaction.
type Decoded struct {
	Swaps  []model.Swap
	Events []model.LiquidityEvent
}

// LogError ties a decode failure to the log that caused it.
type LogError struct {
	Log model.LogRecord
	Err error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("log %s/%d: %v", e.Log.TxHash, e.Log.LogIndex, e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// Decoder turns raw Balancer pool logs into swaps and liquidity events.
type Decoder struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	poolABI, err := BalancerPoolABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, 4)
	for _, name := range []string{eventSwap, eventJoin, eventExit, eventTransfer} {
		topicToName[strings.ToLower(poolABI.Events[name].ID.Hex())] = name
	}
	for topic0, name := range cfg.Topic0Map {
		original := name
		name = normalizeEventName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = name
	}

	return &Decoder{poolABI: poolABI, topicToName: topicToName}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "log_swap", "swap":
		return eventSwap
	case "log_join", "join":
		return eventJoin
	case "log_exit", "exit":
		return eventExit
	case "transfer":
		return eventTransfer
	default:
		return ""
	}
}

// GroupByTransaction splits logs by transaction hash, keeping the order in
// which transactions first appear and sorting each group by log index.
func GroupByTransaction(logs []model.LogRecord) [][]model.LogRecord {
	index := make(map[string]int)
	var groups [][]model.LogRecord
	for _, log := range logs {
		key := log.TxKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], log)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].LogIndex < g[b].LogIndex })
	}
	return groups
}

type liquidityKey struct {
	pool   common.Address
	caller common.Address
	kind   model.EventType
}

type liquidityGroup struct {
	first   model.LogRecord
	amounts map[common.Address]*big.Int
	logs    []model.LogRecord
}

type shareTransfer struct {
	src, dst common.Address
	amount   *big.Int
}

// txSender looks the sender up at most once per transaction.
type txSender struct {
	reader TxSenderReader
	done   bool
	addr   common.Address
	err    error
}

func (s *txSender) resolve(ctx context.Context, log model.LogRecord, caller common.Address) (common.Address, error) {
	if s.reader == nil {
		return caller, nil
	}
	if !s.done {
		s.done = true
		s.addr, s.err = s.reader.TransactionSender(ctx, common.HexToHash(log.TxHash))
		if s.err != nil {
			s.err = fmt.Errorf("transaction sender: %w", s.err)
		}
	}
	return s.addr, s.err
}

// DecodeTransaction decodes the logs of one transaction. Records that decode
// are returned even when others fail; failures are joined *LogError values.
// Removed logs are ignored.
func (d *Decoder) DecodeTransaction(logs []model.LogRecord, ctx DecodeContext) (Decoded, error) {
	if ctx.Context == nil {
		ctx.Context = context.Background()
	}
	if ctx.Logger == nil {
		ctx.Logger = zap.NewNop()
	}
	if ctx.Tokens == nil {
		ctx.Tokens = NewTokenResolver(nil, nil, ctx.Chain, ctx.Logger)
	}

	var (
		out       Decoded
		errs      []error
		groups    = make(map[liquidityKey]*liquidityGroup)
		order     []liquidityKey
		transfers []model.LogRecord
		sender    = &txSender{reader: ctx.Senders}
	)

	for _, log := range logs {
		if log.Removed || !d.CanDecode(log.Topic0()) {
			continue
		}
		name := d.topicToName[strings.ToLower(log.Topic0())]
		pool, err := log.PoolAddress()
		if err != nil {
			errs = append(errs, &LogError{Log: log, Err: err})
			continue
		}

		switch name {
		case eventSwap:
			swap, err := d.decodeSwap(log, sender, ctx)
			if err != nil {
				errs = append(errs, &LogError{Log: log, Err: err})
				continue
			}
			out.Swaps = append(out.Swaps, swap)
		case eventJoin, eventExit:
			caller, token, amount, err := d.decodeJoinExit(name, log)
			if err != nil {
				errs = append(errs, &LogError{Log: log, Err: err})
				continue
			}
			kind := model.EventMint
			if name == eventExit {
				kind = model.EventBurn
			}
			key := liquidityKey{pool: pool, caller: caller, kind: kind}
			g := groups[key]
			if g == nil {
				g = &liquidityGroup{first: log, amounts: make(map[common.Address]*big.Int)}
				groups[key] = g
				order = append(order, key)
			}
			if prev, ok := g.amounts[token]; ok {
				prev.Add(prev, amount)
			} else {
				g.amounts[token] = amount
			}
			g.logs = append(g.logs, log)
		case eventTransfer:
			transfers = append(transfers, log)
		}
	}

	for _, key := range order {
		g := groups[key]
		ev, err := d.buildLiquidityEvent(key, g, transfers, sender, ctx)
		if err != nil {
			for _, log := range g.logs {
				errs = append(errs, &LogError{Log: log, Err: err})
			}
			continue
		}
		out.Events = append(out.Events, ev)
	}
	sort.SliceStable(out.Events, func(i, j int) bool {
		return out.Events[i].Header().LogIndex < out.Events[j].Header().LogIndex
	})

	return out, errors.Join(errs...)
}

// decodeSwap attributes the swap to the transaction sender. The event caller
// may be a proxy and is kept as the from address, the pool is the to address.
func (d *Decoder) decodeSwap(log model.LogRecord, sender *txSender, ctx DecodeContext) (model.Swap, error) {
	event := d.poolABI.Events[eventSwap]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.Swap{}, err
	}
	var indexed struct {
		Caller   common.Address
		TokenIn  common.Address
		TokenOut common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.Swap{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.Swap{}, err
	}
	if len(values) != 2 {
		return model.Swap{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}
	amountIn, err := asBigInt(values[0])
	if err != nil {
		return model.Swap{}, err
	}
	amountOut, err := asBigInt(values[1])
	if err != nil {
		return model.Swap{}, err
	}

	user, err := sender.resolve(ctx.Context, log, indexed.Caller)
	if err != nil {
		return model.Swap{}, err
	}
	pool := common.HexToAddress(log.Address)

	tokenIn, err := ctx.Tokens.Resolve(ctx.Context, indexed.TokenIn)
	if err != nil {
		return model.Swap{}, err
	}
	tokenOut, err := ctx.Tokens.Resolve(ctx.Context, indexed.TokenOut)
	if err != nil {
		return model.Swap{}, err
	}

	return model.Swap{
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     user,
		PoolAddress: pool,
		FromAddress: indexed.Caller,
		ToAddress:   pool,
		Timestamp:   log.Timestamp,
		Location:    model.LocationBalancer,
		Token0:      tokenIn,
		Token1:      tokenOut,
		Amount0In:   money.FromTokenAmount(amountIn, tokenIn.Metadata().Decimals),
		Amount1Out:  money.FromTokenAmount(amountOut, tokenOut.Metadata().Decimals),
	}, nil
}

func (d *Decoder) decodeJoinExit(name string, log model.LogRecord) (common.Address, common.Address, *big.Int, error) {
	event := d.poolABI.Events[name]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	if len(indexedTopics) != 2 {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("unexpected %s topics: %d", name, len(indexedTopics))
	}
	caller := common.BytesToAddress(indexedTopics[0].Bytes())
	token := common.BytesToAddress(indexedTopics[1].Bytes())

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	if len(values) != 1 {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("unexpected %s values: %d", name, len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return caller, token, amount, nil
}

func (d *Decoder) decodeTransfer(log model.LogRecord) (shareTransfer, error) {
	event := d.poolABI.Events[eventTransfer]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return shareTransfer{}, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return shareTransfer{}, err
	}
	if len(values) != 1 {
		return shareTransfer{}, fmt.Errorf("unexpected transfer values: %d", len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return shareTransfer{}, err
	}
	return shareTransfer{
		src:    common.BytesToAddress(indexedTopics[0].Bytes()),
		dst:    common.BytesToAddress(indexedTopics[1].Bytes()),
		amount: amount,
	}, nil
}

// shareAmount sums the pool-share transfers between the pool and the caller.
// A join pushes minted shares from the pool to the caller; an exit pulls them
// from the caller into the pool before burning. Direct mints and burns
// against the zero address are accepted when the pool leg is missing.
func (d *Decoder) shareAmount(key liquidityKey, transfers []model.LogRecord) (*big.Int, error) {
	direct := new(big.Int)
	viaZero := new(big.Int)
	for _, log := range transfers {
		if common.HexToAddress(log.Address) != key.pool {
			continue
		}
		tr, err := d.decodeTransfer(log)
		if err != nil {
			return nil, fmt.Errorf("pool share transfer %d: %w", log.LogIndex, err)
		}
		switch key.kind {
		case model.EventMint:
			if tr.dst != key.caller {
				continue
			}
			if tr.src == key.pool {
				direct.Add(direct, tr.amount)
			} else if tr.src == (common.Address{}) {
				viaZero.Add(viaZero, tr.amount)
			}
		case model.EventBurn:
			if tr.src != key.caller {
				continue
			}
			if tr.dst == key.pool {
				direct.Add(direct, tr.amount)
			} else if tr.dst == (common.Address{}) {
				viaZero.Add(viaZero, tr.amount)
			}
		}
	}
	if direct.Sign() > 0 {
		return direct, nil
	}
	if viaZero.Sign() > 0 {
		return viaZero, nil
	}
	return nil, ErrNoShareTransfer
}

func (d *Decoder) buildLiquidityEvent(key liquidityKey, g *liquidityGroup, transfers []model.LogRecord, sender *txSender, ctx DecodeContext) (model.LiquidityEvent, error) {
	user, err := sender.resolve(ctx.Context, g.first, key.caller)
	if err != nil {
		return nil, err
	}
	meta, err := getPoolMeta(ctx, key.pool, g.first.BlockNumber)
	if err != nil {
		return nil, err
	}
	if len(meta.Tokens) != len(meta.Weights) {
		return nil, fmt.Errorf("pool %s: %d tokens but %d weights", key.pool.Hex(), len(meta.Tokens), len(meta.Weights))
	}

	lp, err := d.shareAmount(key, transfers)
	if err != nil {
		return nil, err
	}

	poolTokens := make([]model.PoolToken, len(meta.Tokens))
	amounts := make([]money.Decimal, len(meta.Tokens))
	for i, token := range meta.Tokens {
		a, err := ctx.Tokens.Resolve(ctx.Context, token)
		if err != nil {
			return nil, err
		}
		poolTokens[i] = model.PoolToken{Token: a, Weight: meta.Weights[i]}
		if raw, ok := g.amounts[token]; ok {
			amounts[i] = money.FromTokenAmount(raw, a.Metadata().Decimals)
		}
	}
	for token := range g.amounts {
		if meta.IndexOf(token) < 0 {
			return nil, fmt.Errorf("token %s is not bound to pool %s", token.Hex(), key.pool.Hex())
		}
	}

	header := model.EventHeader{
		TxHash:      g.first.TxHash,
		LogIndex:    g.first.LogIndex,
		Address:     user,
		PoolAddress: key.pool,
		Timestamp:   g.first.Timestamp,
		LPBalance:   model.Balance{Amount: money.FromTokenAmount(lp, shareDecimals)},
		Amounts:     amounts,
		PoolTokens:  poolTokens,
	}
	if key.kind == model.EventBurn {
		return model.Burn{EventHeader: header}, nil
	}
	return model.Mint{EventHeader: header}, nil
}

func getPoolMeta(ctx DecodeContext, pool common.Address, blockNumber uint64) (model.PoolMeta, error) {
	if ctx.PoolMetaCache != nil {
		if meta, ok := ctx.PoolMetaCache.Get(pool); ok {
			return meta, nil
		}
	}
	meta, err := FetchPoolMeta(ctx.Context, ctx.Chain, pool, blockNumber)
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("pool %s metadata: %w", pool.Hex(), err)
	}
	if ctx.PoolMetaCache != nil {
		ctx.PoolMetaCache.Set(pool, meta)
	}
	return meta, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
