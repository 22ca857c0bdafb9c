package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/money"
)

// weightDecimals turns a 1e18-scaled normalized weight into a percentage.
const weightDecimals = 16

// ContractCaller is the subset of the chain client used for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolMetaCache caches pool metadata by address.
type PoolMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.PoolMeta
}

func NewPoolMetaCache() *PoolMetaCache {
	return &PoolMetaCache{data: make(map[common.Address]model.PoolMeta)}
}

func (c *PoolMetaCache) Get(address common.Address) (model.PoolMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *PoolMetaCache) Set(address common.Address, meta model.PoolMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// TokenMetaCache caches ERC20 metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]asset.Metadata
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]asset.Metadata)}
}

func (c *TokenMetaCache) Get(address common.Address) (asset.Metadata, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta asset.Metadata) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// FetchPoolMeta reads the bound tokens of a pool and their normalized weights
// at the given block (0 means latest).
func FetchPoolMeta(ctx context.Context, caller ContractCaller, pool common.Address, blockNumber uint64) (model.PoolMeta, error) {
	if caller == nil {
		return model.PoolMeta{}, fmt.Errorf("chain client is nil")
	}
	poolABI, err := BalancerPoolABI()
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}

	var block *big.Int
	if blockNumber > 0 {
		block = new(big.Int).SetUint64(blockNumber)
	}

	values, err := callMethod(ctx, caller, pool, poolABI, "getCurrentTokens", block)
	if err != nil {
		return model.PoolMeta{}, err
	}
	tokens, ok := values[0].([]common.Address)
	if !ok {
		return model.PoolMeta{}, fmt.Errorf("getCurrentTokens: unsupported type %T", values[0])
	}

	meta := model.PoolMeta{
		Address: pool,
		Tokens:  tokens,
		Weights: make([]money.Decimal, len(tokens)),
	}
	for i, token := range tokens {
		values, err := callMethod(ctx, caller, pool, poolABI, "getNormalizedWeight", block, token)
		if err != nil {
			return model.PoolMeta{}, err
		}
		raw, err := asBigInt(values[0])
		if err != nil {
			return model.PoolMeta{}, fmt.Errorf("weight of %s: %w", token.Hex(), err)
		}
		meta.Weights[i] = money.FromTokenAmount(raw, weightDecimals)
	}
	return meta, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls. Symbol and name fall
// back to the bytes32 variants; their absence is not an error.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (asset.Metadata, error) {
	meta := asset.Metadata{Address: token}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	standard, err := erc20Metadata.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}
	legacy, err := erc20LegacyMetadata.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 legacy abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, standard, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	text := func(method string) string {
		if values, err := callMethod(ctx, caller, token, standard, method, nil); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
		values, err := callMethod(ctx, caller, token, legacy, method, nil)
		if err != nil {
			logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(err))
			return ""
		}
		s, _ := bytes32ToString(values[0])
		return s
	}
	meta.Symbol = text("symbol")
	meta.Name = text("name")
	return meta, nil
}

// TokenResolver maps token addresses to assets: registry entries first, then
// cached or fetched ERC20 metadata as Unknown assets.
type TokenResolver struct {
	registry *asset.Registry
	cache    *TokenMetaCache
	caller   ContractCaller
	logger   *zap.Logger
}

func NewTokenResolver(registry *asset.Registry, cache *TokenMetaCache, caller ContractCaller, logger *zap.Logger) *TokenResolver {
	if cache == nil {
		cache = NewTokenMetaCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenResolver{registry: registry, cache: cache, caller: caller, logger: logger}
}

// Resolve returns the asset of token.
func (r *TokenResolver) Resolve(ctx context.Context, token common.Address) (asset.Asset, error) {
	if r.registry != nil {
		if known, ok := r.registry.ByAddress(token); ok {
			return known, nil
		}
	}
	meta, ok := r.cache.Get(token)
	if !ok {
		var err error
		meta, err = FetchTokenMeta(ctx, r.caller, token, r.logger)
		if err != nil {
			return nil, fmt.Errorf("token %s metadata: %w", token.Hex(), err)
		}
		r.cache.Set(token, meta)
	}
	if r.registry != nil {
		return r.registry.Resolve(meta), nil
	}
	return asset.NewUnknown(meta.Address, meta.Symbol, meta.Name, meta.Decimals), nil
}

// ShareReader reads pool-share balances with balanceOf on the pool contract.
type ShareReader struct {
	caller ContractCaller
	block  *big.Int
}

// NewShareReader reads balances at blockNumber, or at the latest block when 0.
func NewShareReader(caller ContractCaller, blockNumber uint64) *ShareReader {
	r := &ShareReader{caller: caller}
	if blockNumber > 0 {
		r.block = new(big.Int).SetUint64(blockNumber)
	}
	return r
}

// ShareBalance returns the pool-share balance of holder.
func (r *ShareReader) ShareBalance(ctx context.Context, pool, holder common.Address) (money.Decimal, error) {
	if r.caller == nil {
		return money.Decimal{}, fmt.Errorf("chain client is nil")
	}
	poolABI, err := BalancerPoolABI()
	if err != nil {
		return money.Decimal{}, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, pool, poolABI, "balanceOf", r.block, holder)
	if err != nil {
		return money.Decimal{}, err
	}
	raw, err := asBigInt(values[0])
	if err != nil {
		return money.Decimal{}, fmt.Errorf("balanceOf: %w", err)
	}
	return money.FromTokenAmount(raw, shareDecimals), nil
}

func callMethod(ctx context.Context, caller ContractCaller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
