package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
)

// JSONLSource serves swaps and liquidity events from decoded JSONL files.
// Every call rereads the files, so a window can be read again after a
// failure. Records are deduplicated on (tx hash, log index).
type JSONLSource struct {
	swapsPath  string
	eventsPath string
	registry   *asset.Registry
	logger     *zap.Logger
}

func NewJSONLSource(swapsPath, eventsPath string, registry *asset.Registry, logger *zap.Logger) *JSONLSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSource{
		swapsPath:  swapsPath,
		eventsPath: eventsPath,
		registry:   registry,
		logger:     logger,
	}
}

type recordKey struct {
	txHash   string
	logIndex uint64
}

// Swaps returns the swaps of address within [from, to] ordered by
// (timestamp, log index).
func (s *JSONLSource) Swaps(ctx context.Context, address common.Address, from, to uint64) ([]model.Swap, error) {
	if s.swapsPath == "" {
		return nil, fmt.Errorf("swaps path is required")
	}
	seen := make(map[recordKey]struct{})
	var out []model.Swap
	err := ScanFile(s.swapsPath, func(lineNo int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		swap, err := model.DecodeSwap(line, s.registry)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", s.swapsPath, lineNo, err)
		}
		if swap.Address != address || swap.Timestamp < from || swap.Timestamp > to {
			return nil
		}
		key := recordKey{txHash: strings.ToLower(swap.TxHash), logIndex: swap.LogIndex}
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}
		out = append(out, swap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	s.logger.Debug("swaps loaded", zap.String("address", address.Hex()), zap.Int("count", len(out)))
	return out, nil
}

// LiquidityEvents returns the mints and burns of address within [from, to]
// ordered by (timestamp, log index).
func (s *JSONLSource) LiquidityEvents(ctx context.Context, address common.Address, from, to uint64) ([]model.LiquidityEvent, error) {
	if s.eventsPath == "" {
		return nil, fmt.Errorf("events path is required")
	}
	seen := make(map[recordKey]struct{})
	var out []model.LiquidityEvent
	err := ScanFile(s.eventsPath, func(lineNo int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := model.DecodeLiquidityEvent(line, s.registry)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", s.eventsPath, lineNo, err)
		}
		h := ev.Header()
		if h.Address != address || h.Timestamp < from || h.Timestamp > to {
			return nil
		}
		key := recordKey{txHash: strings.ToLower(h.TxHash), logIndex: h.LogIndex}
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Header(), out[j].Header()
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.LogIndex < b.LogIndex
	})
	s.logger.Debug("liquidity events loaded", zap.String("address", address.Hex()), zap.Int("count", len(out)))
	return out, nil
}
