package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrCheckpointScope is returned when a checkpoint was written for a
// different set of addresses or topics.
var ErrCheckpointScope = errors.New("checkpoint scope mismatch")

// Checkpoint tracks the last processed block of one address/topic set.
type Checkpoint struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	Scope              string `json:"scope,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

// CheckpointStore persists checkpoints to disk.
type CheckpointStore struct {
	path    string
	enabled bool
	scope   string
}

func NewCheckpointStore(path string, enabled bool, scope string) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != "", scope: scope}
}

// Scope fingerprints an address and topic filter independent of order.
func Scope(addresses []common.Address, topics []common.Hash) string {
	parts := make([]string, 0, len(addresses)+len(topics)+1)
	for _, a := range addresses {
		parts = append(parts, "a:"+strings.ToLower(a.Hex()))
	}
	for _, t := range topics {
		parts = append(parts, "t:"+strings.ToLower(t.Hex()))
	}
	sort.Strings(parts)
	return crypto.Keccak256Hash([]byte(strings.Join(parts, ","))).Hex()
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	if c == nil || !c.enabled {
		return Checkpoint{}, false, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Scope != "" && c.scope != "" && cp.Scope != c.scope {
		return Checkpoint{}, false, fmt.Errorf("%w: %s", ErrCheckpointScope, c.path)
	}
	return cp, true, nil
}

func (c *CheckpointStore) Save(lastProcessed uint64) error {
	if c == nil || !c.enabled {
		return nil
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(Checkpoint{
		LastProcessedBlock: lastProcessed,
		Scope:              c.scope,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
