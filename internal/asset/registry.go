package asset

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownIdentifier is returned when an encoded asset id has no registry entry.
var ErrUnknownIdentifier = errors.New("unknown asset identifier")

//go:embed assets.json
var defaultAssetsJSON []byte

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Entry is one registry record as stored in JSON.
type Entry struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// Registry resolves identifiers and contract addresses to known assets.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	byID      map[string]Known
	byAddress map[common.Address]Known
}

// NewRegistry builds a registry, rejecting duplicate ids and addresses.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{
		byID:      make(map[string]Known, len(entries)),
		byAddress: make(map[common.Address]Known, len(entries)),
	}
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("registry entry with empty id")
		}
		if _, ok := r.byID[id]; ok {
			return nil, fmt.Errorf("duplicate asset id %s", id)
		}
		if e.Address != "" && !common.IsHexAddress(e.Address) {
			return nil, fmt.Errorf("asset %s: invalid address %q", id, e.Address)
		}
		known := Known{id: id, meta: Metadata{
			Address:  common.HexToAddress(e.Address),
			Symbol:   e.Symbol,
			Name:     e.Name,
			Decimals: e.Decimals,
		}}
		r.byID[id] = known
		if e.Address != "" {
			if prev, ok := r.byAddress[known.meta.Address]; ok {
				return nil, fmt.Errorf("asset %s: address already registered for %s", id, prev.id)
			}
			r.byAddress[known.meta.Address] = known
		}
	}
	return r, nil
}

// DefaultRegistry returns the registry built from the embedded asset list.
func DefaultRegistry() (*Registry, error) {
	defaultOnce.Do(func() {
		var entries []Entry
		if err := json.Unmarshal(defaultAssetsJSON, &entries); err != nil {
			defaultErr = fmt.Errorf("decode embedded assets: %w", err)
			return
		}
		defaultRegistry, defaultErr = NewRegistry(entries)
	})
	return defaultRegistry, defaultErr
}

// LoadRegistry reads a JSON array of entries from path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset registry: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode asset registry: %w", err)
	}
	return NewRegistry(entries)
}

func (r *Registry) Lookup(id string) (Known, bool) {
	k, ok := r.byID[id]
	return k, ok
}

func (r *Registry) ByAddress(address common.Address) (Known, bool) {
	k, ok := r.byAddress[address]
	return k, ok
}

// MustLookup panics when id is not registered. Intended for tests and fixtures.
func (r *Registry) MustLookup(id string) Known {
	k, ok := r.byID[id]
	if !ok {
		panic(fmt.Sprintf("asset %s not registered", id))
	}
	return k
}

// Resolve returns the registered asset for the address, or an Unknown
// carrying meta.
func (r *Registry) Resolve(meta Metadata) Asset {
	if k, ok := r.byAddress[meta.Address]; ok {
		return k
	}
	return Unknown{meta: meta}
}

// Decode parses the JSON form of an asset: an identifier string for known
// assets or an inline object for unknown ones.
func (r *Registry) Decode(raw json.RawMessage) (Asset, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if k, ok := r.byID[id]; ok {
			return k, nil
		}
		if common.IsHexAddress(id) {
			if k, ok := r.byAddress[common.HexToAddress(id)]; ok {
				return k, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, id)
	}

	var u unknownJSON
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	if !common.IsHexAddress(u.EthereumAddress) {
		return nil, fmt.Errorf("decode asset: invalid ethereum_address %q", u.EthereumAddress)
	}
	return r.Resolve(Metadata{
		Address:  common.HexToAddress(u.EthereumAddress),
		Symbol:   u.Symbol,
		Name:     u.Name,
		Decimals: u.Decimals,
	}), nil
}

func (r *Registry) Len() int {
	return len(r.byID)
}
