// Package asset models fungible tokens as either registry-backed known assets
// or unknown assets that carry their own metadata.
package asset

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Metadata is the capability set shared by every asset variant.
type Metadata struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
}

// DisplayName prefers the name and falls back to the symbol.
func (m Metadata) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Symbol
}

// Asset is implemented by Known and Unknown only.
type Asset interface {
	Identifier() string
	Metadata() Metadata
	isAsset()
}

// Known is an asset with a registry entry. It is obtained from a Registry.
type Known struct {
	id   string
	meta Metadata
}

func (k Known) Identifier() string { return k.id }
func (k Known) Metadata() Metadata { return k.meta }
func (Known) isAsset()             {}

func (k Known) String() string { return k.id }

// MarshalJSON encodes a known asset as its identifier.
func (k Known) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.id)
}

// Unknown is a token without a registry entry.
type Unknown struct {
	meta Metadata
}

// NewUnknown builds an unknown asset from inline metadata.
func NewUnknown(address common.Address, symbol, name string, decimals uint8) Unknown {
	return Unknown{meta: Metadata{
		Address:  address,
		Symbol:   symbol,
		Name:     name,
		Decimals: decimals,
	}}
}

// Identifier of an unknown asset is its checksummed contract address.
func (u Unknown) Identifier() string { return u.meta.Address.Hex() }
func (u Unknown) Metadata() Metadata { return u.meta }
func (Unknown) isAsset()             {}

func (u Unknown) String() string {
	if u.meta.Symbol != "" {
		return u.meta.Symbol + "(" + u.meta.Address.Hex() + ")"
	}
	return u.meta.Address.Hex()
}

type unknownJSON struct {
	EthereumAddress string `json:"ethereum_address"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Decimals        uint8  `json:"decimals"`
}

func (u Unknown) MarshalJSON() ([]byte, error) {
	return json.Marshal(unknownJSON{
		EthereumAddress: u.meta.Address.Hex(),
		Symbol:          u.meta.Symbol,
		Name:            u.meta.Name,
		Decimals:        u.meta.Decimals,
	})
}

// Same reports whether two assets identify the same token.
func Same(a, b Asset) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.EqualFold(a.Identifier(), b.Identifier())
}
