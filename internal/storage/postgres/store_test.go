package postgres

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"poolLedger/internal/asset"
)

func TestNewStoreValidatesConfig(t *testing.T) {
	reg, err := asset.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, err := NewStore(context.Background(), Config{}, reg); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := NewStore(context.Background(), Config{DSN: "postgres://localhost/ledger"}, nil); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestAddressKeyIsLowercase(t *testing.T) {
	addr := common.HexToAddress("0x59A19D8c652FA0284f44113D0ff9aBa70bd46fB4")
	if got := addressKey(addr); got != "0x59a19d8c652fa0284f44113d0ff9aba70bd46fb4" {
		t.Fatalf("unexpected key %s", got)
	}
}
