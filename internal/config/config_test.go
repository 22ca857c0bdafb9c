package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func reportFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("report", pflag.ContinueOnError)
	flags.String("source", "", "")
	flags.String("pg-dsn", "", "")
	flags.StringSlice("address", nil, "")
	flags.String("from", "", "")
	flags.String("to", "", "")
	flags.String("currency", "", "")
	if err := flags.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return flags
}

func TestLoadReportFromFlagsAndEnv(t *testing.T) {
	t.Setenv("LEDGER_CURRENCY", "eur")
	flags := reportFlags(t,
		"--address", "0x1111111111111111111111111111111111111111,0x2222222222222222222222222222222222222222",
		"--from", "2021-01-01T00:00:00Z",
		"--to", "1609545600",
	)

	cfg, err := LoadReport("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source != SourceJSONL {
		t.Fatalf("unexpected source %q", cfg.Source)
	}
	if len(cfg.Addresses) != 2 {
		t.Fatalf("expected 2 addresses, got %v", cfg.Addresses)
	}
	if cfg.From != 1609459200 || cfg.To != 1609545600 {
		t.Fatalf("unexpected window %d..%d", cfg.From, cfg.To)
	}
	if cfg.Currency != "EUR" {
		t.Fatalf("expected env currency, got %q", cfg.Currency)
	}
	if cfg.Concurrency != 4 || cfg.PriceMaxAge != 24*time.Hour {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadReportValidates(t *testing.T) {
	addr := "0x1111111111111111111111111111111111111111"
	cases := map[string][]string{
		"no address":     {},
		"bad source":     {"--address", addr, "--source", "csv"},
		"pg without dsn": {"--address", addr, "--source", "pg"},
		"reversed":       {"--address", addr, "--from", "200", "--to", "100"},
		"bad timestamp":  {"--address", addr, "--from", "yesterday"},
	}
	for name, args := range cases {
		if _, err := LoadReport("", reportFlags(t, args...)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadDecodeTopicMap(t *testing.T) {
	t.Setenv("LEDGER_TOPIC0_MAP", "0xaaa=log_swap, 0xbbb = log_join ,broken")
	cfg, err := LoadDecode("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Topic0Map) != 2 || cfg.Topic0Map["0xbbb"] != "log_join" {
		t.Fatalf("unexpected topic map %v", cfg.Topic0Map)
	}
	if cfg.OutSwaps != "./data/swaps.jsonl" {
		t.Fatalf("unexpected default %q", cfg.OutSwaps)
	}
}

func TestLoadIndexRequiresRPC(t *testing.T) {
	if _, err := LoadIndex("", nil); err == nil {
		t.Fatalf("expected error without rpc")
	}
	t.Setenv("LEDGER_RPC", "http://localhost:8545")
	t.Setenv("LEDGER_FROM_TS", "1609459200")
	cfg, err := LoadIndex("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FromTimestamp != 1609459200 || cfg.BatchSize != 2000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]uint64{
		"":                     0,
		"1609459200":           1609459200,
		"2021-01-01T00:00:00Z": 1609459200,
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %d want %d", in, got, want)
		}
	}
}
