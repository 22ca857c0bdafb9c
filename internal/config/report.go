package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	SourceJSONL    = "jsonl"
	SourcePostgres = "pg"
)

// ReportConfig holds configuration shared by the trades, pool-events and
// balances commands.
type ReportConfig struct {
	Source      string
	Swaps       string
	Events      string
	PGDSN       string
	Addresses   []string
	From        uint64
	To          uint64
	Currency    string
	Valuation   string
	Concurrency int
	Registry    string
	Out         string
	LogLevel    string
	LogFile     string

	Prices      string
	PriceMaxAge time.Duration

	CryptoCompare        bool
	CryptoCompareURL     string
	CryptoCompareAPIKey  string
	CryptoCompareTimeout time.Duration
	CryptoCompareRetries int
	CryptoCompareRate    float64

	// RPCURL enables on-chain pool-share balances when set.
	RPCURL     string
	ShareBlock uint64
}

// LoadReport merges config file, environment variables, and flags into ReportConfig.
func LoadReport(cfgFile string, flags *pflag.FlagSet) (ReportConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"source":                SourceJSONL,
		"swaps":                 "./data/swaps.jsonl",
		"events":                "./data/liquidity_events.jsonl",
		"currency":              "USD",
		"valuation":             "lp_token",
		"concurrency":           4,
		"price-max-age":         24 * time.Hour,
		"cryptocompare-timeout": 15 * time.Second,
		"cryptocompare-retries": 3,
		"cryptocompare-rate":    5.0,
		"log-level":             "info",
	})
	if err != nil {
		return ReportConfig{}, err
	}

	from, err := ParseTimestamp(v.GetString("from"))
	if err != nil {
		return ReportConfig{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := ParseTimestamp(v.GetString("to"))
	if err != nil {
		return ReportConfig{}, fmt.Errorf("parse to: %w", err)
	}
	if to == 0 {
		to = uint64(time.Now().Unix())
	}

	cfg := ReportConfig{
		Source:               strings.ToLower(v.GetString("source")),
		Swaps:                v.GetString("swaps"),
		Events:               v.GetString("events"),
		PGDSN:                v.GetString("pg-dsn"),
		Addresses:            getStringSlice(v, "address"),
		From:                 from,
		To:                   to,
		Currency:             strings.ToUpper(v.GetString("currency")),
		Valuation:            v.GetString("valuation"),
		Concurrency:          v.GetInt("concurrency"),
		Registry:             v.GetString("registry"),
		Out:                  v.GetString("out"),
		LogLevel:             v.GetString("log-level"),
		LogFile:              v.GetString("log-file"),
		Prices:               v.GetString("prices"),
		PriceMaxAge:          v.GetDuration("price-max-age"),
		CryptoCompare:        v.GetBool("cryptocompare"),
		CryptoCompareURL:     v.GetString("cryptocompare-url"),
		CryptoCompareAPIKey:  v.GetString("cryptocompare-api-key"),
		CryptoCompareTimeout: v.GetDuration("cryptocompare-timeout"),
		CryptoCompareRetries: v.GetInt("cryptocompare-retries"),
		CryptoCompareRate:    v.GetFloat64("cryptocompare-rate"),
		RPCURL:               v.GetString("rpc"),
		ShareBlock:           v.GetUint64("share-block"),
	}

	switch cfg.Source {
	case SourceJSONL:
	case SourcePostgres:
		if cfg.PGDSN == "" {
			return ReportConfig{}, fmt.Errorf("pg-dsn is required for source %q", SourcePostgres)
		}
	default:
		return ReportConfig{}, fmt.Errorf("unknown source %q", cfg.Source)
	}
	if len(cfg.Addresses) == 0 {
		return ReportConfig{}, fmt.Errorf("at least one address is required")
	}
	if cfg.From > cfg.To {
		return ReportConfig{}, fmt.Errorf("from %d is after to %d", cfg.From, cfg.To)
	}

	return cfg, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
