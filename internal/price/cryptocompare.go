package price

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"poolLedger/internal/asset"
	"poolLedger/internal/money"
)

const DefaultCryptoCompareURL = "https://min-api.cryptocompare.com"

// CryptoCompareConfig configures the historical price client.
type CryptoCompareConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RetryCount    int
	RatePerSecond float64
}

// CryptoCompareOracle reads daily historical prices from the CryptoCompare
// pricehistorical endpoint.
type CryptoCompareOracle struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewCryptoCompareOracle(cfg CryptoCompareConfig, logger *zap.Logger) *CryptoCompareOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultCryptoCompareURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Apikey "+cfg.APIKey)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &CryptoCompareOracle{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

func (o *CryptoCompareOracle) PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return money.Decimal{}, fmt.Errorf("wait rate limit: %w", err)
	}
	fsym := lookupSymbol(a)
	tsym := strings.ToUpper(currency)

	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fsym":  fsym,
			"tsyms": tsym,
			"ts":    strconv.FormatUint(ts, 10),
		}).
		Get("/data/pricehistorical")
	if err != nil {
		return money.Decimal{}, fmt.Errorf("query pricehistorical: %w", err)
	}
	if resp.IsError() {
		return money.Decimal{}, fmt.Errorf("query pricehistorical: status %d", resp.StatusCode())
	}

	p, err := parseHistorical(resp.Body(), fsym, tsym)
	if err != nil {
		o.logger.Debug("historical price missing",
			zap.String("asset", a.Identifier()),
			zap.String("currency", tsym),
			zap.Uint64("ts", ts),
			zap.Error(err),
		)
		return money.Decimal{}, err
	}
	return p, nil
}

// parseHistorical extracts body[fsym][tsym]. Error payloads and zero prices
// mean no quote exists.
func parseHistorical(body []byte, fsym, tsym string) (money.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]json.RawMessage
	if err := dec.Decode(&payload); err != nil {
		return money.Decimal{}, fmt.Errorf("decode pricehistorical: %w", err)
	}
	if raw, ok := payload["Response"]; ok && strings.Contains(string(raw), "Error") {
		var msg string
		_ = json.Unmarshal(payload["Message"], &msg)
		return money.Decimal{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, msg)
	}
	raw, ok := payload[fsym]
	if !ok {
		return money.Decimal{}, fmt.Errorf("%w: %s missing from response", ErrPriceUnavailable, fsym)
	}
	quotes := make(map[string]json.Number)
	inner := json.NewDecoder(bytes.NewReader(raw))
	inner.UseNumber()
	if err := inner.Decode(&quotes); err != nil {
		return money.Decimal{}, fmt.Errorf("decode pricehistorical quotes: %w", err)
	}
	n, ok := quotes[tsym]
	if !ok {
		return money.Decimal{}, fmt.Errorf("%w: %s/%s missing from response", ErrPriceUnavailable, fsym, tsym)
	}
	p, err := money.FromString(n.String())
	if err != nil {
		return money.Decimal{}, fmt.Errorf("parse price %s: %w", n, err)
	}
	if p.IsZero() {
		return money.Decimal{}, fmt.Errorf("%w: %s/%s quoted as zero", ErrPriceUnavailable, fsym, tsym)
	}
	return p, nil
}
