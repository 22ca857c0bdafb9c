package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolLedger/internal/asset"
	"poolLedger/internal/model"
	"poolLedger/internal/money"
	"poolLedger/internal/price"
)

const schema = `
CREATE TABLE IF NOT EXISTS swaps (
	tx_hash      TEXT    NOT NULL,
	log_index    BIGINT  NOT NULL,
	address      TEXT    NOT NULL,
	pool_address TEXT    NOT NULL,
	ts           BIGINT  NOT NULL,
	amount0_in   NUMERIC NOT NULL,
	amount1_in   NUMERIC NOT NULL,
	amount0_out  NUMERIC NOT NULL,
	amount1_out  NUMERIC NOT NULL,
	payload      JSONB   NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS swaps_address_ts ON swaps (address, ts, log_index);

CREATE TABLE IF NOT EXISTS liquidity_events (
	tx_hash      TEXT    NOT NULL,
	log_index    BIGINT  NOT NULL,
	address      TEXT    NOT NULL,
	pool_address TEXT    NOT NULL,
	event_type   TEXT    NOT NULL,
	ts           BIGINT  NOT NULL,
	lp_amount    NUMERIC NOT NULL,
	payload      JSONB   NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index, address)
);
CREATE INDEX IF NOT EXISTS liquidity_events_address_ts ON liquidity_events (address, ts, log_index);

CREATE TABLE IF NOT EXISTS historical_prices (
	asset    TEXT    NOT NULL,
	currency TEXT    NOT NULL,
	ts       BIGINT  NOT NULL,
	price    NUMERIC NOT NULL,
	PRIMARY KEY (asset, currency, ts)
);

CREATE TABLE IF NOT EXISTS ledger_state (
	name                 TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
`

// Store persists decoded swaps, liquidity events and historical prices. It
// serves the ledger's swap and event sources and acts as a price oracle.
type Store struct {
	pool     *pgxpool.Pool
	registry *asset.Registry
	maxAge   uint64
}

// Config controls the store. PriceMaxAge bounds how old a quote may be
// relative to the requested timestamp; zero means exact timestamps only.
type Config struct {
	DSN         string
	PriceMaxAge time.Duration
}

func NewStore(ctx context.Context, cfg Config, registry *asset.Registry) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("asset registry is nil")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:     pool,
		registry: registry,
		maxAge:   uint64(cfg.PriceMaxAge / time.Second),
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func addressKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// UpsertSwaps inserts or replaces swaps keyed by (tx hash, log index).
func (s *Store) UpsertSwaps(ctx context.Context, swaps []model.Swap) error {
	if len(swaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, swap := range swaps {
		payload, err := json.Marshal(swap)
		if err != nil {
			return fmt.Errorf("marshal swap %s/%d: %w", swap.TxHash, swap.LogIndex, err)
		}
		batch.Queue(`
			INSERT INTO swaps (
				tx_hash, log_index, address, pool_address, ts,
				amount0_in, amount1_in, amount0_out, amount1_out, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (tx_hash, log_index)
			DO UPDATE SET
				address = EXCLUDED.address,
				pool_address = EXCLUDED.pool_address,
				ts = EXCLUDED.ts,
				amount0_in = EXCLUDED.amount0_in,
				amount1_in = EXCLUDED.amount1_in,
				amount0_out = EXCLUDED.amount0_out,
				amount1_out = EXCLUDED.amount1_out,
				payload = EXCLUDED.payload
		`,
			strings.ToLower(swap.TxHash),
			int64(swap.LogIndex),
			addressKey(swap.Address),
			addressKey(swap.PoolAddress),
			int64(swap.Timestamp),
			swap.Amount0In.String(),
			swap.Amount1In.String(),
			swap.Amount0Out.String(),
			swap.Amount1Out.String(),
			payload,
		)
	}
	return s.sendBatch(ctx, batch)
}

// UpsertLiquidityEvents inserts or replaces mints and burns keyed by
// (tx hash, log index, address).
func (s *Store) UpsertLiquidityEvents(ctx context.Context, events []model.LiquidityEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		h := ev.Header()
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s/%d: %w", h.TxHash, h.LogIndex, err)
		}
		batch.Queue(`
			INSERT INTO liquidity_events (
				tx_hash, log_index, address, pool_address, event_type, ts, lp_amount, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_hash, log_index, address)
			DO UPDATE SET
				pool_address = EXCLUDED.pool_address,
				event_type = EXCLUDED.event_type,
				ts = EXCLUDED.ts,
				lp_amount = EXCLUDED.lp_amount,
				payload = EXCLUDED.payload
		`,
			strings.ToLower(h.TxHash),
			int64(h.LogIndex),
			addressKey(h.Address),
			addressKey(h.PoolAddress),
			string(ev.Type()),
			int64(h.Timestamp),
			h.LPBalance.Amount.String(),
			payload,
		)
	}
	return s.sendBatch(ctx, batch)
}

// PriceQuote is one row of the historical price table.
type PriceQuote struct {
	Asset     string
	Currency  string
	Timestamp uint64
	Price     money.Decimal
}

// UpsertPrices stores historical quotes.
func (s *Store) UpsertPrices(ctx context.Context, quotes []PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(`
			INSERT INTO historical_prices (asset, currency, ts, price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (asset, currency, ts) DO UPDATE SET price = EXCLUDED.price
		`,
			strings.ToLower(q.Asset),
			strings.ToUpper(q.Currency),
			int64(q.Timestamp),
			q.Price.String(),
		)
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Swaps returns the swaps of address within [from, to] ordered by
// (timestamp, log index).
func (s *Store) Swaps(ctx context.Context, address common.Address, from, to uint64) ([]model.Swap, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM swaps
		WHERE address = $1 AND ts BETWEEN $2 AND $3
		ORDER BY ts, log_index
	`, addressKey(address), int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query swaps: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan swaps: %w", err)
	}

	out := make([]model.Swap, 0, len(payloads))
	for _, payload := range payloads {
		swap, err := model.DecodeSwap(payload, s.registry)
		if err != nil {
			return nil, err
		}
		out = append(out, swap)
	}
	return out, nil
}

// LiquidityEvents returns the mints and burns of address within [from, to]
// ordered by (timestamp, log index).
func (s *Store) LiquidityEvents(ctx context.Context, address common.Address, from, to uint64) ([]model.LiquidityEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM liquidity_events
		WHERE address = $1 AND ts BETWEEN $2 AND $3
		ORDER BY ts, log_index
	`, addressKey(address), int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query liquidity events: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan liquidity events: %w", err)
	}

	out := make([]model.LiquidityEvent, 0, len(payloads))
	for _, payload := range payloads {
		ev, err := model.DecodeLiquidityEvent(payload, s.registry)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// PriceAt returns the latest quote at or before ts that is no older than the
// configured maximum age.
func (s *Store) PriceAt(ctx context.Context, a asset.Asset, currency string, ts uint64) (money.Decimal, error) {
	var oldest uint64
	if ts > s.maxAge {
		oldest = ts - s.maxAge
	}
	var text string
	err := s.pool.QueryRow(ctx, `
		SELECT price::text FROM historical_prices
		WHERE asset = $1 AND currency = $2 AND ts BETWEEN $3 AND $4
		ORDER BY ts DESC
		LIMIT 1
	`, strings.ToLower(a.Identifier()), strings.ToUpper(currency), int64(oldest), int64(ts)).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Decimal{}, fmt.Errorf("%w: %s/%s at %d", price.ErrPriceUnavailable, a.Identifier(), currency, ts)
		}
		return money.Decimal{}, fmt.Errorf("query price: %w", err)
	}
	return money.FromString(text)
}

// LoadState returns the last processed block recorded under name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM ledger_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts the last processed block for name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
