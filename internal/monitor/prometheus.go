// Package monitor exposes Prometheus metrics for ledger runs.
package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SwapsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_swaps_read_total",
			Help: "Total number of swaps read from a swap source.",
		},
		[]string{"source"},
	)
	TradesBuilt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_trades_built_total",
			Help: "Total number of trades synthesized from swaps.",
		},
	)
	MalformedSwaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_malformed_swap_transactions_total",
			Help: "Total number of transactions rejected for malformed swaps.",
		},
	)
	LiquidityEventsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_liquidity_events_read_total",
			Help: "Total number of liquidity events read, by kind.",
		},
		[]string{"event_type"},
	)
	PoolsAccounted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_pools_accounted_total",
			Help: "Total number of pool balances computed, by outcome.",
		},
		[]string{"outcome"},
	)
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_run_duration_seconds",
			Help:    "Time taken by one read operation for one address.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
		[]string{"operation"},
	)
	LogsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_logs_indexed_total",
			Help: "Total number of raw logs written by the indexer.",
		},
	)
	LogsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_logs_decoded_total",
			Help: "Total number of raw logs processed by the decoder, by result.",
		},
		[]string{"result"},
	)
)

const (
	OutcomePriced   = "priced"
	OutcomeUnpriced = "unpriced"
	OutcomeFailed   = "failed"
)

var registerOnce sync.Once

// Register adds every ledger metric to the default registry. It is safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SwapsRead,
			TradesBuilt,
			MalformedSwaps,
			LiquidityEventsRead,
			PoolsAccounted,
			RunDuration,
			LogsIndexed,
			LogsDecoded,
		)
	})
}
