// Package storage persists raw logs and serves decoded swaps and liquidity
// events from JSON lines files.
package storage

import "poolLedger/internal/model"

// LogSink receives batches of raw log records.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}
