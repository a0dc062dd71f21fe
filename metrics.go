package proxima

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics. Implement it to feed a
// monitoring system; all methods must be safe for concurrent use.
type MetricsCollector interface {
	// RecordInsert is called after each insert. err is nil on success.
	RecordInsert(duration time.Duration, err error)

	// RecordBatchInsert is called after each batch insert with the number
	// of attempted and failed items.
	RecordBatchInsert(count, failed int, duration time.Duration)

	// RecordSearch is called after each search with the requested k.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordTrain is called after each quantizer training run.
	RecordTrain(samples int, duration time.Duration, err error)

	// RecordCompact is called after each compaction run.
	RecordCompact(purged int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordBatchInsert(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)         {}
func (NoopMetricsCollector) RecordTrain(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordCompact(int, time.Duration, error)   {}

// BasicMetricsCollector keeps simple in-memory counters. Useful for
// debugging and tests without an external monitoring system.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	BatchInsertCount atomic.Int64
	BatchInsertItems atomic.Int64
	BatchInsertFails atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	TrainCount       atomic.Int64
	TrainErrors      atomic.Int64
	CompactCount     atomic.Int64
	CompactPurged    atomic.Int64
	CompactErrors    atomic.Int64
}

func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordBatchInsert(count, failed int, duration time.Duration) {
	b.BatchInsertCount.Add(1)
	b.BatchInsertItems.Add(int64(count))
	b.BatchInsertFails.Add(int64(failed))
}

func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordTrain(samples int, duration time.Duration, err error) {
	b.TrainCount.Add(1)
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordCompact(purged int, duration time.Duration, err error) {
	b.CompactCount.Add(1)
	b.CompactPurged.Add(int64(purged))
	if err != nil {
		b.CompactErrors.Add(1)
	}
}
