package proxima

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hupe1980/proxima/blobstore"
	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/hnsw"
	"github.com/hupe1980/proxima/persistence"
	"github.com/hupe1980/proxima/quantization"
)

// CommitLog points readers at the latest committed snapshot and lets a
// writer publish a new one with optimistic concurrency. The blobstore/s3
// package provides a DynamoDB-backed implementation.
type CommitLog interface {
	// Latest returns the newest committed generation and its snapshot
	// key. Generation zero with an empty key means nothing committed.
	Latest(ctx context.Context) (uint64, string, error)

	// Commit publishes snapshotKey as the next generation.
	Commit(ctx context.Context, snapshotKey string) (uint64, error)
}

type options struct {
	metric         distance.Metric
	graphOptions   []func(o *hnsw.Options)
	quantization   quantization.Config
	logger         *Logger
	metrics        MetricsCollector
	blobStore      blobstore.BlobStore
	commitLog      CommitLog
	snapshotCodec  persistence.Codec
	compactionPace rate.Limit
}

// Option configures an Index.
type Option func(*options)

// WithMetric selects the distance metric. Defaults to squared L2.
// Cosine normalizes vectors and queries on ingest.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithGraphOptions tunes the proximity graph (M, efConstruction, seed).
//
// Example:
//
//	proxima.New(128, proxima.WithGraphOptions(func(o *hnsw.Options) {
//	    o.M = 32
//	    o.EFConstruction = 400
//	}))
func WithGraphOptions(optFns ...func(o *hnsw.Options)) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, optFns...)
	}
}

// WithQuantization enables quantized traversal once TrainQuantizer has
// been called. Searches then estimate distances from compact codes and
// re-rank the candidate set with exact distances.
func WithQuantization(cfg quantization.Config) Option {
	return func(o *options) {
		o.quantization = cfg
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel is shorthand for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures operational metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithBlobStore configures the durable store used by snapshot save/load.
func WithBlobStore(bs blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobStore = bs
	}
}

// WithCommitLog configures the snapshot commit log used to publish and
// discover snapshot generations.
func WithCommitLog(cl CommitLog) Option {
	return func(o *options) {
		o.commitLog = cl
	}
}

// WithSnapshotCodec selects the snapshot compression codec.
func WithSnapshotCodec(c persistence.Codec) Option {
	return func(o *options) {
		o.snapshotCodec = c
	}
}

// WithCompactionPace limits compaction repair throughput so background
// compaction does not starve searches. Defaults to unlimited.
func WithCompactionPace(pace rate.Limit) Option {
	return func(o *options) {
		o.compactionPace = pace
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metric:         distance.MetricL2,
		logger:         NoopLogger(),
		metrics:        NoopMetricsCollector{},
		snapshotCodec:  persistence.CodecZstd,
		compactionPace: rate.Inf,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
