// Package quantization provides vector compression for memory-efficient
// storage and accelerated approximate distance computation.
//
// Two schemes are implemented:
//
//   - ScalarQuantizer: per-dimension 8-bit linear quantization (4x compression)
//   - ProductQuantizer: k-means codebooks over contiguous sub-vectors with an
//     optional learned rotation (8-32x compression)
//
// Both support asymmetric distance estimation: the query stays full precision
// and distances to stored codes are computed through per-query lookup tables,
// without decompressing stored vectors.
package quantization

import (
	"context"
	"encoding"
	"errors"
	"fmt"

	"github.com/hupe1980/proxima/distance"
)

// Kind identifies a quantization scheme.
type Kind int

const (
	// KindNone disables quantization; vectors are stored full precision only.
	KindNone Kind = iota

	// KindScalar is per-dimension 8-bit scalar quantization.
	KindScalar

	// KindProduct is product quantization, optionally with a learned rotation.
	KindProduct
)

// String returns the string representation of the quantization kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindScalar:
		return "SQ8"
	case KindProduct:
		return "PQ"
	default:
		return "Unknown"
	}
}

// ErrNotTrained is returned when Encode/Decode is called before Train.
var ErrNotTrained = errors.New("quantization: quantizer not trained")

// ErrInsufficientSamples indicates the training sample is too small for the
// configured centroid count. Clustering on such samples is statistically
// unstable, so training refuses rather than silently degrading accuracy.
type ErrInsufficientSamples struct {
	Got  int
	Need int
}

func (e *ErrInsufficientSamples) Error() string {
	return fmt.Sprintf("quantization: insufficient training samples: got %d, need at least %d", e.Got, e.Need)
}

// Config configures a quantizer.
type Config struct {
	// Kind selects the quantization scheme.
	Kind Kind

	// Subvectors is the number of sub-quantizers (M) for product quantization.
	// The vector dimension must be divisible by it.
	Subvectors int

	// Bits is the number of bits per sub-code (1-8). Centroid count is 2^Bits.
	Bits int

	// Rotate enables a learned rotation of the input space before splitting
	// into sub-vectors, balancing variance across sub-quantizer slots.
	Rotate bool

	// MinTrainFactor is the required ratio of training samples to centroids.
	MinTrainFactor int

	// MaxIterations bounds the k-means iterations per sub-quantizer.
	MaxIterations int

	// Seed makes codebook training reproducible.
	Seed int64
}

// DefaultConfig contains the default quantizer configuration.
var DefaultConfig = Config{
	Kind:           KindProduct,
	Subvectors:     8,
	Bits:           8,
	MinTrainFactor: 4,
	MaxIterations:  25,
}

func (c Config) withDefaults() Config {
	if c.Subvectors <= 0 {
		c.Subvectors = DefaultConfig.Subvectors
	}
	if c.Bits <= 0 || c.Bits > 8 {
		c.Bits = DefaultConfig.Bits
	}
	if c.MinTrainFactor <= 0 {
		c.MinTrainFactor = DefaultConfig.MinTrainFactor
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultConfig.MaxIterations
	}
	return c
}

// Table is a per-query lookup structure for asymmetric distance computation.
// It is built once per query and then queried per candidate code.
type Table interface {
	// Distance estimates the distance from the table's query to a stored code.
	// The estimate is monotonic with true distance; exact re-ranking happens
	// downstream.
	Distance(code []byte) float32
}

// Quantizer defines the interface for vector quantization schemes.
// A trained quantizer is an immutable codebook: Train must be called exactly
// once, after which all methods are safe for concurrent use.
type Quantizer interface {
	// Train calibrates the quantizer on a representative sample.
	// It mutates no state outside the receiver, so a candidate codebook may
	// be trained concurrently while an old one remains in service.
	Train(ctx context.Context, samples [][]float32) error

	// Encode quantizes a full-precision vector into a compact code.
	// Deterministic for a fixed trained codebook.
	Encode(v []float32) ([]byte, error)

	// Decode reconstructs an approximate vector from a code.
	// Diagnostics only; never used on the query hot path.
	Decode(code []byte) ([]float32, error)

	// DistanceTable precomputes the per-query lookup table for the metric.
	DistanceTable(query []float32, metric distance.Metric) (Table, error)

	// CodeSize returns the encoded size in bytes.
	CodeSize() int

	// Trained reports whether the codebook has been trained.
	Trained() bool

	// Kind returns the quantization scheme.
	Kind() Kind

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// New creates an untrained quantizer for the given dimension and config.
// Returns (nil, nil) for KindNone.
func New(dimension int, cfg Config) (Quantizer, error) {
	cfg = cfg.withDefaults()
	switch cfg.Kind {
	case KindNone:
		return nil, nil
	case KindScalar:
		return NewScalarQuantizer(dimension), nil
	case KindProduct:
		return NewProductQuantizer(dimension, cfg)
	default:
		return nil, fmt.Errorf("quantization: unknown kind %d", cfg.Kind)
	}
}
