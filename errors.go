package proxima

import (
	"errors"
	"fmt"

	"github.com/hupe1980/proxima/hnsw"
)

var (
	// ErrNotFound is returned when no live vector carries the given id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")

	// ErrReadOnly is returned for writes after the index detected an
	// internal inconsistency. Rebuild restores writability.
	ErrReadOnly = errors.New("index is read-only")

	// ErrNoBlobStore is returned by snapshot operations when no blob
	// store was configured.
	ErrNoBlobStore = errors.New("no blob store configured")

	// ErrNoQuantizer is returned by TrainQuantizer when the index was
	// created without a quantization config.
	ErrNoQuantizer = errors.New("no quantizer configured")

	// ErrZeroVector is returned under the cosine metric for an input
	// with zero L2 norm, which has no direction to compare.
	ErrZeroVector = errors.New("zero vector cannot be normalized")
)

// ErrDuplicateID indicates an insert for an id that is already live.
type ErrDuplicateID struct {
	ID VectorID
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate id: %d", uint64(e.ID))
}

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, hnsw.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, hnsw.ErrReadOnly) || errors.Is(err, hnsw.ErrInternalInconsistency) {
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	}

	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	// Quantization errors (ErrNotTrained, ErrInsufficientSamples) pass
	// through; they are already typed and descriptive.
	return err
}
