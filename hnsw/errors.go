package hnsw

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when an input vector does not match
// the graph dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrNotFound is returned when an operation references a row that does
// not exist or is tombstoned.
var ErrNotFound = errors.New("hnsw: node not found")

// ErrReadOnly is returned for mutations after the graph flipped to
// read-only following an internal inconsistency.
var ErrReadOnly = errors.New("hnsw: graph is read-only, rebuild required")

// ErrInternalInconsistency indicates a broken entry point or a dangling
// neighbor reference. The graph flips to read-only rather than repairing
// silently, since self-repair could mask data loss.
var ErrInternalInconsistency = errors.New("hnsw: internal inconsistency detected")
