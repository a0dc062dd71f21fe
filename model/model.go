// Package model defines core identifier and result types shared across proxima.
//
//   - VectorID: caller-assigned, stable, opaque 64-bit identifier
//   - RowID: dense internal identifier used by the graph and vector store
//   - Candidate: a search result (VectorID plus distance)
package model

import "fmt"

// VectorID is the user-facing stable identifier of a vector.
// It is assigned by the caller and never reused by the engine.
type VectorID uint64

// RowID is a dense internal identifier for an indexed vector.
// Row ids are allocated sequentially and are transient: compaction may
// retire them. They never leak through the public API.
type RowID uint32

// String returns a string representation of the RowID.
func (r RowID) String() string {
	return fmt.Sprintf("row(%d)", uint32(r))
}

// Candidate represents a match found during search.
type Candidate struct {
	// ID is the user-facing vector identifier.
	ID VectorID

	// Distance is the metric-dependent score. Lower is better for L2 and
	// cosine; dot-product similarities are negated so lower is always better.
	// Distances are always exact: quantized traversal re-ranks candidates
	// against the full-precision vectors before returning.
	Distance float32
}
