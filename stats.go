package proxima

import "github.com/hupe1980/proxima/hnsw"

// Stats is a point-in-time summary of the index.
type Stats struct {
	// Vectors is the number of live vectors.
	Vectors int

	// Graph describes the proximity graph shape.
	Graph hnsw.Stats

	// Quantized reports whether searches traverse with quantized
	// distance estimates.
	Quantized bool

	// Generation is the active codebook generation, zero when untrained.
	Generation uint64

	// ReadOnly reports whether the index refuses writes after a detected
	// internal inconsistency.
	ReadOnly bool
}

// Stats returns a snapshot of the index shape for monitoring.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	graph := ix.graph
	vectors := len(ix.ids)
	ix.mu.RUnlock()

	return Stats{
		Vectors:    vectors,
		Graph:      graph.Stats(),
		Quantized:  ix.codes.Load() != nil,
		Generation: ix.generation.Load(),
		ReadOnly:   graph.ReadOnly(),
	}
}
