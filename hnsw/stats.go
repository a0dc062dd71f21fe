package hnsw

import "github.com/hupe1980/proxima/model"

// Stats describes the current graph shape.
type Stats struct {
	// Nodes is the number of live (non-tombstoned, non-purged) nodes.
	Nodes int

	// Tombstones is the number of logically deleted nodes awaiting
	// compaction.
	Tombstones int

	// AvgDegree is the mean layer-0 degree across live nodes.
	AvgDegree float64

	// LayerHistogram counts live nodes by their top layer.
	LayerHistogram []int
}

// Stats walks the graph and returns its current shape. Values are a
// consistent-enough snapshot for monitoring, not a barrier.
func (g *Graph) Stats() Stats {
	var s Stats

	count := g.store.Count()
	edges := 0
	for row := 0; row < count; row++ {
		n := g.node(model.RowID(row))
		if n == nil {
			continue
		}
		if g.tombstones.Test(uint64(row)) {
			s.Tombstones++
			continue
		}

		s.Nodes++
		edges += len(n.neighbors(0))
		for len(s.LayerHistogram) <= n.layer {
			s.LayerHistogram = append(s.LayerHistogram, 0)
		}
		s.LayerHistogram[n.layer]++
	}

	if s.Nodes > 0 {
		s.AvgDegree = float64(edges) / float64(s.Nodes)
	}
	return s
}
