package hnsw

import (
	"context"
	"sort"

	"github.com/hupe1980/proxima/internal/searcher"
	"github.com/hupe1980/proxima/model"
)

// Candidate is one search hit at the graph level.
type Candidate struct {
	Row      model.RowID
	Distance float32
}

// SearchOptions tunes a single search.
type SearchOptions struct {
	// EF is the beam width at layer 0. Values below k are clamped up.
	EF int

	// RowDistance, when set, replaces the exact distance during
	// traversal, typically with an asymmetric quantized estimate. Hits
	// are re-ranked by exact distance before they are returned.
	RowDistance func(model.RowID) float32
}

// Search returns the k nearest live rows to q. Cancellation is checked
// between beam expansions; a canceled search returns ctx.Err() and never
// mutates the graph. Searching an empty graph returns an empty slice.
func (g *Graph) Search(ctx context.Context, q []float32, k int, opts SearchOptions) ([]Candidate, error) {
	if len(q) != g.store.Dimension() {
		return nil, &ErrDimensionMismatch{Expected: g.store.Dimension(), Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}

	ep := g.entry.Load()
	if ep == nil {
		return nil, nil
	}
	if g.node(ep.row) == nil {
		return nil, g.corrupt()
	}

	ef := opts.EF
	if ef <= 0 {
		ef = g.opts.EF
	}
	if ef < k {
		ef = k
	}

	rowDist := opts.RowDistance
	exact := func(row model.RowID) float32 { return g.rowDistance(q, row) }
	if rowDist == nil {
		rowDist = exact
	}

	// Greedy descent to layer 1 with a beam of one.
	curr := ep.row
	currDist := rowDist(curr)
	for level := ep.layer; level > 0; level-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		curr, currDist = g.greedyStep(q, curr, currDist, level, rowDist)
	}

	s := searcher.Get()
	defer searcher.Put(s)
	s.Visited.EnsureCapacity(g.store.Count())

	items, err := g.searchLayerCtx(ctx, q, curr, currDist, ef, 0, rowDist, s)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, min(k, len(items)))
	rerank := opts.RowDistance != nil
	for i := range items {
		if g.tombstones.Test(uint64(items[i].Node)) {
			continue
		}
		d := items[i].Distance
		if rerank {
			d = exact(items[i].Node)
		}
		out = append(out, Candidate{Row: items[i].Node, Distance: d})
	}

	if rerank {
		sortCandidates(out)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func sortCandidates(out []Candidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Row < out[j].Row
	})
}
