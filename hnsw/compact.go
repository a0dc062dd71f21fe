package hnsw

import (
	"context"
	"runtime"

	"github.com/hupe1980/proxima/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// CompactResult summarizes one compaction run.
type CompactResult struct {
	Purged   int
	Repaired int
}

// Compact purges tombstoned nodes. Every live node pointing at a purged
// one is re-linked to the best surviving neighbor of the purged node, or
// loses the edge if none qualifies. Searches keep running during
// compaction; writers are blocked.
//
// pace limits repair throughput so compaction does not starve searches
// of CPU. Pass rate.Inf for full speed.
func (g *Graph) Compact(ctx context.Context, pace rate.Limit) (CompactResult, error) {
	if g.readOnly.Load() {
		return CompactResult{}, ErrReadOnly
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	count := g.store.Count()
	doomed := make(map[model.RowID]bool)
	g.tombstones.Range(func(i uint64) bool {
		doomed[model.RowID(i)] = true
		return true
	})
	if len(doomed) == 0 {
		return CompactResult{}, nil
	}

	limiter := rate.NewLimiter(pace, 1)
	var result CompactResult

	// Repair phase: rewrite the neighbor lists of live nodes so nothing
	// references a doomed row. Nodes are partitioned by row, so workers
	// never touch the same list.
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))

	repaired := make([]bool, count)
	for row := 0; row < count; row++ {
		row := model.RowID(row)
		if doomed[row] {
			continue
		}
		n := g.node(row)
		if n == nil {
			continue
		}

		eg.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			if g.repairNode(row, n, doomed) {
				repaired[row] = true
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return CompactResult{}, err
	}
	for _, r := range repaired {
		if r {
			result.Repaired++
		}
	}

	// Purge phase: unpublish doomed nodes and clear their tombstones.
	for row := range doomed {
		segs := g.segs.Load()
		(*segs)[int(row)>>segShift][int(row)&segMask].Store(nil)
		g.tombstones.Clear(uint64(row))
		result.Purged++
	}

	// The entry point may have been purged.
	if ep := g.entry.Load(); ep != nil && doomed[ep.row] {
		g.entry.Store(g.findEntry(count))
	}

	return result, nil
}

// repairNode rewrites n's neighbor lists without references to doomed
// rows. Returns true if anything changed.
func (g *Graph) repairNode(row model.RowID, n *node, doomed map[model.RowID]bool) bool {
	vec, ok := g.vector(row)
	if !ok {
		return false
	}

	changed := false
	for level := 0; level <= n.layer; level++ {
		current := n.neighbors(level)

		dirty := false
		for _, nb := range current {
			if doomed[nb] {
				dirty = true
				break
			}
		}
		if !dirty {
			continue
		}

		bound := g.maxDegree
		if level == 0 {
			bound = g.maxDegree0
		}

		kept := make([]model.RowID, 0, len(current))
		present := make(map[model.RowID]bool, len(current))
		for _, nb := range current {
			if !doomed[nb] {
				kept = append(kept, nb)
				present[nb] = true
			}
		}
		present[row] = true

		// Route around each doomed neighbor through its best survivor.
		for _, nb := range current {
			if !doomed[nb] || len(kept) >= bound {
				continue
			}
			if repl, ok := g.bestSurvivor(vec, nb, level, doomed, present); ok {
				kept = append(kept, repl)
				present[repl] = true
			}
		}

		n.setNeighbors(level, kept)
		changed = true
	}
	return changed
}

// bestSurvivor picks the closest live neighbor of a doomed node that is
// not already linked.
func (g *Graph) bestSurvivor(vec []float32, doomedRow model.RowID, level int, doomed, present map[model.RowID]bool) (model.RowID, bool) {
	dn := g.node(doomedRow)
	if dn == nil {
		return 0, false
	}

	var (
		best     model.RowID
		bestDist float32
		found    bool
	)
	for _, cand := range dn.neighbors(level) {
		if doomed[cand] || present[cand] || g.node(cand) == nil {
			continue
		}
		d := g.rowDistance(vec, cand)
		if !found || d < bestDist || (d == bestDist && cand < best) {
			best, bestDist, found = cand, d, true
		}
	}
	return best, found
}

// findEntry scans for the live node with the highest layer.
func (g *Graph) findEntry(count int) *entryPoint {
	var best *entryPoint
	for row := 0; row < count; row++ {
		n := g.node(model.RowID(row))
		if n == nil || g.tombstones.Test(uint64(row)) {
			continue
		}
		if best == nil || n.layer > best.layer {
			best = &entryPoint{row: model.RowID(row), layer: n.layer}
		}
	}
	return best
}
