// Package hnsw implements a multi-layer proximity graph for approximate
// nearest neighbor search (Hierarchical Navigable Small World).
//
// Writers are serialized by an internal mutex; searches are lock-free and
// may run concurrently with writers. A new node becomes visible to
// readers atomically, only after all of its edges are installed.
package hnsw

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/internal/bitset"
	"github.com/hupe1980/proxima/internal/searcher"
	"github.com/hupe1980/proxima/model"
	"github.com/hupe1980/proxima/vectorstore"
)

const (
	segShift = 16
	segSize  = 1 << segShift
	segMask  = segSize - 1

	// maxLayerCap bounds the random layer draw. With ml = 1/ln(M) this is
	// never reached in practice.
	maxLayerCap = 63
)

// Options configures graph construction.
type Options struct {
	// M is the degree bound per layer; layer 0 allows 2*M. Reasonable
	// range is 2-100: higher M suits high intrinsic dimensionality and
	// high recall, lower M suits low-dimensional data.
	M int

	// EFConstruction is the beam width used while linking a new node.
	// Larger values build a better graph at higher insert cost.
	EFConstruction int

	// EF is the default beam width for searches that do not override it.
	EF int

	// Heuristic selects diversity-based neighbor pruning instead of
	// keeping the plain nearest candidates.
	Heuristic bool

	// Seed feeds the layer generator, making construction reproducible.
	Seed int64
}

// DefaultOptions are sensible defaults for medium-dimensional data.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EF:             100,
	Heuristic:      true,
	Seed:           1,
}

type node struct {
	layer int
	links []atomic.Pointer[[]model.RowID]
}

func (n *node) neighbors(level int) []model.RowID {
	if level >= len(n.links) {
		return nil
	}
	p := n.links[level].Load()
	if p == nil {
		return nil
	}
	return *p
}

func (n *node) setNeighbors(level int, rows []model.RowID) {
	n.links[level].Store(&rows)
}

type segment [segSize]atomic.Pointer[node]

type entryPoint struct {
	row   model.RowID
	layer int
}

// Graph is the proximity graph. It reads vectors from the Store it was
// created with; rows enter the graph through Insert and leave logically
// through Delete (tombstone) and physically through Compact.
type Graph struct {
	store *vectorstore.Store
	dist  distance.Func
	opts  Options

	ml         float64
	maxDegree  int // per layer > 0
	maxDegree0 int // layer 0

	writeMu sync.Mutex
	rng     *rand.Rand

	segs       atomic.Pointer[[]*segment]
	entry      atomic.Pointer[entryPoint]
	tombstones *bitset.Set
	readOnly   atomic.Bool
}

// New creates an empty graph over the given store and metric.
func New(store *vectorstore.Store, metric distance.Metric, optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	// M = 1 would make the layer normalization 1/ln(M) blow up.
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EF < 1 {
		opts.EF = DefaultOptions.EF
	}

	dist, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	return &Graph{
		store:      store,
		dist:       dist,
		opts:       opts,
		ml:         1 / math.Log(float64(opts.M)),
		maxDegree:  opts.M,
		maxDegree0: 2 * opts.M,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		tombstones: bitset.New(0),
	}, nil
}

// Options returns the effective construction options.
func (g *Graph) Options() Options {
	return g.opts
}

// ReadOnly reports whether the graph refused further writes after an
// internal inconsistency.
func (g *Graph) ReadOnly() bool {
	return g.readOnly.Load()
}

func (g *Graph) node(row model.RowID) *node {
	segs := g.segs.Load()
	if segs == nil {
		return nil
	}
	si := int(row) >> segShift
	if si >= len(*segs) {
		return nil
	}
	return (*segs)[si][int(row)&segMask].Load()
}

// ensureSegment makes room for row. Caller holds writeMu.
func (g *Graph) ensureSegment(row model.RowID) *segment {
	si := int(row) >> segShift

	segs := g.segs.Load()
	if segs != nil && si < len(*segs) {
		return (*segs)[si]
	}

	oldLen := 0
	if segs != nil {
		oldLen = len(*segs)
	}
	next := make([]*segment, si+1)
	if segs != nil {
		copy(next, *segs)
	}
	for i := oldLen; i <= si; i++ {
		next[i] = new(segment)
	}
	g.segs.Store(&next)
	return next[si]
}

// publish makes the node visible to readers. Caller holds writeMu and
// has installed every edge already.
func (g *Graph) publish(row model.RowID, n *node) {
	seg := g.ensureSegment(row)
	seg[int(row)&segMask].Store(n)
}

func (g *Graph) drawLayer() int {
	l := int(math.Floor(-math.Log(g.rng.Float64()) * g.ml))
	if l > maxLayerCap {
		l = maxLayerCap
	}
	return l
}

func (g *Graph) vector(row model.RowID) ([]float32, bool) {
	return g.store.Get(row)
}

// rowDistance is the exact distance from q to the stored vector of row.
func (g *Graph) rowDistance(q []float32, row model.RowID) float32 {
	vec, ok := g.vector(row)
	if !ok {
		return math.MaxFloat32
	}
	return g.dist(q, vec)
}

// Insert adds the vector to the store and links it into the graph,
// returning the new row id.
func (g *Graph) Insert(v []float32) (model.RowID, error) {
	if g.readOnly.Load() {
		return 0, ErrReadOnly
	}
	if len(v) != g.store.Dimension() {
		return 0, &ErrDimensionMismatch{Expected: g.store.Dimension(), Actual: len(v)}
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	row, err := g.store.Add(v)
	if err != nil {
		return 0, err
	}
	g.tombstones.Grow(uint64(row) + 1)

	layer := g.drawLayer()
	n := &node{
		layer: layer,
		links: make([]atomic.Pointer[[]model.RowID], layer+1),
	}

	ep := g.entry.Load()
	if ep == nil {
		// First node: publish and become the entry point.
		g.publish(row, n)
		g.entry.Store(&entryPoint{row: row, layer: layer})
		return row, nil
	}

	// Greedy descent through the layers above the new node's top layer.
	curr := ep.row
	currDist := g.rowDistance(v, curr)
	for level := ep.layer; level > layer; level-- {
		curr, currDist = g.greedyStep(v, curr, currDist, level, nil)
	}

	s := searcher.Get()
	defer searcher.Put(s)
	s.Visited.EnsureCapacity(g.store.Count())

	// Link from min(layer, current max) down to 0.
	for level := min(layer, ep.layer); level >= 0; level-- {
		candidates, err := g.searchLayerCtx(context.Background(), v, curr, currDist, g.opts.EFConstruction, level, nil, s)
		if err != nil {
			return 0, err
		}

		bound := g.maxDegree
		if level == 0 {
			bound = g.maxDegree0
		}

		neighbors := g.selectNeighbors(v, candidates, bound)
		n.setNeighbors(level, neighbors)

		if len(candidates) > 0 {
			best := candidates[0]
			curr, currDist = best.Node, best.Distance
		}

		for _, nb := range neighbors {
			g.linkBack(nb, row, level)
		}
	}

	g.publish(row, n)

	if layer > ep.layer {
		g.entry.Store(&entryPoint{row: row, layer: layer})
	}
	return row, nil
}

// Delete tombstones a row. Edges stay intact so traversals through the
// node keep working until compaction purges it.
func (g *Graph) Delete(row model.RowID) error {
	if g.readOnly.Load() {
		return ErrReadOnly
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.node(row) == nil {
		return ErrNotFound
	}
	if !g.tombstones.MarkIfClear(uint64(row)) {
		return ErrNotFound
	}
	return nil
}

// Deleted reports whether row is tombstoned.
func (g *Graph) Deleted(row model.RowID) bool {
	return g.tombstones.Test(uint64(row))
}

// greedyStep repeatedly moves to the closest neighbor at the given level
// until no neighbor improves the distance.
func (g *Graph) greedyStep(q []float32, curr model.RowID, currDist float32, level int, rowDist func(model.RowID) float32) (model.RowID, float32) {
	if rowDist == nil {
		rowDist = func(row model.RowID) float32 { return g.rowDistance(q, row) }
	}

	for {
		improved := false
		n := g.node(curr)
		if n == nil {
			return curr, currDist
		}
		for _, nb := range n.neighbors(level) {
			if g.node(nb) == nil {
				continue
			}
			if d := rowDist(nb); d < currDist {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

// corrupt flips the graph to read-only and reports the inconsistency.
func (g *Graph) corrupt() error {
	g.readOnly.Store(true)
	return ErrInternalInconsistency
}

// searchLayerCtx runs a beam search with width ef at one level and
// returns the candidates sorted by distance (ties broken by lower row
// id). Tombstoned nodes participate; the caller filters them from
// results. Cancellation is checked once per beam expansion.
func (g *Graph) searchLayerCtx(ctx context.Context, q []float32, entry model.RowID, entryDist float32, ef, level int, rowDist func(model.RowID) float32, s *searcher.Searcher) ([]searcher.Item, error) {
	if rowDist == nil {
		rowDist = func(row model.RowID) float32 { return g.rowDistance(q, row) }
	}

	s.Visited.Reset()
	s.Frontier.Reset()
	s.Results.Reset()

	s.Visited.Visit(entry)
	start := searcher.Item{Node: entry, Distance: entryDist}
	s.Frontier.Push(start)
	s.Results.Push(start)

	for s.Frontier.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cand, _ := s.Frontier.Pop()
		if worst, ok := s.Results.Top(); ok && s.Results.Len() >= ef && cand.Distance > worst.Distance {
			break
		}

		n := g.node(cand.Node)
		if n == nil {
			continue
		}
		for _, nb := range n.neighbors(level) {
			if s.Visited.Visited(nb) {
				continue
			}
			s.Visited.Visit(nb)

			if int(nb) >= g.store.Count() {
				// A neighbor pointing past the store is a broken edge.
				return nil, g.corrupt()
			}
			if g.node(nb) == nil {
				// Not yet published; invisible to this traversal.
				continue
			}

			item := searcher.Item{Node: nb, Distance: rowDist(nb)}
			if s.Results.Len() < ef {
				s.Results.Push(item)
				s.Frontier.Push(item)
			} else if worst, _ := s.Results.Top(); item.Distance < worst.Distance {
				s.Results.PushBounded(item, ef)
				s.Frontier.Push(item)
			}
		}
	}

	out := make([]searcher.Item, 0, s.Results.Len())
	for {
		item, ok := s.Results.Pop()
		if !ok {
			break
		}
		out = append(out, item)
	}
	sortItems(out)
	return out, nil
}

// sortItems orders by distance ascending with lower id winning ties, so
// graph topology is reproducible for a fixed seed.
func sortItems(items []searcher.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Distance != items[j].Distance {
			return items[i].Distance < items[j].Distance
		}
		return items[i].Node < items[j].Node
	})
}

// selectNeighbors picks up to m candidates. With the heuristic enabled a
// candidate is kept only if it is closer to the query point than to any
// already-kept neighbor, preserving the long-range edges that keep
// search logarithmic.
func (g *Graph) selectNeighbors(q []float32, candidates []searcher.Item, m int) []model.RowID {
	if !g.opts.Heuristic || len(candidates) <= m {
		out := make([]model.RowID, 0, min(m, len(candidates)))
		for _, c := range candidates[:min(m, len(candidates))] {
			out = append(out, c.Node)
		}
		return out
	}

	selected := make([]model.RowID, 0, m)
	rejected := make([]model.RowID, 0, len(candidates))

	for _, cand := range candidates {
		if len(selected) >= m {
			break
		}

		candVec, ok := g.vector(cand.Node)
		if !ok {
			continue
		}

		keep := true
		for _, sel := range selected {
			selVec, ok := g.vector(sel)
			if !ok {
				continue
			}
			if g.dist(candVec, selVec) < cand.Distance {
				keep = false
				break
			}
		}

		if keep {
			selected = append(selected, cand.Node)
		} else {
			rejected = append(rejected, cand.Node)
		}
	}

	// Backfill with rejected candidates if diversity left slots open.
	for _, r := range rejected {
		if len(selected) >= m {
			break
		}
		selected = append(selected, r)
	}
	return selected
}

// linkBack adds a reverse edge neighbor -> row and prunes the list if it
// exceeds the level's degree bound. Caller holds writeMu.
func (g *Graph) linkBack(neighbor, row model.RowID, level int) {
	n := g.node(neighbor)
	if n == nil || level >= len(n.links) {
		return
	}

	bound := g.maxDegree
	if level == 0 {
		bound = g.maxDegree0
	}

	current := n.neighbors(level)
	updated := make([]model.RowID, 0, len(current)+1)
	updated = append(updated, current...)
	updated = append(updated, row)

	if len(updated) > bound {
		nbVec, ok := g.vector(neighbor)
		if !ok {
			return
		}
		items := make([]searcher.Item, 0, len(updated))
		for _, r := range updated {
			items = append(items, searcher.Item{Node: r, Distance: g.rowDistance(nbVec, r)})
		}
		sortItems(items)
		updated = g.selectNeighbors(nbVec, items, bound)
	}

	n.setNeighbors(level, updated)
}
