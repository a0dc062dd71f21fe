package proxima

import (
	"context"
	"sort"
	"time"

	"github.com/hupe1980/proxima/hnsw"
	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/model"
)

// filterOversample widens the graph fetch when a metadata filter is set,
// since filtering happens after retrieval and discards candidates.
const filterOversample = 4

// Search starts a fluent search for the given query vector.
//
// Example:
//
//	results, err := idx.Search(query).
//	    KNN(10).
//	    EF(200).
//	    Filter(metadata.Eq("lang", "en")).
//	    Execute(ctx)
func (ix *Index) Search(query []float32) *SearchBuilder {
	return &SearchBuilder{
		ix:    ix,
		query: query,
		k:     10,
	}
}

// SearchBuilder accumulates search parameters.
type SearchBuilder struct {
	ix     *Index
	query  []float32
	k      int
	ef     int
	filter *metadata.Filter
	exact  bool
}

// KNN sets the number of nearest neighbors to return.
func (sb *SearchBuilder) KNN(k int) *SearchBuilder {
	sb.k = k
	return sb
}

// EF overrides the layer-0 beam width for this search. Higher values
// improve recall at higher cost; values below k are clamped up.
func (sb *SearchBuilder) EF(ef int) *SearchBuilder {
	sb.ef = ef
	return sb
}

// Filter restricts results to vectors whose metadata satisfies f. The
// filter is applied after graph retrieval, so fewer than k results may
// come back under selective filters.
func (sb *SearchBuilder) Filter(f *metadata.Filter) *SearchBuilder {
	sb.filter = f
	return sb
}

// Exact skips the graph and scans every stored vector with exact
// distances. Useful for tiny indexes and for ground-truth comparison.
func (sb *SearchBuilder) Exact() *SearchBuilder {
	sb.exact = true
	return sb
}

// Execute runs the search.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]SearchResult, error) {
	start := time.Now()
	results, err := sb.execute(ctx)
	sb.ix.opts.metrics.RecordSearch(sb.k, time.Since(start), err)
	sb.ix.opts.logger.LogSearch(ctx, sb.k, len(results), err)
	return results, err
}

// First returns only the nearest result, or ErrNotFound if none.
func (sb *SearchBuilder) First(ctx context.Context) (SearchResult, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if len(results) == 0 {
		return SearchResult{}, ErrNotFound
	}
	return results[0], nil
}

func (sb *SearchBuilder) execute(ctx context.Context) ([]SearchResult, error) {
	ix := sb.ix
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	if sb.k <= 0 {
		return nil, ErrInvalidK
	}

	query, err := ix.prepare(sb.query)
	if err != nil {
		return nil, err
	}

	if sb.exact {
		return ix.exactSearch(ctx, query, sb.k, sb.filter)
	}

	// Snapshot the components, then traverse without the lock.
	ix.mu.RLock()
	graph := ix.graph
	ix.mu.RUnlock()
	codes := ix.codes.Load()

	opts := hnsw.SearchOptions{EF: sb.ef}
	if codes != nil {
		table, err := codes.Quantizer().DistanceTable(query, ix.opts.metric)
		if err != nil {
			return nil, translateError(err)
		}
		opts.RowDistance = func(row model.RowID) float32 {
			if code, ok := codes.Code(row); ok {
				return table.Distance(code)
			}
			// Rows inserted after the table snapshot fall back to the
			// exact distance.
			return exactDistance(ix, query, row)
		}
	}

	fetch := sb.k
	if sb.filter != nil {
		fetch = sb.k * filterOversample
	}

	candidates, err := graph.Search(ctx, query, fetch, opts)
	if err != nil {
		return nil, translateError(err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	eligible := ix.meta.Eligible(sb.filter)

	results := make([]SearchResult, 0, min(sb.k, len(candidates)))
	for _, c := range candidates {
		if eligible != nil && !eligible.Contains(uint32(c.Row)) {
			continue
		}
		id, live := ix.rows[c.Row]
		if !live {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: c.Distance})
		if len(results) == sb.k {
			break
		}
	}
	return results, nil
}

// exactSearch scans all live rows. It holds the read lock for the whole
// scan, which is fine at the sizes this path is meant for.
func (ix *Index) exactSearch(ctx context.Context, query []float32, k int, filter *metadata.Filter) ([]SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	eligible := ix.meta.Eligible(filter)

	type hit struct {
		row      model.RowID
		id       VectorID
		distance float32
	}

	hits := make([]hit, 0, len(ix.rows))
	for row, id := range ix.rows {
		if len(hits)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if eligible != nil && !eligible.Contains(uint32(row)) {
			continue
		}
		vec, ok := ix.store.Get(row)
		if !ok {
			continue
		}
		hits = append(hits, hit{row: row, id: id, distance: ix.dist(query, vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance == hits[j].distance {
			return hits[i].row < hits[j].row
		}
		return hits[i].distance < hits[j].distance
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{ID: h.id, Distance: h.distance}
	}
	return results, nil
}

func exactDistance(ix *Index, query []float32, row model.RowID) float32 {
	ix.mu.RLock()
	store := ix.store
	ix.mu.RUnlock()

	vec, ok := store.Get(row)
	if !ok {
		return maxDistance
	}
	return ix.dist(query, vec)
}

const maxDistance = float32(3.4e38)
