// Package proxima provides an embedded approximate nearest neighbor
// search engine for Go.
//
// Vectors are indexed in a multi-layer navigable small-world graph over a
// columnar vector store. Optional scalar or product quantization (with a
// learned OPQ rotation) accelerates traversal via asymmetric distance
// estimates; candidates are always re-ranked against the full-precision
// vectors before results are returned.
//
// # Quick start
//
//	ctx := context.Background()
//	idx, err := proxima.New(128)
//	if err != nil {
//	    panic(err)
//	}
//
//	err = idx.Insert(ctx, 1, vec)
//
//	results, err := idx.Search(query).
//	    KNN(10).
//	    EF(200).
//	    Filter(metadata.Eq("lang", "en")).
//	    Execute(ctx)
//
// Snapshots persist the index through a blobstore.BlobStore (in-memory,
// local disk, S3 or MinIO), optionally published through a DynamoDB
// commit log for multi-writer safety.
package proxima

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/hnsw"
	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/model"
	"github.com/hupe1980/proxima/quantization"
	"github.com/hupe1980/proxima/vectorstore"
)

// VectorID is the caller-assigned stable identifier of a vector.
type VectorID = model.VectorID

// SearchResult is one search hit.
type SearchResult = model.Candidate

// Index is an embedded vector search index. All methods are safe for
// concurrent use: searches run lock-free against immutable graph state
// while writes are serialized internally.
type Index struct {
	dim  int
	opts options
	dist distance.Func

	// mu guards the id maps and the component pointers (swapped by
	// Rebuild and LoadSnapshot). Searches hold it only long enough to
	// snapshot pointers and translate row ids, never during traversal.
	mu    sync.RWMutex
	store *vectorstore.Store
	graph *hnsw.Graph
	meta  *metadata.Index
	ids   map[VectorID]model.RowID
	rows  map[model.RowID]VectorID

	codes      atomic.Pointer[vectorstore.CodeTable]
	generation atomic.Uint64

	trainMu sync.Mutex
	closed  atomic.Bool
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int, optFns ...Option) (*Index, error) {
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}

	opts := applyOptions(optFns)

	dist, err := distance.Provider(opts.metric)
	if err != nil {
		return nil, translateError(err)
	}

	store, err := vectorstore.New(dimension)
	if err != nil {
		return nil, translateError(err)
	}
	graph, err := hnsw.New(store, opts.metric, opts.graphOptions...)
	if err != nil {
		return nil, translateError(err)
	}

	return &Index{
		dim:   dimension,
		opts:  opts,
		dist:  dist,
		store: store,
		graph: graph,
		meta:  metadata.NewIndex(),
		ids:   make(map[VectorID]model.RowID),
		rows:  make(map[model.RowID]VectorID),
	}, nil
}

// Dimension returns the configured vector dimensionality.
func (ix *Index) Dimension() int {
	return ix.dim
}

// Metric returns the configured distance metric.
func (ix *Index) Metric() distance.Metric {
	return ix.opts.metric
}

// Len returns the number of live vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// ReadOnly reports whether the index refuses writes after a detected
// internal inconsistency. Rebuild restores writability.
func (ix *Index) ReadOnly() bool {
	ix.mu.RLock()
	g := ix.graph
	ix.mu.RUnlock()
	return g.ReadOnly()
}

// Close marks the index closed. Subsequent operations fail with
// ErrClosed. Close does not persist state; call SaveSnapshot first if
// durability is needed.
func (ix *Index) Close() error {
	ix.closed.Store(true)
	return nil
}

// prepare normalizes v for cosine indexes and validates the dimension.
// The returned slice is the caller's when no copy was needed.
func (ix *Index) prepare(v []float32) ([]float32, error) {
	if len(v) != ix.dim {
		return nil, &ErrDimensionMismatch{Expected: ix.dim, Actual: len(v)}
	}
	if ix.opts.metric == distance.MetricCosine {
		normalized, ok := distance.NormalizeL2Copy(v)
		if !ok {
			return nil, ErrZeroVector
		}
		return normalized, nil
	}
	return v, nil
}

// Insert adds a vector under the given id. Inserting an id that is
// already live fails with ErrDuplicateID; delete first or use Overwrite.
func (ix *Index) Insert(ctx context.Context, id VectorID, v []float32) error {
	return ix.InsertWithMetadata(ctx, id, v, nil)
}

// InsertWithMetadata adds a vector together with filterable attributes.
func (ix *Index) InsertWithMetadata(ctx context.Context, id VectorID, v []float32, md metadata.Metadata) error {
	start := time.Now()
	err := ix.insert(ctx, id, v, md, false)
	ix.opts.metrics.RecordInsert(time.Since(start), err)
	ix.opts.logger.LogInsert(ctx, id, err)
	return err
}

// Overwrite adds a vector under the given id, replacing any live vector
// with that id.
func (ix *Index) Overwrite(ctx context.Context, id VectorID, v []float32, md metadata.Metadata) error {
	start := time.Now()
	err := ix.insert(ctx, id, v, md, true)
	ix.opts.metrics.RecordInsert(time.Since(start), err)
	ix.opts.logger.LogInsert(ctx, id, err)
	return err
}

func (ix *Index) insert(ctx context.Context, id VectorID, v []float32, md metadata.Metadata, overwrite bool) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vec, err := ix.prepare(v)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if row, live := ix.ids[id]; live {
		if !overwrite {
			return &ErrDuplicateID{ID: id}
		}
		if err := ix.graph.Delete(row); err != nil {
			return translateError(err)
		}
		ix.meta.Remove(row)
		delete(ix.rows, row)
		delete(ix.ids, id)
	}

	row, err := ix.graph.Insert(vec)
	if err != nil {
		return translateError(err)
	}

	// Keep the code table aligned with the store row for row.
	if ct := ix.codes.Load(); ct != nil {
		if err := ct.Append(vec); err != nil {
			return translateError(err)
		}
	}

	ix.ids[id] = row
	ix.rows[row] = id
	if len(md) > 0 {
		ix.meta.Put(row, md)
	}
	return nil
}

// BatchItem is one element of a batch insert.
type BatchItem struct {
	ID       VectorID
	Vector   []float32
	Metadata metadata.Metadata
}

// BatchResult reports the outcome for one batch item.
type BatchResult struct {
	ID  VectorID
	Err error
}

// BatchInsert inserts items in order, collecting per-item errors instead
// of stopping at the first failure. A canceled context fails the
// remaining items with ctx.Err().
func (ix *Index) BatchInsert(ctx context.Context, items []BatchItem) []BatchResult {
	start := time.Now()
	results := make([]BatchResult, len(items))

	var failed int
	for i, item := range items {
		results[i].ID = item.ID
		results[i].Err = ix.insert(ctx, item.ID, item.Vector, item.Metadata, false)
		if results[i].Err != nil {
			failed++
		}
	}

	ix.opts.metrics.RecordBatchInsert(len(items), failed, time.Since(start))
	ix.opts.logger.LogBatchInsert(ctx, len(items), failed)
	return results
}

// Delete removes the vector with the given id. The row is tombstoned;
// Compact reclaims it. Deleting an unknown id fails with ErrNotFound;
// re-inserting the same id afterwards behaves like a fresh insert.
func (ix *Index) Delete(ctx context.Context, id VectorID) error {
	start := time.Now()
	err := ix.delete(ctx, id)
	ix.opts.metrics.RecordDelete(time.Since(start), err)
	ix.opts.logger.LogDelete(ctx, id, err)
	return err
}

func (ix *Index) delete(ctx context.Context, id VectorID) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	row, live := ix.ids[id]
	if !live {
		return ErrNotFound
	}
	if err := ix.graph.Delete(row); err != nil {
		return translateError(err)
	}
	ix.meta.Remove(row)
	delete(ix.ids, id)
	delete(ix.rows, row)
	return nil
}

// Get returns a copy of the stored vector and its metadata.
func (ix *Index) Get(id VectorID) ([]float32, metadata.Metadata, error) {
	if ix.closed.Load() {
		return nil, nil, ErrClosed
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row, live := ix.ids[id]
	if !live {
		return nil, nil, ErrNotFound
	}
	vec, ok := ix.store.Get(row)
	if !ok {
		return nil, nil, ErrNotFound
	}

	out := make([]float32, len(vec))
	copy(out, vec)
	md, _ := ix.meta.Get(row)
	return out, md, nil
}

// TrainQuantizer trains a candidate codebook on the given samples, then
// re-encodes all stored vectors and swaps the new code table in as the
// next generation. Training runs concurrently with serving; only the
// final catch-up encode briefly blocks writers.
func (ix *Index) TrainQuantizer(ctx context.Context, samples [][]float32) error {
	start := time.Now()
	err := ix.trainQuantizer(ctx, samples)
	ix.opts.metrics.RecordTrain(len(samples), time.Since(start), err)
	ix.opts.logger.LogTrain(ctx, len(samples), ix.generation.Load(), err)
	return err
}

func (ix *Index) trainQuantizer(ctx context.Context, samples [][]float32) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if ix.opts.quantization.Kind == quantization.KindNone {
		return ErrNoQuantizer
	}

	// One training run at a time; serving is unaffected.
	ix.trainMu.Lock()
	defer ix.trainMu.Unlock()

	q, err := quantization.New(ix.dim, ix.opts.quantization)
	if err != nil {
		return translateError(err)
	}

	if ix.opts.metric == distance.MetricCosine {
		normalized := make([][]float32, len(samples))
		for i, s := range samples {
			ns, ok := distance.NormalizeL2Copy(s)
			if !ok {
				return ErrZeroVector
			}
			normalized[i] = ns
		}
		samples = normalized
	}

	if err := q.Train(ctx, samples); err != nil {
		return translateError(err)
	}

	return ix.swapCodeTable(ctx, q)
}

// swapCodeTable re-encodes every stored row into a fresh code table for
// q and publishes it. The bulk encode runs without the write lock; rows
// inserted meanwhile are caught up under the lock before the swap.
func (ix *Index) swapCodeTable(ctx context.Context, q quantization.Quantizer) error {
	ix.mu.RLock()
	store := ix.store
	ix.mu.RUnlock()

	next, err := vectorstore.NewCodeTable(q, ix.generation.Load()+1)
	if err != nil {
		return translateError(err)
	}

	encoded := 0
	for row := 0; row < store.Count(); row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, ok := store.Get(model.RowID(row))
		if !ok {
			break
		}
		if err := next.Append(vec); err != nil {
			return translateError(err)
		}
		encoded++
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.store != store {
		// Rebuild or LoadSnapshot replaced the store mid-training.
		return context.Canceled
	}
	for row := encoded; row < ix.store.Count(); row++ {
		vec, ok := ix.store.Get(model.RowID(row))
		if !ok {
			break
		}
		if err := next.Append(vec); err != nil {
			return translateError(err)
		}
	}

	ix.codes.Store(next)
	ix.generation.Store(next.Generation())
	return nil
}

// Quantized reports whether searches currently traverse with quantized
// distance estimates.
func (ix *Index) Quantized() bool {
	return ix.codes.Load() != nil
}

// Generation returns the active codebook generation, zero when no
// codebook has been trained.
func (ix *Index) Generation() uint64 {
	return ix.generation.Load()
}

// Compact physically purges tombstoned rows from the graph, repairing
// affected neighbor lists. Searches keep running; writers are blocked
// for the duration. Pace comes from WithCompactionPace.
func (ix *Index) Compact(ctx context.Context) (hnsw.CompactResult, error) {
	start := time.Now()
	result, err := ix.compact(ctx)
	ix.opts.metrics.RecordCompact(result.Purged, time.Since(start), err)
	ix.opts.logger.LogCompact(ctx, result.Purged, result.Repaired, err)
	return result, err
}

func (ix *Index) compact(ctx context.Context) (hnsw.CompactResult, error) {
	if ix.closed.Load() {
		return hnsw.CompactResult{}, ErrClosed
	}

	ix.mu.RLock()
	g := ix.graph
	ix.mu.RUnlock()

	result, err := g.Compact(ctx, ix.opts.compactionPace)
	return result, translateError(err)
}

// Rebuild reconstructs the graph from the live vectors. It is the escape
// hatch after the index flipped to read-only, and also discards purged
// rows from the vector store. Row ids are reassigned; external ids are
// preserved.
func (ix *Index) Rebuild(ctx context.Context) error {
	if ix.closed.Load() {
		return ErrClosed
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	store, err := vectorstore.New(ix.dim)
	if err != nil {
		return translateError(err)
	}
	graph, err := hnsw.New(store, ix.opts.metric, ix.opts.graphOptions...)
	if err != nil {
		return translateError(err)
	}

	meta := metadata.NewIndex()
	ids := make(map[VectorID]model.RowID, len(ix.ids))
	rows := make(map[model.RowID]VectorID, len(ix.rows))

	var next *vectorstore.CodeTable
	if ct := ix.codes.Load(); ct != nil {
		next, err = vectorstore.NewCodeTable(ct.Quantizer(), ix.generation.Load()+1)
		if err != nil {
			return translateError(err)
		}
	}

	// Old rows in ascending order keep the rebuild deterministic.
	for oldRow, vec := range ix.store.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, live := ix.rows[oldRow]
		if !live {
			continue
		}

		row, err := graph.Insert(vec)
		if err != nil {
			return translateError(err)
		}
		if next != nil {
			if err := next.Append(vec); err != nil {
				return translateError(err)
			}
		}
		if md, ok := ix.meta.Get(oldRow); ok {
			meta.Put(row, md)
		}
		ids[id] = row
		rows[row] = id
	}

	ix.store = store
	ix.graph = graph
	ix.meta = meta
	ix.ids = ids
	ix.rows = rows
	if next != nil {
		ix.codes.Store(next)
		ix.generation.Store(next.Generation())
	}
	return nil
}
