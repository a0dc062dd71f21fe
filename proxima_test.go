package proxima

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/hnsw"
	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/quantization"
)

func testVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestIndex_New(t *testing.T) {
	idx, err := New(128)
	require.NoError(t, err)
	assert.Equal(t, 128, idx.Dimension())
	assert.Equal(t, distance.MetricL2, idx.Metric())
	assert.Equal(t, 0, idx.Len())

	_, err = New(0)
	var invalid *ErrInvalidDimension
	assert.ErrorAs(t, err, &invalid)
}

func TestIndex_InsertAndSearch(t *testing.T) {
	ctx := context.Background()

	idx, err := New(4)
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0, 0}))
	require.NoError(t, idx.Insert(ctx, 2, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Insert(ctx, 3, []float32{10, 10, 10, 10}))

	results, err := idx.Search([]float32{0, 0, 0, 0}).KNN(2).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, VectorID(1), results[0].ID)
	assert.Equal(t, float32(0), results[0].Distance)
	assert.Equal(t, VectorID(2), results[1].ID)
	assert.Equal(t, float32(1), results[1].Distance)
}

func TestIndex_ExactSearch(t *testing.T) {
	ctx := context.Background()

	idx, err := New(8)
	require.NoError(t, err)

	vectors := testVectors(100, 8, 11)
	for i, v := range vectors {
		md := metadata.Metadata{"parity": "odd"}
		if i%2 == 0 {
			md["parity"] = "even"
		}
		require.NoError(t, idx.InsertWithMetadata(ctx, VectorID(i), v, md))
	}

	q := testVectors(1, 8, 12)[0]

	exact, err := idx.Search(q).KNN(10).Exact().Execute(ctx)
	require.NoError(t, err)
	require.Len(t, exact, 10)

	// The graph search at a generous beam width should agree with the scan.
	approx, err := idx.Search(q).KNN(10).EF(200).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, exact, approx)

	// Distances come back sorted.
	for i := 1; i < len(exact); i++ {
		assert.LessOrEqual(t, exact[i-1].Distance, exact[i].Distance)
	}

	filtered, err := idx.Search(q).KNN(10).Exact().
		Filter(metadata.Eq("parity", "even")).Execute(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, filtered)
	for _, r := range filtered {
		assert.Zero(t, r.ID%2)
	}
}

func TestIndex_SearchEmpty(t *testing.T) {
	idx, err := New(4)
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 2, 3, 4}).KNN(5).Execute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_SearchInvalidK(t *testing.T) {
	idx, err := New(4)
	require.NoError(t, err)

	_, err = idx.Search([]float32{1, 2, 3, 4}).KNN(0).Execute(context.Background())
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestIndex_DuplicateID(t *testing.T) {
	ctx := context.Background()

	idx, err := New(2)
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, 7, []float32{1, 2}))

	err = idx.Insert(ctx, 7, []float32{3, 4})
	var dup *ErrDuplicateID
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, VectorID(7), dup.ID)

	// Overwrite replaces the live vector under the same id.
	require.NoError(t, idx.Overwrite(ctx, 7, []float32{3, 4}, nil))
	vec, _, err := idx.Get(7)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, vec)
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()

	idx, err := New(4)
	require.NoError(t, err)

	var dim *ErrDimensionMismatch
	err = idx.Insert(ctx, 1, []float32{1, 2})
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 4, dim.Expected)
	assert.Equal(t, 2, dim.Actual)

	_, err = idx.Search([]float32{1, 2}).KNN(1).Execute(ctx)
	assert.ErrorAs(t, err, &dim)
}

func TestIndex_DeleteAndReinsert(t *testing.T) {
	ctx := context.Background()

	idx, err := New(2)
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, 1, []float32{1, 0}))
	require.NoError(t, idx.Delete(ctx, 1))
	assert.ErrorIs(t, idx.Delete(ctx, 1), ErrNotFound)

	_, _, err = idx.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)

	// Delete then reinsert behaves like a fresh insert.
	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 1}))
	vec, _, err := idx.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)

	results, err := idx.Search([]float32{0, 1}).KNN(1).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VectorID(1), results[0].ID)
	assert.Equal(t, float32(0), results[0].Distance)
}

func TestIndex_DeletedNeverReturned(t *testing.T) {
	ctx := context.Background()

	idx, err := New(8)
	require.NoError(t, err)

	vectors := testVectors(50, 8, 1)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(ctx, VectorID(i+1), v))
	}
	require.NoError(t, idx.Delete(ctx, 10))

	results, err := idx.Search(vectors[9]).KNN(50).Execute(ctx)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, VectorID(10), r.ID)
	}
}

func TestIndex_MetadataFilter(t *testing.T) {
	ctx := context.Background()

	idx, err := New(4)
	require.NoError(t, err)

	for i, v := range testVectors(40, 4, 2) {
		md := metadata.Metadata{"lang": "en"}
		if i%2 == 1 {
			md = metadata.Metadata{"lang": "de"}
		}
		require.NoError(t, idx.InsertWithMetadata(ctx, VectorID(i+1), v, md))
	}

	results, err := idx.Search(testVectors(1, 4, 3)[0]).
		KNN(5).
		Filter(metadata.Eq("lang", "de")).
		Execute(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		_, md, err := idx.Get(r.ID)
		require.NoError(t, err)
		assert.Equal(t, "de", md["lang"])
	}

	// An unmatched filter yields no results, not an error.
	none, err := idx.Search(testVectors(1, 4, 3)[0]).
		KNN(5).
		Filter(metadata.Eq("lang", "fr")).
		Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndex_BatchInsert(t *testing.T) {
	ctx := context.Background()

	idx, err := New(2)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, 2, []float32{5, 5}))

	results := idx.BatchInsert(ctx, []BatchItem{
		{ID: 1, Vector: []float32{1, 1}},
		{ID: 2, Vector: []float32{2, 2}}, // duplicate
		{ID: 3, Vector: []float32{3}},    // wrong dimension
		{ID: 4, Vector: []float32{4, 4}},
	})
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	var dup *ErrDuplicateID
	assert.ErrorAs(t, results[1].Err, &dup)
	var dim *ErrDimensionMismatch
	assert.ErrorAs(t, results[2].Err, &dim)
	assert.NoError(t, results[3].Err)

	assert.Equal(t, 3, idx.Len())
}

func TestIndex_Cosine(t *testing.T) {
	ctx := context.Background()

	idx, err := New(3, WithMetric(distance.MetricCosine))
	require.NoError(t, err)

	// Parallel vectors of different magnitude are identical under cosine.
	require.NoError(t, idx.Insert(ctx, 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Insert(ctx, 2, []float32{100, 0, 0}))
	require.NoError(t, idx.Insert(ctx, 3, []float32{0, 1, 0}))

	results, err := idx.Search([]float32{2, 0, 0}).KNN(3).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, float32(0), results[0].Distance)
	assert.Equal(t, float32(0), results[1].Distance)
	assert.Equal(t, VectorID(3), results[2].ID)
}

func TestIndex_CosineZeroVector(t *testing.T) {
	ctx := context.Background()

	idx, err := New(3, WithMetric(distance.MetricCosine), WithQuantization(quantization.Config{
		Kind: quantization.KindScalar,
	}))
	require.NoError(t, err)

	// A zero vector has no direction; correctly sized input must not be
	// reported as a dimension mismatch.
	err = idx.Insert(ctx, 1, []float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)
	var dm *ErrDimensionMismatch
	assert.False(t, errors.As(err, &dm))
	assert.Equal(t, 0, idx.Len())

	require.NoError(t, idx.Insert(ctx, 1, []float32{1, 0, 0}))

	_, err = idx.Search([]float32{0, 0, 0}).KNN(1).Execute(ctx)
	assert.ErrorIs(t, err, ErrZeroVector)

	samples := testVectors(64, 3, 9)
	samples[10] = []float32{0, 0, 0}
	err = idx.TrainQuantizer(ctx, samples)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestIndex_TrainQuantizer(t *testing.T) {
	ctx := context.Background()

	idx, err := New(8, WithQuantization(quantization.Config{
		Kind: quantization.KindScalar,
	}))
	require.NoError(t, err)

	vectors := testVectors(200, 8, 4)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(ctx, VectorID(i+1), v))
	}

	assert.False(t, idx.Quantized())
	require.NoError(t, idx.TrainQuantizer(ctx, vectors))
	assert.True(t, idx.Quantized())
	assert.Equal(t, uint64(1), idx.Generation())

	// Quantized traversal still returns exact distances after re-ranking.
	results, err := idx.Search(vectors[5]).KNN(1).EF(100).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VectorID(6), results[0].ID)
	assert.Equal(t, float32(0), results[0].Distance)

	// Inserts after training keep the code table aligned.
	require.NoError(t, idx.Insert(ctx, 1000, testVectors(1, 8, 5)[0]))
	results, err = idx.Search(testVectors(1, 8, 5)[0]).KNN(1).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VectorID(1000), results[0].ID)

	// Retraining bumps the generation.
	require.NoError(t, idx.TrainQuantizer(ctx, vectors))
	assert.Equal(t, uint64(2), idx.Generation())
}

func TestIndex_TrainQuantizerUnconfigured(t *testing.T) {
	idx, err := New(8)
	require.NoError(t, err)

	err = idx.TrainQuantizer(context.Background(), testVectors(10, 8, 6))
	assert.ErrorIs(t, err, ErrNoQuantizer)
}

func TestIndex_Compact(t *testing.T) {
	ctx := context.Background()

	idx, err := New(4)
	require.NoError(t, err)

	vectors := testVectors(60, 4, 7)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(ctx, VectorID(i+1), v))
	}
	for id := VectorID(1); id <= 10; id++ {
		require.NoError(t, idx.Delete(ctx, id))
	}

	result, err := idx.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Purged)

	stats := idx.Stats()
	assert.Equal(t, 50, stats.Vectors)
	assert.Zero(t, stats.Graph.Tombstones)

	results, err := idx.Search(vectors[20]).KNN(1).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VectorID(21), results[0].ID)
}

func TestIndex_Rebuild(t *testing.T) {
	ctx := context.Background()

	idx, err := New(4, WithQuantization(quantization.Config{Kind: quantization.KindScalar}))
	require.NoError(t, err)

	vectors := testVectors(50, 4, 8)
	for i, v := range vectors {
		require.NoError(t, idx.InsertWithMetadata(ctx, VectorID(i+1), v,
			metadata.Metadata{"bucket": "a"}))
	}
	require.NoError(t, idx.TrainQuantizer(ctx, vectors))
	require.NoError(t, idx.Delete(ctx, 5))

	require.NoError(t, idx.Rebuild(ctx))

	assert.Equal(t, 49, idx.Len())
	assert.Equal(t, uint64(2), idx.Generation())
	assert.False(t, idx.ReadOnly())

	// Ids survive the rebuild even though rows are reassigned.
	results, err := idx.Search(vectors[7]).KNN(1).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VectorID(8), results[0].ID)

	_, md, err := idx.Get(8)
	require.NoError(t, err)
	assert.Equal(t, "a", md["bucket"])

	_, _, err = idx.Get(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_Close(t *testing.T) {
	ctx := context.Background()

	idx, err := New(2)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, 1, []float32{1, 2}))
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Insert(ctx, 2, []float32{3, 4}), ErrClosed)
	assert.ErrorIs(t, idx.Delete(ctx, 1), ErrClosed)
	_, err = idx.Search([]float32{1, 2}).KNN(1).Execute(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = idx.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndex_First(t *testing.T) {
	ctx := context.Background()

	idx, err := New(2)
	require.NoError(t, err)

	_, err = idx.Search([]float32{1, 1}).First(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idx.Insert(ctx, 9, []float32{1, 1}))
	hit, err := idx.Search([]float32{1, 1}).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, VectorID(9), hit.ID)
}

func TestIndex_MetricsCollector(t *testing.T) {
	ctx := context.Background()

	metrics := &BasicMetricsCollector{}
	idx, err := New(2, WithMetricsCollector(metrics))
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, 1, []float32{1, 2}))
	_, err = idx.Search([]float32{1, 2}).KNN(1).Execute(ctx)
	require.NoError(t, err)
	require.NoError(t, idx.Delete(ctx, 1))
	_ = idx.Insert(ctx, 1, []float32{1}) // dimension error

	assert.Equal(t, int64(2), metrics.InsertCount.Load())
	assert.Equal(t, int64(1), metrics.InsertErrors.Load())
	assert.Equal(t, int64(1), metrics.SearchCount.Load())
	assert.Equal(t, int64(1), metrics.DeleteCount.Load())
}

func TestIndex_GraphOptions(t *testing.T) {
	idx, err := New(4, WithGraphOptions(func(o *hnsw.Options) {
		o.M = 8
		o.EFConstruction = 64
		o.Seed = 42
	}))
	require.NoError(t, err)

	ctx := context.Background()
	for i, v := range testVectors(30, 4, 9) {
		require.NoError(t, idx.Insert(ctx, VectorID(i+1), v))
	}
	assert.Equal(t, 30, idx.Stats().Graph.Nodes)
}
