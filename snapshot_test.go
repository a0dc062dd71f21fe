package proxima

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/proxima/blobstore"
	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/quantization"
)

func TestIndex_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()

	idx, err := New(8,
		WithMetric(distance.MetricCosine),
		WithBlobStore(bs),
		WithQuantization(quantization.Config{Kind: quantization.KindScalar}),
	)
	require.NoError(t, err)

	vectors := testVectors(100, 8, 11)
	for i, v := range vectors {
		require.NoError(t, idx.InsertWithMetadata(ctx, VectorID(i+1), v,
			metadata.Metadata{"shard": fmt.Sprintf("%d", i%3)}))
	}
	require.NoError(t, idx.TrainQuantizer(ctx, vectors))
	require.NoError(t, idx.Delete(ctx, 42))

	require.NoError(t, idx.SaveSnapshot(ctx, "snapshots/test.pxs"))

	restored, err := LoadSnapshot(ctx, "snapshots/test.pxs", WithBlobStore(bs))
	require.NoError(t, err)

	assert.Equal(t, idx.Dimension(), restored.Dimension())
	assert.Equal(t, distance.MetricCosine, restored.Metric())
	assert.Equal(t, idx.Len(), restored.Len())
	assert.True(t, restored.Quantized())
	assert.Equal(t, idx.Generation(), restored.Generation())

	// Same query, same results.
	want, err := idx.Search(vectors[7]).KNN(5).Execute(ctx)
	require.NoError(t, err)
	got, err := restored.Search(vectors[7]).KNN(5).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Tombstone and metadata survive.
	_, _, err = restored.Get(42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, md, err := restored.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "0", md["shard"])

	// The restored index accepts writes.
	require.NoError(t, restored.Insert(ctx, 5000, vectors[0]))
}

func TestIndex_SnapshotWithoutBlobStore(t *testing.T) {
	idx, err := New(4)
	require.NoError(t, err)

	assert.ErrorIs(t, idx.SaveSnapshot(context.Background(), "x"), ErrNoBlobStore)

	_, err = LoadSnapshot(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoBlobStore)
}

// fakeCommitLog is an in-memory CommitLog for tests.
type fakeCommitLog struct {
	mu         sync.Mutex
	generation uint64
	key        string
}

func (l *fakeCommitLog) Latest(ctx context.Context) (uint64, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation, l.key, nil
}

func (l *fakeCommitLog) Commit(ctx context.Context, snapshotKey string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.key = snapshotKey
	return l.generation, nil
}

func TestIndex_PublishAndLoadLatest(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	cl := &fakeCommitLog{}

	idx, err := New(4, WithBlobStore(bs), WithCommitLog(cl))
	require.NoError(t, err)

	vectors := testVectors(20, 4, 12)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(ctx, VectorID(i+1), v))
	}

	key, err := idx.PublishSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/1.pxs", key)

	// A second publish lands on the next generation.
	require.NoError(t, idx.Insert(ctx, 21, testVectors(1, 4, 13)[0]))
	key, err = idx.PublishSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/2.pxs", key)

	restored, err := LoadLatestSnapshot(ctx, WithBlobStore(bs), WithCommitLog(cl))
	require.NoError(t, err)
	assert.Equal(t, 21, restored.Len())
}

func TestLoadLatestSnapshot_Empty(t *testing.T) {
	_, err := LoadLatestSnapshot(context.Background(),
		WithBlobStore(blobstore.NewMemoryStore()),
		WithCommitLog(&fakeCommitLog{}),
	)
	assert.ErrorIs(t, err, ErrNotFound)
}
