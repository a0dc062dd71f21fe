package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "snapshots/a", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "snapshots/b", []byte("beta")))
	require.NoError(t, store.Put(ctx, "other/c", []byte("gamma")))

	data, err := store.Get(ctx, "snapshots/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	// Overwrite in place.
	require.NoError(t, store.Put(ctx, "snapshots/a", []byte("alpha2")))
	data, err = store.Get(ctx, "snapshots/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha2"), data)

	names, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"snapshots/a", "snapshots/b"}, names)

	require.NoError(t, store.Delete(ctx, "snapshots/a"))
	_, err = store.Get(ctx, "snapshots/a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is fine.
	require.NoError(t, store.Delete(ctx, "snapshots/a"))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, store)
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}
