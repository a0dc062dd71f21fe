package blobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures calls of each operation.
type flakyStore struct {
	BlobStore

	failures int
	calls    int
}

var errTransient = errors.New("transient")

func (f *flakyStore) Get(ctx context.Context, name string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errTransient
	}
	return f.BlobStore.Get(ctx, name)
}

func fastRetry(o *RetryOptions) {
	o.Attempts = 3
	o.BaseDelay = time.Millisecond
}

func TestRetryStore(t *testing.T) {
	store := NewRetryStore(NewMemoryStore(), fastRetry)
	testStore(t, store)
}

func TestRetryStore_RecoversFromTransientErrors(t *testing.T) {
	ctx := context.Background()

	inner := &flakyStore{BlobStore: NewMemoryStore(), failures: 2}
	require.NoError(t, inner.BlobStore.Put(ctx, "a", []byte("one")))

	store := NewRetryStore(inner, fastRetry)

	data, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryStore_GivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()

	inner := &flakyStore{BlobStore: NewMemoryStore(), failures: 10}
	store := NewRetryStore(inner, fastRetry)

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryStore_NotFoundIsImmediate(t *testing.T) {
	ctx := context.Background()

	inner := &flakyStore{BlobStore: NewMemoryStore()}
	store := NewRetryStore(inner, fastRetry)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryStore_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyStore{BlobStore: NewMemoryStore(), failures: 10}
	store := NewRetryStore(inner, func(o *RetryOptions) {
		o.Attempts = 5
		o.BaseDelay = time.Hour
	})

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
