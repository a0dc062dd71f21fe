package blobstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingStore wraps a BlobStore with an LRU read cache keyed by blob name.
// Writes and deletes invalidate the cached entry before hitting the inner
// store, so a successful Put is never shadowed by a stale read.
type CachingStore struct {
	inner BlobStore
	cache *lru.Cache[string, []byte]
}

// NewCachingStore wraps inner with a read cache holding up to size blobs.
// size defaults to 128 if <= 0.
func NewCachingStore(inner BlobStore, size int) (*CachingStore, error) {
	if size <= 0 {
		size = 128
	}

	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}

	return &CachingStore{inner: inner, cache: cache}, nil
}

// Put invalidates the cached entry and writes through to the inner store.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Remove(name)
	return s.inner.Put(ctx, name, data)
}

// Get returns the cached blob if present, otherwise reads from the inner
// store and caches the result. Callers must not mutate the returned slice.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if data, ok := s.cache.Get(name); ok {
		return data, nil
	}

	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	s.cache.Add(name, data)
	return data, nil
}

// Delete invalidates the cached entry and deletes from the inner store.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Remove(name)
	return s.inner.Delete(ctx, name)
}

// List passes through to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
