package blobstore

import (
	"context"
	"errors"
	"time"
)

// RetryOptions configures a RetryStore.
type RetryOptions struct {
	// Attempts is the total number of tries per operation.
	Attempts int

	// BaseDelay is the wait before the first retry; it doubles after
	// each failed attempt.
	BaseDelay time.Duration
}

// DefaultRetryOptions are the default options for a RetryStore.
var DefaultRetryOptions = RetryOptions{
	Attempts:  3,
	BaseDelay: 50 * time.Millisecond,
}

// RetryStore wraps a BlobStore and retries failed operations with bounded
// exponential backoff. ErrNotFound and context errors are returned
// immediately; everything else is treated as transient.
type RetryStore struct {
	inner BlobStore
	opts  RetryOptions
}

// NewRetryStore wraps inner with retry semantics.
func NewRetryStore(inner BlobStore, optFns ...func(o *RetryOptions)) *RetryStore {
	opts := DefaultRetryOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Attempts < 1 {
		opts.Attempts = 1
	}

	return &RetryStore{inner: inner, opts: opts}
}

func (s *RetryStore) do(ctx context.Context, op func() error) error {
	delay := s.opts.BaseDelay

	var err error

	for attempt := 0; attempt < s.opts.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			delay *= 2
		}

		if err = op(); err == nil {
			return nil
		}

		if errors.Is(err, ErrNotFound) {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}

	return err
}

// Put writes a blob, retrying transient failures.
func (s *RetryStore) Put(ctx context.Context, name string, data []byte) error {
	return s.do(ctx, func() error {
		return s.inner.Put(ctx, name, data)
	})
}

// Get reads a blob, retrying transient failures.
func (s *RetryStore) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte

	err := s.do(ctx, func() error {
		var err error
		data, err = s.inner.Get(ctx, name)
		return err
	})

	return data, err
}

// Delete removes a blob, retrying transient failures.
func (s *RetryStore) Delete(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		return s.inner.Delete(ctx, name)
	})
}

// List lists blobs, retrying transient failures.
func (s *RetryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	err := s.do(ctx, func() error {
		var err error
		names, err = s.inner.List(ctx, prefix)
		return err
	})

	return names, err
}
