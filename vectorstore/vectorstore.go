// Package vectorstore owns the canonical full-precision vectors and,
// when quantization is enabled, the generation-tagged code table that
// mirrors them.
package vectorstore

import (
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/proxima/model"
)

// ErrWrongDimension is returned when a vector does not match the store
// dimension.
var ErrWrongDimension = errors.New("vectorstore: wrong vector dimension")

const initialRows = 1024

// Store is a columnar vector store. Vectors live contiguously in one
// []float32, so row access is an O(1) slice and sequential scans stay
// cache-friendly.
//
// Reads are lock-free through an atomic pointer; rows are published by
// bumping the count after the data is in place. Appends require external
// serialization, which the graph's writer lock provides.
type Store struct {
	dim int

	mu    sync.Mutex
	data  atomic.Pointer[[]float32]
	count atomic.Uint32
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) (*Store, error) {
	if dim <= 0 {
		return nil, errors.New("vectorstore: dimension must be positive")
	}

	s := &Store{dim: dim}
	data := make([]float32, initialRows*dim)
	s.data.Store(&data)
	return s, nil
}

// Dimension returns the vector dimensionality.
func (s *Store) Dimension() int {
	return s.dim
}

// Count returns the number of stored rows.
func (s *Store) Count() int {
	return int(s.count.Load())
}

// Add appends a copy of v and returns its row id.
func (s *Store) Add(v []float32) (model.RowID, error) {
	if len(v) != s.dim {
		return 0, ErrWrongDimension
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.count.Load()
	need := (int(row) + 1) * s.dim

	data := s.data.Load()
	if need > len(*data) {
		grown := make([]float32, max(len(*data)*2, need))
		copy(grown, *data)
		s.data.Store(&grown)
		data = &grown
	}

	copy((*data)[int(row)*s.dim:], v)
	s.count.Store(row + 1)
	return model.RowID(row), nil
}

// Get returns the vector at row id. The slice aliases internal memory
// and must not be mutated.
func (s *Store) Get(id model.RowID) ([]float32, bool) {
	if uint32(id) >= s.count.Load() {
		return nil, false
	}
	data := *s.data.Load()
	return data[int(id)*s.dim : (int(id)+1)*s.dim : (int(id)+1)*s.dim], true
}

// All iterates rows in insertion order. Rows appended mid-iteration may
// or may not be seen.
func (s *Store) All() iter.Seq2[model.RowID, []float32] {
	return func(yield func(model.RowID, []float32) bool) {
		count := s.count.Load()
		data := *s.data.Load()
		for row := uint32(0); row < count; row++ {
			vec := data[int(row)*s.dim : (int(row)+1)*s.dim : (int(row)+1)*s.dim]
			if !yield(model.RowID(row), vec) {
				return
			}
		}
	}
}
