// Package metadata provides per-vector attributes and a roaring-bitmap
// inverted index for filtered search.
package metadata

import (
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/proxima/model"
)

// Metadata is the attribute set attached to one vector.
type Metadata map[string]string

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Filter is a conjunction of exact-match conditions. The zero value
// matches everything.
type Filter struct {
	terms []term
}

type term struct {
	key, value string
}

// Eq starts a filter requiring key == value.
func Eq(key, value string) *Filter {
	return &Filter{terms: []term{{key: key, value: value}}}
}

// Eq adds another required condition and returns the filter for chaining.
func (f *Filter) Eq(key, value string) *Filter {
	f.terms = append(f.terms, term{key: key, value: value})
	return f
}

// Matches reports whether md satisfies every condition.
func (f *Filter) Matches(md Metadata) bool {
	for _, t := range f.terms {
		if md[t.key] != t.value {
			return false
		}
	}
	return true
}

// Index maps attribute key/value pairs to the rows that carry them.
// Postings are roaring bitmaps, so conjunctions become cheap
// intersections even with millions of rows.
type Index struct {
	mu       sync.RWMutex
	rows     map[model.RowID]Metadata
	postings map[term]*roaring.Bitmap
}

// NewIndex creates an empty metadata index.
func NewIndex() *Index {
	return &Index{
		rows:     make(map[model.RowID]Metadata),
		postings: make(map[term]*roaring.Bitmap),
	}
}

// Put indexes md under row id, replacing any previous attributes.
func (ix *Index) Put(id model.RowID, md Metadata) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(id)
	if len(md) == 0 {
		return
	}

	ix.rows[id] = md.Clone()
	for k, v := range md {
		t := term{key: k, value: v}
		bm, ok := ix.postings[t]
		if !ok {
			bm = roaring.New()
			ix.postings[t] = bm
		}
		bm.Add(uint32(id))
	}
}

// Remove drops all attributes for row id.
func (ix *Index) Remove(id model.RowID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id model.RowID) {
	md, ok := ix.rows[id]
	if !ok {
		return
	}
	delete(ix.rows, id)

	for k, v := range md {
		t := term{key: k, value: v}
		if bm, ok := ix.postings[t]; ok {
			bm.Remove(uint32(id))
			if bm.IsEmpty() {
				delete(ix.postings, t)
			}
		}
	}
}

// Get returns a copy of the attributes for row id.
func (ix *Index) Get(id model.RowID) (Metadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	md, ok := ix.rows[id]
	if !ok {
		return nil, false
	}
	return md.Clone(), true
}

// Eligible returns the rows satisfying the filter as a bitmap. A nil or
// empty filter returns nil, meaning every row is eligible.
func (ix *Index) Eligible(f *Filter) *roaring.Bitmap {
	if f == nil || len(f.terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var result *roaring.Bitmap
	for _, t := range f.terms {
		bm, ok := ix.postings[t]
		if !ok {
			return roaring.New()
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
	}
	return result
}

// All iterates every indexed row and its attributes.
func (ix *Index) All() iter.Seq2[model.RowID, Metadata] {
	return func(yield func(model.RowID, Metadata) bool) {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		for id, md := range ix.rows {
			if !yield(id, md.Clone()) {
				return
			}
		}
	}
}

// Len returns the number of rows with attributes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rows)
}
