package vectorstore

import (
	"errors"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hupe1980/proxima/model"
	"github.com/hupe1980/proxima/quantization"
)

// defaultDecodeCacheSize bounds the LRU of reconstructed vectors.
const defaultDecodeCacheSize = 4096

// CodeTable holds the quantized codes for every stored row, produced by
// one trained quantizer. Retraining builds a fresh table under a new
// generation and swaps it in whole, so searches never mix codes from
// different codebooks.
type CodeTable struct {
	quantizer  quantization.Quantizer
	generation uint64
	codeSize   int

	mu    sync.Mutex
	data  atomic.Pointer[[]byte]
	count atomic.Uint32

	decoded *lru.Cache[model.RowID, []float32]
}

// NewCodeTable creates an empty table for the given trained quantizer.
func NewCodeTable(q quantization.Quantizer, generation uint64) (*CodeTable, error) {
	if q == nil || !q.Trained() {
		return nil, quantization.ErrNotTrained
	}

	decoded, err := lru.New[model.RowID, []float32](defaultDecodeCacheSize)
	if err != nil {
		return nil, err
	}

	t := &CodeTable{
		quantizer:  q,
		generation: generation,
		codeSize:   q.CodeSize(),
		decoded:    decoded,
	}
	data := make([]byte, initialRows*t.codeSize)
	t.data.Store(&data)
	return t, nil
}

// Quantizer returns the quantizer that produced this table.
func (t *CodeTable) Quantizer() quantization.Quantizer {
	return t.quantizer
}

// Generation returns the codebook generation this table belongs to.
func (t *CodeTable) Generation() uint64 {
	return t.generation
}

// Count returns the number of encoded rows.
func (t *CodeTable) Count() int {
	return int(t.count.Load())
}

// Append encodes v and stores its code at the next row. Append order
// must mirror the vector store's, which the writer lock guarantees.
func (t *CodeTable) Append(v []float32) error {
	code, err := t.quantizer.Encode(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	row := t.count.Load()
	need := (int(row) + 1) * t.codeSize

	data := t.data.Load()
	if need > len(*data) {
		grown := make([]byte, max(len(*data)*2, need))
		copy(grown, *data)
		t.data.Store(&grown)
		data = &grown
	}

	copy((*data)[int(row)*t.codeSize:], code)
	t.count.Store(row + 1)
	return nil
}

// Code returns the stored code for row id, aliasing internal memory.
func (t *CodeTable) Code(id model.RowID) ([]byte, bool) {
	if uint32(id) >= t.count.Load() {
		return nil, false
	}
	data := *t.data.Load()
	return data[int(id)*t.codeSize : (int(id)+1)*t.codeSize : (int(id)+1)*t.codeSize], true
}

// Decoded reconstructs the approximate vector for row id, serving
// repeats from an LRU cache.
func (t *CodeTable) Decoded(id model.RowID) ([]float32, error) {
	if vec, ok := t.decoded.Get(id); ok {
		return vec, nil
	}

	code, ok := t.Code(id)
	if !ok {
		return nil, errors.New("vectorstore: row not encoded")
	}

	vec, err := t.quantizer.Decode(code)
	if err != nil {
		return nil, err
	}
	t.decoded.Add(id, vec)
	return vec, nil
}
