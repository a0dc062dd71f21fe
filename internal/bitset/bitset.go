// Package bitset implements a concurrent segmented bitset used for
// tombstone tracking. Readers never block; growth swaps in a new segment
// table via compare-and-swap.
package bitset

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"sync/atomic"
)

const (
	segmentShift = 16
	segmentBits  = 1 << segmentShift // bits per segment
	segmentMask  = segmentBits - 1

	wordsPerSegment = segmentBits / 64
)

type segment [wordsPerSegment]atomic.Uint64

// Set is a lock-free bitset over uint32 indexes. Out-of-range reads
// report false; writes require a prior Grow covering the index.
type Set struct {
	segments atomic.Pointer[[]*segment]
	size     atomic.Uint64
}

// New creates a Set sized for the given number of bits.
func New(size uint64) *Set {
	s := &Set{}
	s.size.Store(size)
	s.growSegments(size)
	return s
}

// Grow extends the set to hold at least size bits.
func (s *Set) Grow(size uint64) {
	s.growSegments(size)
	for {
		cur := s.size.Load()
		if size <= cur {
			return
		}
		if s.size.CompareAndSwap(cur, size) {
			return
		}
	}
}

func (s *Set) growSegments(size uint64) {
	if size == 0 {
		return
	}
	target := int((size - 1) >> segmentShift)

	segs := s.segments.Load()
	if segs != nil && len(*segs) > target {
		return
	}

	for {
		old := s.segments.Load()
		oldLen := 0
		if old != nil {
			oldLen = len(*old)
		}
		if target < oldLen {
			return
		}

		next := make([]*segment, target+1)
		if old != nil {
			copy(next, *old)
		}
		for i := oldLen; i <= target; i++ {
			next[i] = new(segment)
		}

		if s.segments.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (s *Set) locate(i uint64) (*segment, uint64, uint64, bool) {
	if i >= s.size.Load() {
		return nil, 0, 0, false
	}
	segs := s.segments.Load()
	idx := int(i >> segmentShift)
	if segs == nil || idx >= len(*segs) {
		return nil, 0, 0, false
	}
	offset := i & segmentMask
	return (*segs)[idx], offset / 64, uint64(1) << (offset % 64), true
}

// Mark sets bit i.
func (s *Set) Mark(i uint64) {
	seg, word, mask, ok := s.locate(i)
	if !ok {
		return
	}
	seg[word].Or(mask)
}

// MarkIfClear sets bit i and reports whether this call flipped it.
func (s *Set) MarkIfClear(i uint64) bool {
	seg, word, mask, ok := s.locate(i)
	if !ok {
		return false
	}
	for {
		old := seg[word].Load()
		if old&mask != 0 {
			return false
		}
		if seg[word].CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// Clear unsets bit i.
func (s *Set) Clear(i uint64) {
	seg, word, mask, ok := s.locate(i)
	if !ok {
		return
	}
	seg[word].And(^mask)
}

// Test reports whether bit i is set.
func (s *Set) Test(i uint64) bool {
	seg, word, mask, ok := s.locate(i)
	if !ok {
		return false
	}
	return seg[word].Load()&mask != 0
}

// Count returns the number of set bits.
func (s *Set) Count() uint64 {
	segs := s.segments.Load()
	if segs == nil {
		return 0
	}
	var total uint64
	for _, seg := range *segs {
		for w := range seg {
			total += uint64(bits.OnesCount64(seg[w].Load()))
		}
	}
	return total
}

// Size returns the number of addressable bits.
func (s *Set) Size() uint64 {
	return s.size.Load()
}

// Range calls fn for every set bit in ascending order until fn returns
// false.
func (s *Set) Range(fn func(i uint64) bool) {
	segs := s.segments.Load()
	if segs == nil {
		return
	}
	limit := s.size.Load()
	for si, seg := range *segs {
		base := uint64(si) << segmentShift
		for w := range seg {
			val := seg[w].Load()
			for val != 0 {
				bit := uint64(bits.TrailingZeros64(val))
				i := base + uint64(w)*64 + bit
				if i >= limit {
					return
				}
				if !fn(i) {
					return
				}
				val &= val - 1
			}
		}
	}
}

// MarshalBinary serializes the set as [size:u64][words...].
func (s *Set) MarshalBinary() ([]byte, error) {
	size := s.size.Load()
	numWords := (size + 63) / 64

	buf := make([]byte, 8+numWords*8)
	binary.LittleEndian.PutUint64(buf, size)

	segs := s.segments.Load()
	for i := uint64(0); i < numWords; i++ {
		var val uint64
		if segs != nil {
			bit := i * 64
			if idx := int(bit >> segmentShift); idx < len(*segs) {
				offset := bit & segmentMask
				val = (*segs)[idx][offset/64].Load()
			}
		}
		binary.LittleEndian.PutUint64(buf[8+i*8:], val)
	}
	return buf, nil
}

// UnmarshalBinary restores a set written by MarshalBinary.
func (s *Set) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("bitset: truncated")
	}
	size := binary.LittleEndian.Uint64(data)
	numWords := (size + 63) / 64
	if uint64(len(data)) != 8+numWords*8 {
		return errors.New("bitset: length mismatch")
	}

	s.segments.Store(nil)
	s.size.Store(size)
	s.growSegments(size)

	segs := s.segments.Load()
	for i := uint64(0); i < numWords; i++ {
		val := binary.LittleEndian.Uint64(data[8+i*8:])
		if val == 0 {
			continue
		}
		bit := i * 64
		offset := bit & segmentMask
		(*segs)[bit>>segmentShift][offset/64].Store(val)
	}
	return nil
}
