// Package persistence implements the versioned binary snapshot format and
// its storage through a blob store.
//
// A snapshot is a self-describing container: a fixed header (magic,
// version, codec, dimension, metric, codebook generation) followed by
// length-prefixed sections and a trailing CRC32 over everything before it.
// Sections hold the serialized graph, the vector table, the id map, the
// quantizer state and the metadata. Unknown section ids are preserved on
// decode so older readers can skip what they do not understand.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/hupe1980/proxima/distance"
)

const (
	// Magic identifies proxima snapshot files (ASCII "PXS1").
	Magic = 0x50585331

	// Version is the current snapshot format version.
	Version = 1

	headerSize = 23 // magic(4) version(1) codec(1) dim(4) metric(1) generation(8) sections(4)
)

var (
	ErrInvalidMagic   = errors.New("persistence: invalid magic number")
	ErrInvalidVersion = errors.New("persistence: unsupported format version")
	ErrTruncated      = errors.New("persistence: truncated snapshot")
)

// ChecksumMismatchError is returned when the trailing CRC32 does not match
// the snapshot contents.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("persistence: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// SectionID identifies one section of a snapshot.
type SectionID uint8

const (
	SectionGraph SectionID = iota + 1
	SectionVectors
	SectionIDMap
	SectionMetadata
	SectionQuantizer
	SectionCodes
)

// Snapshot is the decoded form of one snapshot file.
type Snapshot struct {
	Dimension  int
	Metric     distance.Metric
	Generation uint64
	Sections   map[SectionID][]byte
}

// NewSnapshot returns an empty snapshot for the given index shape.
func NewSnapshot(dimension int, metric distance.Metric, generation uint64) *Snapshot {
	return &Snapshot{
		Dimension:  dimension,
		Metric:     metric,
		Generation: generation,
		Sections:   make(map[SectionID][]byte),
	}
}

// Encode serializes the snapshot, compressing each section with the given
// codec. The codec is recorded in the header.
func (s *Snapshot) Encode(codec Codec) ([]byte, error) {
	if !codec.Valid() {
		return nil, fmt.Errorf("persistence: unknown codec %d", codec)
	}

	// Sections are written in id order so identical snapshots produce
	// identical bytes.
	ids := make([]SectionID, 0, len(s.Sections))
	for id := range s.Sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 0, headerSize)
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = append(buf, Version, byte(codec))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Dimension))
	buf = append(buf, byte(s.Metric))
	buf = binary.LittleEndian.AppendUint64(buf, s.Generation)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ids)))

	for _, id := range ids {
		payload, err := compress(s.Sections[id], codec)
		if err != nil {
			return nil, err
		}
		buf = append(buf, byte(id))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
		buf = append(buf, payload...)
	}

	return appendChecksum(buf), nil
}

func appendChecksum(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// Decode parses and verifies a snapshot produced by Encode.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < headerSize+4 {
		return nil, ErrTruncated
	}

	body, tail := data[:len(data)-4], data[len(data)-4:]
	expected := binary.LittleEndian.Uint32(tail)
	if actual := crc32.ChecksumIEEE(body); actual != expected {
		return nil, &ChecksumMismatchError{Expected: expected, Actual: actual}
	}

	if binary.LittleEndian.Uint32(body[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if body[4] != Version {
		return nil, ErrInvalidVersion
	}
	codec := Codec(body[5])
	if !codec.Valid() {
		return nil, fmt.Errorf("persistence: unknown codec %d", codec)
	}

	snap := &Snapshot{
		Dimension:  int(binary.LittleEndian.Uint32(body[6:10])),
		Metric:     distance.Metric(body[10]),
		Generation: binary.LittleEndian.Uint64(body[11:19]),
		Sections:   make(map[SectionID][]byte),
	}
	if !snap.Metric.Valid() {
		return nil, fmt.Errorf("persistence: unknown metric %d", snap.Metric)
	}

	count := binary.LittleEndian.Uint32(body[19:23])
	off := headerSize
	for i := uint32(0); i < count; i++ {
		if off+5 > len(body) {
			return nil, ErrTruncated
		}
		id := SectionID(body[off])
		size := int(binary.LittleEndian.Uint32(body[off+1 : off+5]))
		off += 5
		if off+size > len(body) {
			return nil, ErrTruncated
		}
		payload, err := decompress(body[off:off+size], codec)
		if err != nil {
			return nil, err
		}
		snap.Sections[id] = payload
		off += size
	}
	if off != len(body) {
		return nil, ErrTruncated
	}

	return snap, nil
}
