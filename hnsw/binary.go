package hnsw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/hupe1980/proxima/model"
)

const graphFormatVersion = 1

// MarshalBinary serializes the node table, entry point and tombstones.
// Vectors are not included; they belong to the vector store.
func (g *Graph) MarshalBinary() ([]byte, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	var buf bytes.Buffer
	buf.WriteByte(graphFormatVersion)

	count := g.store.Count()
	var u32 [4]byte
	var u16 [2]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(count))
	buf.Write(u32[:])

	if ep := g.entry.Load(); ep != nil {
		buf.WriteByte(1)
		binary.LittleEndian.PutUint32(u32[:], uint32(ep.row))
		buf.Write(u32[:])
		binary.LittleEndian.PutUint16(u16[:], uint16(ep.layer))
		buf.Write(u16[:])
	} else {
		buf.WriteByte(0)
		buf.Write(make([]byte, 6))
	}

	for row := 0; row < count; row++ {
		n := g.node(model.RowID(row))
		if n == nil {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		binary.LittleEndian.PutUint16(u16[:], uint16(n.layer))
		buf.Write(u16[:])

		for level := 0; level <= n.layer; level++ {
			nbs := n.neighbors(level)
			binary.LittleEndian.PutUint16(u16[:], uint16(len(nbs)))
			buf.Write(u16[:])
			for _, nb := range nbs {
				binary.LittleEndian.PutUint32(u32[:], uint32(nb))
				buf.Write(u32[:])
			}
		}
	}

	tombs, err := g.tombstones.MarshalBinary()
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(u32[:], uint32(len(tombs)))
	buf.Write(u32[:])
	buf.Write(tombs)

	return buf.Bytes(), nil
}

// UnmarshalBinary restores the node table into a fresh graph whose store
// already holds the matching vectors.
func (g *Graph) UnmarshalBinary(data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	r := &byteReader{data: data}

	version, err := r.u8()
	if err != nil {
		return err
	}
	if version != graphFormatVersion {
		return errors.New("hnsw: unsupported graph format version")
	}

	count, err := r.u32()
	if err != nil {
		return err
	}
	if int(count) != g.store.Count() {
		return errors.New("hnsw: node table does not match vector store")
	}

	epFlag, err := r.u8()
	if err != nil {
		return err
	}
	epRow, err := r.u32()
	if err != nil {
		return err
	}
	epLayer, err := r.u16()
	if err != nil {
		return err
	}

	g.tombstones.Grow(uint64(count))
	for row := uint32(0); row < count; row++ {
		present, err := r.u8()
		if err != nil {
			return err
		}
		if present == 0 {
			continue
		}

		layer, err := r.u16()
		if err != nil {
			return err
		}
		n := &node{layer: int(layer), links: make([]atomic.Pointer[[]model.RowID], int(layer)+1)}
		for level := 0; level <= int(layer); level++ {
			nn, err := r.u16()
			if err != nil {
				return err
			}
			if nn == 0 {
				continue
			}
			nbs := make([]model.RowID, nn)
			for i := range nbs {
				nb, err := r.u32()
				if err != nil {
					return err
				}
				if nb >= count {
					return errors.New("hnsw: neighbor reference out of range")
				}
				nbs[i] = model.RowID(nb)
			}
			n.setNeighbors(level, nbs)
		}
		g.publish(model.RowID(row), n)
	}

	tombLen, err := r.u32()
	if err != nil {
		return err
	}
	tombs, err := r.take(int(tombLen))
	if err != nil {
		return err
	}
	if err := g.tombstones.UnmarshalBinary(tombs); err != nil {
		return err
	}

	if epFlag == 1 {
		if epRow >= count || g.node(model.RowID(epRow)) == nil {
			return errors.New("hnsw: entry point out of range")
		}
		g.entry.Store(&entryPoint{row: model.RowID(epRow), layer: int(epLayer)})
	}
	return nil
}

type byteReader struct {
	data []byte
	off  int
}

var errTruncated = errors.New("hnsw: truncated graph data")

func (r *byteReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
