package persistence

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/model"
	"github.com/hupe1980/proxima/vectorstore"
)

// EncodeVectors serializes the vector table as [count][dim][float bits].
func EncodeVectors(store *vectorstore.Store) []byte {
	count, dim := store.Count(), store.Dimension()

	buf := make([]byte, 0, 8+count*dim*4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dim))
	for _, vec := range store.All() {
		for _, f := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return buf
}

// DecodeVectors rebuilds a vector store from EncodeVectors output.
func DecodeVectors(data []byte) (*vectorstore.Store, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	dim := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data) != 8+count*dim*4 {
		return nil, ErrTruncated
	}

	store, err := vectorstore.New(dim)
	if err != nil {
		return nil, err
	}

	off := 8
	vec := make([]float32, dim)
	for i := 0; i < count; i++ {
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		if _, err := store.Add(vec); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// EncodeIDMap serializes the vector-id to row-id mapping, sorted by
// vector id for stable output.
func EncodeIDMap(ids map[model.VectorID]model.RowID) []byte {
	keys := make([]model.VectorID, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	buf := make([]byte, 0, 4+len(ids)*12)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range keys {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(ids[id]))
	}
	return buf
}

// DecodeIDMap rebuilds the id mapping from EncodeIDMap output.
func DecodeIDMap(data []byte) (map[model.VectorID]model.RowID, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) != 4+count*12 {
		return nil, ErrTruncated
	}

	out := make(map[model.VectorID]model.RowID, count)
	off := 4
	for i := 0; i < count; i++ {
		id := model.VectorID(binary.LittleEndian.Uint64(data[off:]))
		row := model.RowID(binary.LittleEndian.Uint32(data[off+8:]))
		out[id] = row
		off += 12
	}
	return out, nil
}

// EncodeMetadata serializes the attribute rows of ix. Postings are not
// stored; they are rebuilt on decode.
func EncodeMetadata(ix *metadata.Index) []byte {
	type entry struct {
		row model.RowID
		md  metadata.Metadata
	}
	entries := make([]entry, 0, ix.Len())
	for row, md := range ix.All() {
		entries = append(entries, entry{row: row, md: md})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].row < entries[j].row })

	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.row))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.md)))

		keys := make([]string, 0, len(e.md))
		for k := range e.md {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendString(buf, e.md[k])
		}
	}
	return buf
}

// DecodeMetadata rebuilds a metadata index from EncodeMetadata output.
func DecodeMetadata(data []byte) (*metadata.Index, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4

	ix := metadata.NewIndex()
	for i := 0; i < count; i++ {
		if off+6 > len(data) {
			return nil, ErrTruncated
		}
		row := model.RowID(binary.LittleEndian.Uint32(data[off:]))
		pairs := int(binary.LittleEndian.Uint16(data[off+4:]))
		off += 6

		md := make(metadata.Metadata, pairs)
		for j := 0; j < pairs; j++ {
			var k, v string
			var err error
			if k, off, err = readString(data, off); err != nil {
				return nil, err
			}
			if v, off, err = readString(data, off); err != nil {
				return nil, err
			}
			md[k] = v
		}
		ix.Put(row, md)
	}
	return ix, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, ErrTruncated
	}
	n := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+n > len(data) {
		return "", 0, ErrTruncated
	}
	return string(data[off : off+n]), off + n, nil
}
