package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/proxima/blobstore"
	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/model"
	"github.com/hupe1980/proxima/vectorstore"
)

func sampleSnapshot() *Snapshot {
	snap := NewSnapshot(8, distance.MetricCosine, 3)
	snap.Sections[SectionGraph] = []byte("graph-bytes")
	snap.Sections[SectionVectors] = make([]byte, 4096) // zeros compress well
	snap.Sections[SectionIDMap] = []byte{1, 2, 3, 4}
	return snap
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			snap := sampleSnapshot()

			data, err := snap.Encode(codec)
			require.NoError(t, err)

			restored, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, snap.Dimension, restored.Dimension)
			assert.Equal(t, snap.Metric, restored.Metric)
			assert.Equal(t, snap.Generation, restored.Generation)
			assert.Equal(t, snap.Sections, restored.Sections)
		})
	}
}

func TestSnapshot_CompressionShrinksZeros(t *testing.T) {
	snap := sampleSnapshot()

	plain, err := snap.Encode(CodecNone)
	require.NoError(t, err)
	compressed, err := snap.Encode(CodecZstd)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(plain))
}

func TestSnapshot_DeterministicEncoding(t *testing.T) {
	a, err := sampleSnapshot().Encode(CodecZstd)
	require.NoError(t, err)
	b, err := sampleSnapshot().Encode(CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_RejectsCorruption(t *testing.T) {
	snap := sampleSnapshot()
	data, err := snap.Encode(CodecNone)
	require.NoError(t, err)

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[headerSize+3] ^= 0xff

		_, err := Decode(bad)
		var mismatch *ChecksumMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(data[:10])
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("wrong magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 'X'
		// Recompute the trailing checksum so only the magic is wrong.
		fixed, err := mustReencode(bad)
		require.NoError(t, err)
		_, err = Decode(fixed)
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})
}

func TestSaveLoad_BlobStore(t *testing.T) {
	bs := blobstore.NewMemoryStore()
	snap := sampleSnapshot()

	require.NoError(t, Save(context.Background(), bs, "snapshots/1.pxs", snap, CodecLZ4))

	restored, err := Load(context.Background(), bs, "snapshots/1.pxs")
	require.NoError(t, err)
	assert.Equal(t, snap.Sections, restored.Sections)

	_, err = Load(context.Background(), bs, "snapshots/missing.pxs")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestEncodeDecodeVectors(t *testing.T) {
	store, err := vectorstore.New(3)
	require.NoError(t, err)
	vectors := [][]float32{{1, 2, 3}, {-4, 5.5, 6}, {0, 0, 0.25}}
	for _, v := range vectors {
		_, err := store.Add(v)
		require.NoError(t, err)
	}

	restored, err := DecodeVectors(EncodeVectors(store))
	require.NoError(t, err)
	require.Equal(t, store.Count(), restored.Count())
	require.Equal(t, store.Dimension(), restored.Dimension())

	for i, want := range vectors {
		got, ok := restored.Get(model.RowID(i))
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestEncodeDecodeIDMap(t *testing.T) {
	ids := map[model.VectorID]model.RowID{
		1:      0,
		42:     7,
		999999: 3,
	}

	restored, err := DecodeIDMap(EncodeIDMap(ids))
	require.NoError(t, err)
	assert.Equal(t, ids, restored)

	_, err = DecodeIDMap([]byte{1, 2})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEncodeDecodeMetadata(t *testing.T) {
	ix := metadata.NewIndex()
	ix.Put(0, metadata.Metadata{"lang": "en", "tier": "hot"})
	ix.Put(5, metadata.Metadata{"lang": "de"})

	restored, err := DecodeMetadata(EncodeMetadata(ix))
	require.NoError(t, err)
	require.Equal(t, ix.Len(), restored.Len())

	md, ok := restored.Get(0)
	require.True(t, ok)
	assert.Equal(t, metadata.Metadata{"lang": "en", "tier": "hot"}, md)

	// Postings must be rebuilt, not just the rows.
	eligible := restored.Eligible(metadata.Eq("lang", "de"))
	require.NotNil(t, eligible)
	assert.Equal(t, uint64(1), eligible.GetCardinality())
	assert.True(t, eligible.Contains(5))
}

// mustReencode recomputes the trailing CRC32 of a raw snapshot image.
func mustReencode(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	body := data[:len(data)-4]
	out := append([]byte(nil), body...)
	return appendChecksum(out), nil
}
