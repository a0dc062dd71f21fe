package proxima

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/hnsw"
	"github.com/hupe1980/proxima/metadata"
	"github.com/hupe1980/proxima/model"
	"github.com/hupe1980/proxima/persistence"
	"github.com/hupe1980/proxima/quantization"
)

// SaveSnapshot writes the full index state to the configured blob store
// under name. Writers are blocked for the duration; searches keep
// running.
func (ix *Index) SaveSnapshot(ctx context.Context, name string) error {
	err := ix.saveSnapshot(ctx, name)
	ix.opts.logger.LogSnapshot(ctx, "save", name, err)
	return err
}

func (ix *Index) saveSnapshot(ctx context.Context, name string) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if ix.opts.blobStore == nil {
		return ErrNoBlobStore
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	snap := persistence.NewSnapshot(ix.dim, ix.opts.metric, ix.generation.Load())

	graphData, err := ix.graph.MarshalBinary()
	if err != nil {
		return err
	}
	snap.Sections[persistence.SectionGraph] = graphData
	snap.Sections[persistence.SectionVectors] = persistence.EncodeVectors(ix.store)
	snap.Sections[persistence.SectionIDMap] = persistence.EncodeIDMap(ix.ids)
	snap.Sections[persistence.SectionMetadata] = persistence.EncodeMetadata(ix.meta)

	if ct := ix.codes.Load(); ct != nil {
		q := ct.Quantizer()
		qData, err := q.MarshalBinary()
		if err != nil {
			return err
		}
		// Codes are not stored; they are re-encoded from the vectors on
		// load using this codebook.
		snap.Sections[persistence.SectionQuantizer] = append([]byte{byte(q.Kind())}, qData...)
	}

	return persistence.Save(ctx, ix.opts.blobStore, name, snap, ix.opts.snapshotCodec)
}

// PublishSnapshot saves a snapshot under a generation-derived key and
// commits it to the configured commit log, returning the key. A
// concurrent publisher of the same generation surfaces as
// s3.ErrConcurrentCommit.
func (ix *Index) PublishSnapshot(ctx context.Context) (string, error) {
	if ix.opts.commitLog == nil {
		return "", errors.New("no commit log configured")
	}

	generation, _, err := ix.opts.commitLog.Latest(ctx)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("snapshots/%d.pxs", generation+1)
	if err := ix.SaveSnapshot(ctx, key); err != nil {
		return "", err
	}
	if _, err := ix.opts.commitLog.Commit(ctx, key); err != nil {
		return "", err
	}
	return key, nil
}

// LoadSnapshot opens an index from a snapshot in the blob store
// configured via the options. The snapshot's dimension and metric are
// authoritative; configured graph and quantization options must match
// the ones the snapshot was built with.
func LoadSnapshot(ctx context.Context, name string, optFns ...Option) (*Index, error) {
	opts := applyOptions(optFns)
	if opts.blobStore == nil {
		return nil, ErrNoBlobStore
	}

	snap, err := persistence.Load(ctx, opts.blobStore, name)
	if err != nil {
		opts.logger.LogSnapshot(ctx, "load", name, err)
		return nil, err
	}

	ix, err := fromSnapshot(ctx, snap, opts)
	opts.logger.LogSnapshot(ctx, "load", name, err)
	return ix, err
}

// LoadLatestSnapshot opens the index the commit log points at.
func LoadLatestSnapshot(ctx context.Context, optFns ...Option) (*Index, error) {
	opts := applyOptions(optFns)
	if opts.commitLog == nil {
		return nil, errors.New("no commit log configured")
	}

	generation, key, err := opts.commitLog.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if generation == 0 {
		return nil, fmt.Errorf("%w: no committed snapshot", ErrNotFound)
	}
	return LoadSnapshot(ctx, key, optFns...)
}

func fromSnapshot(ctx context.Context, snap *persistence.Snapshot, opts options) (*Index, error) {
	vectorData, ok := snap.Sections[persistence.SectionVectors]
	if !ok {
		return nil, errors.New("snapshot has no vector section")
	}
	store, err := persistence.DecodeVectors(vectorData)
	if err != nil {
		return nil, err
	}
	if store.Dimension() != snap.Dimension {
		return nil, &ErrDimensionMismatch{Expected: snap.Dimension, Actual: store.Dimension()}
	}

	graph, err := hnsw.New(store, snap.Metric, opts.graphOptions...)
	if err != nil {
		return nil, translateError(err)
	}
	if graphData, ok := snap.Sections[persistence.SectionGraph]; ok {
		if err := graph.UnmarshalBinary(graphData); err != nil {
			return nil, err
		}
	}

	ids := make(map[VectorID]model.RowID)
	if idData, ok := snap.Sections[persistence.SectionIDMap]; ok {
		ids, err = persistence.DecodeIDMap(idData)
		if err != nil {
			return nil, err
		}
	}

	opts.metric = snap.Metric
	dist, err := distance.Provider(opts.metric)
	if err != nil {
		return nil, translateError(err)
	}

	ix := &Index{
		dim:   snap.Dimension,
		opts:  opts,
		dist:  dist,
		store: store,
		graph: graph,
		meta:  metadata.NewIndex(),
		ids:   ids,
		rows:  make(map[model.RowID]VectorID, len(ids)),
	}
	for id, row := range ids {
		ix.rows[row] = id
	}

	if metaData, ok := snap.Sections[persistence.SectionMetadata]; ok {
		meta, err := persistence.DecodeMetadata(metaData)
		if err != nil {
			return nil, err
		}
		ix.meta = meta
	}

	if qData, ok := snap.Sections[persistence.SectionQuantizer]; ok {
		if err := ix.restoreQuantizer(ctx, snap, qData); err != nil {
			return nil, err
		}
	}

	return ix, nil
}

// restoreQuantizer rebuilds the quantizer from its snapshot section and
// re-encodes all vectors into a code table at the snapshot generation.
func (ix *Index) restoreQuantizer(ctx context.Context, snap *persistence.Snapshot, data []byte) error {
	if len(data) < 1 {
		return persistence.ErrTruncated
	}

	var q quantization.Quantizer
	switch quantization.Kind(data[0]) {
	case quantization.KindScalar:
		q = quantization.NewScalarQuantizer(ix.dim)
	case quantization.KindProduct:
		q = &quantization.ProductQuantizer{}
	default:
		return fmt.Errorf("snapshot has unknown quantizer kind %d", data[0])
	}
	if err := q.UnmarshalBinary(data[1:]); err != nil {
		return err
	}

	if snap.Generation > 0 {
		ix.generation.Store(snap.Generation - 1) // swapCodeTable bumps by one
	}
	return ix.swapCodeTable(ctx, q)
}
