package persistence

import (
	"context"
	"fmt"

	"github.com/hupe1980/proxima/blobstore"
)

// Save encodes the snapshot and writes it to the blob store under name.
func Save(ctx context.Context, bs blobstore.BlobStore, name string, snap *Snapshot, codec Codec) error {
	data, err := snap.Encode(codec)
	if err != nil {
		return err
	}
	if err := bs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("write snapshot %q: %w", name, err)
	}
	return nil
}

// Load reads and decodes the snapshot stored under name.
func Load(ctx context.Context, bs blobstore.BlobStore, name string) (*Snapshot, error) {
	data, err := bs.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	return Decode(data)
}
