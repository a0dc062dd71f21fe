package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/proxima/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 panics on any operation without an override.
type fakeS3 struct {
	Client
	getObject func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getObject(params)
}

func TestStoreGetNotFound(t *testing.T) {
	store := NewStore(&fakeS3{
		getObject: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchKey{}
		},
	}, "bucket", "idx")

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStoreGetPrefixesKey(t *testing.T) {
	var gotKey string

	store := NewStore(&fakeS3{
		getObject: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			gotKey = *in.Key
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("payload"))}, nil
		},
	}, "bucket", "idx")

	data, err := store.Get(context.Background(), "snapshots/1.pxs")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "idx/snapshots/1.pxs", gotKey)
}
