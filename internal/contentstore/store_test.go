package contentstore_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact-sync/internal/contentstore"
)

// fakeBlobStore records operations in memory.
type fakeBlobStore struct {
	objects     map[string][]byte
	metadata    map[string]map[string]string
	uploads     int
	metadataErr error
	existsErr   error
	uploadErr   error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) Metadata(_ context.Context, key string) (map[string]string, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.metadata[key], nil
}

func (f *fakeBlobStore) Upload(_ context.Context, key string, data []byte, _ string, metadata map[string]string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads++
	f.objects[key] = data
	f.metadata[key] = metadata
	return nil
}

func (f *fakeBlobStore) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func TestEnsureStoredIsIdempotent(t *testing.T) {
	blobs := newFakeBlobStore()
	store := contentstore.New(blobs, nil)
	ctx := context.Background()
	photo := []byte("same bytes every pass")

	stored, err := store.EnsureStored(ctx, "contacts/c1/u1/photo-0", photo, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = store.EnsureStored(ctx, "contacts/c1/u1/photo-0", photo, "image/jpeg")
	require.NoError(t, err)
	assert.False(t, stored, "identical bytes must short-circuit")
	assert.Equal(t, 1, blobs.uploads)
}

func TestEnsureStoredUploadsChangedBytes(t *testing.T) {
	blobs := newFakeBlobStore()
	store := contentstore.New(blobs, nil)
	ctx := context.Background()

	_, err := store.EnsureStored(ctx, "k", []byte("v1"), "image/jpeg")
	require.NoError(t, err)

	stored, err := store.EnsureStored(ctx, "k", []byte("v2"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, 2, blobs.uploads)
	assert.Equal(t, contentstore.Digest([]byte("v2")), blobs.metadata["k"][contentstore.HashMetadataKey])
}

func TestEnsureStoredFailsOpenOnMetadataError(t *testing.T) {
	blobs := newFakeBlobStore()
	store := contentstore.New(blobs, nil)
	ctx := context.Background()

	_, err := store.EnsureStored(ctx, "k", []byte("v"), "image/jpeg")
	require.NoError(t, err)

	blobs.metadataErr = errors.New("metadata unavailable")
	stored, err := store.EnsureStored(ctx, "k", []byte("v"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, stored, "metadata failure must re-upload, never drop")
	assert.Equal(t, 2, blobs.uploads)
}

func TestEnsureStoredFailsOpenOnExistsError(t *testing.T) {
	blobs := newFakeBlobStore()
	store := contentstore.New(blobs, nil)

	blobs.existsErr = errors.New("transient")
	stored, err := store.EnsureStored(context.Background(), "k", []byte("v"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestEnsureStoredSurfacesUploadFailure(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.uploadErr = errors.New("hard upload failure")
	store := contentstore.New(blobs, nil)

	_, err := store.EnsureStored(context.Background(), "k", []byte("v"), "image/jpeg")
	assert.Error(t, err)
}

func TestDigestIsStable(t *testing.T) {
	a := contentstore.Digest([]byte("payload"))
	b := contentstore.Digest([]byte("payload"))
	c := contentstore.Digest([]byte("other"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestThumbnail(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	require.NoError(t, png.Encode(&buf, img))

	placeholder := contentstore.Thumbnail(buf.Bytes())
	assert.True(t, strings.HasPrefix(placeholder, "data:image/jpeg;base64,"))

	assert.Empty(t, contentstore.Thumbnail([]byte("not an image")))
}
