// Package contentstore deduplicates binary blobs (contact photos)
// against a remote blob store using content digests, so repeated sync
// passes over unchanged photos are idempotent and bandwidth-free.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"

	"contact-sync/internal/common/logging"
)

// HashMetadataKey is the object-metadata key the content digest is
// stored under.
const HashMetadataKey = "content-hash"

// BlobStore is the narrow I/O contract against the remote blob store.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Metadata returns the side-channel metadata of an object.
	Metadata(ctx context.Context, key string) (map[string]string, error)
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// Store wraps a BlobStore with digest-based deduplication.
type Store struct {
	blobs  BlobStore
	logger logging.Logger
}

// New creates a deduplicating store over blobs.
func New(blobs BlobStore, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Store{blobs: blobs, logger: logger}
}

// Digest computes the content digest of data: a base64-encoded SHA-256.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// EnsureStored uploads data under key unless an object with the same
// content digest already lives there. It returns true when an upload
// happened and false when the existing object was current.
//
// A failure to read existing metadata is treated as "not yet uploaded":
// the store fails open toward re-uploading, never toward silently
// dropping a photo. The existence-check-then-upload sequence is not
// atomic against concurrent writers; two syncs racing on identical
// bytes produce at worst one redundant upload.
func (s *Store) EnsureStored(ctx context.Context, key string, data []byte, contentType string) (bool, error) {
	digest := Digest(data)

	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		s.logger.Warn("blob existence check failed, re-uploading",
			logging.String("key", key), logging.Err(err))
		exists = false
	}
	if exists {
		metadata, err := s.blobs.Metadata(ctx, key)
		if err != nil {
			s.logger.Warn("blob metadata read failed, re-uploading",
				logging.String("key", key), logging.Err(err))
		} else if metadata[HashMetadataKey] == digest {
			s.logger.Debug("blob unchanged, skipping upload", logging.String("key", key))
			return false, nil
		}
	}

	err = s.blobs.Upload(ctx, key, data, contentType, map[string]string{HashMetadataKey: digest})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Download fetches an object's payload.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	return s.blobs.Download(ctx, key)
}
