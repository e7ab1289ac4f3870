package storage

import (
	"context"
	"fmt"
	"io"
	"log"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver, used in tests
	_ "gocloud.dev/blob/s3blob"   // S3-compatible driver (AWS, MinIO, R2)

	"terra-imagery/internal/gibs"
)

// FrameStore persists fetched tile frames to a blob bucket. The bucket URL
// decides the backend: file:// for local disk, s3:// and gs:// for object
// storage, mem:// for tests.
type FrameStore struct {
	bucket    *blob.Bucket
	bucketURL string
	prefix    string
}

// NewFrameStore opens the bucket behind bucketURL. prefix is prepended to
// every key and may be empty.
func NewFrameStore(ctx context.Context, bucketURL, prefix string) (*FrameStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open frame bucket %s: %w", bucketURL, err)
	}

	log.Printf("[Storage] Frame store opened at %s", bucketURL)

	return &FrameStore{
		bucket:    bucket,
		bucketURL: bucketURL,
		prefix:    prefix,
	}, nil
}

// FrameKey builds the storage key for a dated tile:
// {prefix}frames/{layer}/{resolution}/{z}/{x}/{y}/{date}.{ext}
func (s *FrameStore) FrameKey(req gibs.TileRequest) string {
	ext := "jpg"
	if layer, err := gibs.LayerByID(req.Layer); err == nil {
		ext = layer.Format
	}
	return fmt.Sprintf("%sframes/%s/%s/%d/%d/%d/%s.%s",
		s.prefix, req.Layer, req.Resolution, req.Zoom, req.TileX, req.TileY, req.Date, ext)
}

// SaveFrame writes one frame and returns its key
func (s *FrameStore) SaveFrame(ctx context.Context, req gibs.TileRequest, data []byte) (string, error) {
	key := s.FrameKey(req)

	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write frame to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", key, err)
	}

	return key, nil
}

// ReadFrame loads a previously saved frame by key
func (s *FrameStore) ReadFrame(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", key, err)
	}
	return data, nil
}

// FrameExists checks whether a tile frame was already persisted
func (s *FrameStore) FrameExists(ctx context.Context, req gibs.TileRequest) (bool, error) {
	return s.bucket.Exists(ctx, s.FrameKey(req))
}

// ListFrames returns every stored key under the given prefix, which is
// appended after the store's own prefix
func (s *FrameStore) ListFrames(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.prefix + prefix,
	})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list frames %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// Delete removes a stored frame
func (s *FrameStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete frame %s: %w", key, err)
	}
	return nil
}

// URI returns the full bucket URI for a key
func (s *FrameStore) URI(key string) string {
	return fmt.Sprintf("%s/%s", s.bucketURL, key)
}

// Close releases the bucket connection
func (s *FrameStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
