package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// MetaContentType is the metadata key carried as the object Content-Type
// rather than as user metadata.
const MetaContentType = "Content-Type"

// S3Client defines the minimal object-store interface used by the adapter.
// Implementations report a missing object with an error wrapping
// apperrors.ErrNotFound.
type S3Client interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
}

// S3 is the StorageAdapter backed by AWS S3 (or S3-compatible stores).
// Keys without a bucket go to the default bucket.
type S3 struct {
	client S3Client
	bucket string
}

// NewS3 creates an S3 adapter.  client must not be nil.
func NewS3(client S3Client, defaultBucket string) (*S3, error) {
	if client == nil {
		return nil, errors.New("s3 storage: client must not be nil")
	}
	return &S3{client: client, bucket: defaultBucket}, nil
}

func (s *S3) bucketFor(key core.StorageKey) (string, error) {
	b := key.Bucket
	if b == "" {
		b = s.bucket
	}
	if b == "" {
		return "", fmt.Errorf("no bucket for key %q", key.Path)
	}
	return b, nil
}

func (s *S3) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	bucket, err := s.bucketFor(key)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "s3.put", err)
	}
	if err := s.client.PutObject(ctx, bucket, key.Path, r, meta); err != nil {
		return classify("s3.put", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	bucket, err := s.bucketFor(key)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "s3.get", err)
	}
	rc, err := s.client.GetObject(ctx, bucket, key.Path)
	if err != nil {
		return nil, classify("s3.get", err)
	}
	return rc, nil
}

func (s *S3) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	bucket, err := s.bucketFor(key)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "s3.delete", err)
	}
	if err := s.client.DeleteObject(ctx, bucket, key.Path); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return classify("s3.delete", err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	bucket, err := s.bucketFor(key)
	if err != nil {
		return false, apperrors.New(apperrors.CategoryStorage, "s3.exists", err)
	}
	ok, err := s.client.HeadObject(ctx, bucket, key.Path)
	if err != nil {
		return false, classify("s3.exists", err)
	}
	return ok, nil
}

// classify keeps missing objects permanent and treats everything else the
// store returns as retryable.
func classify(op string, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.New(apperrors.CategoryStorage, op, err)
	}
	return apperrors.Transient(op, err)
}
