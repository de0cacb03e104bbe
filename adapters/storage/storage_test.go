package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReGLOSS/Trackery-ImageProcessor/adapters/storage"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// memS3 is an in-memory S3Client.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	failPut error
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memS3) PutObject(_ context.Context, bucket, key string, body io.Reader, meta map[string]string) error {
	if m.failPut != nil {
		return m.failPut
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = b
	m.meta[bucket+"/"+key] = meta
	return nil
}

func (m *memS3) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memS3) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memS3) HeadObject(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok, nil
}

func TestS3_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newMemS3()
	s, err := storage.NewS3(client, "dest")
	require.NoError(t, err)

	key := core.StorageKey{Path: "original/a.webp"}
	meta := map[string]string{storage.MetaContentType: "image/webp"}
	require.NoError(t, s.Put(ctx, key, bytes.NewReader([]byte("payload")), meta))
	assert.Equal(t, "image/webp", client.meta["dest/original/a.webp"][storage.MetaContentType])

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "payload", string(got))

	// Explicit bucket wins over the default.
	require.NoError(t, s.Put(ctx, core.StorageKey{Bucket: "other", Path: "x"}, bytes.NewReader(nil), nil))
	assert.Contains(t, client.objects, "other/x")

	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3_ErrorClassification(t *testing.T) {
	ctx := context.Background()
	client := newMemS3()
	s, _ := storage.NewS3(client, "dest")

	_, err := s.Get(ctx, core.StorageKey{Path: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, apperrors.IsRetryable(err))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))

	client.failPut = errors.New("connection reset")
	err = s.Put(ctx, core.StorageKey{Path: "k"}, bytes.NewReader(nil), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestS3_NoBucket(t *testing.T) {
	s, _ := storage.NewS3(newMemS3(), "")
	err := s.Put(context.Background(), core.StorageKey{Path: "k"}, bytes.NewReader(nil), nil)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))

	_, err = storage.NewS3(nil, "b")
	assert.Error(t, err)
}

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)

	key := core.StorageKey{Bucket: "out", Path: "thumbnail/a/b.webp"}
	require.NoError(t, l.Put(ctx, key, bytes.NewReader([]byte("data")), map[string]string{"Content-Type": "image/webp"}))

	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := l.Meta(key)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", meta["Content-Type"])

	rc, err := l.Get(ctx, key)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "data", string(got))

	require.NoError(t, l.Delete(ctx, key))
	_, err = l.Get(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLocal_RejectsEscape(t *testing.T) {
	l, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	err = l.Put(context.Background(), core.StorageKey{Path: "../../etc/passwd"}, bytes.NewReader(nil), nil)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))
}

func TestDestinationKey(t *testing.T) {
	tests := []struct {
		prefix, key, sourcePrefix string
		want                      string
	}{
		{"original", "photo.jpg", "", "original/photo.webp"},
		{"thumbnail", "uploads/a/b.JPEG", "uploads/", "thumbnail/a/b.webp"},
		{"thumbnail/", "/x.png", "", "thumbnail/x.webp"},
		{"original", "noext", "", "original/noext.webp"},
		{"original", "dir.v2/file", "", "original/dir.v2/file.webp"},
		{"", "a/b.webp", "", "a/b.webp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, storage.DestinationKey(tt.prefix, tt.key, tt.sourcePrefix, core.FormatWebP), tt.key)
	}
}

func TestHasPrefixDir(t *testing.T) {
	assert.True(t, storage.HasPrefixDir("original/a.webp", "original"))
	assert.True(t, storage.HasPrefixDir("original/a.webp", "original/"))
	assert.False(t, storage.HasPrefixDir("originals/a.webp", "original"))
	assert.True(t, storage.HasPrefixDir("anything", ""))
}
