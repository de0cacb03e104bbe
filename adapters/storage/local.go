// Package storage provides StorageAdapter implementations and the key layout
// for processed outputs.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// Local stores images on the local filesystem.  The key's bucket maps to a
// subdirectory of the root.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: mkdir %s: %w", dir, err)
	}
	return &Local{rootDir: dir, permissions: perm}, nil
}

// absPath resolves key below the root.  Keys that would escape it are
// rejected.
func (l *Local) absPath(key core.StorageKey) (string, error) {
	rel := filepath.Join(filepath.FromSlash(key.Bucket), filepath.FromSlash(key.Path))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid key %q", key.String())
	}
	return filepath.Join(l.rootDir, rel), nil
}

func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}

	path, err := l.absPath(key)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "local.put", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.open", err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.copy", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.close", err)
	}

	// Persist metadata as a side-car JSON file.
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
		}
		if err := os.WriteFile(path+".meta.json", b, l.permissions); err != nil {
			return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
		}
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	path, err := l.absPath(key)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "local.get", err)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get", fmt.Errorf("%w: %s", apperrors.ErrNotFound, key))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	return f, nil
}

// Meta returns the side-car metadata written by Put, or nil.
func (l *Local) Meta(key core.StorageKey) (map[string]string, error) {
	path, err := l.absPath(key)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "local.meta", err)
	}
	b, err := os.ReadFile(path + ".meta.json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	return meta, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	path, err := l.absPath(key)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "local.delete", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	_ = os.Remove(path + ".meta.json")
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	path, err := l.absPath(key)
	if err != nil {
		return false, apperrors.New(apperrors.CategoryStorage, "local.exists", err)
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}
