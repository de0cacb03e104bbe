// Package handler reacts to object-created notifications: it downloads the
// uploaded image, produces the upright original and the thumbnail, and
// stores both under the configured destination prefixes.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	imageprocessor "github.com/ReGLOSS/Trackery-ImageProcessor"
	"github.com/ReGLOSS/Trackery-ImageProcessor/adapters/storage"
	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/utils"
)

// Success is returned by HandleEvent when every record was handled.
const Success = "SUCCESS"

// supportedExtensions lists the upload extensions worth processing.
var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Processor produces both artifacts of one upload.
type Processor interface {
	ProcessAll(ctx context.Context, data []byte) (*imageprocessor.Outputs, error)
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l core.Logger) Option { return func(h *Handler) { h.logger = l } }

// WithFormat sets the format of the stored artifacts; it must match the
// processor's output format.
func WithFormat(f core.Format) Option { return func(h *Handler) { h.format = f } }

// WithChunkSize sets the read size used while downloading uploads.
func WithChunkSize(n int) Option { return func(h *Handler) { h.chunkSize = n } }

// Handler wires a Processor to object storage.
type Handler struct {
	proc      Processor
	store     core.StorageAdapter
	cfg       config.S3Config
	format    core.Format
	logger    core.Logger
	chunkSize int
}

// New returns a Handler reading uploads from and writing artifacts to store.
func New(proc Processor, store core.StorageAdapter, cfg config.S3Config, opts ...Option) *Handler {
	h := &Handler{
		proc:   proc,
		store:  store,
		cfg:    cfg,
		format: core.FormatWebP,
		logger: core.NopLogger(),
	}
	for _, fn := range opts {
		fn(h)
	}
	return h
}

// Stored describes where the artifacts of one upload were written.
type Stored struct {
	Original  core.StorageKey
	Thumbnail core.StorageKey
}

// HandleObject processes a single uploaded object.  Nothing is written
// unless both artifacts were produced.
func (h *Handler) HandleObject(ctx context.Context, bucket, key string) (*Stored, error) {
	src := core.StorageKey{Bucket: bucket, Path: key}

	rc, err := h.store.Get(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	buf, err := utils.DrainReader(ctx, rc, h.chunkSize)
	rc.Close()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "handler.fetch", err)
	}
	defer utils.ReleaseBuffer(buf)

	out, err := h.proc.ProcessAll(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", src, err)
	}

	dest := h.destinationBucket(bucket)
	stored := &Stored{
		Original:  core.StorageKey{Bucket: dest, Path: storage.DestinationKey(h.cfg.OriginalPrefix, key, h.cfg.SourcePrefix, h.format)},
		Thumbnail: core.StorageKey{Bucket: dest, Path: storage.DestinationKey(h.cfg.ThumbnailPrefix, key, h.cfg.SourcePrefix, h.format)},
	}
	meta := map[string]string{storage.MetaContentType: h.format.ContentType()}

	if err := h.store.Put(ctx, stored.Original, bytes.NewReader(out.Original), meta); err != nil {
		return nil, fmt.Errorf("store original %s: %w", stored.Original, err)
	}
	if err := h.store.Put(ctx, stored.Thumbnail, bytes.NewReader(out.Thumbnail), meta); err != nil {
		return nil, fmt.Errorf("store thumbnail %s: %w", stored.Thumbnail, err)
	}

	h.logger.Info("object processed",
		"source", src.String(),
		"original", stored.Original.String(),
		"thumbnail", stored.Thumbnail.String(),
		"width", out.Width, "height", out.Height,
		"original_bytes", len(out.Original), "thumbnail_bytes", len(out.Thumbnail),
	)
	return stored, nil
}

// HandleEvent processes every record of an S3 notification.  Records that
// are not uploads of interest are skipped; failures are joined so that one
// bad object does not hide the others.
func (h *Handler) HandleEvent(ctx context.Context, ev events.S3Event) (string, error) {
	var errs []error
	for _, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			errs = append(errs, apperrors.New(apperrors.CategoryInput, "handler.key",
				fmt.Errorf("%q: %w", rec.S3.Object.Key, err)))
			continue
		}

		if reason := h.skipReason(bucket, key); reason != "" {
			h.logger.Debug("record skipped", "bucket", bucket, "key", key, "reason", reason)
			continue
		}

		if _, err := h.HandleObject(ctx, bucket, key); err != nil {
			h.logger.Error("record failed", "bucket", bucket, "key", key,
				"category", string(apperrors.CategoryOf(err)), "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return Success, nil
}

// skipReason returns why a record is ignored, or "" when it should be
// processed.
func (h *Handler) skipReason(bucket, key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return "not an object"
	}
	if !supportedExtensions[strings.ToLower(path.Ext(key))] {
		return "unsupported extension"
	}
	if h.cfg.SourceBucket != "" && bucket != h.cfg.SourceBucket {
		return "foreign bucket"
	}
	if !storage.HasPrefixDir(key, h.cfg.SourcePrefix) {
		return "outside source prefix"
	}
	if bucket == h.destinationBucket(bucket) && (h.isOutput(key, h.cfg.OriginalPrefix) || h.isOutput(key, h.cfg.ThumbnailPrefix)) {
		return "already processed"
	}
	return ""
}

func (h *Handler) isOutput(key, prefix string) bool {
	return strings.Trim(prefix, "/") != "" && storage.HasPrefixDir(key, prefix)
}

func (h *Handler) destinationBucket(source string) string {
	if h.cfg.DestinationBucket != "" {
		return h.cfg.DestinationBucket
	}
	return source
}
