package imageprocessor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/image/webp"

	imageprocessor "github.com/ReGLOSS/Trackery-ImageProcessor"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/hooks"
	"github.com/ReGLOSS/Trackery-ImageProcessor/internal/imagetest"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newProc(t *testing.T, opts ...imageprocessor.Option) *imageprocessor.Processor {
	t.Helper()
	cfg := imageprocessor.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	cfg.Lossless = true
	p := imageprocessor.New(cfg, opts...)
	p.Start()
	t.Cleanup(p.Close)
	return p
}

func decodeWebP(t *testing.T, b []byte) image.Image {
	t.Helper()
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WEBP" {
		t.Fatalf("output is not a WebP container")
	}
	img, err := webp.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode output webp: %v", err)
	}
	return img
}

func assertSize(t *testing.T, img image.Image, w, h int) {
	t.Helper()
	if got := img.Bounds().Size(); got.X != w || got.Y != h {
		t.Fatalf("dimensions: got %dx%d, want %dx%d", got.X, got.Y, w, h)
	}
}

// assertCorners samples a pixel inside each quadrant, clockwise from the
// top-left corner.
func assertCorners(t *testing.T, img image.Image, want [4]color.Color) {
	t.Helper()
	b := img.Bounds()
	const in = 4
	pts := [4]image.Point{
		{b.Min.X + in, b.Min.Y + in},
		{b.Max.X - 1 - in, b.Min.Y + in},
		{b.Max.X - 1 - in, b.Max.Y - 1 - in},
		{b.Min.X + in, b.Max.Y - 1 - in},
	}
	for i, p := range pts {
		if got := img.At(p.X, p.Y); !imagetest.Near(got, want[i], 40) {
			t.Errorf("corner %d at %v: got %v, want %v", i, p, got, want[i])
		}
	}
}

// ── Operations ────────────────────────────────────────────────────────────────

func TestProcessFull_RotatedUpload(t *testing.T) {
	proc := newProc(t)
	raw := imagetest.PNG(t, imagetest.Quadrants(400, 300), imagetest.TIFF(6))

	out, err := proc.ProcessFull(context.Background(), raw)
	if err != nil {
		t.Fatalf("ProcessFull: %v", err)
	}
	img := decodeWebP(t, out)
	assertSize(t, img, 300, 400)
	// Rotating 90° clockwise brings the stored bottom-left to the top-left.
	assertCorners(t, img, [4]color.Color{
		imagetest.BottomLeft, imagetest.TopLeft, imagetest.TopRight, imagetest.BottomRight,
	})
}

func TestProcessFull_EveryOrientation(t *testing.T) {
	proc := newProc(t)
	for code := uint16(1); code <= 8; code++ {
		t.Run(fmt.Sprintf("code=%d", code), func(t *testing.T) {
			raw := imagetest.JPEG(t, imagetest.Uniform(64, 48, color.Gray{Y: 128}), imagetest.TIFF(code))
			out, err := proc.ProcessFull(context.Background(), raw)
			if err != nil {
				t.Fatalf("ProcessFull: %v", err)
			}
			w, h := 64, 48
			if code >= 5 {
				w, h = h, w
			}
			assertSize(t, decodeWebP(t, out), w, h)
		})
	}
}

func TestProcessThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		raw          func(t *testing.T) []byte
		wantW, wantH int
	}{
		{
			name: "rotated landscape",
			raw: func(t *testing.T) []byte {
				return imagetest.JPEG(t, imagetest.Quadrants(800, 600), imagetest.TIFF(6))
			},
			wantW: 300, wantH: 400,
		},
		{
			name: "portrait is upscaled",
			raw: func(t *testing.T) []byte {
				return imagetest.PNG(t, imagetest.Quadrants(200, 600), nil)
			},
			wantW: 300, wantH: 900,
		},
		{
			name: "square",
			raw: func(t *testing.T) []byte {
				return imagetest.WebP(t, imagetest.Quadrants(600, 600), imagetest.TIFF(3))
			},
			wantW: 300, wantH: 300,
		},
	}

	proc := newProc(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := proc.ProcessThumbnail(context.Background(), tt.raw(t))
			if err != nil {
				t.Fatalf("ProcessThumbnail: %v", err)
			}
			assertSize(t, decodeWebP(t, out), tt.wantW, tt.wantH)
		})
	}
}

func TestProcessAll_CameraSizedUpload(t *testing.T) {
	if testing.Short() {
		t.Skip("full-resolution encode is slow")
	}
	cfg := imageprocessor.DefaultConfig()
	proc := imageprocessor.New(cfg)
	t.Cleanup(proc.Close)

	raw := imagetest.JPEG(t, imagetest.Quadrants(4000, 3000), imagetest.TIFF(6))
	out, err := proc.ProcessAll(context.Background(), raw)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if out.Width != 3000 || out.Height != 4000 {
		t.Errorf("upright size: got %dx%d, want 3000x4000", out.Width, out.Height)
	}
	assertSize(t, decodeWebP(t, out.Original), 3000, 4000)
	assertSize(t, decodeWebP(t, out.Thumbnail), 300, 400)
}

func TestProcessAll_MatchesSeparateCalls(t *testing.T) {
	proc := newProc(t)
	raw := imagetest.PNG(t, imagetest.Quadrants(120, 80), imagetest.TIFF(8))
	ctx := context.Background()

	all, err := proc.ProcessAll(ctx, raw)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	full, err := proc.ProcessFull(ctx, raw)
	if err != nil {
		t.Fatalf("ProcessFull: %v", err)
	}
	thumb, err := proc.ProcessThumbnail(ctx, raw)
	if err != nil {
		t.Fatalf("ProcessThumbnail: %v", err)
	}
	if !bytes.Equal(all.Original, full) {
		t.Error("ProcessAll original differs from ProcessFull")
	}
	if !bytes.Equal(all.Thumbnail, thumb) {
		t.Error("ProcessAll thumbnail differs from ProcessThumbnail")
	}
	assertSize(t, decodeWebP(t, all.Thumbnail), 300, 450)
}

// ── Failures ──────────────────────────────────────────────────────────────────

func TestProcess_DecodeFailure(t *testing.T) {
	proc := newProc(t)
	inputs := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": imagetest.JPEG(t, imagetest.Quadrants(64, 64), nil)[:200],
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := proc.ProcessFull(context.Background(), raw); !imageprocessor.IsDecodeFailure(err) {
				t.Errorf("ProcessFull: want decode failure, got %v", err)
			}
			if _, err := proc.ProcessThumbnail(context.Background(), raw); !imageprocessor.IsDecodeFailure(err) {
				t.Errorf("ProcessThumbnail: want decode failure, got %v", err)
			}
			out, err := proc.ProcessAll(context.Background(), raw)
			if !imageprocessor.IsDecodeFailure(err) || out != nil {
				t.Errorf("ProcessAll: want decode failure and no outputs, got %v", err)
			}
			if imageprocessor.IsEncodeFailure(err) {
				t.Error("decode failure reported as encode failure")
			}
		})
	}
}

type failingEncoder struct{}

func (failingEncoder) CanEncode(core.Format) bool { return true }
func (failingEncoder) Encode(context.Context, *core.ImageData, core.EncodeOptions) ([]byte, error) {
	return nil, fmt.Errorf("codec unavailable")
}

func TestProcess_EncodeFailure(t *testing.T) {
	proc := newProc(t)
	proc.RegisterEncoder(core.FormatWebP, failingEncoder{})

	raw := imagetest.PNG(t, imagetest.Quadrants(32, 32), nil)
	_, err := proc.ProcessFull(context.Background(), raw)
	if !imageprocessor.IsEncodeFailure(err) {
		t.Fatalf("want encode failure, got %v", err)
	}
	out, err := proc.ProcessAll(context.Background(), raw)
	if !imageprocessor.IsEncodeFailure(err) || out != nil {
		t.Fatalf("ProcessAll: want encode failure and no outputs, got %v", err)
	}
	if processed, failed := proc.Stats(); processed != 0 || failed != 2 {
		t.Errorf("stats: got processed=%d errors=%d, want 0 and 2", processed, failed)
	}
}

func TestProcess_OutputPixelCap(t *testing.T) {
	cfg := imageprocessor.DefaultConfig()
	cfg.MaxOutputPixels = 1_000_000
	proc := imageprocessor.New(cfg)
	t.Cleanup(proc.Close)

	// The thumbnail of a 1×20 strip would be 300×6000 pixels.
	raw := imagetest.PNG(t, imagetest.Quadrants(1, 20), nil)
	for name, run := range map[string]func() error{
		"ProcessThumbnail": func() error { _, err := proc.ProcessThumbnail(context.Background(), raw); return err },
		"ProcessAll":       func() error { _, err := proc.ProcessAll(context.Background(), raw); return err },
	} {
		err := run()
		if !apperrors.IsCategory(err, apperrors.CategoryPipeline) || !errors.Is(err, apperrors.ErrInvalidDimensions) {
			t.Errorf("%s: want pipeline dimension error, got %v", name, err)
		}
	}

	if _, err := proc.ProcessFull(context.Background(), raw); err != nil {
		t.Errorf("ProcessFull is not scaled and must succeed: %v", err)
	}
}

func TestProcess_MissingMetadataIsRecovered(t *testing.T) {
	obs, logs := observer.New(zapcore.WarnLevel)
	metrics := hooks.NewInMemoryMetrics()
	proc := newProc(t,
		imageprocessor.WithLogger(hooks.NewZapLogger(zap.New(obs))),
		imageprocessor.WithMetrics(metrics),
	)

	for _, raw := range [][]byte{
		imagetest.PNG(t, imagetest.Quadrants(400, 300), nil),
		imagetest.JPEG(t, imagetest.Quadrants(400, 300), imagetest.TIFFWithoutOrientation()),
	} {
		out, err := proc.ProcessFull(context.Background(), raw)
		if err != nil {
			t.Fatalf("ProcessFull: %v", err)
		}
		assertSize(t, decodeWebP(t, out), 400, 300)
	}

	if n := logs.FilterMessageSnippet("orientation metadata").Len(); n != 2 {
		t.Errorf("orientation warnings: got %d, want 2", n)
	}
	if n := metrics.Snapshot().StepErrors["orient/metadata"]; n != 2 {
		t.Errorf("metadata failures recorded: got %d, want 2", n)
	}
}

func TestProcess_Canceled(t *testing.T) {
	proc := newProc(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := proc.ProcessFull(ctx, imagetest.PNG(t, imagetest.Quadrants(32, 32), nil))
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestProcessAll_Concurrent(t *testing.T) {
	proc := newProc(t)
	raw := imagetest.JPEG(t, imagetest.Quadrants(320, 240), imagetest.TIFF(6))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := proc.ProcessAll(context.Background(), raw)
			if err != nil {
				errs <- err
				return
			}
			if out.Width != 240 || out.Height != 320 {
				errs <- fmt.Errorf("upright size %dx%d", out.Width, out.Height)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if processed, _ := proc.Stats(); processed < n {
		t.Errorf("processed: got %d, want at least %d", processed, n)
	}
}

func TestSubmitAll_WorkerPool(t *testing.T) {
	proc := newProc(t)
	raw := imagetest.PNG(t, imagetest.Quadrants(60, 40), imagetest.TIFF(6))

	const jobs = 4
	ch := make(chan core.JobResult, jobs)
	for i := 0; i < jobs; i++ {
		if err := proc.SubmitAll(context.Background(), fmt.Sprintf("job-%d", i), raw, ch); err != nil {
			t.Fatalf("SubmitAll: %v", err)
		}
	}

	timeout := time.After(10 * time.Second)
	for i := 0; i < jobs; i++ {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Fatalf("job %s: %v", res.JobID, res.Err)
			}
			thumb := res.Result.Variants[imageprocessor.VariantThumbnail]
			if thumb == nil || thumb.Meta.Width != 300 || thumb.Meta.Height != 450 {
				t.Errorf("job %s: unexpected thumbnail %+v", res.JobID, thumb)
			}
		case <-timeout:
			t.Fatal("timed out waiting for async jobs")
		}
	}
}

func TestBatch(t *testing.T) {
	proc := newProc(t)
	sources := []core.Source{
		imageprocessor.FromBytes(imagetest.PNG(t, imagetest.Quadrants(40, 30), imagetest.TIFF(6))),
		imageprocessor.FromReader(bytes.NewReader(imagetest.JPEG(t, imagetest.Quadrants(40, 30), nil))),
		imageprocessor.FromBytes([]byte("nope")),
	}

	results, errs := proc.Batch(context.Background(), sources, proc.FullSteps()...)
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("batch errors: %v, %v", errs[0], errs[1])
	}
	if got := results[0].Primary.Meta; got.Width != 30 || got.Height != 40 {
		t.Errorf("rotated source: got %dx%d", got.Width, got.Height)
	}
	if got := results[1].Primary.Meta; got.Width != 40 || got.Height != 30 {
		t.Errorf("plain source: got %dx%d", got.Width, got.Height)
	}
	if !imageprocessor.IsDecodeFailure(errs[2]) {
		t.Errorf("invalid source: want decode failure, got %v", errs[2])
	}
}

func TestStepLists(t *testing.T) {
	proc := newProc(t)
	names := func(steps []core.Step) []string {
		out := make([]string, len(steps))
		for i, s := range steps {
			out[i] = s.Name()
		}
		return out
	}
	if got := fmt.Sprint(names(proc.FullSteps())); got != "[decode orient format encode]" {
		t.Errorf("FullSteps: %s", got)
	}
	if got := fmt.Sprint(names(proc.ThumbnailSteps())); got != "[decode orient thumbnail format encode]" {
		t.Errorf("ThumbnailSteps: %s", got)
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkProcessAll(b *testing.B) {
	proc := imageprocessor.New(imageprocessor.DefaultConfig())
	defer proc.Close()
	raw := imagetest.JPEG(b, imagetest.Quadrants(1600, 1200), imagetest.TIFF(6))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.ProcessAll(context.Background(), raw); err != nil {
			b.Fatal(err)
		}
	}
}
