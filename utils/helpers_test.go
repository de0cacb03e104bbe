package utils

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMinEdgeDimensions(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		edge         int
		wantW, wantH int
	}{
		{"portrait after rotation", 3000, 4000, 300, 300, 400},
		{"landscape", 4000, 3000, 300, 400, 300},
		{"square", 1000, 1000, 300, 300, 300},
		{"upscale narrow", 200, 600, 300, 300, 900},
		{"upscale tiny", 10, 20, 300, 300, 600},
		{"rounding", 1001, 3000, 300, 300, 899},
		{"extreme ratio keeps one pixel", 10000, 1, 1, 10000, 1},
		{"zero width", 0, 100, 300, 0, 0},
		{"zero edge", 100, 100, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := MinEdgeDimensions(tt.srcW, tt.srcH, tt.edge)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("MinEdgeDimensions(%d,%d,%d) = %d,%d; want %d,%d",
					tt.srcW, tt.srcH, tt.edge, gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestMinEdgeDimensions_ShortEdgeExact(t *testing.T) {
	for w := 1; w <= 64; w++ {
		for h := 1; h <= 64; h++ {
			gotW, gotH := MinEdgeDimensions(w, h, 37)
			short := gotW
			if gotH < short {
				short = gotH
			}
			if short != 37 {
				t.Fatalf("MinEdgeDimensions(%d,%d,37) = %dx%d; short edge %d", w, h, gotW, gotH, short)
			}
		}
	}
}

func TestScaleDimensions(t *testing.T) {
	tests := []struct {
		srcW, srcH, targetW, targetH int
		wantW, wantH                 int
	}{
		{800, 600, 400, 0, 400, 300},
		{800, 600, 0, 300, 400, 300},
		{800, 600, 200, 200, 200, 200},
		{800, 600, 0, 0, 800, 600},
		{3, 1000, 0, 1, 1, 1},
	}
	for _, tc := range tests {
		gotW, gotH := ScaleDimensions(tc.srcW, tc.srcH, tc.targetW, tc.targetH)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Errorf("ScaleDimensions(%d,%d,%d,%d) = %d,%d; want %d,%d",
				tc.srcW, tc.srcH, tc.targetW, tc.targetH, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, formatJPEG},
		{"png", []byte("\x89PNG\r\n\x1a\n"), formatPNG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), formatWebP},
		{"riff but not webp", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), formatUnknown},
		{"text", []byte("hello, world"), formatUnknown},
		{"short", []byte{0xFF}, formatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data); got != tt.want {
				t.Errorf("DetectFormat = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDrainReader_Limit(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 100)

	buf, err := DrainReader(context.Background(), &LimitedReader{R: bytes.NewReader(data), Max: 100}, 7)
	if err != nil {
		t.Fatalf("exact limit: %v", err)
	}
	if buf.Len() != 100 {
		t.Errorf("drained %d bytes, want 100", buf.Len())
	}
	ReleaseBuffer(buf)

	_, err = DrainReader(context.Background(), &LimitedReader{R: bytes.NewReader(data), Max: 99}, 7)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("over limit: got %v, want ErrTooLarge", err)
	}
}

func TestDrainReader_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := DrainReader(ctx, bytes.NewReader([]byte("abc")), 0); err == nil {
		t.Error("expected cancellation error")
	}
}
