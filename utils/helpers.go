package utils

import (
	"bytes"
	"math"
	"net/http"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return formatWebP
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/webp":
		return formatWebP
	}
	return formatUnknown
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		return roundAtLeastOne(float64(srcW) * float64(targetH) / float64(srcH)), targetH
	}
	if targetH == 0 {
		return targetW, roundAtLeastOne(float64(srcH) * float64(targetW) / float64(srcW))
	}
	return targetW, targetH
}

// MinEdgeDimensions scales (srcW, srcH) so that the shorter edge becomes
// exactly edge and the longer edge keeps the aspect ratio, rounded to the
// nearest pixel.  Smaller sources are enlarged.  Non-positive inputs are
// returned as (0, 0).
func MinEdgeDimensions(srcW, srcH, edge int) (int, int) {
	if srcW <= 0 || srcH <= 0 || edge <= 0 {
		return 0, 0
	}
	// The smaller of width/edge and height/edge is the divisor, so the
	// shorter side lands on edge without float drift.
	if srcW <= srcH {
		return edge, roundAtLeastOne(float64(srcH) * float64(edge) / float64(srcW))
	}
	return roundAtLeastOne(float64(srcW) * float64(edge) / float64(srcH)), edge
}

func roundAtLeastOne(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
