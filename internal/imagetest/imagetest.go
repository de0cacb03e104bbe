// Package imagetest builds small in-memory images, with or without an EXIF
// orientation tag, for tests across the module.
package imagetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
)

// Corner colours painted by Quadrants.
var (
	TopLeft     = color.RGBA{R: 255, A: 255}
	TopRight    = color.RGBA{G: 255, A: 255}
	BottomLeft  = color.RGBA{B: 255, A: 255}
	BottomRight = color.RGBA{R: 255, G: 255, A: 255}
)

// Quadrants returns a w×h image split into four solid quadrants so that
// rotations and mirrors can be told apart by sampling corners.
func Quadrants(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.RGBA
			switch {
			case x < w/2 && y < h/2:
				c = TopLeft
			case y < h/2:
				c = TopRight
			case x < w/2:
				c = BottomLeft
			default:
				c = BottomRight
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Uniform returns a w×h image filled with c.
func Uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r, g, b, a := c.RGBA()
	fill := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}
	return img
}

// TIFF returns a little-endian TIFF block whose IFD0 holds a single SHORT
// orientation entry with value v.
func TIFF(v uint16) []byte {
	return tiffWithEntry(0x0112, v)
}

// TIFFWithoutOrientation returns a valid TIFF block whose IFD0 has only an
// ImageWidth entry.
func TIFFWithoutOrientation() []byte {
	return tiffWithEntry(0x0100, 64)
}

// TIFFBigEndian is TIFF in Motorola byte order.
func TIFFBigEndian(v uint16) []byte {
	return tiffBlock(binary.BigEndian, "MM\x00*", 0x0112, v)
}

func tiffWithEntry(tag, v uint16) []byte {
	return tiffBlock(binary.LittleEndian, "II*\x00", tag, v)
}

func tiffBlock(order binary.ByteOrder, header string, tag, v uint16) []byte {
	var b bytes.Buffer
	b.WriteString(header)
	_ = binary.Write(&b, order, uint32(8)) // IFD0 offset
	_ = binary.Write(&b, order, uint16(1)) // entry count
	_ = binary.Write(&b, order, tag)
	_ = binary.Write(&b, order, uint16(3)) // SHORT
	_ = binary.Write(&b, order, uint32(1))
	_ = binary.Write(&b, order, v)
	_ = binary.Write(&b, order, uint16(0))
	_ = binary.Write(&b, order, uint32(0)) // no IFD1
	return b.Bytes()
}

// XMP is a minimal XMP packet as carried in a JPEG APP1 segment.
var XMP = []byte("http://ns.adobe.com/xap/1.0/\x00<x:xmpmeta xmlns:x=\"adobe:ns:meta/\"></x:xmpmeta>")

// InsertSegment inserts a JPEG marker segment with the given payload right
// after SOI, ahead of any existing segments.
func InsertSegment(jpegData []byte, marker byte, payload []byte) []byte {
	seg := []byte{0xFF, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := make([]byte, 0, len(jpegData)+len(seg))
	out = append(out, jpegData[:2]...)
	out = append(out, seg...)
	return append(out, jpegData[2:]...)
}

// JPEG encodes img and, when tiff is non-nil, inserts it as an APP1 Exif
// segment directly after SOI.
func JPEG(tb testing.TB, img image.Image, tiff []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		tb.Fatalf("imagetest: jpeg encode: %v", err)
	}
	raw := buf.Bytes()
	if tiff == nil {
		return raw
	}

	return InsertSegment(raw, 0xE1, append([]byte("Exif\x00\x00"), tiff...))
}

// PNG encodes img and, when tiff is non-nil, inserts an eXIf chunk right
// after IHDR.
func PNG(tb testing.TB, img image.Image, tiff []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("imagetest: png encode: %v", err)
	}
	raw := buf.Bytes()
	if tiff == nil {
		return raw
	}
	const afterIHDR = 8 + 4 + 4 + 13 + 4
	out := make([]byte, 0, len(raw)+len(tiff)+12)
	out = append(out, raw[:afterIHDR]...)
	out = append(out, pngChunk("eXIf", tiff)...)
	return append(out, raw[afterIHDR:]...)
}

func pngChunk(typ string, data []byte) []byte {
	out := make([]byte, 8, 12+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], typ)
	out = append(out, data...)
	crc := crc32.NewIEEE()
	crc.Write(out[4:])
	return binary.BigEndian.AppendUint32(out, crc.Sum32())
}

// WebP encodes img losslessly and, when tiff is non-nil, rewrites the file
// into the extended layout (VP8X + image + EXIF).
func WebP(tb testing.TB, img image.Image, tiff []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		tb.Fatalf("imagetest: webp encode: %v", err)
	}
	raw := buf.Bytes()
	if tiff == nil {
		return raw
	}

	b := img.Bounds()
	vp8x := make([]byte, 10)
	vp8x[0] = 0x08 // EXIF present
	putUint24(vp8x[4:], uint32(b.Dx()-1))
	putUint24(vp8x[7:], uint32(b.Dy()-1))

	var body bytes.Buffer
	body.WriteString("WEBP")
	body.Write(riffChunk("VP8X", vp8x))
	body.Write(raw[12:]) // image chunk(s) of the simple file
	body.Write(riffChunk("EXIF", tiff))

	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(body.Len()))
	return append(out, body.Bytes()...)
}

func riffChunk(fourcc string, data []byte) []byte {
	out := []byte(fourcc)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	if len(data)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func putUint24(b []byte, v uint32) {
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
}

// Near reports whether two colours differ by at most tol per 8-bit channel.
func Near(a, b color.Color, tol int) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	d := func(x, y uint32) bool {
		v := int(x>>8) - int(y>>8)
		if v < 0 {
			v = -v
		}
		return v <= tol
	}
	return d(ar, br) && d(ag, bg) && d(ab, bb) && d(aa, ba)
}
