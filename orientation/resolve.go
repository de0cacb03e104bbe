package orientation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rwcarlsen/goexif/exif"

	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

var (
	// ErrNoMetadata means the container carries no EXIF block at all.
	ErrNoMetadata = errors.New("no exif metadata")
	// ErrNoOrientation means EXIF is present but has no orientation tag.
	ErrNoOrientation = errors.New("no orientation tag")
	// ErrUnknownOrientation means the tag holds a value outside 1-8.
	ErrUnknownOrientation = errors.New("unknown orientation value")
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	exifHeader   = []byte("Exif\x00\x00")
)

// Resolve reads the orientation tag from the first EXIF directory found in
// an encoded JPEG, PNG, WebP or TIFF image.
//
// The returned code is always valid: any failure yields Identity together
// with a metadata-category error describing why.  Callers treat the error as
// a warning.
func Resolve(data []byte) (Code, error) {
	code, err := resolve(data)
	if err != nil {
		return Identity, apperrors.New(apperrors.CategoryMetadata, "orientation.resolve", err)
	}
	return code, nil
}

func resolve(data []byte) (Code, error) {
	raw, err := exifPayload(data)
	if err != nil {
		return Identity, err
	}

	x, err := decodeExif(raw)
	if err != nil {
		return Identity, err
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return Identity, ErrNoOrientation
	}
	v, err := tag.Int(0)
	if err != nil {
		return Identity, fmt.Errorf("orientation tag: %w", err)
	}
	if c := Code(v); c.Valid() {
		return c, nil
	}
	return Identity, fmt.Errorf("%w: %d", ErrUnknownOrientation, v)
}

// decodeExif shields callers from panics inside the EXIF parser on hostile
// input.
func decodeExif(raw []byte) (x *exif.Exif, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("exif parser panic: %v", r)
		}
	}()
	x, err = exif.Decode(bytes.NewReader(raw))
	if err != nil {
		if exif.IsCriticalError(err) {
			return nil, fmt.Errorf("exif decode: %w", err)
		}
		// Non-critical errors still leave IFD0 usable.
		return x, nil
	}
	return x, nil
}

// exifPayload returns the bare TIFF block holding the EXIF directories.
func exifPayload(data []byte) ([]byte, error) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return jpegExif(data)
	case isTIFF(data):
		return data, nil
	case bytes.HasPrefix(data, pngSignature):
		return pngExif(data)
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return webpExif(data)
	}
	return nil, ErrNoMetadata
}

func isTIFF(b []byte) bool {
	return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
}

// jpegExif walks the JPEG segments before the scan data and returns the
// first APP1 carrying an Exif block.  Other APP1 payloads such as XMP are
// skipped.
func jpegExif(data []byte) ([]byte, error) {
	p := 2
	for p+4 <= len(data) {
		if data[p] != 0xFF {
			return nil, fmt.Errorf("jpeg: marker expected at offset %d", p)
		}
		marker := data[p+1]
		switch {
		case marker == 0xFF: // fill byte
			p++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7): // no length
			p += 2
			continue
		case marker == 0xDA || marker == 0xD9: // start of scan, end of image
			return nil, ErrNoMetadata
		}
		n := int(binary.BigEndian.Uint16(data[p+2:]))
		body := p + 4
		if n < 2 || p+2+n > len(data) {
			return nil, fmt.Errorf("jpeg: truncated segment 0x%02X", marker)
		}
		if marker == 0xE1 && bytes.HasPrefix(data[body:p+2+n], exifHeader) {
			return tiffBlock(data[body : p+2+n])
		}
		p += 2 + n
	}
	return nil, ErrNoMetadata
}

// pngExif walks PNG chunks up to the first IDAT looking for eXIf.
func pngExif(data []byte) ([]byte, error) {
	p := len(pngSignature)
	for p+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[p:]))
		typ := string(data[p+4 : p+8])
		body := p + 8
		if n < 0 || body+n > len(data) {
			return nil, fmt.Errorf("png: truncated %q chunk", typ)
		}
		switch typ {
		case "eXIf":
			return tiffBlock(data[body : body+n])
		case "IDAT", "IEND":
			return nil, ErrNoMetadata
		}
		p = body + n + 4 // skip CRC
	}
	return nil, ErrNoMetadata
}

// webpExif walks RIFF chunks looking for EXIF.
func webpExif(data []byte) ([]byte, error) {
	p := 12
	for p+8 <= len(data) {
		n := int(binary.LittleEndian.Uint32(data[p+4:]))
		typ := string(data[p : p+4])
		body := p + 8
		if n < 0 || body+n > len(data) {
			return nil, fmt.Errorf("webp: truncated %q chunk", typ)
		}
		if typ == "EXIF" {
			return tiffBlock(data[body : body+n])
		}
		p = body + n + n&1 // chunks are padded to even length
	}
	return nil, ErrNoMetadata
}

// tiffBlock strips the optional "Exif\0\0" marker some writers keep.
func tiffBlock(b []byte) ([]byte, error) {
	b = bytes.TrimPrefix(b, exifHeader)
	if !isTIFF(b) {
		return nil, errors.New("exif chunk is not a tiff block")
	}
	return b, nil
}
