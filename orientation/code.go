// Package orientation resolves EXIF orientation codes and turns decoded
// rasters upright.
package orientation

import "fmt"

// Code is an EXIF orientation value.  Only 1 through 8 are meaningful.
type Code int

const (
	Identity   Code = 1 // upright
	FlipH      Code = 2 // mirrored horizontally
	Rotate180  Code = 3
	FlipV      Code = 4 // mirrored vertically
	Transpose  Code = 5 // mirrored along the top-left/bottom-right diagonal
	Rotate90   Code = 6 // needs a 90° clockwise turn
	Transverse Code = 7 // mirrored along the top-right/bottom-left diagonal
	Rotate270  Code = 8 // needs a 90° counter-clockwise turn
)

// Valid reports whether c is one of the eight EXIF codes.
func (c Code) Valid() bool { return c >= Identity && c <= Rotate270 }

func (c Code) String() string {
	switch c {
	case Identity:
		return "identity"
	case FlipH:
		return "flip-horizontal"
	case Rotate180:
		return "rotate-180"
	case FlipV:
		return "flip-vertical"
	case Transpose:
		return "transpose"
	case Rotate90:
		return "rotate-90-cw"
	case Transverse:
		return "transverse"
	case Rotate270:
		return "rotate-90-ccw"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Transform describes how to turn an image upright: rotate clockwise by
// Rotation degrees, then mirror the rotated canvas horizontally if Mirror.
type Transform struct {
	Rotation int // 0, 90, 180 or 270
	Mirror   bool
}

// SwapsDimensions reports whether the output canvas is the input canvas
// with width and height exchanged.
func (t Transform) SwapsDimensions() bool { return t.Rotation == 90 || t.Rotation == 270 }

// IsIdentity reports whether t leaves the image untouched.
func (t Transform) IsIdentity() bool { return t.Rotation == 0 && !t.Mirror }

// Size returns the output canvas for an input of w×h.
func (t Transform) Size(w, h int) (int, int) {
	if t.SwapsDimensions() {
		return h, w
	}
	return w, h
}

var transforms = [...]Transform{
	Identity:   {},
	FlipH:      {Mirror: true},
	Rotate180:  {Rotation: 180},
	FlipV:      {Rotation: 180, Mirror: true},
	Transpose:  {Rotation: 90, Mirror: true},
	Rotate90:   {Rotation: 90},
	Transverse: {Rotation: 270, Mirror: true},
	Rotate270:  {Rotation: 270},
}

// Describe returns the transform that corrects c.  Codes outside 1-8 map to
// the identity transform and ok is false.
func Describe(c Code) (t Transform, ok bool) {
	if !c.Valid() {
		return Transform{}, false
	}
	return transforms[c], true
}

// Inverse returns the code whose transform undoes the correction for c, so
// that applying Describe(c) and then Describe(Inverse(c)) restores the input.
func Inverse(c Code) Code {
	switch c {
	case Rotate90:
		return Rotate270
	case Rotate270:
		return Rotate90
	case Identity, FlipH, Rotate180, FlipV, Transpose, Transverse:
		return c
	}
	return Identity
}
