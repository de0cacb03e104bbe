package orientation

import (
	"image"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Matrix returns the source-to-destination affine map of t for a w×h source,
// in continuous pixel coordinates (pixel centers at +0.5).
func (t Transform) Matrix(w, h int) f64.Aff3 {
	fw, fh := float64(w), float64(h)

	var m f64.Aff3
	switch t.Rotation {
	case 90:
		m = f64.Aff3{0, -1, fh, 1, 0, 0}
	case 180:
		m = f64.Aff3{-1, 0, fw, 0, -1, fh}
	case 270:
		m = f64.Aff3{0, 1, 0, -1, 0, fw}
	default:
		m = f64.Aff3{1, 0, 0, 0, 1, 0}
	}
	if t.Mirror {
		outW, _ := t.Size(w, h)
		m[0], m[1], m[2] = -m[0], -m[1], float64(outW)-m[2]
	}
	return m
}

// Apply returns a new upright image for src tagged with code c.  The result
// is resampled with bilinear interpolation on an RGBA canvas whose size
// follows Transform.Size.  src is never modified.  The identity transform
// returns src itself.
//
// ok is false when c is not a valid code; src is then returned as is.
func Apply(src image.Image, c Code) (out image.Image, ok bool) {
	t, ok := Describe(c)
	if t.IsIdentity() {
		return src, ok
	}
	return ApplyTransform(src, t), ok
}

// ApplyTransform resamples src through t.
func ApplyTransform(src image.Image, t Transform) *image.RGBA {
	b := src.Bounds()
	w, h := t.Size(b.Dx(), b.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	m := t.Matrix(b.Dx(), b.Dy())
	// Matrix works on a zero-origin source; shift sub-images into place.
	if b.Min != (image.Point{}) {
		m[2] -= m[0]*float64(b.Min.X) + m[1]*float64(b.Min.Y)
		m[5] -= m[3]*float64(b.Min.X) + m[4]*float64(b.Min.Y)
	}
	xdraw.BiLinear.Transform(dst, m, src, b, xdraw.Src, nil)
	return dst
}
