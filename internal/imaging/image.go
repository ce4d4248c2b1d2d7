// Package imaging provides the image value passed between the caches,
// the filters and the background worker.
//
// An Image is a rendering of some area of a full image at some resolution.
// The pixel buffer may be absent: such null images still carry the full
// image size and the covered area, which lets callers reason about
// geometry before any pixel has been decoded.
package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
)

// Common errors for image operations.
var (
	// ErrNullImage is returned when an operation needs pixels but the
	// image only carries geometry.
	ErrNullImage = errors.New("imaging: null image")

	// ErrInvalidSize is returned when a requested size is empty.
	ErrInvalidSize = errors.New("imaging: invalid size")
)

// Image is a (possibly partial, possibly scaled) rendering of a full image.
//
// Pix holds the pixels in non-premultiplied RGBA with its origin at (0, 0);
// it is nil for null images. FullSize is the size of the full image this is
// a rendering of. Area is the part of the full image covered, in full image
// coordinates; it equals the full image for anything but tiles.
//
// Images are values; the pixel buffer is shared between copies and must be
// treated as immutable once an Image has been handed to a cache.
type Image struct {
	Pix      *image.NRGBA
	FullSize image.Point
	Area     image.Rectangle
}

// New wraps pixels covering a whole image of the same size.
func New(pix *image.NRGBA) Image {
	pix = normalize(pix)
	if pix == nil {
		return Image{}
	}
	size := pix.Rect.Size()
	return Image{Pix: pix, FullSize: size, Area: image.Rectangle{Max: size}}
}

// NewTile wraps pixels rendering area of a full image of fullSize.
func NewTile(pix *image.NRGBA, fullSize image.Point, area image.Rectangle) Image {
	return Image{Pix: normalize(pix), FullSize: fullSize, Area: area}
}

// Null returns a pixel-less image carrying only geometry.
func Null(fullSize image.Point, area image.Rectangle) Image {
	return Image{FullSize: fullSize, Area: area}
}

// Blank allocates a transparent image of the given size.
func Blank(size image.Point) *image.NRGBA {
	return image.NewNRGBA(image.Rectangle{Max: size})
}

// IsNull reports whether the image has no pixels.
func (i Image) IsNull() bool {
	return i.Pix == nil || i.Pix.Rect.Empty()
}

// Size returns the pixel size, or the zero point for null images.
func (i Image) Size() image.Point {
	if i.Pix == nil {
		return image.Point{}
	}
	return i.Pix.Rect.Size()
}

// IsTile reports whether the image covers only part of its full image.
func (i Image) IsTile() bool {
	return i.Area != image.Rectangle{Max: i.FullSize}
}

// WithPix returns a copy of the image geometry with new pixels.
func (i Image) WithPix(pix *image.NRGBA) Image {
	i.Pix = normalize(pix)
	return i
}

// ByteSize returns the size of the pixel buffer in bytes.
func (i Image) ByteSize() int {
	if i.Pix == nil {
		return 0
	}
	return len(i.Pix.Pix)
}

// At returns the pixel at (x, y) in image-local coordinates.
func (i Image) At(x, y int) color.NRGBA {
	if i.Pix == nil {
		return color.NRGBA{}
	}
	return i.Pix.NRGBAAt(x, y)
}

// Equal reports whether both images have the same size and pixels.
// Geometry fields are not compared.
func (i Image) Equal(o Image) bool {
	if i.IsNull() || o.IsNull() {
		return i.IsNull() == o.IsNull()
	}
	return EqualPixels(i.Pix, o.Pix)
}

// EqualPixels reports whether a and b have the same size and pixels.
func EqualPixels(a, b *image.NRGBA) bool {
	if a.Rect.Size() != b.Rect.Size() {
		return false
	}
	w := a.Rect.Dx() * 4
	for y := range a.Rect.Dy() {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		if !bytes.Equal(ra, rb) {
			return false
		}
	}
	return true
}

// normalize moves the pixel origin to (0, 0), copying when the buffer is a
// sub-image view.
func normalize(pix *image.NRGBA) *image.NRGBA {
	if pix == nil || pix.Rect.Min == (image.Point{}) {
		return pix
	}
	out := Blank(pix.Rect.Size())
	w := pix.Rect.Dx() * 4
	for y := range pix.Rect.Dy() {
		src := pix.PixOffset(pix.Rect.Min.X, pix.Rect.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+w], pix.Pix[src:src+w])
	}
	return out
}
