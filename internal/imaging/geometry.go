package imaging

import (
	"image"
	"image/color"
	stddraw "image/draw"

	"golang.org/x/image/draw"
)

// FitInside returns the largest size with the aspect ratio of size that
// fits inside bound, never larger than size itself. Each dimension is at
// least one pixel.
func FitInside(size, bound image.Point) image.Point {
	if size.X <= 0 || size.Y <= 0 || bound.X <= 0 || bound.Y <= 0 {
		return image.Point{}
	}
	if size.X <= bound.X && size.Y <= bound.Y {
		return size
	}
	// Compare bound.X/size.X against bound.Y/size.Y without floats.
	if bound.X*size.Y <= bound.Y*size.X {
		return image.Pt(bound.X, max(1, size.Y*bound.X/size.X))
	}
	return image.Pt(max(1, size.X*bound.Y/size.Y), bound.Y)
}

// Cover returns the smallest size with the aspect ratio of size that
// covers minimum in both dimensions, never larger than size itself.
func Cover(size, minimum image.Point) image.Point {
	if size.X <= 0 || size.Y <= 0 || minimum.X <= 0 || minimum.Y <= 0 {
		return image.Point{}
	}
	if size.X <= minimum.X || size.Y <= minimum.Y {
		return size
	}
	if minimum.X*size.Y >= minimum.Y*size.X {
		return image.Pt(minimum.X, max(minimum.Y, (size.Y*minimum.X+size.X-1)/size.X))
	}
	return image.Pt(max(minimum.X, (size.X*minimum.Y+size.Y-1)/size.Y), minimum.Y)
}

// Scale resamples src to size using Catmull-Rom interpolation.
// A same-size request returns a copy.
func Scale(src *image.NRGBA, size image.Point) (*image.NRGBA, error) {
	if src == nil {
		return nil, ErrNullImage
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, ErrInvalidSize
	}
	dst := Blank(size)
	if src.Rect.Size() == size {
		draw.Copy(dst, image.Point{}, src, src.Rect, draw.Src, nil)
		return dst, nil
	}
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst, nil
}

// Crop copies the rect part of src, in src-local coordinates.
func Crop(src *image.NRGBA, rect image.Rectangle) (*image.NRGBA, error) {
	if src == nil {
		return nil, ErrNullImage
	}
	rect = rect.Add(src.Rect.Min).Intersect(src.Rect)
	if rect.Empty() {
		return nil, ErrInvalidSize
	}
	dst := Blank(rect.Size())
	stddraw.Draw(dst, dst.Rect, src, rect.Min, stddraw.Src)
	return dst, nil
}

// Paste copies src into dst with its top-left corner at at.
// Pixels falling outside dst are dropped.
func Paste(dst, src *image.NRGBA, at image.Point) {
	r := src.Rect.Sub(src.Rect.Min).Add(at).Intersect(dst.Rect)
	if r.Empty() {
		return
	}
	stddraw.Draw(dst, r, src, src.Rect.Min.Add(r.Min.Sub(at)), stddraw.Src)
}

// Flatten composites src over an opaque background and returns the
// opaque result. Opaque sources are returned as is.
func Flatten(src *image.NRGBA, bg color.NRGBA) *image.NRGBA {
	if src == nil || src.Opaque() {
		return src
	}
	bg.A = 0xff
	dst := Blank(src.Rect.Size())
	stddraw.Draw(dst, dst.Rect, image.NewUniform(bg), image.Point{}, stddraw.Src)
	stddraw.Draw(dst, dst.Rect, src, src.Rect.Min, stddraw.Over)
	return dst
}

// ToNRGBA converts any image to a zero-origin NRGBA buffer.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return normalize(n)
	}
	b := img.Bounds()
	dst := Blank(b.Size())
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}

// DistanceToPoint returns the squared distance from rect to p; zero when p
// lies inside rect.
func DistanceToPoint(rect image.Rectangle, p image.Point) int {
	dx, dy := 0, 0
	switch {
	case p.X < rect.Min.X:
		dx = rect.Min.X - p.X
	case p.X >= rect.Max.X:
		dx = p.X - rect.Max.X + 1
	}
	switch {
	case p.Y < rect.Min.Y:
		dy = rect.Min.Y - p.Y
	case p.Y >= rect.Max.Y:
		dy = p.Y - rect.Max.Y + 1
	}
	return dx*dx + dy*dy
}

// PreviewPlan describes how a full image is rendered at a preview level.
type PreviewPlan struct {
	// Scaled is the size the whole image is resampled to.
	Scaled image.Point
	// Crop is the part of the scaled image that is kept, in scaled pixels.
	Crop image.Rectangle
	// Area is the part of the full image the preview shows.
	Area image.Rectangle
}

// Size returns the pixel size of the resulting preview.
func (p PreviewPlan) Size() image.Point {
	return p.Crop.Size()
}

// PlanPreview computes the preview geometry of an image of full size for a
// level with the given target size. A non-zero minimum selects a cropped
// preview: the image is scaled to cover minimum and center-cropped to at
// most target.
func PlanPreview(full, target, minimum image.Point) PreviewPlan {
	if minimum.X <= 0 || minimum.Y <= 0 {
		s := FitInside(full, target)
		return PreviewPlan{Scaled: s, Crop: image.Rectangle{Max: s}, Area: image.Rectangle{Max: full}}
	}
	s := Cover(full, minimum)
	if s == (image.Point{}) {
		return PreviewPlan{}
	}
	c := image.Pt(min(s.X, max(target.X, minimum.X)), min(s.Y, max(target.Y, minimum.Y)))
	off := image.Pt((s.X-c.X)/2, (s.Y-c.Y)/2)
	crop := image.Rectangle{Min: off, Max: off.Add(c)}
	area := image.Rect(
		crop.Min.X*full.X/s.X, crop.Min.Y*full.Y/s.Y,
		crop.Max.X*full.X/s.X, crop.Max.Y*full.Y/s.Y,
	)
	return PreviewPlan{Scaled: s, Crop: crop, Area: area}
}

// RenderPreview renders src, a rendering of a whole image, according to
// plan.
func RenderPreview(src *image.NRGBA, plan PreviewPlan) (*image.NRGBA, error) {
	if plan.Crop.Empty() {
		return nil, ErrInvalidSize
	}
	scaled, err := Scale(src, plan.Scaled)
	if err != nil {
		return nil, err
	}
	if plan.Crop == (image.Rectangle{Max: plan.Scaled}) {
		return scaled, nil
	}
	return Crop(scaled, plan.Crop)
}
