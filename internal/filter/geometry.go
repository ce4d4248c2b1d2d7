package filter

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"github.com/gogpu/quill/internal/imaging"
)

// pixelRect maps r, a rectangle of the full image inside img.Area, to the
// pixel coordinates of img.
func pixelRect(img imaging.Image, r image.Rectangle) image.Rectangle {
	sx, sy := pixelScale(img)
	r = r.Sub(img.Area.Min)
	size := img.Size()
	out := image.Rect(
		int(math.Floor(float64(r.Min.X)*sx)), int(math.Floor(float64(r.Min.Y)*sy)),
		int(math.Ceil(float64(r.Max.X)*sx)), int(math.Ceil(float64(r.Max.Y)*sy)),
	)
	return out.Intersect(image.Rectangle{Max: size})
}

// Crop keeps the Rect part of the image.
type Crop struct {
	concrete
	Rect image.Rectangle
}

// NewCrop returns a filter keeping rect, in full image coordinates.
func NewCrop(rect image.Rectangle) *Crop {
	return &Crop{Rect: rect.Canon()}
}

func (f *Crop) Name() string { return "crop" }
func (f *Crop) Role() Role   { return RoleEdit }

func (f *Crop) Options() Options {
	return Options{
		"x":      strconv.Itoa(f.Rect.Min.X),
		"y":      strconv.Itoa(f.Rect.Min.Y),
		"width":  strconv.Itoa(f.Rect.Dx()),
		"height": strconv.Itoa(f.Rect.Dy()),
	}
}

func (f *Crop) NewFullImageSize(prior image.Point) image.Point {
	return f.Rect.Intersect(image.Rectangle{Max: prior}).Size()
}

func (f *Crop) NewArea(fullSize image.Point, area image.Rectangle) image.Rectangle {
	clip := f.Rect.Intersect(image.Rectangle{Max: fullSize})
	out := area.Intersect(clip)
	if out.Empty() {
		return image.Rectangle{}
	}
	return out.Sub(clip.Min)
}

// Apply crops the pixels of img. Tiles outside the crop yield a null
// image with an empty area.
func (f *Crop) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	full := f.NewFullImageSize(img.FullSize)
	if full.X <= 0 || full.Y <= 0 {
		return imaging.Image{}, fmt.Errorf("crop %v of %v: %w", f.Rect, img.FullSize, imaging.ErrInvalidSize)
	}
	clip := f.Rect.Intersect(image.Rectangle{Max: img.FullSize})
	keep := img.Area.Intersect(clip)
	if keep.Empty() {
		return imaging.Null(full, image.Rectangle{}), nil
	}
	pix, err := imaging.Crop(img.Pix, pixelRect(img, keep))
	if err != nil {
		return imaging.Image{}, err
	}
	return imaging.NewTile(pix, full, keep.Sub(clip.Min)), nil
}

// Rotate turns the image clockwise by a multiple of 90 degrees.
type Rotate struct {
	concrete
	// Quarter is the number of clockwise quarter turns, 0..3.
	Quarter int
}

// NewRotate returns a filter rotating by degrees, which must be a
// multiple of 90.
func NewRotate(degrees int) (*Rotate, error) {
	if degrees%90 != 0 {
		return nil, fmt.Errorf("%w: rotation %d is not a multiple of 90", ErrBadOption, degrees)
	}
	return &Rotate{Quarter: ((degrees/90)%4 + 4) % 4}, nil
}

func (f *Rotate) Name() string { return "rotate" }
func (f *Rotate) Role() Role   { return RoleEdit }

func (f *Rotate) Options() Options {
	return Options{"degrees": strconv.Itoa(f.Quarter * 90)}
}

func (f *Rotate) NewFullImageSize(prior image.Point) image.Point {
	if f.Quarter%2 == 1 {
		return image.Pt(prior.Y, prior.X)
	}
	return prior
}

func (f *Rotate) NewArea(fullSize image.Point, a image.Rectangle) image.Rectangle {
	w, h := fullSize.X, fullSize.Y
	switch f.Quarter {
	case 1:
		return image.Rect(h-a.Max.Y, a.Min.X, h-a.Min.Y, a.Max.X)
	case 2:
		return image.Rect(w-a.Max.X, h-a.Max.Y, w-a.Min.X, h-a.Min.Y)
	case 3:
		return image.Rect(a.Min.Y, w-a.Max.X, a.Max.Y, w-a.Min.X)
	default:
		return a
	}
}

func (f *Rotate) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	src := img.Pix
	size := src.Rect.Size()
	out := imaging.Blank(f.NewFullImageSize(size))
	for y := range size.Y {
		for x := range size.X {
			var dx, dy int
			switch f.Quarter {
			case 1:
				dx, dy = size.Y-1-y, x
			case 2:
				dx, dy = size.X-1-x, size.Y-1-y
			case 3:
				dx, dy = y, size.X-1-x
			default:
				dx, dy = x, y
			}
			out.SetNRGBA(dx, dy, src.NRGBAAt(x, y))
		}
	}
	return imaging.NewTile(out, f.NewFullImageSize(img.FullSize), f.NewArea(img.FullSize, img.Area)), nil
}

// Flip mirrors the image.
type Flip struct {
	concrete
	identitySize
	// Vertical flips top to bottom instead of left to right.
	Vertical bool
}

// NewFlip returns a mirroring filter.
func NewFlip(vertical bool) *Flip {
	return &Flip{Vertical: vertical}
}

func (f *Flip) Name() string { return "flip" }
func (f *Flip) Role() Role   { return RoleEdit }

func (f *Flip) Options() Options {
	if f.Vertical {
		return Options{"axis": "vertical"}
	}
	return Options{"axis": "horizontal"}
}

func (f *Flip) NewArea(fullSize image.Point, a image.Rectangle) image.Rectangle {
	if f.Vertical {
		return image.Rect(a.Min.X, fullSize.Y-a.Max.Y, a.Max.X, fullSize.Y-a.Min.Y)
	}
	return image.Rect(fullSize.X-a.Max.X, a.Min.Y, fullSize.X-a.Min.X, a.Max.Y)
}

func (f *Flip) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	src := img.Pix
	size := src.Rect.Size()
	out := imaging.Blank(size)
	for y := range size.Y {
		for x := range size.X {
			if f.Vertical {
				out.SetNRGBA(x, size.Y-1-y, src.NRGBAAt(x, y))
			} else {
				out.SetNRGBA(size.X-1-x, y, src.NRGBAAt(x, y))
			}
		}
	}
	return imaging.NewTile(out, img.FullSize, f.NewArea(img.FullSize, img.Area)), nil
}

// identitySize provides NewFullImageSize for filters keeping the size.
type identitySize struct{}

func (identitySize) NewFullImageSize(prior image.Point) image.Point { return prior }

// Resize resamples the full image to a new size.
type Resize struct {
	concrete
	Size image.Point
}

// NewResize returns a filter resampling to size.
func NewResize(size image.Point) *Resize {
	return &Resize{Size: size}
}

func (f *Resize) Name() string { return "resize" }
func (f *Resize) Role() Role   { return RoleEdit }

func (f *Resize) Options() Options {
	return Options{"width": strconv.Itoa(f.Size.X), "height": strconv.Itoa(f.Size.Y)}
}

func (f *Resize) NewFullImageSize(image.Point) image.Point {
	if f.Size.X <= 0 || f.Size.Y <= 0 {
		return image.Point{}
	}
	return f.Size
}

// NewArea scales area with floor rounding on both edges, so adjacent
// rectangles stay adjacent.
func (f *Resize) NewArea(fullSize image.Point, a image.Rectangle) image.Rectangle {
	if fullSize.X <= 0 || fullSize.Y <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(
		a.Min.X*f.Size.X/fullSize.X, a.Min.Y*f.Size.Y/fullSize.Y,
		a.Max.X*f.Size.X/fullSize.X, a.Max.Y*f.Size.Y/fullSize.Y,
	)
}

func (f *Resize) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	full := f.NewFullImageSize(img.FullSize)
	area := f.NewArea(img.FullSize, img.Area)
	if full == (image.Point{}) || area.Empty() {
		return imaging.Null(full, area), nil
	}
	// Keep the pixel density of the input.
	sx, sy := pixelScale(img)
	target := image.Pt(
		max(1, int(math.Round(float64(area.Dx())*sx))),
		max(1, int(math.Round(float64(area.Dy())*sy))),
	)
	pix, err := imaging.Scale(img.Pix, target)
	if err != nil {
		return imaging.Image{}, err
	}
	return imaging.NewTile(pix, full, area), nil
}

func init() {
	Register("crop", func(o Options) (Filter, error) {
		var v [4]int
		for i, key := range []string{"x", "y", "width", "height"} {
			n, err := o.Int(key, -1)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("%w: crop needs %s", ErrBadOption, key)
			}
			v[i] = n
		}
		return NewCrop(image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3])), nil
	})
	Register("rotate", func(o Options) (Filter, error) {
		d, err := o.Int("degrees", 90)
		if err != nil {
			return nil, err
		}
		return NewRotate(d)
	})
	Register("flip", func(o Options) (Filter, error) {
		switch o["axis"] {
		case "", "horizontal":
			return NewFlip(false), nil
		case "vertical":
			return NewFlip(true), nil
		default:
			return nil, fmt.Errorf("%w: flip axis %q", ErrBadOption, o["axis"])
		}
	})
	Register("resize", func(o Options) (Filter, error) {
		w, err := o.Int("width", 0)
		if err != nil {
			return nil, err
		}
		h, err := o.Int("height", 0)
		if err != nil {
			return nil, err
		}
		return NewResize(image.Pt(w, h)), nil
	})
}

var (
	_ Filter = (*Crop)(nil)
	_ Filter = (*Rotate)(nil)
	_ Filter = (*Flip)(nil)
	_ Filter = (*Resize)(nil)
)
