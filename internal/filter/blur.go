package filter

import (
	"image"

	"github.com/gogpu/quill/internal/imaging"
	"github.com/gogpu/quill/internal/parallel"
)

// Blur applies a separable Gaussian blur.
//
// The radius is given in full image pixels and scaled to the resolution of
// the input, so previews look like downscaled blurred full images. Pixels
// beyond the edges of the input repeat the edge pixels.
type Blur struct {
	concrete
	identityGeometry
	Radius float64

	// area cuts the output down when non-empty.
	area image.Rectangle
}

// NewBlur returns a Gaussian blur filter.
func NewBlur(radius float64) *Blur {
	return &Blur{Radius: radius}
}

func (f *Blur) Name() string { return "blur" }
func (f *Blur) Role() Role   { return RoleEdit }

func (f *Blur) Options() Options {
	return Options{"radius": formatFloat(f.Radius)}
}

// Margin returns the half width of the kernel at full resolution.
func (f *Blur) Margin() int {
	return len(CachedGaussianKernel(f.Radius)) / 2
}

// ForArea returns a blur whose output is the area part of its input.
func (f *Blur) ForArea(area image.Rectangle) Filter {
	c := *f
	c.area = area
	return &c
}

func (f *Blur) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	sx, sy := pixelScale(img)
	rx, ry := f.Radius*sx, f.Radius*sy

	src := img.Pix
	width, height := src.Rect.Dx(), src.Rect.Dy()
	dst := imaging.Blank(src.Rect.Size())
	temp := make([]float32, width*height*4)

	kx, ky := CachedGaussianKernel(rx), CachedGaussianKernel(ry)
	parallel.Rows(height, func(y0, y1 int) {
		blurHorizontal(src.Pix, src.Stride, temp, width, height, y0, y1, kx)
	})
	parallel.Rows(height, func(y0, y1 int) {
		blurVertical(temp, dst.Pix, dst.Stride, width, height, y0, y1, ky)
	})
	if f.area.Empty() || f.area == img.Area {
		return img.WithPix(dst), nil
	}
	area := f.area.Intersect(img.Area)
	out, err := imaging.Crop(dst, area.Sub(img.Area.Min))
	if err != nil {
		return imaging.Image{}, err
	}
	return imaging.NewTile(out, img.FullSize, area), nil
}

// blurHorizontal convolves rows y0..y1 of src into temp.
func blurHorizontal(src []uint8, stride int, temp []float32, width, _, y0, y1 int, kernel []float32) {
	half := len(kernel) / 2
	for y := y0; y < y1; y++ {
		row := src[y*stride:]
		for x := 0; x < width; x++ {
			var r, g, b, a float32
			for k, weight := range kernel {
				kx := clampInt(x+k-half, 0, width-1)
				i := kx * 4
				r += float32(row[i+0]) * weight
				g += float32(row[i+1]) * weight
				b += float32(row[i+2]) * weight
				a += float32(row[i+3]) * weight
			}
			t := (y*width + x) * 4
			temp[t+0], temp[t+1], temp[t+2], temp[t+3] = r, g, b, a
		}
	}
}

// blurVertical convolves the columns of temp into rows y0..y1 of dst.
func blurVertical(temp []float32, dst []uint8, stride, width, height, y0, y1 int, kernel []float32) {
	half := len(kernel) / 2
	for y := y0; y < y1; y++ {
		for x := 0; x < width; x++ {
			var r, g, b, a float32
			for k, weight := range kernel {
				ky := clampInt(y+k-half, 0, height-1)
				t := (ky*width + x) * 4
				r += temp[t+0] * weight
				g += temp[t+1] * weight
				b += temp[t+2] * weight
				a += temp[t+3] * weight
			}
			d := y*stride + x*4
			dst[d+0] = clampUint8(r)
			dst[d+1] = clampUint8(g)
			dst[d+2] = clampUint8(b)
			dst[d+3] = clampUint8(a)
		}
	}
}

// clampInt clamps v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func init() {
	Register("blur", func(o Options) (Filter, error) {
		r, err := o.Float("radius", 1)
		if err != nil {
			return nil, err
		}
		return NewBlur(r), nil
	})
}

var _ Spread = (*Blur)(nil)
