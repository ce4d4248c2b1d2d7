package filter

import (
	"strconv"

	"github.com/gogpu/quill/internal/imaging"
	"github.com/gogpu/quill/internal/parallel"
)

// ColorMatrix applies a 4x5 color transformation matrix to every pixel.
// The transformation is:
//
//	[R']   [a00 a01 a02 a03 a04]   [R]
//	[G'] = [a10 a11 a12 a13 a14] * [G]
//	[B']   [a20 a21 a22 a23 a24]   [B]
//	[A']   [a30 a31 a32 a33 a34]   [A]
//	                               [1]
//
// The fifth column provides bias values. Channels are in [0, 255]
// (non-premultiplied) during the transformation and clamped afterwards.
// Color matrices are pointwise, so previews, full images and tiles of the
// same command agree pixel for pixel with a filtered downscale.
type ColorMatrix struct {
	concrete
	identityGeometry

	// Matrix is the 4x5 transformation matrix in row-major order.
	Matrix [20]float32

	name string
	opts Options
}

func (f *ColorMatrix) Name() string     { return f.name }
func (f *ColorMatrix) Role() Role       { return RoleEdit }
func (f *ColorMatrix) Options() Options { return f.opts }

// Apply transforms the pixels of img.
func (f *ColorMatrix) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	src := img.Pix
	dst := imaging.Blank(src.Rect.Size())
	m := &f.Matrix
	w := src.Rect.Dx()
	parallel.Rows(src.Rect.Dy(), func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			s := src.Pix[y*src.Stride : y*src.Stride+w*4]
			d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			for i := 0; i < len(s); i += 4 {
				r, g, b, a := float32(s[i]), float32(s[i+1]), float32(s[i+2]), float32(s[i+3])
				d[i+0] = clampUint8(m[0]*r + m[1]*g + m[2]*b + m[3]*a + m[4])
				d[i+1] = clampUint8(m[5]*r + m[6]*g + m[7]*b + m[8]*a + m[9])
				d[i+2] = clampUint8(m[10]*r + m[11]*g + m[12]*b + m[13]*a + m[14])
				d[i+3] = clampUint8(m[15]*r + m[16]*g + m[17]*b + m[18]*a + m[19])
			}
		}
	})
	return img.WithPix(dst), nil
}

// Multiply returns the matrix applying other first and then f.
func (f *ColorMatrix) Multiply(other *ColorMatrix) *ColorMatrix {
	var out [20]float32
	a, b := &f.Matrix, &other.Matrix
	for row := range 4 {
		for col := range 5 {
			var sum float32
			for k := range 4 {
				sum += a[row*5+k] * b[k*5+col]
			}
			if col == 4 {
				sum += a[row*5+4]
			}
			out[row*5+col] = sum
		}
	}
	return &ColorMatrix{Matrix: out, name: f.name, opts: f.opts}
}

// NewBrightness returns a filter adding delta to the color channels.
func NewBrightness(delta int) *ColorMatrix {
	d := float32(delta)
	return &ColorMatrix{
		Matrix: [20]float32{
			1, 0, 0, 0, d,
			0, 1, 0, 0, d,
			0, 0, 1, 0, d,
			0, 0, 0, 1, 0,
		},
		name: "brightness",
		opts: Options{"delta": strconv.Itoa(delta)},
	}
}

// NewContrast returns a filter scaling the color channels around mid gray.
// factor: 0.0 = gray, 1.0 = unchanged, 2.0 = high contrast
func NewContrast(factor float64) *ColorMatrix {
	c := float32(factor)
	offset := 128 * (1 - c)
	return &ColorMatrix{
		Matrix: [20]float32{
			c, 0, 0, 0, offset,
			0, c, 0, 0, offset,
			0, 0, c, 0, offset,
			0, 0, 0, 1, 0,
		},
		name: "contrast",
		opts: Options{"factor": formatFloat(factor)},
	}
}

// NewLevels returns a filter stretching [low, high] to [0, 255].
func NewLevels(low, high int) *ColorMatrix {
	scale := float32(1)
	if high > low {
		scale = 255 / float32(high-low)
	}
	offset := -float32(low) * scale
	return &ColorMatrix{
		Matrix: [20]float32{
			scale, 0, 0, 0, offset,
			0, scale, 0, 0, offset,
			0, 0, scale, 0, offset,
			0, 0, 0, 1, 0,
		},
		name: "levels",
		opts: Options{"low": strconv.Itoa(low), "high": strconv.Itoa(high)},
	}
}

// NewSaturation returns a filter adjusting color saturation.
// factor: 0.0 = grayscale, 1.0 = unchanged, 2.0 = oversaturated
func NewSaturation(factor float64) *ColorMatrix {
	// Rec. 709 luminance weights.
	const (
		lumR = 0.2126
		lumG = 0.7152
		lumB = 0.0722
	)
	s := float32(factor)
	inv := 1 - s
	return &ColorMatrix{
		Matrix: [20]float32{
			lumR*inv + s, lumG * inv, lumB * inv, 0, 0,
			lumR * inv, lumG*inv + s, lumB * inv, 0, 0,
			lumR * inv, lumG * inv, lumB*inv + s, 0, 0,
			0, 0, 0, 1, 0,
		},
		name: "saturation",
		opts: Options{"factor": formatFloat(factor)},
	}
}

// NewGrayscale returns a filter converting to grayscale.
func NewGrayscale() *ColorMatrix {
	f := NewSaturation(0)
	f.name, f.opts = "grayscale", Options{}
	return f
}

// NewInvert returns a filter inverting the color channels.
func NewInvert() *ColorMatrix {
	return &ColorMatrix{
		Matrix: [20]float32{
			-1, 0, 0, 0, 255,
			0, -1, 0, 0, 255,
			0, 0, -1, 0, 255,
			0, 0, 0, 1, 0,
		},
		name: "invert",
		opts: Options{},
	}
}

// clampUint8 clamps a float32 to [0, 255] and rounds to uint8.
func clampUint8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func init() {
	Register("brightness", func(o Options) (Filter, error) {
		d, err := o.Int("delta", 0)
		if err != nil {
			return nil, err
		}
		return NewBrightness(d), nil
	})
	Register("contrast", func(o Options) (Filter, error) {
		c, err := o.Float("factor", 1)
		if err != nil {
			return nil, err
		}
		return NewContrast(c), nil
	})
	Register("levels", func(o Options) (Filter, error) {
		lo, err := o.Int("low", 0)
		if err != nil {
			return nil, err
		}
		hi, err := o.Int("high", 255)
		if err != nil {
			return nil, err
		}
		return NewLevels(lo, hi), nil
	})
	Register("saturation", func(o Options) (Filter, error) {
		s, err := o.Float("factor", 1)
		if err != nil {
			return nil, err
		}
		return NewSaturation(s), nil
	})
	Register("grayscale", func(Options) (Filter, error) { return NewGrayscale(), nil })
	Register("invert", func(Options) (Filter, error) { return NewInvert(), nil })
}

var _ Filter = (*ColorMatrix)(nil)
