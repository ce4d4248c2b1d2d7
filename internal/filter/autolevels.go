package filter

import (
	"errors"
	"sync"

	"github.com/gogpu/quill/internal/imaging"
)

// ErrFlatImage is returned by AutoLevels when the analyzed image has a
// single luminance value and nothing can be stretched.
var ErrFlatImage = errors.New("filter: image has no tonal range")

// AutoLevels is a generator: Apply measures the luminance range of an
// image and Resolve turns the measurement into a Levels filter that
// stretches the range to [0, 255].
type AutoLevels struct {
	identityGeometry

	// Clip ignores this fraction of the darkest and brightest pixels.
	Clip float64

	mu       sync.Mutex
	analyzed bool
	low      int
	high     int
}

// NewAutoLevels returns an automatic levels generator.
func NewAutoLevels(clip float64) *AutoLevels {
	return &AutoLevels{Clip: min(max(clip, 0), 0.49)}
}

func (f *AutoLevels) Name() string { return "autolevels" }
func (f *AutoLevels) Role() Role   { return RoleEdit }
func (f *AutoLevels) Kind() Kind   { return KindGenerator }

func (f *AutoLevels) Options() Options {
	return Options{"clip": formatFloat(f.Clip)}
}

// Apply records the luminance histogram bounds of img and returns it
// unchanged.
func (f *AutoLevels) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	var hist [256]int
	src := img.Pix
	w := src.Rect.Dx()
	total := 0
	for y := range src.Rect.Dy() {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			if row[i+3] == 0 {
				continue
			}
			// Rec. 709 luma in integer arithmetic.
			l := (2126*int(row[i]) + 7152*int(row[i+1]) + 722*int(row[i+2])) / 10000
			hist[l]++
			total++
		}
	}
	skip := int(float64(total) * f.Clip)
	low, high := 0, 255
	for n := 0; low < 255; low++ {
		n += hist[low]
		if n > skip {
			break
		}
	}
	for n := 0; high > 0; high-- {
		n += hist[high]
		if n > skip {
			break
		}
	}

	f.mu.Lock()
	f.analyzed = total > 0
	f.low, f.high = low, high
	f.mu.Unlock()
	return img, nil
}

// Resolve returns the Levels filter for the analyzed range.
func (f *AutoLevels) Resolve() (Filter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.analyzed {
		return nil, ErrNotAnalyzed
	}
	if f.high <= f.low {
		return nil, ErrFlatImage
	}
	return NewLevels(f.low, f.high), nil
}

func init() {
	Register("autolevels", func(o Options) (Filter, error) {
		c, err := o.Float("clip", 0)
		if err != nil {
			return nil, err
		}
		return NewAutoLevels(c), nil
	})
}

var _ Filter = (*AutoLevels)(nil)
