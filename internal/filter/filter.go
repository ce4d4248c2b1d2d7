package filter

import (
	"errors"
	"fmt"
	"image"
	"maps"
	"strconv"

	"github.com/gogpu/quill/internal/imaging"
)

// Common filter errors.
var (
	// ErrUnknownFilter is returned by New for unregistered names.
	ErrUnknownFilter = errors.New("filter: unknown filter")

	// ErrBadOption is returned when an option is missing or malformed.
	ErrBadOption = errors.New("filter: bad option")

	// ErrNotGenerator is returned by Resolve on concrete filters.
	ErrNotGenerator = errors.New("filter: not a generator")

	// ErrNotAnalyzed is returned by Resolve before a generator has seen
	// an image.
	ErrNotAnalyzed = errors.New("filter: generator has not analyzed an image")
)

// Role classifies what a filter does in the pipeline.
type Role uint8

const (
	// RoleEdit is an ordinary user edit recorded in the history.
	RoleEdit Role = iota
	// RoleLoad decodes pixels from a file.
	RoleLoad
	// RoleSave encodes pixels into a file.
	RoleSave
	// RoleOverlay composes a tile into a save buffer.
	RoleOverlay
	// RolePreviewScale resamples an image for a preview level.
	RolePreviewScale
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleEdit:
		return "edit"
	case RoleLoad:
		return "load"
	case RoleSave:
		return "save"
	case RoleOverlay:
		return "overlay"
	case RolePreviewScale:
		return "scale"
	default:
		return "unknown"
	}
}

// Kind tags whether a filter transforms pixels directly or must be
// resolved after an analysis pass.
type Kind uint8

const (
	// KindConcrete filters transform pixels in Apply.
	KindConcrete Kind = iota
	// KindGenerator filters analyze in Apply and Resolve afterwards.
	KindGenerator
)

// Options are the serialized parameters of a filter.
type Options map[string]string

// Int returns the integer option key, or def when absent.
func (o Options) Int(key string, def int) (int, error) {
	s, ok := o[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadOption, key, s)
	}
	return v, nil
}

// Float returns the float option key, or def when absent.
func (o Options) Float(key string, def float64) (float64, error) {
	s, ok := o[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadOption, key, s)
	}
	return v, nil
}

// Filter is one image operation.
//
// Apply must not modify its input pixels unless the filter documents it
// (Overlay writes into the save buffer it is given). NewFullImageSize and
// NewArea describe the geometry of the output for a given input without
// computing pixels; an empty result means the filter destroys the image.
type Filter interface {
	// Name is the registry name used when persisting the filter.
	Name() string
	// Role classifies the filter.
	Role() Role
	// Kind tags concrete filters and generators.
	Kind() Kind
	// Options returns the parameters needed to recreate the filter.
	Options() Options
	// Apply runs the filter.
	Apply(img imaging.Image) (imaging.Image, error)
	// NewFullImageSize returns the full image size after the filter.
	NewFullImageSize(prior image.Point) image.Point
	// NewArea maps a rectangle of the full image before the filter to the
	// full image after it.
	NewArea(fullSize image.Point, area image.Rectangle) image.Rectangle
	// Resolve returns the concrete filter a generator stands for.
	Resolve() (Filter, error)
}

// Spread is implemented by filters whose output pixels depend on input
// pixels up to Margin full image pixels away. Spread filters keep the
// image geometry. A tile is computed from an input grown by the margin,
// with the output cut back to the tile by the filter ForArea returns.
type Spread interface {
	Filter
	Margin() int
	ForArea(area image.Rectangle) Filter
}

// concrete provides the Kind and Resolve methods of concrete filters.
type concrete struct{}

func (concrete) Kind() Kind { return KindConcrete }

func (concrete) Resolve() (Filter, error) { return nil, ErrNotGenerator }

// identityGeometry provides the geometry of filters that keep the image
// shape.
type identityGeometry struct{}

func (identityGeometry) NewFullImageSize(prior image.Point) image.Point { return prior }

func (identityGeometry) NewArea(_ image.Point, area image.Rectangle) image.Rectangle { return area }

// Constructor creates a filter from its options.
type Constructor func(Options) (Filter, error)

var registry = map[string]Constructor{}

// Register makes a filter constructor available to New.
// It panics when name is registered twice.
func Register(name string, c Constructor) {
	if _, dup := registry[name]; dup {
		panic("filter: Register called twice for " + name)
	}
	registry[name] = c
}

// New creates a registered filter by name.
func New(name string, opts Options) (Filter, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	return c(maps.Clone(opts))
}

// Names returns the registered filter names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// pixelScale returns the ratio between the pixels of img and the full
// image area they render, per axis.
func pixelScale(img imaging.Image) (sx, sy float64) {
	size := img.Size()
	a := img.Area.Size()
	if a.X <= 0 || a.Y <= 0 {
		return 1, 1
	}
	return float64(size.X) / float64(a.X), float64(size.Y) / float64(a.Y)
}

// requirePixels rejects null images.
func requirePixels(img imaging.Image) error {
	if img.IsNull() {
		return imaging.ErrNullImage
	}
	return nil
}
