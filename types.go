package quill

import (
	"slices"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/imaging"
)

// Image is a rendering of some area of a full image at some resolution.
type Image = imaging.Image

// Format names an image file format.
type Format = imaging.Format

// Formats.
const (
	FormatUnknown = imaging.FormatUnknown
	FormatPNG     = imaging.FormatPNG
	FormatJPEG    = imaging.FormatJPEG
	FormatGIF     = imaging.FormatGIF
	FormatBMP     = imaging.FormatBMP
	FormatTIFF    = imaging.FormatTIFF
	FormatWebP    = imaging.FormatWebP
)

// ParseFormat resolves a format name, extension or MIME type.
func ParseFormat(name string) Format { return imaging.ParseFormat(name) }

// Filter is one editing operation.
type Filter = filter.Filter

// FilterOptions are the string parameters of a filter, as persisted in
// edit histories.
type FilterOptions = filter.Options

// NewFilter creates an editing filter by name, for example
// NewFilter("brightness", FilterOptions{"delta": "20"}).
func NewFilter(name string, opts FilterOptions) (Filter, error) {
	return filter.New(name, opts)
}

// FilterNames returns the names accepted by NewFilter, sorted.
func FilterNames() []string {
	names := filter.Names()
	slices.Sort(names)
	return names
}
