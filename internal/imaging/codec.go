package imaging

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/text/cases"
)

// Codec errors.
var (
	// ErrUnsupportedFormat is returned when no codec handles the data or
	// the requested output format.
	ErrUnsupportedFormat = errors.New("imaging: unsupported format")

	// ErrCorrupt is returned when a known format fails to decode.
	ErrCorrupt = errors.New("imaging: corrupt data")
)

// Format names an image file format.
type Format string

// Known formats.
const (
	FormatUnknown Format = ""
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatTIFF    Format = "tiff"
	FormatWebP    Format = "webp"
)

var folder = cases.Fold()

var formatAliases = map[string]Format{
	"png":        FormatPNG,
	"jpg":        FormatJPEG,
	"jpeg":       FormatJPEG,
	"jpe":        FormatJPEG,
	"gif":        FormatGIF,
	"bmp":        FormatBMP,
	"tif":        FormatTIFF,
	"tiff":       FormatTIFF,
	"webp":       FormatWebP,
	"image/png":  FormatPNG,
	"image/jpeg": FormatJPEG,
	"image/gif":  FormatGIF,
	"image/bmp":  FormatBMP,
	"image/tiff": FormatTIFF,
	"image/webp": FormatWebP,
}

// ParseFormat resolves a format name, file extension or MIME type,
// ignoring case. Unknown names yield FormatUnknown.
func ParseFormat(name string) Format {
	key := strings.TrimPrefix(folder.String(strings.TrimSpace(name)), ".")
	return formatAliases[key]
}

// FormatFromPath guesses the format from the file extension.
func FormatFromPath(path string) Format {
	return ParseFormat(filepath.Ext(path))
}

// MIMEType returns the MIME type of a format, or a generic type when
// unknown.
func (f Format) MIMEType() string {
	if f == FormatUnknown {
		return "application/octet-stream"
	}
	return "image/" + string(f)
}

// Extension returns the canonical file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatUnknown:
		return ""
	default:
		return "." + string(f)
	}
}

// CanRead reports whether the format can be decoded in process.
func (f Format) CanRead() bool {
	return f != FormatUnknown
}

// CanWrite reports whether the format can be encoded in process.
func (f Format) CanWrite() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatGIF, FormatBMP, FormatTIFF:
		return true
	default:
		return false
	}
}

// HasAlpha reports whether the encoder keeps transparency.
func (f Format) HasAlpha() bool {
	switch f {
	case FormatJPEG, FormatBMP:
		return false
	default:
		return true
	}
}

// ReadSize reads only the header of an image file and returns its pixel
// size and detected format.
func ReadSize(path string) (image.Point, Format, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return image.Point{}, FormatUnknown, fmt.Errorf("imaging: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, name, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return image.Point{}, FormatUnknown, classify(err)
	}
	return image.Pt(cfg.Width, cfg.Height), ParseFormat(name), nil
}

// Load decodes an image file into a zero-origin NRGBA buffer.
func Load(path string) (*image.NRGBA, Format, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, FormatUnknown, fmt.Errorf("imaging: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// Decode decodes an image from r, auto-detecting the format.
func Decode(r io.Reader) (*image.NRGBA, Format, error) {
	img, name, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, FormatUnknown, classify(err)
	}
	return ToNRGBA(img), ParseFormat(name), nil
}

// Encode writes img to w in the given format. Quality applies to JPEG
// only and is clamped to 1..100; 0 selects the default.
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		if quality == 0 {
			quality = jpeg.DefaultQuality
		}
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: min(max(quality, 1), 100)})
	case FormatGIF:
		err = gif.Encode(w, img, nil)
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: cannot encode %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("imaging: encode %s: %w", format, err)
	}
	return nil
}

// Save encodes img into a new file at path.
func Save(path string, img image.Image, format Format, quality int) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("imaging: create: %w", err)
	}
	if err := Encode(f, img, format, quality); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// classify maps decoder errors to the package sentinels.
func classify(err error) error {
	if errors.Is(err, image.ErrFormat) {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return fmt.Errorf("%w: %w", ErrCorrupt, err)
}
