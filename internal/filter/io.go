package filter

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gogpu/quill/internal/cache"
	"github.com/gogpu/quill/internal/imaging"
)

// decoded keeps the last full decode so that the tiles of one file do not
// decode it once per tile.
var decoded = cache.NewLRU[string, *image.NRGBA](1)

// Load decodes an image file. It is the filter of the first command of
// every history.
//
// A Load carries the full image size known so far; per-task copies select
// what is produced: the full image, a preview (ForPreview), one tile
// (ForTile) or a pre-rendered preview read back from a thumbnail
// (FromThumbnail).
type Load struct {
	concrete
	identityGeometry

	Path   string
	Format imaging.Format

	size      image.Point
	target    image.Point
	minimum   image.Point
	tile      image.Rectangle
	thumbnail bool
}

// NewLoad returns the load filter for path. size is the full image size
// when known, or the zero point for placeholder files.
func NewLoad(path string, format imaging.Format, size image.Point) *Load {
	return &Load{Path: path, Format: format, size: size}
}

func (f *Load) Name() string { return "load" }
func (f *Load) Role() Role   { return RoleLoad }

func (f *Load) Options() Options {
	return Options{"path": f.Path, "format": string(f.Format)}
}

// Size returns the full image size recorded for the file.
func (f *Load) Size() image.Point { return f.size }

// SetSize records the real full image size once it is known.
func (f *Load) SetSize(size image.Point) { f.size = size }

// NewFullImageSize returns the recorded size; a load ignores its input.
func (f *Load) NewFullImageSize(image.Point) image.Point { return f.size }

// ForPreview returns a copy producing the preview for a level.
func (f *Load) ForPreview(target, minimum image.Point) *Load {
	c := *f
	c.target, c.minimum, c.tile = target, minimum, image.Rectangle{}
	return &c
}

// ForTile returns a copy producing the area tile of the full image.
func (f *Load) ForTile(area image.Rectangle) *Load {
	c := *f
	c.target, c.minimum, c.tile = image.Point{}, image.Point{}, area
	return &c
}

// FromThumbnail returns a copy reading a stored preview from path.
func (f *Load) FromThumbnail(path string, target, minimum image.Point) *Load {
	c := *f
	c.Path, c.Format = path, imaging.FormatFromPath(path)
	c.target, c.minimum, c.tile = target, minimum, image.Rectangle{}
	c.thumbnail = true
	return &c
}

func (f *Load) Apply(imaging.Image) (imaging.Image, error) {
	if f.thumbnail {
		return f.applyThumbnail()
	}
	pix, err := f.decode()
	if err != nil {
		return imaging.Image{}, err
	}
	full := pix.Rect.Size()
	switch {
	case !f.tile.Empty():
		area := f.tile.Intersect(pix.Rect)
		if area.Empty() {
			return imaging.Image{}, fmt.Errorf("load tile %v of %v: %w", f.tile, full, imaging.ErrInvalidSize)
		}
		tile, err := imaging.Crop(pix, area)
		if err != nil {
			return imaging.Image{}, err
		}
		return imaging.NewTile(tile, full, area), nil
	case f.target != (image.Point{}):
		plan := imaging.PlanPreview(full, f.target, f.minimum)
		preview, err := imaging.RenderPreview(pix, plan)
		if err != nil {
			return imaging.Image{}, err
		}
		return imaging.NewTile(preview, full, plan.Area), nil
	default:
		return imaging.New(pix), nil
	}
}

func (f *Load) applyThumbnail() (imaging.Image, error) {
	pix, _, err := imaging.Load(f.Path)
	if err != nil {
		return imaging.Image{}, err
	}
	if f.size == (image.Point{}) {
		// Only the thumbnail knows the geometry of this file.
		return imaging.New(pix), nil
	}
	plan := imaging.PlanPreview(f.size, f.target, f.minimum)
	if pix.Rect.Size() != plan.Size() {
		return imaging.Image{}, fmt.Errorf("%w: thumbnail is %v, want %v",
			imaging.ErrCorrupt, pix.Rect.Size(), plan.Size())
	}
	return imaging.NewTile(pix, f.size, plan.Area), nil
}

// decode loads the file, reusing the last decode for tile requests.
func (f *Load) decode() (*image.NRGBA, error) {
	if f.tile.Empty() {
		pix, _, err := imaging.Load(f.Path)
		return pix, err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("imaging: open: %w", err)
	}
	key := f.Path + "@" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
	if pix, ok := decoded.Get(key); ok {
		return pix, nil
	}
	pix, _, err := imaging.Load(f.Path)
	if err != nil {
		return nil, err
	}
	decoded.Set(key, pix)
	return pix, nil
}

// Save encodes an image into Path.
//
// Without bands, Apply encodes the whole input at once. After Bands has
// been called, every Apply writes the input as the next horizontal band
// and the file is finished when the last row has been written.
type Save struct {
	concrete
	identityGeometry

	Path    string
	Format  imaging.Format
	Quality int
	// Background, when set, flattens transparency for formats that
	// cannot store it.
	Background *color.NRGBA

	mu     sync.Mutex
	size   image.Point
	file   *os.File
	writer imaging.BandWriter
	rows   int
}

// NewSave returns a save filter writing to path.
func NewSave(path string, format imaging.Format, quality int) *Save {
	return &Save{Path: path, Format: format, Quality: quality}
}

func (f *Save) Name() string { return "save" }
func (f *Save) Role() Role   { return RoleSave }

func (f *Save) Options() Options {
	return Options{"path": f.Path, "format": string(f.Format), "quality": strconv.Itoa(f.Quality)}
}

// Bands switches the filter to band mode for an image of size.
func (f *Save) Bands(size image.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = size
}

func (f *Save) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	pix := img.Pix
	if f.Background != nil && !f.Format.HasAlpha() {
		pix = imaging.Flatten(pix, *f.Background)
	}
	if f.size == (image.Point{}) {
		if err := imaging.Save(f.Path, pix, f.Format, f.Quality); err != nil {
			return imaging.Image{}, err
		}
		return img, nil
	}
	if f.writer == nil {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return imaging.Image{}, fmt.Errorf("imaging: create: %w", err)
		}
		file, err := os.Create(filepath.Clean(f.Path))
		if err != nil {
			return imaging.Image{}, fmt.Errorf("imaging: create: %w", err)
		}
		w, err := imaging.NewBandWriter(file, f.Format, f.size, f.Quality)
		if err != nil {
			_ = file.Close()
			return imaging.Image{}, err
		}
		f.file, f.writer = file, w
	}
	if err := f.writer.WriteBand(pix); err != nil {
		return imaging.Image{}, err
	}
	f.rows += pix.Rect.Dy()
	if f.rows >= f.size.Y {
		err := f.writer.Close()
		if cerr := f.file.Close(); err == nil {
			err = cerr
		}
		f.file, f.writer = nil, nil
		if err != nil {
			return imaging.Image{}, err
		}
	}
	return img, nil
}

// Abort closes a partially written file and removes it.
func (f *Save) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		_ = f.file.Close()
		f.file, f.writer = nil, nil
	}
	_ = os.Remove(f.Path)
}

// Overlay copies a full resolution tile into a save band buffer.
// Unlike other filters it writes into Buffer; it returns its input.
type Overlay struct {
	concrete
	identityGeometry

	Buffer *image.NRGBA
	// Band is the part of the full image Buffer holds.
	Band image.Rectangle
}

// NewOverlay returns an overlay filter targeting buffer.
func NewOverlay(buffer *image.NRGBA, band image.Rectangle) *Overlay {
	return &Overlay{Buffer: buffer, Band: band}
}

func (f *Overlay) Name() string     { return "overlay" }
func (f *Overlay) Role() Role       { return RoleOverlay }
func (f *Overlay) Options() Options { return Options{} }

func (f *Overlay) Apply(tile imaging.Image) (imaging.Image, error) {
	if err := requirePixels(tile); err != nil {
		return imaging.Image{}, err
	}
	if tile.Size() != tile.Area.Size() {
		return imaging.Image{}, fmt.Errorf("overlay: tile %v has %v pixels: %w",
			tile.Area, tile.Size(), imaging.ErrInvalidSize)
	}
	imaging.Paste(f.Buffer, tile.Pix, tile.Area.Min.Sub(f.Band.Min))
	return tile, nil
}

// Scale renders the preview of a level from a larger rendering of the
// same command.
type Scale struct {
	concrete
	identityGeometry

	Target  image.Point
	Minimum image.Point
}

// NewScale returns a preview scale filter for a level.
func NewScale(target, minimum image.Point) *Scale {
	return &Scale{Target: target, Minimum: minimum}
}

func (f *Scale) Name() string { return "scale" }
func (f *Scale) Role() Role   { return RolePreviewScale }

func (f *Scale) Options() Options {
	return Options{
		"width":  strconv.Itoa(f.Target.X),
		"height": strconv.Itoa(f.Target.Y),
	}
}

// Apply crops the planned area out of img and resamples it. A source of
// the planned size is copied.
func (f *Scale) Apply(img imaging.Image) (imaging.Image, error) {
	if err := requirePixels(img); err != nil {
		return imaging.Image{}, err
	}
	plan := imaging.PlanPreview(img.FullSize, f.Target, f.Minimum)
	if plan.Area.Empty() || !plan.Area.In(img.Area) {
		return imaging.Image{}, fmt.Errorf("scale: source covers %v, need %v: %w",
			img.Area, plan.Area, imaging.ErrInvalidSize)
	}
	src := img.Pix
	if region := pixelRect(img, plan.Area); region != src.Rect {
		var err error
		if src, err = imaging.Crop(src, region); err != nil {
			return imaging.Image{}, err
		}
	}
	pix, err := imaging.Scale(src, plan.Size())
	if err != nil {
		return imaging.Image{}, err
	}
	return imaging.NewTile(pix, img.FullSize, plan.Area), nil
}

var (
	_ Filter = (*Load)(nil)
	_ Filter = (*Save)(nil)
	_ Filter = (*Overlay)(nil)
	_ Filter = (*Scale)(nil)
)
