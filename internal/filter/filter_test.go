package filter

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/gogpu/quill/internal/imaging"
)

// gradient returns a w x h image whose pixel (x, y) is unique.
func gradient(w, h int) *image.NRGBA {
	img := imaging.Blank(image.Pt(w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 40), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func grid(full, tile image.Point) []image.Rectangle {
	var rects []image.Rectangle
	for y := 0; y < full.Y; y += tile.Y {
		for x := 0; x < full.X; x += tile.X {
			rects = append(rects, image.Rect(x, y, min(x+tile.X, full.X), min(y+tile.Y, full.Y)))
		}
	}
	return rects
}

func TestNewFromRegistry(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"brightness", Options{"delta": "20"}},
		{"contrast", Options{"factor": "1.5"}},
		{"levels", Options{"low": "10", "high": "200"}},
		{"saturation", Options{"factor": "0.5"}},
		{"grayscale", nil},
		{"invert", nil},
		{"crop", Options{"x": "1", "y": "2", "width": "3", "height": "4"}},
		{"rotate", Options{"degrees": "270"}},
		{"flip", Options{"axis": "vertical"}},
		{"resize", Options{"width": "4", "height": "2"}},
		{"blur", Options{"radius": "2.5"}},
		{"autolevels", Options{"clip": "0.01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.name, tt.opts)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if f.Name() != tt.name {
				t.Errorf("Name = %q", f.Name())
			}
			// Options must recreate an equivalent filter.
			g, err := New(f.Name(), f.Options())
			if err != nil {
				t.Fatalf("recreate: %v", err)
			}
			for k, v := range f.Options() {
				if g.Options()[k] != v {
					t.Errorf("option %s: %q != %q", k, g.Options()[k], v)
				}
			}
		})
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New("nope", nil); !errors.Is(err, ErrUnknownFilter) {
		t.Errorf("unknown filter: %v", err)
	}
	if _, err := New("brightness", Options{"delta": "x"}); !errors.Is(err, ErrBadOption) {
		t.Errorf("bad option: %v", err)
	}
	if _, err := New("crop", Options{"x": "1"}); !errors.Is(err, ErrBadOption) {
		t.Errorf("missing crop option: %v", err)
	}
	if _, err := New("rotate", Options{"degrees": "45"}); !errors.Is(err, ErrBadOption) {
		t.Errorf("rotate 45: %v", err)
	}
}

func TestBrightness(t *testing.T) {
	src := imaging.Blank(image.Pt(2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{10, 100, 250, 255})
	src.SetNRGBA(1, 0, color.NRGBA{0, 0, 0, 128})

	out, err := NewBrightness(20).Apply(imaging.New(src))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.At(0, 0), (color.NRGBA{30, 120, 255, 255}); got != want {
		t.Errorf("pixel 0 = %v, want %v", got, want)
	}
	if got, want := out.At(1, 0), (color.NRGBA{20, 20, 20, 128}); got != want {
		t.Errorf("pixel 1 = %v, want %v", got, want)
	}
	if src.NRGBAAt(0, 0).R != 10 {
		t.Error("Apply modified its input")
	}
}

func TestColorMatrixMultiply(t *testing.T) {
	img := imaging.New(gradient(4, 3))
	a, b := NewBrightness(10), NewContrast(1.5)

	step, _ := a.Apply(img)
	step, _ = b.Apply(step)
	combined, _ := b.Multiply(a).Apply(img)

	for y := range 3 {
		for x := range 4 {
			p, q := step.At(x, y), combined.At(x, y)
			if diff(p.R, q.R) > 1 || diff(p.G, q.G) > 1 || diff(p.B, q.B) > 1 {
				t.Fatalf("(%d,%d): %v vs %v", x, y, p, q)
			}
		}
	}
}

func diff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestConcreteResolve(t *testing.T) {
	if _, err := NewInvert().Resolve(); !errors.Is(err, ErrNotGenerator) {
		t.Errorf("Resolve on concrete filter: %v", err)
	}
	if NewInvert().Kind() != KindConcrete {
		t.Error("invert is not concrete")
	}
}

func TestCropTileDerivation(t *testing.T) {
	full := image.Pt(10, 6)
	crops := []image.Rectangle{
		image.Rect(3, 1, 9, 5),
		image.Rect(0, 0, 10, 6),
		image.Rect(4, 4, 12, 9),
		image.Rect(1, 1, 2, 2),
	}
	for _, c := range crops {
		f := NewCrop(c)
		newFull := f.NewFullImageSize(full)
		covered := map[image.Point]int{}
		for _, r := range grid(full, image.Pt(4, 4)) {
			a := f.NewArea(full, r)
			if !a.In(image.Rectangle{Max: newFull}) {
				t.Fatalf("crop %v: tile %v maps to %v outside %v", c, r, a, newFull)
			}
			for y := a.Min.Y; y < a.Max.Y; y++ {
				for x := a.Min.X; x < a.Max.X; x++ {
					covered[image.Pt(x, y)]++
				}
			}
		}
		if len(covered) != newFull.X*newFull.Y {
			t.Errorf("crop %v: tiles cover %d pixels, want %d", c, len(covered), newFull.X*newFull.Y)
		}
		for p, n := range covered {
			if n != 1 {
				t.Errorf("crop %v: pixel %v covered %d times", c, p, n)
			}
		}
	}
}

func TestCropApplyTileMatchesFull(t *testing.T) {
	src := gradient(8, 4)
	img := imaging.New(src)
	f := NewCrop(image.Rect(1, 1, 7, 4))

	whole, err := f.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	if whole.Size() != image.Pt(6, 3) || whole.FullSize != image.Pt(6, 3) {
		t.Fatalf("crop size %v full %v", whole.Size(), whole.FullSize)
	}

	for _, r := range grid(image.Pt(8, 4), image.Pt(4, 2)) {
		pix, _ := imaging.Crop(src, r)
		out, err := f.Apply(imaging.NewTile(pix, img.FullSize, r))
		if err != nil {
			t.Fatal(err)
		}
		if out.Area != f.NewArea(img.FullSize, r) {
			t.Errorf("tile %v: area %v, want %v", r, out.Area, f.NewArea(img.FullSize, r))
		}
		if out.IsNull() {
			if !out.Area.Empty() {
				t.Errorf("tile %v: null image with area %v", r, out.Area)
			}
			continue
		}
		want, _ := imaging.Crop(whole.Pix, out.Area)
		if !imaging.EqualPixels(out.Pix, want) {
			t.Errorf("tile %v pixels differ from full crop", r)
		}
	}
}

func TestCropDestructive(t *testing.T) {
	f := NewCrop(image.Rect(20, 20, 30, 30))
	if got := f.NewFullImageSize(image.Pt(8, 8)); got != (image.Point{}) {
		t.Errorf("NewFullImageSize = %v, want empty", got)
	}
	if _, err := f.Apply(imaging.New(gradient(8, 8))); !errors.Is(err, imaging.ErrInvalidSize) {
		t.Errorf("Apply = %v", err)
	}
}

func TestRotate(t *testing.T) {
	src := gradient(4, 2)
	img := imaging.New(src)
	for _, deg := range []int{0, 90, 180, 270, -90} {
		f, err := NewRotate(deg)
		if err != nil {
			t.Fatal(err)
		}
		out, err := f.Apply(img)
		if err != nil {
			t.Fatal(err)
		}
		if out.Size() != f.NewFullImageSize(image.Pt(4, 2)) {
			t.Errorf("%d: size %v", deg, out.Size())
		}
		// Each tile, rotated alone, lands on its mapped area.
		for _, r := range grid(image.Pt(4, 2), image.Pt(2, 1)) {
			pix, _ := imaging.Crop(src, r)
			tile, err := f.Apply(imaging.NewTile(pix, img.FullSize, r))
			if err != nil {
				t.Fatal(err)
			}
			want, _ := imaging.Crop(out.Pix, tile.Area)
			if !imaging.EqualPixels(tile.Pix, want) {
				t.Errorf("%d: tile %v -> %v mismatch", deg, r, tile.Area)
			}
		}
	}

	f, _ := NewRotate(90)
	out, _ := f.Apply(img)
	// Top-left goes to top-right after a clockwise quarter turn.
	if out.At(1, 0) != src.NRGBAAt(0, 0) {
		t.Errorf("rotate 90: top-right = %v, want %v", out.At(1, 0), src.NRGBAAt(0, 0))
	}
}

func TestFlip(t *testing.T) {
	src := gradient(3, 2)
	h, _ := NewFlip(false).Apply(imaging.New(src))
	if h.At(0, 0) != src.NRGBAAt(2, 0) {
		t.Error("horizontal flip")
	}
	v, _ := NewFlip(true).Apply(imaging.New(src))
	if v.At(0, 0) != src.NRGBAAt(0, 1) {
		t.Error("vertical flip")
	}
	twice, _ := NewFlip(false).Apply(h)
	if !imaging.EqualPixels(twice.Pix, src) {
		t.Error("flipping twice is not the identity")
	}
}

func TestResizeAreasStayAdjacent(t *testing.T) {
	f := NewResize(image.Pt(7, 5))
	full := image.Pt(10, 6)
	covered := 0
	for _, r := range grid(full, image.Pt(3, 4)) {
		covered += f.NewArea(full, r).Dx() * f.NewArea(full, r).Dy()
	}
	if covered != 35 {
		t.Errorf("resized tiles cover %d pixels, want 35", covered)
	}
	out, err := f.Apply(imaging.New(gradient(10, 6)))
	if err != nil {
		t.Fatal(err)
	}
	if out.Size() != image.Pt(7, 5) {
		t.Errorf("size = %v", out.Size())
	}
}

func TestBlur(t *testing.T) {
	flat := imaging.Blank(image.Pt(6, 6))
	for i := range flat.Pix {
		flat.Pix[i] = 90
	}
	out, err := NewBlur(2).Apply(imaging.New(flat))
	if err != nil {
		t.Fatal(err)
	}
	if !imaging.EqualPixels(out.Pix, flat) {
		t.Error("blurring a flat image changed it")
	}

	src := gradient(6, 6)
	id, _ := NewBlur(0).Apply(imaging.New(src))
	if !imaging.EqualPixels(id.Pix, src) {
		t.Error("zero radius blur is not the identity")
	}
}

func TestBlurForArea(t *testing.T) {
	full := image.Pt(12, 10)
	src := gradient(full.X, full.Y)
	b := NewBlur(1)
	if b.Margin() != 3 {
		t.Fatalf("Margin = %d, want 3", b.Margin())
	}
	whole, err := b.Apply(imaging.New(src))
	if err != nil {
		t.Fatal(err)
	}

	for _, tile := range grid(full, image.Pt(4, 4)) {
		area := tile.Inset(-b.Margin()).Intersect(image.Rectangle{Max: full})
		pix, _ := imaging.Crop(src, area)
		got, err := b.ForArea(tile).Apply(imaging.NewTile(pix, full, area))
		if err != nil {
			t.Fatal(err)
		}
		if got.Area != tile || got.Size() != tile.Size() {
			t.Fatalf("tile %v: got area %v size %v", tile, got.Area, got.Size())
		}
		want, _ := imaging.Crop(whole.Pix, tile)
		if !imaging.EqualPixels(got.Pix, want) {
			t.Errorf("tile %v differs from the whole image blur", tile)
		}
	}
}

func TestGaussianKernelNormalized(t *testing.T) {
	for _, r := range []float64{0.5, 1, 3.3} {
		k := CachedGaussianKernel(r)
		if len(k)%2 != 1 {
			t.Errorf("radius %v: even kernel size %d", r, len(k))
		}
		var sum float32
		for _, v := range k {
			sum += v
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("radius %v: kernel sums to %v", r, sum)
		}
	}
}

func TestAutoLevels(t *testing.T) {
	f := NewAutoLevels(0)
	if f.Kind() != KindGenerator {
		t.Fatal("autolevels is not a generator")
	}
	if _, err := f.Resolve(); !errors.Is(err, ErrNotAnalyzed) {
		t.Errorf("Resolve before Apply: %v", err)
	}

	src := imaging.Blank(image.Pt(2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{50, 50, 50, 255})
	src.SetNRGBA(1, 0, color.NRGBA{150, 150, 150, 255})
	in := imaging.New(src)
	out, err := f.Apply(in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in) {
		t.Error("generator changed its input")
	}
	r, err := f.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if r.Name() != "levels" || r.Options()["low"] != "50" || r.Options()["high"] != "150" {
		t.Errorf("resolved to %s %v", r.Name(), r.Options())
	}
	stretched, _ := r.Apply(in)
	if stretched.At(0, 0).R != 0 || stretched.At(1, 0).R != 255 {
		t.Errorf("stretched = %v %v", stretched.At(0, 0), stretched.At(1, 0))
	}

	flat := NewAutoLevels(0)
	gray := imaging.Blank(image.Pt(2, 2))
	for i := range gray.Pix {
		gray.Pix[i] = 77
	}
	_, _ = flat.Apply(imaging.New(gray))
	if _, err := flat.Resolve(); !errors.Is(err, ErrFlatImage) {
		t.Errorf("flat image: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.png")
	src := gradient(8, 2)
	if err := imaging.Save(path, src, imaging.FormatPNG, 0); err != nil {
		t.Fatal(err)
	}
	load := NewLoad(path, imaging.FormatPNG, image.Pt(8, 2))

	full, err := load.Apply(imaging.Image{})
	if err != nil {
		t.Fatal(err)
	}
	if !imaging.EqualPixels(full.Pix, src) || full.IsTile() {
		t.Error("full load differs from source")
	}

	preview, err := load.ForPreview(image.Pt(4, 1), image.Point{}).Apply(imaging.Image{})
	if err != nil {
		t.Fatal(err)
	}
	if preview.Size() != image.Pt(4, 1) || preview.FullSize != image.Pt(8, 2) {
		t.Errorf("preview %v of %v", preview.Size(), preview.FullSize)
	}

	area := image.Rect(2, 0, 4, 2)
	tile, err := load.ForTile(area).Apply(imaging.Image{})
	if err != nil {
		t.Fatal(err)
	}
	want, _ := imaging.Crop(src, area)
	if tile.Area != area || !imaging.EqualPixels(tile.Pix, want) {
		t.Errorf("tile %v does not match source", tile.Area)
	}

	// A stored preview with the wrong size is reported corrupt.
	thumb := filepath.Join(dir, "thumb.png")
	if err := imaging.Save(thumb, gradient(3, 3), imaging.FormatPNG, 0); err != nil {
		t.Fatal(err)
	}
	_, err = load.FromThumbnail(thumb, image.Pt(4, 1), image.Point{}).Apply(imaging.Image{})
	if !errors.Is(err, imaging.ErrCorrupt) {
		t.Errorf("mismatched thumbnail: %v", err)
	}
	if err := imaging.Save(thumb, preview.Pix, imaging.FormatPNG, 0); err != nil {
		t.Fatal(err)
	}
	back, err := load.FromThumbnail(thumb, image.Pt(4, 1), image.Point{}).Apply(imaging.Image{})
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(preview) || back.FullSize != image.Pt(8, 2) {
		t.Error("thumbnail load differs from the preview it stored")
	}

	if _, err := NewLoad(filepath.Join(dir, "missing.png"), imaging.FormatPNG, image.Point{}).Apply(imaging.Image{}); err == nil {
		t.Error("loading a missing file succeeded")
	}
}

func TestSaveBandsWithOverlay(t *testing.T) {
	src := gradient(8, 4)
	path := filepath.Join(t.TempDir(), "out.png")
	save := NewSave(path, imaging.FormatPNG, 0)
	save.Bands(image.Pt(8, 4))

	for _, band := range []image.Rectangle{image.Rect(0, 0, 8, 2), image.Rect(0, 2, 8, 4)} {
		buf := imaging.Blank(band.Size())
		ov := NewOverlay(buf, band)
		for _, r := range grid(image.Pt(8, 4), image.Pt(4, 2)) {
			if !r.Overlaps(band) {
				continue
			}
			pix, _ := imaging.Crop(src, r)
			if _, err := ov.Apply(imaging.NewTile(pix, image.Pt(8, 4), r)); err != nil {
				t.Fatal(err)
			}
		}
		if save.rows >= 4 {
			t.Fatal("save done before the last band")
		}
		if _, err := save.Apply(imaging.NewTile(buf, image.Pt(8, 4), band)); err != nil {
			t.Fatal(err)
		}
	}
	if save.rows != 4 {
		t.Fatalf("wrote %d rows, want 4", save.rows)
	}
	got, _, err := imaging.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !imaging.EqualPixels(got, src) {
		t.Error("banded save differs from source")
	}
}

func TestSaveSingleShot(t *testing.T) {
	src := gradient(5, 3)
	path := filepath.Join(t.TempDir(), "out.bmp")
	if _, err := NewSave(path, imaging.FormatBMP, 0).Apply(imaging.New(src)); err != nil {
		t.Fatal(err)
	}
	got, format, err := imaging.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != imaging.FormatBMP || !imaging.EqualPixels(got, src) {
		t.Error("saved image differs")
	}
}

func TestScale(t *testing.T) {
	full := imaging.New(gradient(8, 2))
	out, err := NewScale(image.Pt(4, 1), image.Point{}).Apply(full)
	if err != nil {
		t.Fatal(err)
	}
	if out.Size() != image.Pt(4, 1) || out.Area != image.Rect(0, 0, 8, 2) {
		t.Errorf("scaled to %v covering %v", out.Size(), out.Area)
	}

	same, err := NewScale(image.Pt(16, 16), image.Point{}).Apply(full)
	if err != nil {
		t.Fatal(err)
	}
	if !same.Equal(full) {
		t.Error("scale to a larger target did not copy")
	}

	cropped, err := NewScale(image.Pt(2, 2), image.Pt(2, 2)).Apply(full)
	if err != nil {
		t.Fatal(err)
	}
	if cropped.Size() != image.Pt(2, 2) || !cropped.IsTile() {
		t.Errorf("cropped preview %v covering %v", cropped.Size(), cropped.Area)
	}
}
