package tiles

import (
	"image"

	"github.com/gogpu/quill/internal/imaging"
)

// SaveMap streams the tiles of a Map into full-width bands whose pixel
// buffer stays within a byte budget.
type SaveMap struct {
	tiles      *Map
	bandHeight int
	band       image.Rectangle
	buffer     *image.NRGBA
	overlaid   map[int]bool
}

// NewSaveMap prepares a banded save of the image tiled by m.
func NewSaveMap(m *Map, budget int) *SaveMap {
	full := m.FullSize()
	h := 1
	if full.X > 0 {
		h = max(1, budget/(full.X*4))
	}
	s := &SaveMap{tiles: m, bandHeight: min(h, max(full.Y, 1))}
	s.setBand(0)
	return s
}

func (s *SaveMap) setBand(y int) {
	full := s.tiles.FullSize()
	s.band = image.Rect(0, y, full.X, min(y+s.bandHeight, full.Y))
	s.buffer = nil
	s.overlaid = make(map[int]bool)
}

// Map returns the tile map being saved.
func (s *SaveMap) Map() *Map { return s.tiles }

// Band returns the current band in full image coordinates.
func (s *SaveMap) Band() image.Rectangle { return s.band }

// Buffer returns the pixel buffer of the current band, allocating it on
// first use.
func (s *SaveMap) Buffer() *image.NRGBA {
	if s.buffer == nil && !s.band.Empty() {
		s.buffer = imaging.Blank(s.band.Size())
	}
	return s.buffer
}

// BandImage returns the current band as an image ready for the writer.
func (s *SaveMap) BandImage() imaging.Image {
	return imaging.NewTile(s.Buffer(), s.tiles.FullSize(), s.band)
}

// Pending returns the tiles of the current band not yet overlaid, nearest
// to the band center first.
func (s *SaveMap) Pending() []int {
	var out []int
	for _, i := range s.tiles.Intersecting(s.band) {
		if !s.overlaid[i] {
			out = append(out, i)
		}
	}
	return out
}

// MarkOverlaid records that tile i has been copied into the buffer.
func (s *SaveMap) MarkOverlaid(i int) { s.overlaid[i] = true }

// IsBufferComplete reports whether every tile of the band is overlaid.
func (s *SaveMap) IsBufferComplete() bool {
	return len(s.Pending()) == 0
}

// IsSaveComplete reports whether every band has been handed on.
func (s *SaveMap) IsSaveComplete() bool {
	return s.band.Empty()
}

// Advance moves to the next band.
func (s *SaveMap) Advance() {
	if s.band.Empty() {
		return
	}
	s.setBand(s.band.Max.Y)
}
