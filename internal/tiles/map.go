package tiles

import (
	"image"
	"slices"
	"sync/atomic"

	"github.com/gogpu/quill/internal/cache"
	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/imaging"
)

// Key identifies a tile in the Cache.
type Key struct {
	Map   uint64
	Index int
}

// Cache is the bounded tile store shared by all maps.
type Cache struct {
	lru    *cache.LRU[Key, imaging.Image]
	nextID atomic.Uint64
}

// NewCache creates a tile cache holding at most capacity tiles.
func NewCache(capacity int) *Cache {
	return &Cache{lru: cache.NewLRU[Key, imaging.Image](capacity)}
}

// Capacity returns the maximum number of cached tiles.
func (c *Cache) Capacity() int { return c.lru.Capacity() }

// Stats returns the cache counters.
func (c *Cache) Stats() cache.Stats { return c.lru.Stats() }

// Map is the tile grid of one edit command.
//
// Rectangles are in full image coordinates. A rectangle may be empty when
// the command's filter dropped that part of the parent image; empty tiles
// need no computation.
type Map struct {
	id       uint64
	cache    *Cache
	fullSize image.Point
	rects    []image.Rectangle
}

// NewMap creates a fresh grid of tileSize rectangles over fullSize.
// Edge tiles are smaller when the size is not a multiple of the tile size.
func (c *Cache) NewMap(fullSize, tileSize image.Point) *Map {
	m := &Map{id: c.nextID.Add(1), cache: c, fullSize: fullSize}
	if fullSize.X <= 0 || fullSize.Y <= 0 || tileSize.X <= 0 || tileSize.Y <= 0 {
		return m
	}
	tilesX := (fullSize.X + tileSize.X - 1) / tileSize.X
	tilesY := (fullSize.Y + tileSize.Y - 1) / tileSize.Y
	m.rects = make([]image.Rectangle, 0, tilesX*tilesY)
	for ty := range tilesY {
		for tx := range tilesX {
			r := image.Rect(tx*tileSize.X, ty*tileSize.Y, (tx+1)*tileSize.X, (ty+1)*tileSize.Y)
			m.rects = append(m.rects, r.Intersect(image.Rectangle{Max: fullSize}))
		}
	}
	return m
}

// Derive creates the map of a command applying f to the image of m.
func (m *Map) Derive(f filter.Filter) *Map {
	child := &Map{
		id:       m.cache.nextID.Add(1),
		cache:    m.cache,
		fullSize: f.NewFullImageSize(m.fullSize),
		rects:    make([]image.Rectangle, len(m.rects)),
	}
	bounds := image.Rectangle{Max: child.fullSize}
	for i, r := range m.rects {
		if r.Empty() {
			continue
		}
		child.rects[i] = f.NewArea(m.fullSize, r).Intersect(bounds)
	}
	return child
}

// ID returns the identity of the map in the tile cache.
func (m *Map) ID() uint64 { return m.id }

// FullSize returns the size of the image the map tiles.
func (m *Map) FullSize() image.Point { return m.fullSize }

// Len returns the number of tiles, empty ones included.
func (m *Map) Len() int { return len(m.rects) }

// Rect returns the rectangle of tile i.
func (m *Map) Rect(i int) image.Rectangle { return m.rects[i] }

// Has reports whether tile i is cached, without refreshing it.
func (m *Map) Has(i int) bool {
	return m.cache.lru.Contains(Key{m.id, i})
}

// Tile returns tile i, or a null image carrying the full size and the
// tile area when the tile is not cached.
func (m *Map) Tile(i int) imaging.Image {
	if img, ok := m.cache.lru.Get(Key{m.id, i}); ok {
		return img
	}
	return imaging.Null(m.fullSize, m.rects[i])
}

// Set stores the pixels of tile i.
func (m *Map) Set(i int, img imaging.Image) {
	m.cache.lru.Set(Key{m.id, i}, img)
}

// Ready returns the cached tiles in index order.
func (m *Map) Ready() []imaging.Image {
	var out []imaging.Image
	for i := range m.rects {
		if img, ok := m.cache.lru.Peek(Key{m.id, i}); ok {
			out = append(out, img)
		}
	}
	return out
}

// Intersecting returns the non-empty tiles overlapping area, nearest to
// its center first.
func (m *Map) Intersecting(area image.Rectangle) []int {
	center := image.Pt((area.Min.X+area.Max.X)/2, (area.Min.Y+area.Max.Y)/2)
	var idx []int
	for i, r := range m.rects {
		if !r.Empty() && r.Overlaps(area) {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return imaging.DistanceToPoint(m.rects[a], center) - imaging.DistanceToPoint(m.rects[b], center)
	})
	return idx
}

// Prioritize returns the uncached tile overlapping area that is closest
// to its center, and refreshes every cached tile overlapping it. Only the
// nearest tiles fitting in the cache less reserve slots are considered,
// so that computing one tile never evicts another the same area needs.
func (m *Map) Prioritize(area image.Rectangle, reserve int) (int, bool) {
	idx := m.Intersecting(area)
	if n := max(1, m.cache.Capacity()-reserve); len(idx) > n {
		idx = idx[:n]
	}
	next, found := -1, false
	for _, i := range idx {
		if m.cache.lru.Touch(Key{m.id, i}) {
			continue
		}
		if !found {
			next, found = i, true
		}
	}
	return next, found
}

// Neighborhood returns the tiles overlapping tile i grown by margin on
// every side, and that grown area clipped to the image.
func (m *Map) Neighborhood(i, margin int) ([]int, image.Rectangle) {
	area := m.rects[i].Inset(-margin).Intersect(image.Rectangle{Max: m.fullSize})
	return m.Intersecting(area), area
}

// Missing refreshes the cached tiles among idx and returns the first one
// that is not cached.
func (m *Map) Missing(idx []int) (int, bool) {
	next, found := -1, false
	for _, i := range idx {
		if m.cache.lru.Touch(Key{m.id, i}) {
			continue
		}
		if !found {
			next, found = i, true
		}
	}
	return next, found
}

// Stitch copies the cached tiles idx into one tile covering area. It
// reports false when one of them is not cached.
func (m *Map) Stitch(idx []int, area image.Rectangle) (imaging.Image, bool) {
	dst := imaging.Blank(area.Size())
	for _, i := range idx {
		img, ok := m.cache.lru.Peek(Key{m.id, i})
		if !ok || img.Pix == nil {
			return imaging.Image{}, false
		}
		imaging.Paste(dst, img.Pix, img.Area.Min.Sub(area.Min))
	}
	return imaging.NewTile(dst, m.fullSize, area), true
}

// Release drops every cached tile of the map.
func (m *Map) Release() {
	id := m.id
	m.cache.lru.DeleteFunc(func(k Key, _ imaging.Image) bool { return k.Map == id })
}
