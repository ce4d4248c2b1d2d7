package history

import (
	"image"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/tiles"
)

// Command is one node of an edit history.
type Command struct {
	id       uint64
	filter   filter.Filter
	index    int
	session  string
	fullSize image.Point
	tiles    *tiles.Map
	stack    *Stack
}

// ID returns the identity of the command, unique within an engine.
func (c *Command) ID() uint64 { return c.id }

// Filter returns the filter of the command; nil once deleted.
func (c *Command) Filter() filter.Filter { return c.filter }

// Index returns the position of the command in its stack.
func (c *Command) Index() int { return c.index }

// Session returns the session id, or "" outside sessions.
func (c *Command) Session() string { return c.session }

// FullSize returns the size of the full image after the command.
// It is empty when the size is unknown or the filter failed.
func (c *Command) FullSize() image.Point { return c.fullSize }

// SetFullSize records the real full image size, for example after the
// load filter decoded a file whose header could not be read up front.
func (c *Command) SetFullSize(size image.Point) { c.fullSize = size }

// IsLoad reports whether this is the first command of its stack.
func (c *Command) IsLoad() bool { return c.index == 0 }

// Prev returns the command before c, or nil for the load command.
func (c *Command) Prev() *Command {
	if c.index == 0 || c.stack == nil {
		return nil
	}
	return c.stack.cmds[c.index-1]
}

// ReplaceFilter swaps the filter of the command, keeping its identity.
// It is used when a generator resolves into its concrete filter; the
// full size and tile map are recomputed.
func (c *Command) ReplaceFilter(f filter.Filter) {
	c.filter = f
	if prev := c.Prev(); prev != nil {
		c.fullSize = f.NewFullImageSize(prev.fullSize)
	}
	c.releaseTiles()
}

// TileMap returns the tile map of the command, creating it on first use.
// It returns nil when tiling is disabled or the size is unknown.
func (c *Command) TileMap() *tiles.Map {
	if c.tiles != nil {
		return c.tiles
	}
	s := c.stack
	if s == nil || s.tiles == nil || s.tileSize == (image.Point{}) || c.fullSize == (image.Point{}) {
		return nil
	}
	if prev := c.Prev(); prev != nil {
		parent := prev.TileMap()
		if parent == nil {
			return nil
		}
		c.tiles = parent.Derive(c.filter)
	} else {
		c.tiles = s.tiles.NewMap(c.fullSize, s.tileSize)
	}
	return c.tiles
}

func (c *Command) releaseTiles() {
	if c.tiles != nil {
		c.tiles.Release()
		c.tiles = nil
	}
}
