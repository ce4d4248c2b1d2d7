package quill

import (
	"errors"
	"image"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/history"
	"github.com/gogpu/quill/internal/imaging"
	"github.com/gogpu/quill/internal/thumbnail"
)

// pickNextTask selects the single task to run next, or nil when there is
// nothing to do. The first category with work wins:
//
//  1. thumbnail loads for files of normal or higher priority
//  2. thumbnail saves
//  3. previews of files of normal or higher priority
//  4. thumbnail loads for low priority files
//  5. previews of low priority files
//  6. preview improvements
//  7. saves in progress
//  8. full images of displayed files, by priority
//
// Inside a category levels go smallest first, then files in opening
// order. c.mu must be held.
func (c *Core) pickNextTask() *task {
	n := c.fullLevel()
	normal := func(r *record) bool { return r.priority >= PriorityNormal }
	low := func(r *record) bool { return r.priority < PriorityNormal }

	if t := c.eachPreview(normal, c.thumbnailLoadTask); t != nil {
		return t
	}
	if t := c.eachPreview(nil, c.thumbnailSaveTask); t != nil {
		return t
	}
	if t := c.eachPreview(normal, c.previewTask); t != nil {
		return t
	}
	if t := c.eachPreview(low, c.thumbnailLoadTask); t != nil {
		return t
	}
	if t := c.eachPreview(low, c.previewTask); t != nil {
		return t
	}
	if t := c.eachPreview(nil, c.previewImprovementTask); t != nil {
		return t
	}
	for _, r := range c.records {
		if t := c.saveTask(r); t != nil {
			return t
		}
	}

	displayed := make([]*record, 0, len(c.records))
	for _, r := range c.records {
		if r.display >= n {
			displayed = append(displayed, r)
		}
	}
	slices.SortStableFunc(displayed, func(a, b *record) int { return int(b.priority - a.priority) })
	for _, r := range displayed {
		if t := c.fullImageTask(r); t != nil {
			return t
		}
	}
	return nil
}

// eachPreview runs pick over the preview levels ascending and the files
// accepted by match in order, returning the first task.
func (c *Core) eachPreview(match func(*record) bool, pick func(*record, int) *task) *task {
	for l := range c.fullLevel() {
		for _, r := range c.records {
			if match != nil && !match(r) {
				continue
			}
			if t := pick(r, l); t != nil {
				return t
			}
		}
	}
	return nil
}

// thumbnailValid reports, through the per-level cache of r, whether a
// thumbnail newer than the file exists for level.
func (c *Core) thumbnailValid(r *record, level int) bool {
	flavor := c.level(level).Flavor
	if c.thumbs == nil || flavor == "" {
		return false
	}
	if r.thumbs[level] == thumbUnknown {
		r.thumbs[level] = thumbAbsent
		if c.thumbs.Valid(r.path, flavor) {
			r.thumbs[level] = thumbPresent
		}
	}
	return r.thumbs[level] == thumbPresent
}

func (c *Core) thumbnailLoadTask(r *record, level int) *task {
	switch r.state {
	case StateNormal, StateReadOnly, StateExternallySupportedFormat:
	default:
		return nil
	}
	if r.display < level || r.stack.IsClean() || r.stack.IsDirty() {
		return nil
	}
	cur := r.stack.Current()
	if _, ok := c.caches[level].Image(r.id, cur.ID()); ok {
		return nil
	}
	if !c.thumbnailValid(r, level) {
		return nil
	}
	lv := c.level(level)
	load := filter.NewLoad(r.path, r.format, cur.FullSize()).
		FromThumbnail(c.thumbs.Path(r.path, lv.Flavor), lv.Size.Pt(), lv.Minimum.Pt())
	return &task{
		kind:    taskThumbnailLoad,
		record:  r.id,
		command: cur.ID(),
		level:   level,
		tile:    -1,
		filter:  load,
	}
}

func (c *Core) thumbnailSaveTask(r *record, level int) *task {
	lv := c.level(level)
	if c.thumbs == nil || !c.cfg.ThumbnailCreation || lv.Flavor == "" {
		return nil
	}
	if r.state != StateNormal && r.state != StateReadOnly {
		return nil
	}
	if r.stack.IsDirty() || r.thumbs[level] == thumbBroken {
		return nil
	}
	cur := r.stack.Current()
	img, ok := c.caches[level].Image(r.id, cur.ID())
	if !ok || c.thumbnailValid(r, level) {
		return nil
	}
	plan := imaging.PlanPreview(cur.FullSize(), lv.Size.Pt(), lv.Minimum.Pt())
	if img.Size() != plan.Size() || img.Area != plan.Area {
		return nil
	}
	if err := c.thumbs.EnsureDir(lv.Flavor); err != nil {
		if !errors.Is(err, thumbnail.ErrDisabled) {
			c.raise(r, &Error{Kind: DirCreate, Source: SourceThumbnail,
				Path: filepath.Join(c.thumbs.Base(), lv.Flavor), Err: err})
		}
		return nil
	}
	dest := c.thumbs.Path(r.path, lv.Flavor)
	format := imaging.FormatFromPath(dest)
	if !format.CanWrite() {
		format = imaging.FormatPNG
	}
	temp := filepath.Join(filepath.Dir(dest), "."+uuid.NewString()+filepath.Ext(dest))
	return &task{
		kind:    taskThumbnailSave,
		record:  r.id,
		command: cur.ID(),
		level:   level,
		tile:    -1,
		filter:  filter.NewSave(temp, format, c.cfg.JPEGQuality),
		input:   img,
		dest:    dest,
	}
}

func (c *Core) previewTask(r *record, level int) *task {
	if !r.computable() || r.display < level {
		return nil
	}
	return c.newNormalTask(r, r.stack.Current(), level)
}

// levelGeometry returns the preview target and minimum of a level; the
// full level targets the full size of cmd.
func (c *Core) levelGeometry(level int, cmd *history.Command) (image.Point, image.Point) {
	if level >= c.fullLevel() {
		return cmd.FullSize(), image.Point{}
	}
	lv := c.level(level)
	return lv.Size.Pt(), lv.Minimum.Pt()
}

// newNormalTask returns the task bringing cmd one step closer to having
// an image at level, or nil when it has one or cannot get one.
func (c *Core) newNormalTask(r *record, cmd *history.Command, level int) *task {
	if cmd == nil || cmd.FullSize() == (image.Point{}) {
		return nil
	}
	if _, ok := c.caches[level].Image(r.id, cmd.ID()); ok {
		return nil
	}
	mk := func(target *history.Command, f filter.Filter, input imaging.Image) *task {
		return &task{
			kind:    taskCompute,
			record:  r.id,
			command: target.ID(),
			level:   level,
			tile:    -1,
			filter:  f,
			input:   input,
		}
	}

	// The level below already holds the full image: copy it.
	if level > 0 {
		below, ok := c.caches[level-1].Image(r.id, cmd.ID())
		if ok && below.Size() == cmd.FullSize() && !below.IsTile() {
			target, minimum := c.levelGeometry(level, cmd)
			return mk(cmd, filter.NewScale(target, minimum), below)
		}
	}

	for k := cmd.Prev(); k != nil; k = k.Prev() {
		img, ok := c.caches[level].Image(r.id, k.ID())
		if !ok {
			continue
		}
		next := r.stack.At(k.Index() + 1)
		if next.Filter() == nil || next.FullSize() == (image.Point{}) {
			return nil
		}
		return mk(next, next.Filter(), img)
	}

	load := r.stack.LoadCommand()
	lf, ok := load.Filter().(*filter.Load)
	if !ok || load.FullSize() == (image.Point{}) {
		return nil
	}
	if level >= c.fullLevel() {
		return mk(load, lf, imaging.Image{})
	}
	target, minimum := c.levelGeometry(level, load)
	return mk(load, lf.ForPreview(target, minimum), imaging.Image{})
}

// previewImprovementTask recomputes a preview of the wrong size from the
// smallest larger image of the same command.
func (c *Core) previewImprovementTask(r *record, level int) *task {
	if !r.computable() || r.display < level {
		return nil
	}
	cur := r.stack.Current()
	img, ok := c.caches[level].Image(r.id, cur.ID())
	if !ok {
		return nil
	}
	target, minimum := c.levelGeometry(level, cur)
	plan := imaging.PlanPreview(cur.FullSize(), target, minimum)
	if plan.Crop.Empty() {
		return nil
	}
	if img.Size() == plan.Size() && img.Area == plan.Area && img.FullSize == cur.FullSize() {
		return nil
	}
	for h := level + 1; h < len(c.caches); h++ {
		if h == c.fullLevel() && c.cfg.tiled() {
			break
		}
		src, ok := c.caches[h].Image(r.id, cur.ID())
		if !ok || src.FullSize != cur.FullSize() || !plan.Area.In(src.Area) {
			continue
		}
		if !covers(src, plan) {
			continue
		}
		return &task{
			kind:    taskPreviewImprovement,
			record:  r.id,
			command: cur.ID(),
			level:   level,
			tile:    -1,
			filter:  filter.NewScale(target, minimum),
			input:   src,
		}
	}
	return nil
}

// covers reports whether src has at least as many pixels over the plan
// area as the planned preview.
func covers(src imaging.Image, plan imaging.PreviewPlan) bool {
	ps, as := src.Size(), src.Area.Size()
	if as.X == 0 || as.Y == 0 {
		return false
	}
	w := plan.Area.Dx() * ps.X / as.X
	h := plan.Area.Dy() * ps.Y / as.Y
	return w >= plan.Size().X && h >= plan.Size().Y
}

// saveTask advances the save in progress of r.
func (c *Core) saveTask(r *record) *task {
	if r.saving == nil {
		return nil
	}
	sv := r.stack.Saving()
	if sv == nil {
		return nil
	}
	n := c.fullLevel()
	if sv.Bands() != nil {
		return c.pickTilingTask(r, sv.Source(), sv.Bands().Band(), sv)
	}
	img, ok := c.caches[n].Image(r.id, sv.Source().ID())
	if !ok {
		return c.newNormalTask(r, sv.Source(), n)
	}
	return &task{
		kind:    taskSave,
		record:  r.id,
		command: sv.Command().ID(),
		level:   n,
		tile:    -1,
		filter:  sv.Filter(),
		input:   img,
	}
}

func (c *Core) fullImageTask(r *record) *task {
	if !r.computable() {
		return nil
	}
	cur := r.stack.Current()
	if c.cfg.tiled() {
		return c.pickTilingTask(r, cur, viewportOf(r, cur.FullSize()), nil)
	}
	return c.newNormalTask(r, cur, c.fullLevel())
}

// pickTilingTask selects tiled work for cmd around area. During a save,
// ready tiles of the current band are overlaid first and a complete band
// is written before any tile is computed.
func (c *Core) pickTilingTask(r *record, cmd *history.Command, area image.Rectangle, sv *history.Save) *task {
	if cmd == nil {
		return nil
	}
	m := cmd.TileMap()
	if m == nil {
		return nil
	}
	n := c.fullLevel()
	if sv != nil {
		bands := sv.Bands()
		for _, i := range bands.Pending() {
			if !m.Has(i) {
				continue
			}
			return &task{
				kind:    taskOverlay,
				record:  r.id,
				command: sv.Command().ID(),
				level:   n,
				tile:    i,
				filter:  filter.NewOverlay(bands.Buffer(), bands.Band()),
				input:   m.Tile(i),
			}
		}
		if bands.IsSaveComplete() {
			return nil
		}
		if bands.IsBufferComplete() {
			return &task{
				kind:    taskSave,
				record:  r.id,
				command: sv.Command().ID(),
				level:   n,
				tile:    -1,
				filter:  sv.Filter(),
				input:   bands.BandImage(),
			}
		}
	}

	i, ok := -1, false
	if sv != nil {
		// Saves compute only tiles of the current band.
		for _, p := range sv.Bands().Pending() {
			if !m.Has(p) {
				i, ok = p, true
				break
			}
		}
	} else {
		i, ok = m.Prioritize(area, c.spreadReserve(cmd))
	}
	if !ok {
		return nil
	}
	return c.tileTask(r, cmd, i)
}

// tileTask computes tile i of cmd from the nearest earlier command with
// that tile cached. Spread filters need the neighbouring tiles of their
// input too; a missing one is computed first.
func (c *Core) tileTask(r *record, cmd *history.Command, i int) *task {
	mk := func(target *history.Command, f filter.Filter, input imaging.Image) *task {
		return &task{
			kind:    taskCompute,
			record:  r.id,
			command: target.ID(),
			level:   c.fullLevel(),
			tile:    i,
			filter:  f,
			input:   input,
		}
	}
	for k := cmd.Prev(); k != nil; k = k.Prev() {
		km := k.TileMap()
		if km == nil || !km.Has(i) {
			continue
		}
		next := r.stack.At(k.Index() + 1)
		if next.Filter() == nil || next.FullSize() == (image.Point{}) {
			return nil
		}
		sf, ok := next.Filter().(filter.Spread)
		if !ok || sf.Margin() <= 0 || next.TileMap() == nil {
			return mk(next, next.Filter(), km.Tile(i))
		}
		idx, area := km.Neighborhood(i, sf.Margin())
		if len(idx)+2 > c.tiles.Capacity() {
			// Too small a cache; the tile repeats its own edges.
			return mk(next, next.Filter(), km.Tile(i))
		}
		if j, missing := km.Missing(idx); missing {
			return c.tileTask(r, k, j)
		}
		input, ok := km.Stitch(idx, area)
		if !ok {
			return mk(next, next.Filter(), km.Tile(i))
		}
		return mk(next, sf.ForArea(next.TileMap().Rect(i)), input)
	}
	load := r.stack.LoadCommand()
	lf, ok := load.Filter().(*filter.Load)
	lm := load.TileMap()
	if !ok || lm == nil || lm.Rect(i).Empty() {
		return nil
	}
	return mk(load, lf.ForTile(lm.Rect(i)), imaging.Image{})
}

// spreadReserve returns the tile cache slots computing a tile of cmd
// needs besides the tiles on screen.
func (c *Core) spreadReserve(cmd *history.Command) int {
	ts := c.cfg.TileSize
	n := 0
	for k := cmd; k != nil; k = k.Prev() {
		sf, ok := k.Filter().(filter.Spread)
		if !ok || sf.Margin() <= 0 {
			continue
		}
		nx := 2*((sf.Margin()+ts.Width-1)/ts.Width) + 1
		ny := 2*((sf.Margin()+ts.Height-1)/ts.Height) + 1
		n += nx * ny
	}
	if n > 0 {
		n += 2
	}
	return n
}
