package quill

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gogpu/quill/internal/cache"
	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/historyfile"
	"github.com/gogpu/quill/internal/imagecache"
	"github.com/gogpu/quill/internal/imaging"
	"github.com/gogpu/quill/internal/thumbnail"
	"github.com/gogpu/quill/internal/tiles"
	"github.com/gogpu/quill/internal/watch"
)

// Core owns the open files, their histories and caches, and the worker
// computing images in the background.
//
// One task runs at a time. Client calls and task completions take the
// core mutex; events are delivered after it is released.
type Core struct {
	cfg  Config
	opts coreOptions
	log  *slog.Logger

	mu         sync.Mutex
	closed     bool
	records    []*record
	byPath     map[string]*record
	nextRecord uint64
	nextID     atomic.Uint64

	caches  []*imagecache.Cache
	tiles   *tiles.Cache
	history *historyfile.Store
	thumbs  *thumbnail.Store
	watcher *watch.Watcher
	// background flattens transparency in saves to formats without alpha.
	background color.NRGBA

	tasks    chan *task
	inFlight *task
	// aborted holds save filters dropped while in flight.
	aborted  []*filter.Save
	wg       sync.WaitGroup

	saveDone chan struct{}

	listeners      []func(Event)
	errorListeners []func(*Error)
	pending        []delivery
	afterUnlock    []func()

	evMu     sync.Mutex
	evQueue  []delivery
	draining bool
}

// New creates a Core. Unless WithManualDispatch is given, a worker
// goroutine is started; Close stops it.
func New(cfg Config, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Core{
		cfg:      cfg,
		opts:     o,
		log:      o.logger,
		byPath:   make(map[string]*record),
		saveDone: make(chan struct{}),
	}
	if c.log == nil {
		c.log = Logger()
	}
	c.background, _ = parseColor(cfg.Background)
	for range len(cfg.PreviewLevels) + 1 {
		c.caches = append(c.caches, imagecache.New(cfg.ImageCacheSize))
	}
	if cfg.tiled() {
		c.tiles = tiles.NewCache(cfg.TileCacheSize)
	}
	if cfg.EditHistoryPath != "" {
		store, err := historyfile.NewStore(cfg.EditHistoryPath)
		if err != nil {
			return nil, err
		}
		c.history = store
	}
	if cfg.ThumbnailBasePath != "" {
		c.thumbs = thumbnail.NewStore(cfg.ThumbnailBasePath, cfg.ThumbnailExtension)
	}
	if cfg.WatchFiles {
		w, err := watch.New(cfg.WatchDebounce, c.fileChanged, func(err error) {
			c.log.Warn("quill: watcher", "err", err)
		})
		if err != nil {
			c.closeStores()
			return nil, err
		}
		c.watcher = w
	}
	if !o.manual {
		c.tasks = make(chan *task, 1)
		c.wg.Add(1)
		go c.work()
	}
	c.log.Info("quill: core started",
		"levels", len(cfg.PreviewLevels)+1,
		"tiled", cfg.tiled(),
		"manual", o.manual)
	return c, nil
}

// Config returns the configuration of the core.
func (c *Core) Config() Config { return c.cfg }

// Open returns a handle to the file at path, registering it on first
// use. format may be FormatUnknown to detect it. Problems with the file
// itself do not fail Open: they are reported as errors to the global
// listeners and reflected in the handle State.
func (c *Core) Open(path string, format imaging.Format) (*Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("quill: open %s: %w", path, err)
	}
	if format == imaging.FormatUnknown {
		format = imaging.FormatFromPath(abs)
	}

	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return nil, ErrClosed
	}
	r, ok := c.byPath[abs]
	if !ok {
		r = c.newRecord(abs, format)
		c.inspect(r)
		if c.watcher != nil {
			if err := c.watcher.Add(abs); err != nil {
				c.log.Warn("quill: watch", "path", abs, "err", err)
			}
		}
		c.log.Info("quill: file opened", "path", abs, "state", r.state.String())
	}
	h := &Handle{core: c, id: r.id, display: -1, priority: PriorityNormal}
	r.handles = append(r.handles, h)
	c.handlesChanged(r)
	return h, nil
}

// OnEvent registers fn for the events of every file.
func (c *Core) OnEvent(fn func(Event)) {
	c.mu.Lock()
	defer c.unlock()
	c.listeners = append(c.listeners, fn)
}

// OnError registers fn for every error raised by background work,
// including errors not tied to an open handle.
func (c *Core) OnError(fn func(*Error)) {
	c.mu.Lock()
	defer c.unlock()
	c.errorListeners = append(c.errorListeners, fn)
}

// ThumbnailPath returns where the thumbnail of path for flavor is kept,
// or "" when thumbnails are disabled. External thumbnailers write there.
func (c *Core) ThumbnailPath(path, flavor string) string {
	if c.thumbs == nil {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return c.thumbs.Path(abs, flavor)
}

// WaitForSaves blocks until no save is in progress or ctx is done. Saves
// keep running when ctx expires. In manual dispatch mode saves only make
// progress through ReleaseAndWait.
func (c *Core) WaitForSaves(ctx context.Context) error {
	for {
		c.mu.Lock()
		busy := false
		for _, r := range c.records {
			if r.saving != nil {
				busy = true
				break
			}
		}
		done := c.saveDone
		c.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats reports cache occupancy.
type Stats struct {
	Files  int
	Levels []imagecache.Stats
	Tiles  cache.Stats
}

// Stats returns the current cache statistics.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.unlock()
	s := Stats{Files: len(c.records)}
	for _, ic := range c.caches {
		s.Levels = append(s.Levels, ic.Stats())
	}
	if c.tiles != nil {
		s.Tiles = c.tiles.Stats()
	}
	return s
}

// Close stops the worker, aborts saves in progress and releases every
// file. Handles become invalid.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	if c.tasks != nil {
		close(c.tasks)
	}
	c.mu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	for _, r := range c.records {
		if r.saving != nil {
			c.abortSave(r, nil)
		}
		c.persist(r)
		r.stack.Close()
		for _, h := range r.handles {
			h.invalid = true
		}
	}
	c.records = nil
	clear(c.byPath)
	c.unlock()

	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	c.closeStores()
	c.log.Info("quill: core closed")
	return err
}

func (c *Core) closeStores() {
	if c.history != nil {
		c.history.Close()
	}
}

func (c *Core) nextCommandID() uint64 {
	return c.nextID.Add(1)
}

// fullLevel returns the level of the full image.
func (c *Core) fullLevel() int {
	return len(c.cfg.PreviewLevels)
}

func (c *Core) level(l int) PreviewLevel {
	return c.cfg.PreviewLevels[l]
}

// imageAt returns the cached image of the active command of r at level.
func (c *Core) imageAt(r *record, level int) (imaging.Image, bool) {
	if level < 0 || level >= len(c.caches) {
		return imaging.Image{}, false
	}
	cur := r.stack.Current()
	if cur == nil {
		return imaging.Image{}, false
	}
	return c.caches[level].Image(r.id, cur.ID())
}

// tileMap returns the tile map of the active command of r, or nil.
func (c *Core) tileMap(r *record) *tiles.Map {
	cur := r.stack.Current()
	if cur == nil || !c.cfg.tiled() {
		return nil
	}
	return cur.TileMap()
}

// handlesChanged applies the display level and priority of the handles
// of r. c.mu must be held.
func (c *Core) handlesChanged(r *record) {
	old := r.refreshHandles()
	if r.display < old {
		// Images above the display level are no longer needed.
		for l := max(r.display+1, 0); l <= old && l < len(c.caches); l++ {
			c.caches[l].Purge(r.id)
		}
		if r.display < c.fullLevel() {
			if m := c.tileMap(r); m != nil {
				m.Release()
			}
		}
	}
	c.dispatch()
}

// historyChanged re-protects the images of the new active command and
// persists the history. c.mu must be held.
func (c *Core) historyChanged(r *record) {
	c.protectCurrent(r)
	c.persist(r)
	c.emit(r, Event{Kind: EventHistoryChanged})
	c.dispatch()
}

// protectCurrent makes the images of the active command the protected
// entries of r.
func (c *Core) protectCurrent(r *record) {
	cur := r.stack.Current()
	for _, ic := range c.caches {
		if cur == nil || !ic.Protect(r.id, cur.ID()) {
			ic.Unprotect(r.id)
		}
	}
}

// refresh reads the file of r again. c.mu must be held.
func (c *Core) refresh(r *record) {
	c.log.Info("quill: refresh", "path", r.path)
	if r.state == StateSaving || r.saving != nil {
		return
	}
	r.external = false
	c.inspect(r)
	c.emit(r, Event{Kind: EventHistoryChanged})
	c.dispatch()
}

// setWaiting switches r between placeholder and inspected states.
func (c *Core) setWaiting(r *record, waiting bool) {
	if waiting {
		if r.state == StatePlaceholder || r.state == StateSaving || r.saving != nil {
			return
		}
		r.stack.SetWaitingForData(true)
		c.setState(r, StatePlaceholder)
		return
	}
	if r.state != StatePlaceholder {
		return
	}
	r.stack.SetWaitingForData(false)
	size, _, err := imaging.ReadSize(r.path)
	if err != nil {
		// The data did not arrive after all: start over from the disk.
		c.inspect(r)
		c.dispatch()
		return
	}
	if lerr := c.checkLimits(r, size); lerr != nil {
		c.raise(r, lerr)
		c.setState(r, StateUnsupportedFormat)
		return
	}
	if r.stack.IsClean() {
		c.inspect(r)
	} else {
		r.stack.RecalculateSizes(size)
		state := StateNormal
		if !writable(r.path) {
			state = StateReadOnly
		}
		c.setState(r, state)
	}
	c.dispatch()
}

// fileChanged handles file-system events for open files.
func (c *Core) fileChanged(ev watch.Event) {
	c.mu.Lock()
	defer c.unlock()
	r, ok := c.byPath[ev.Path]
	if !ok || c.closed || r.saving != nil || r.state == StatePlaceholder {
		return
	}
	if ev.Op == watch.Create || ev.Op == watch.Modify {
		if info, err := os.Stat(r.path); err == nil && info.ModTime().Equal(r.modTime) {
			// Our own save.
			return
		}
	}
	c.log.Debug("quill: file changed", "path", ev.Path, "op", string(ev.Op))
	switch ev.Op {
	case watch.Delete, watch.Rename:
		for _, ic := range c.caches {
			ic.RemoveOwner(r.id)
		}
		r.stack.Close()
		r.stack = c.newStack(r)
		c.setState(r, StateNonExistent)
	default:
		c.refresh(r)
	}
}

// remove deletes the file of r and everything derived from it.
func (c *Core) remove(r *record) error {
	if r.saving != nil {
		return ErrSaveInProgress
	}
	var errs []error
	for _, p := range []string{r.path, r.original} {
		if err := removeFile(p); err != nil {
			errs = append(errs, err)
		}
	}
	if c.history != nil {
		if err := c.history.Remove(r.path); err != nil {
			errs = append(errs, err)
		}
	}
	if c.thumbs != nil {
		if err := c.thumbs.Remove(r.path, c.flavors()); err != nil {
			errs = append(errs, err)
		}
		_ = c.thumbs.ClearFailed(r.path)
	}
	if err := errors.Join(errs...); err != nil {
		c.raise(r, newError(SourceFile, r.path, err, true))
	}
	c.log.Info("quill: file removed", "path", r.path)

	r.stack.Close()
	r.stack = c.newStack(r)
	c.setState(r, StateNonExistent)
	c.emit(r, Event{Kind: EventRemoved})
	for _, h := range r.handles {
		h.invalid = true
	}
	r.handles = nil
	c.destroy(r)
	c.dispatch()
	return nil
}

// viewportOf returns the area tiles are computed for first.
func viewportOf(r *record, size image.Point) image.Rectangle {
	full := image.Rectangle{Max: size}
	if v := r.viewport.Intersect(full); !v.Empty() {
		return v
	}
	return full
}
