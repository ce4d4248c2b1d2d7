package quill

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/history"
	"github.com/gogpu/quill/internal/historyfile"
	"github.com/gogpu/quill/internal/imaging"
)

// State is the state of an open file.
type State int

// File states.
const (
	StateNormal State = iota
	StateNonExistent
	StateUnsupportedFormat
	StateExternallySupportedFormat
	StateReadOnly
	StatePlaceholder
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateNonExistent:
		return "non-existent"
	case StateUnsupportedFormat:
		return "unsupported-format"
	case StateExternallySupportedFormat:
		return "externally-supported-format"
	case StateReadOnly:
		return "read-only"
	case StatePlaceholder:
		return "placeholder"
	case StateSaving:
		return "saving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Priority orders the work of files of the same scheduling category.
type Priority int

// Priorities.
const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// thumbState caches whether a valid thumbnail exists for a level.
type thumbState uint8

const (
	thumbUnknown thumbState = iota
	thumbPresent
	thumbAbsent
	// thumbBroken stops retrying a level whose thumbnail cannot be
	// written.
	thumbBroken
)

// saveJob is the file side of a save in progress.
type saveJob struct {
	temp     string
	target   string
	format   imaging.Format
	metadata []byte
	// export is set for saves to another file; the history is left
	// untouched.
	export bool
	prev   State
}

// record is the registry entry of one file. All fields are guarded by
// the core mutex.
type record struct {
	id       uint64
	path     string
	original string
	format   imaging.Format
	state    State

	display  int
	priority Priority
	viewport image.Rectangle

	stack   *history.Stack
	thumbs  []thumbState
	saving  *saveJob
	handles []*Handle

	// external is set while the thumbnailer works on the file.
	external bool
	// modTime is the modification time of the file as last read or
	// written by the core.
	modTime time.Time
}

// computable reports whether images can be produced from the file data.
func (r *record) computable() bool {
	switch r.state {
	case StateNormal, StateReadOnly, StateSaving:
		return !r.stack.IsClean()
	default:
		return false
	}
}

// editable returns the error editing r would fail with, or nil.
func (r *record) editable() error {
	switch r.state {
	case StateNormal, StatePlaceholder, StateSaving:
		return nil
	case StateReadOnly:
		return ErrReadOnly
	case StateNonExistent:
		return ErrNotFound
	default:
		return ErrUnsupported
	}
}

// refreshHandles recomputes the display level and priority from the
// attached handles. It returns the previous display level.
func (r *record) refreshHandles() int {
	old := r.display
	r.display, r.priority = -1, PriorityLow
	for _, h := range r.handles {
		r.display = max(r.display, h.display)
		r.priority = max(r.priority, h.priority)
	}
	return old
}

func (r *record) detach(h *Handle) {
	r.handles = slices.DeleteFunc(r.handles, func(x *Handle) bool { return x == h })
}

// allowDelete reports whether the record can leave the registry.
func (r *record) allowDelete() bool {
	return len(r.handles) == 0 && r.saving == nil
}

// originalPath returns where the unedited file is backed up on first save.
func originalPath(path string) string {
	return filepath.Join(filepath.Dir(path), ".original", filepath.Base(path))
}

// newRecord registers a file. c.mu must be held.
func (c *Core) newRecord(path string, format imaging.Format) *record {
	c.nextRecord++
	r := &record{
		id:       c.nextRecord,
		path:     path,
		original: originalPath(path),
		format:   format,
		display:  -1,
		thumbs:   make([]thumbState, len(c.cfg.PreviewLevels)),
	}
	r.stack = c.newStack(r)
	c.records = append(c.records, r)
	c.byPath[path] = r
	return r
}

func (c *Core) newStack(r *record) *history.Stack {
	opts := history.Options{
		NextID:   c.nextCommandID,
		OnDelete: func(cmd *history.Command) { c.evict(r, cmd) },
		InFlight: func(f filter.Filter) bool { return c.inFlight != nil && c.inFlight.filter == f },
	}
	if c.cfg.tiled() {
		opts.Tiles, opts.TileSize = c.tiles, c.cfg.TileSize.Pt()
	}
	return history.New(opts)
}

// evict drops the cached images of a deleted command.
func (c *Core) evict(r *record, cmd *history.Command) {
	for _, ic := range c.caches {
		ic.Remove(r.id, cmd.ID())
	}
}

// setState changes the state of r and notifies its handles.
func (c *Core) setState(r *record, s State) {
	if r.state == s {
		return
	}
	c.log.Debug("quill: state", "path", r.path, "from", r.state.String(), "to", s.String())
	r.state = s
	c.emit(r, Event{Kind: EventStateChanged, State: s})
}

// inspect reads the file on disk and (re)builds the stack of r.
// c.mu must be held.
func (c *Core) inspect(r *record) {
	r.stack.Close()
	for _, ic := range c.caches {
		ic.RemoveOwner(r.id)
	}
	clear(r.thumbs)
	r.stack = c.newStack(r)

	info, err := os.Stat(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.setState(r, StateNonExistent)
		return
	case err != nil:
		c.raise(r, newError(SourceFile, r.path, err, false))
		c.setState(r, StateUnsupportedFormat)
		return
	case info.IsDir():
		c.raise(r, &Error{Kind: FormatUnsupported, Source: SourceFile, Path: r.path, Err: errors.New("is a directory")})
		c.setState(r, StateUnsupportedFormat)
		return
	}

	r.modTime = info.ModTime()

	if c.thumbs != nil && c.thumbs.HasFailed(r.path) {
		c.raise(r, &Error{Kind: FormatUnsupported, Source: SourceThumbnail, Path: r.path,
			Err: errors.New("thumbnail generation failed before")})
		c.setState(r, StateUnsupportedFormat)
		return
	}

	size, detected, err := imaging.ReadSize(r.path)
	if err != nil {
		e := newError(SourceFile, r.path, err, false)
		if e.Kind == FormatUnsupported && c.opts.thumbnailer != nil &&
			c.opts.thumbnailer.Supports(r.format.MIMEType()) {
			c.prepareExternal(r)
			c.setState(r, StateExternallySupportedFormat)
			return
		}
		c.raise(r, e)
		c.setState(r, StateUnsupportedFormat)
		return
	}
	if r.format == imaging.FormatUnknown {
		r.format = detected
	}
	if err := c.checkLimits(r, size); err != nil {
		c.raise(r, err)
		c.setState(r, StateUnsupportedFormat)
		return
	}

	load := filter.NewLoad(r.path, r.format, size)
	if err := r.stack.Load(load); err != nil {
		c.raise(r, newError(SourceFile, r.path, err, false))
		c.setState(r, StateUnsupportedFormat)
		return
	}
	c.recoverHistory(r, load)

	state := StateNormal
	if !writable(r.path) {
		state = StateReadOnly
	}
	c.setState(r, state)
}

// prepareExternal loads a stack for a file only the thumbnailer reads.
// Its load command has no size; thumbnails define it.
func (c *Core) prepareExternal(r *record) {
	_ = r.stack.Load(filter.NewLoad(r.path, r.format, image.Point{}))
}

func (c *Core) checkLimits(r *record, size image.Point) *Error {
	lim := c.cfg.ImageSizeLimit
	if lim.Width > 0 && size.X > lim.Width || lim.Height > 0 && size.Y > lim.Height {
		return &Error{Kind: ImageSizeLimit, Source: SourceFile, Path: r.path,
			Err: fmt.Errorf("%v exceeds %v", size, lim)}
	}
	if c.cfg.ImagePixelsLimit > 0 && size.X*size.Y > c.cfg.ImagePixelsLimit {
		return &Error{Kind: ImagePixelsLimit, Source: SourceFile, Path: r.path,
			Err: fmt.Errorf("%d pixels exceed %d", size.X*size.Y, c.cfg.ImagePixelsLimit)}
	}
	return nil
}

// recoverHistory replays a persisted history onto the freshly loaded
// stack of r.
func (c *Core) recoverHistory(r *record, load *filter.Load) {
	if c.history == nil {
		return
	}
	doc, err := c.history.Read(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		c.raise(r, newError(SourceEditHistory, c.history.Path(r.path), err, false))
		return
	}
	if doc.Source != r.path {
		return
	}
	path, size := load.Path, load.Size()
	if doc.Original != "" {
		// Edits saved before apply to the backed up original.
		orig, _, err := imaging.ReadSize(doc.Original)
		if err != nil {
			c.raise(r, newError(SourceOriginal, doc.Original, err, false))
			return
		}
		load.Path = doc.Original
		load.SetSize(orig)
	}
	if err := r.stack.Recover(load, doc.Snapshot); err != nil {
		load.Path = path
		load.SetSize(size)
		c.raise(r, newError(SourceEditHistory, c.history.Path(r.path), err, false))
		return
	}
	c.log.Info("quill: recovered edit history", "path", r.path, "commands", r.stack.Len())
}

// persist writes the edit history of r, or removes it when there is
// nothing to remember.
func (c *Core) persist(r *record) {
	if c.history == nil || r.stack.IsClean() {
		return
	}
	var err error
	if r.stack.Len() == 1 && r.stack.SavedIndex() == 1 {
		err = c.history.Remove(r.path)
	} else {
		doc := historyfile.Document{
			Version:  historyfile.Version,
			Source:   r.path,
			Format:   string(r.format),
			Snapshot: r.stack.Snapshot(),
		}
		if l, ok := r.stack.LoadCommand().Filter().(*filter.Load); ok && l.Path != r.path {
			doc.Original = l.Path
		}
		err = c.history.Write(doc)
	}
	if err != nil {
		c.raise(r, newError(SourceEditHistory, c.history.Path(r.path), err, true))
	}
}

// writable reports whether path can be opened for writing.
func writable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// destroy removes r from the registry. c.mu must be held.
func (c *Core) destroy(r *record) {
	r.stack.Close()
	for _, ic := range c.caches {
		ic.RemoveOwner(r.id)
	}
	c.records = slices.DeleteFunc(c.records, func(x *record) bool { return x == r })
	if c.byPath[r.path] == r {
		delete(c.byPath, r.path)
	}
	if c.watcher != nil {
		c.watcher.Remove(r.path)
	}
	c.log.Debug("quill: file released", "path", r.path)
}

// flavors returns the thumbnail flavors of the preview levels.
func (c *Core) flavors() []string {
	var out []string
	for _, l := range c.cfg.PreviewLevels {
		if l.Flavor != "" && !slices.Contains(out, l.Flavor) {
			out = append(out, l.Flavor)
		}
	}
	return out
}
