package quill

import (
	"image"
	"path/filepath"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/imaging"
)

// Handle is a client reference to an open file. Handles of the same path
// share one file record; the record lives while any handle is open or a
// save is in progress.
//
// All methods are safe for concurrent use. Operations on a closed handle,
// or after the file has been removed, fail with ErrInvalidHandle.
type Handle struct {
	core     *Core
	id       uint64
	invalid  bool
	display  int
	priority Priority

	listeners []func(Event)
}

// lock takes the core mutex and returns the record of h, or
// ErrInvalidHandle. The mutex is held on success only.
func (h *Handle) lock() (*record, error) {
	c := h.core
	c.mu.Lock()
	if h.invalid || c.closed {
		c.mu.Unlock()
		return nil, ErrInvalidHandle
	}
	for _, r := range c.records {
		if r.id == h.id {
			return r, nil
		}
	}
	h.invalid = true
	c.mu.Unlock()
	return nil, ErrInvalidHandle
}

// IsValid reports whether the handle can still be used.
func (h *Handle) IsValid() bool {
	if _, err := h.lock(); err != nil {
		return false
	}
	h.core.unlock()
	return true
}

// Path returns the path of the file.
func (h *Handle) Path() string {
	r, err := h.lock()
	if err != nil {
		return ""
	}
	defer h.core.unlock()
	return r.path
}

// Format returns the file format.
func (h *Handle) Format() imaging.Format {
	r, err := h.lock()
	if err != nil {
		return imaging.FormatUnknown
	}
	defer h.core.unlock()
	return r.format
}

// State returns the file state. An invalid handle reports
// StateNonExistent.
func (h *Handle) State() State {
	r, err := h.lock()
	if err != nil {
		return StateNonExistent
	}
	defer h.core.unlock()
	return r.state
}

// OnEvent registers fn for the events of this file. Listeners run after
// the core lock is released and may call back into the core.
func (h *Handle) OnEvent(fn func(Event)) {
	h.core.mu.Lock()
	defer h.core.unlock()
	h.listeners = append(h.listeners, fn)
}

// SetDisplayLevel selects the highest level this handle wants computed;
// -1 requests nothing. Lowering the level of the file drops the cached
// images above it.
func (h *Handle) SetDisplayLevel(level int) error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	h.display = min(max(level, -1), h.core.fullLevel())
	h.core.handlesChanged(r)
	return nil
}

// DisplayLevel returns the level requested by this handle.
func (h *Handle) DisplayLevel() int {
	if _, err := h.lock(); err != nil {
		return -1
	}
	defer h.core.unlock()
	return h.display
}

// SetPriority sets the priority this handle requests for the file.
func (h *Handle) SetPriority(p Priority) error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	h.priority = min(max(p, PriorityLow), PriorityHigh)
	h.core.handlesChanged(r)
	return nil
}

// Priority returns the priority requested by this handle.
func (h *Handle) Priority() Priority {
	if _, err := h.lock(); err != nil {
		return PriorityLow
	}
	defer h.core.unlock()
	return h.priority
}

// SetViewport sets the part of the full image that tiles are computed
// for first. An empty viewport selects the whole image.
func (h *Handle) SetViewport(area image.Rectangle) error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	r.viewport = area.Canon()
	h.core.dispatch()
	return nil
}

// Viewport returns the viewport of the file.
func (h *Handle) Viewport() image.Rectangle {
	r, err := h.lock()
	if err != nil {
		return image.Rectangle{}
	}
	defer h.core.unlock()
	return r.viewport
}

// FullImageSize returns the full image size of the active state, or the
// zero point while unknown.
func (h *Handle) FullImageSize() image.Point {
	r, err := h.lock()
	if err != nil {
		return image.Point{}
	}
	defer h.core.unlock()
	if cur := r.stack.Current(); cur != nil {
		return cur.FullSize()
	}
	return image.Point{}
}

// ImageAt returns the image of the active state at level. With tiling
// the full level has no single image; see AllImageLevels.
func (h *Handle) ImageAt(level int) (imaging.Image, bool) {
	r, err := h.lock()
	if err != nil {
		return imaging.Image{}, false
	}
	defer h.core.unlock()
	return h.core.imageAt(r, level)
}

// Image returns the best image available for the display level: the
// image of the highest level not above it.
func (h *Handle) Image() (imaging.Image, bool) {
	r, err := h.lock()
	if err != nil {
		return imaging.Image{}, false
	}
	defer h.core.unlock()
	for l := r.display; l >= 0; l-- {
		if img, ok := h.core.imageAt(r, l); ok {
			return img, true
		}
	}
	return imaging.Image{}, false
}

// AllImageLevels returns every image of the active state up to the
// display level, smallest first: the cached previews followed by the
// full image or, with tiling, the ready tiles.
func (h *Handle) AllImageLevels() []imaging.Image {
	r, err := h.lock()
	if err != nil {
		return nil
	}
	defer h.core.unlock()
	c := h.core
	var out []imaging.Image
	for l := 0; l <= r.display; l++ {
		if l == c.fullLevel() && c.cfg.tiled() {
			if m := c.tileMap(r); m != nil {
				out = append(out, m.Ready()...)
			}
			continue
		}
		if img, ok := c.imageAt(r, l); ok {
			out = append(out, img)
		}
	}
	return out
}

// RunFilter appends f to the history of the file, dropping the redo
// tail. Filters that would leave an empty image are rejected with
// ErrDestructiveFilter.
func (h *Handle) RunFilter(f filter.Filter) error {
	return h.edit(func(r *record) error {
		if err := r.editable(); err != nil {
			return err
		}
		cmd, err := r.stack.Add(f)
		if err != nil {
			return err
		}
		h.core.log.Debug("quill: filter added", "path", r.path, "filter", f.Name(), "command", cmd.ID())
		return nil
	})
}

// Undo deactivates the last command, or the last closed session.
func (h *Handle) Undo() error {
	return h.edit(func(r *record) error { return r.stack.Undo() })
}

// Redo reactivates the next command, or the next closed session.
func (h *Handle) Redo() error {
	return h.edit(func(r *record) error { return r.stack.Redo() })
}

// Revert returns to the unedited image; Restore undoes the revert.
func (h *Handle) Revert() error {
	return h.edit(func(r *record) error { return r.stack.Revert() })
}

// Restore returns to the state active before Revert.
func (h *Handle) Restore() error {
	return h.edit(func(r *record) error { return r.stack.Restore() })
}

// DropRedoHistory permanently deletes the undone commands.
func (h *Handle) DropRedoHistory() error {
	return h.edit(func(r *record) error {
		r.stack.DropRedoHistory()
		return nil
	})
}

// StartSession starts recording a session and returns its id. Commands
// added until EndSession undo as one unit.
func (h *Handle) StartSession() (string, error) {
	r, err := h.lock()
	if err != nil {
		return "", err
	}
	defer h.core.unlock()
	return r.stack.StartSession(), nil
}

// EndSession stops recording.
func (h *Handle) EndSession() error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	r.stack.EndSession()
	return nil
}

// IsRecording reports whether a session is being recorded.
func (h *Handle) IsRecording() bool {
	return h.query(func(r *record) bool { return r.stack.IsRecording() })
}

// CanUndo reports whether Undo would succeed.
func (h *Handle) CanUndo() bool {
	return h.query(func(r *record) bool { return r.stack.CanUndo() })
}

// CanRedo reports whether Redo would succeed.
func (h *Handle) CanRedo() bool {
	return h.query(func(r *record) bool { return r.stack.CanRedo() })
}

// CanRevert reports whether Revert would succeed.
func (h *Handle) CanRevert() bool {
	return h.query(func(r *record) bool { return r.stack.CanRevert() })
}

// CanRestore reports whether Restore would succeed.
func (h *Handle) CanRestore() bool {
	return h.query(func(r *record) bool { return r.stack.CanRestore() })
}

// IsDirty reports whether the active state differs from the file on disk.
func (h *Handle) IsDirty() bool {
	return h.query(func(r *record) bool { return !r.stack.IsClean() && r.stack.IsDirty() })
}

// IsWaitingForData reports whether the file is a placeholder.
func (h *Handle) IsWaitingForData() bool {
	return h.query(func(r *record) bool { return r.state == StatePlaceholder })
}

// SetWaitingForData marks the file as a placeholder whose data has not
// arrived yet, or inspects it again once it has.
func (h *Handle) SetWaitingForData(waiting bool) error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	h.core.setWaiting(r, waiting)
	return nil
}

// Save writes the active state over the file. The first save backs up
// the unedited file so that Revert keeps working.
func (h *Handle) Save() error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	return h.core.startSave(r, r.path, r.format, false)
}

// SaveAs writes the active state to another file in format. The open
// file and its history are not changed. A format of FormatUnknown is
// derived from the extension.
func (h *Handle) SaveAs(path string, format imaging.Format) error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if format == imaging.FormatUnknown {
		format = imaging.FormatFromPath(abs)
	}
	if abs == r.path {
		return h.core.startSave(r, r.path, format, false)
	}
	return h.core.startSave(r, abs, format, true)
}

// Remove deletes the file, its backup, its history and its thumbnails.
// Every handle of the file becomes invalid.
func (h *Handle) Remove() error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	return h.core.remove(r)
}

// Refresh reads the file again, dropping its history and cached images.
func (h *Handle) Refresh() error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	if r.saving != nil {
		return ErrSaveInProgress
	}
	h.core.refresh(r)
	return nil
}

// Close releases the handle. The file is released with its last handle
// unless a save is in progress.
func (h *Handle) Close() error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	h.invalid = true
	r.detach(h)
	h.core.handlesChanged(r)
	if r.allowDelete() {
		h.core.destroy(r)
	}
	return nil
}

// edit runs an operation changing the active state of the file.
func (h *Handle) edit(op func(*record) error) error {
	r, err := h.lock()
	if err != nil {
		return err
	}
	defer h.core.unlock()
	if err := op(r); err != nil {
		return err
	}
	h.core.historyChanged(r)
	return nil
}

func (h *Handle) query(fn func(*record) bool) bool {
	r, err := h.lock()
	if err != nil {
		return false
	}
	defer h.core.unlock()
	return fn(r)
}
