package quill

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/history"
	"github.com/gogpu/quill/internal/imaging"
)

// work runs tasks until the task channel is closed.
func (c *Core) work() {
	defer c.wg.Done()
	for t := range c.tasks {
		c.complete(t, t.run())
	}
}

// dispatch hands the next task to the worker unless one is in flight.
// c.mu must be held.
func (c *Core) dispatch() {
	if c.closed || c.opts.manual || c.inFlight != nil {
		return
	}
	t := c.pickNextTask()
	if t == nil {
		c.idle()
		return
	}
	c.start(t)
	c.tasks <- t
}

func (c *Core) start(t *task) {
	c.inFlight = t
	c.log.Debug("quill: task",
		"kind", t.kind.String(),
		"filter", t.filter.Name(),
		"command", t.command,
		"level", t.level,
		"tile", t.tile)
}

// ReleaseAndWait runs the next task on the calling goroutine and
// processes its result. It reports false when there was nothing to run.
// It is only available with WithManualDispatch.
func (c *Core) ReleaseAndWait(ctx context.Context) (bool, error) {
	if !c.opts.manual {
		return false, ErrNotManual
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	t := c.pickNextTask()
	if t == nil {
		c.idle()
		c.unlock()
		return false, nil
	}
	c.start(t)
	c.unlock()

	c.complete(t, t.run())
	return true, nil
}

// complete applies the result of t and dispatches the next task.
func (c *Core) complete(t *task, res result) {
	c.mu.Lock()
	defer c.unlock()
	c.inFlight = nil
	for _, f := range c.aborted {
		f.Abort()
	}
	c.aborted = nil
	if c.closed {
		c.discard(t)
		return
	}
	c.apply(t, res)
	c.dispatch()
}

func (c *Core) recordByID(id uint64) *record {
	for _, r := range c.records {
		if r.id == id {
			return r
		}
	}
	return nil
}

// discard drops a result nobody waits for anymore.
func (c *Core) discard(t *task) {
	c.log.Debug("quill: result discarded", "kind", t.kind.String(), "command", t.command)
	if t.kind == taskThumbnailSave {
		if s, ok := t.filter.(*filter.Save); ok {
			_ = removeFile(s.Path)
		}
	}
}

func (c *Core) apply(t *task, res result) {
	r := c.recordByID(t.record)
	if r == nil {
		c.discard(t)
		return
	}
	cmd := r.stack.Command(t.command)
	if cmd == nil {
		c.discard(t)
		return
	}
	if res.err != nil {
		c.failed(r, cmd, t, res.err)
		return
	}

	switch t.kind {
	case taskCompute, taskPreviewImprovement:
		if t.filter.Kind() == filter.KindGenerator && t.filter == cmd.Filter() {
			c.resolveGenerator(r, cmd)
			return
		}
		if cmd.IsLoad() {
			c.loadCompleted(r, cmd, res.img)
		}
		c.store(r, cmd, t, res.img)

	case taskThumbnailLoad:
		r.thumbs[t.level] = thumbPresent
		c.store(r, cmd, t, res.img)

	case taskThumbnailSave:
		tmp := t.filter.(*filter.Save).Path
		if err := os.Rename(tmp, t.dest); err != nil {
			_ = removeFile(tmp)
			r.thumbs[t.level] = thumbBroken
			c.raise(r, newError(SourceThumbnail, t.dest, err, true))
			return
		}
		r.thumbs[t.level] = thumbPresent
		c.log.Debug("quill: thumbnail saved", "path", r.path, "thumbnail", t.dest)

	case taskOverlay:
		if sv := r.stack.Saving(); sv != nil && sv.Command() == cmd {
			sv.Bands().MarkOverlaid(t.tile)
		}

	case taskSave:
		sv := r.stack.Saving()
		if sv == nil || sv.Command() != cmd {
			return
		}
		if bands := sv.Bands(); bands != nil {
			bands.Advance()
			if !bands.IsSaveComplete() {
				return
			}
		}
		c.finishSave(r)
	}
}

// store caches a computed image or tile of cmd.
func (c *Core) store(r *record, cmd *history.Command, t *task, img imaging.Image) {
	if t.tile >= 0 {
		m := cmd.TileMap()
		if m == nil {
			return
		}
		m.Set(t.tile, img)
	} else {
		c.caches[t.level].Insert(r.id, cmd.ID(), img, cmd == r.stack.Current())
	}
	c.emit(r, Event{Kind: EventImageAvailable, Level: t.level, Area: img.Area})
}

// loadCompleted adopts the real size of the decoded file.
func (c *Core) loadCompleted(r *record, cmd *history.Command, img imaging.Image) {
	if img.FullSize == (image.Point{}) || img.FullSize == cmd.FullSize() {
		return
	}
	c.log.Info("quill: size corrected", "path", r.path, "from", cmd.FullSize(), "to", img.FullSize)
	r.stack.RecalculateSizes(img.FullSize)
}

// resolveGenerator swaps an analyzed generator for its concrete filter.
// The analysis output is dropped; the command is computed again.
func (c *Core) resolveGenerator(r *record, cmd *history.Command) {
	resolved, err := cmd.Filter().Resolve()
	if err != nil {
		c.generatorFailed(r, cmd, err)
		return
	}
	c.log.Debug("quill: generator resolved", "path", r.path, "filter", resolved.Name(), "command", cmd.ID())
	cmd.ReplaceFilter(resolved)
	c.persist(r)
	c.emit(r, Event{Kind: EventHistoryChanged})
}

func (c *Core) generatorFailed(r *record, cmd *history.Command, err error) {
	c.raise(r, &Error{Kind: FilterGenerator, Source: SourceFile, Path: r.path,
		Err: fmt.Errorf("%s: %w", cmd.Filter().Name(), err)})
	if derr := r.stack.Discard(cmd); derr == nil {
		c.historyChanged(r)
	}
}

// failed handles a task error. Errors never stop the scheduler; the
// failing work is marked so that it is not retried.
func (c *Core) failed(r *record, cmd *history.Command, t *task, err error) {
	switch t.kind {
	case taskThumbnailLoad:
		flavor := c.level(t.level).Flavor
		c.log.Warn("quill: thumbnail unreadable", "path", r.path, "flavor", flavor, "err", err)
		if c.thumbs != nil {
			_ = c.thumbs.Delete(r.path, flavor)
		}
		r.thumbs[t.level] = thumbAbsent
		if r.state == StateExternallySupportedFormat {
			c.externalFailed(r, err)
		}

	case taskThumbnailSave:
		_ = removeFile(t.filter.(*filter.Save).Path)
		r.thumbs[t.level] = thumbBroken
		c.raise(r, newError(SourceThumbnail, t.dest, err, true))

	case taskOverlay, taskSave:
		path := r.path
		if r.saving != nil {
			path = r.saving.temp
		}
		c.abortSave(r, newError(SourceTemporary, path, err, true))

	default:
		switch {
		case t.filter.Kind() == filter.KindGenerator && t.filter == cmd.Filter():
			c.generatorFailed(r, cmd, err)
		case cmd.IsLoad():
			path := r.path
			if lf, ok := cmd.Filter().(*filter.Load); ok {
				path = lf.Path
			}
			c.raise(r, newError(SourceFile, path, err, false))
			cmd.SetFullSize(image.Point{})
			if c.thumbs != nil && !errors.Is(err, os.ErrNotExist) {
				if merr := c.thumbs.MarkFailed(r.path); merr != nil {
					c.log.Warn("quill: failure marker", "path", r.path, "err", merr)
				}
			}
			c.setState(r, StateUnsupportedFormat)
		default:
			c.raise(r, &Error{Kind: FilterFailed, Source: SourceFile, Path: r.path,
				Err: fmt.Errorf("%s: %w", t.filter.Name(), err)})
			cmd.SetFullSize(image.Point{})
		}
	}
}

// idle asks the external thumbnailer for a missing thumbnail when the
// scheduler has nothing else to do. One request runs at a time.
// c.mu must be held; the request itself is made after unlocking.
func (c *Core) idle() {
	th := c.opts.thumbnailer
	if th == nil || c.thumbs == nil || c.closed {
		return
	}
	for _, r := range c.records {
		if r.external {
			return
		}
	}
	for _, r := range c.records {
		if r.state != StateExternallySupportedFormat {
			continue
		}
		for l, lv := range c.cfg.PreviewLevels {
			if lv.Flavor == "" || r.display < l || c.thumbnailValid(r, l) {
				continue
			}
			if err := c.thumbs.EnsureDir(lv.Flavor); err != nil {
				continue
			}
			r.external = true
			id, level := r.id, l
			path, mime, flavor := r.path, r.format.MIMEType(), lv.Flavor
			c.log.Debug("quill: external thumbnail requested", "path", path, "flavor", flavor)
			c.afterUnlock = append(c.afterUnlock, func() {
				th.Request(path, mime, flavor, func(err error) { c.externalDone(id, level, err) })
			})
			return
		}
	}
}

func (c *Core) externalDone(id uint64, level int, err error) {
	c.mu.Lock()
	defer c.unlock()
	r := c.recordByID(id)
	if r == nil || c.closed {
		return
	}
	r.external = false
	if err == nil {
		r.thumbs[level] = thumbUnknown
		if !c.thumbnailValid(r, level) {
			err = errors.New("thumbnailer reported success without a thumbnail")
		}
	}
	if err != nil {
		c.externalFailed(r, err)
		return
	}
	c.dispatch()
}

// externalFailed gives up on a file only the thumbnailer could read.
func (c *Core) externalFailed(r *record, err error) {
	if c.thumbs != nil {
		if merr := c.thumbs.MarkFailed(r.path); merr != nil {
			c.log.Warn("quill: failure marker", "path", r.path, "err", merr)
		}
	}
	c.raise(r, &Error{Kind: FormatUnsupported, Source: SourceThumbnail, Path: r.path, Err: err})
	c.setState(r, StateUnsupportedFormat)
}
