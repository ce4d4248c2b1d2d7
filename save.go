package quill

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/imaging"
)

// startSave begins writing the active state of r to target. An export
// writes another file and leaves the history alone. c.mu must be held.
func (c *Core) startSave(r *record, target string, format imaging.Format, export bool) error {
	if r.saving != nil {
		return ErrSaveInProgress
	}
	switch {
	case r.state == StateNormal:
	case r.state == StateReadOnly && export:
	default:
		if err := r.editable(); err != nil {
			return err
		}
		return ErrUnsupported
	}
	if !format.CanWrite() {
		return fmt.Errorf("%w: cannot write %s", ErrUnsupported, format.MIMEType())
	}
	if !export && !r.stack.IsDirty() {
		return nil
	}
	cur := r.stack.Current()
	if cur == nil || cur.FullSize() == (image.Point{}) {
		return ErrUnsupported
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("quill: save %s: %w", target, err)
	}
	temp := filepath.Join(dir, "."+uuid.NewString()+format.Extension())
	meta, err := c.opts.metadata.Read(r.path)
	if err != nil {
		c.log.Warn("quill: metadata unreadable", "path", r.path, "err", err)
		meta = nil
	}

	f := filter.NewSave(temp, format, c.cfg.JPEGQuality)
	bg := c.background
	f.Background = &bg
	if _, err := r.stack.PrepareSave(f, c.cfg.SaveBufferSize); err != nil {
		return err
	}
	r.saving = &saveJob{
		temp:     temp,
		target:   target,
		format:   format,
		metadata: meta,
		export:   export,
		prev:     r.state,
	}
	if !export {
		c.setState(r, StateSaving)
	}
	c.log.Info("quill: saving", "path", r.path, "target", target, "format", string(format))
	c.dispatch()
	return nil
}

// finishSave moves the written temporary file into place. Saving over
// the file first moves the file the history starts from aside, so that
// revert keeps working after the save.
func (c *Core) finishSave(r *record) {
	job := r.saving
	if len(job.metadata) > 0 {
		if err := c.opts.metadata.Write(job.temp, job.metadata); err != nil {
			c.raise(r, newError(SourceTemporary, job.temp, err, true))
		}
	}

	backedUp, backupFailed := false, false
	if !job.export {
		if lf, ok := r.stack.LoadCommand().Filter().(*filter.Load); ok && lf.Path == r.path {
			if err := backup(r.path, r.original); err != nil {
				backupFailed = true
				c.raise(r, newError(SourceOriginal, r.original, err, true))
			} else {
				backedUp = true
			}
		}
	}
	if err := os.Rename(job.temp, job.target); err != nil {
		if backedUp {
			_ = os.Rename(r.original, r.path)
		}
		c.abortSave(r, newError(SourceFile, job.target, err, true))
		return
	}

	switch {
	case job.export:
		r.stack.DetachSave()
	case backupFailed:
		size := r.stack.Saving().Source().FullSize()
		_ = r.stack.ConcludeSave("")
		r.stack.Rebase(filter.NewLoad(r.path, job.format, size))
	default:
		original := ""
		if backedUp {
			original = r.original
		}
		_ = r.stack.ConcludeSave(original)
	}

	if !job.export {
		r.format = job.format
		if info, err := os.Stat(r.path); err == nil {
			r.modTime = info.ModTime()
		}
		if c.thumbs != nil {
			_ = c.thumbs.Remove(r.path, c.flavors())
		}
		clear(r.thumbs)
		c.persist(r)
	}
	r.saving = nil
	c.log.Info("quill: saved", "path", r.path, "target", job.target)
	c.emit(r, Event{Kind: EventSaved, Path: job.target})
	if !job.export {
		c.setState(r, job.prev)
	}
	c.signalSaves()
	if r.allowDelete() {
		c.destroy(r)
	}
}

// abortSave drops the save in progress of r, reporting err when set.
func (c *Core) abortSave(r *record, err *Error) {
	job := r.saving
	if job == nil {
		return
	}
	if f := r.stack.AbortSave(); f != nil {
		c.aborted = append(c.aborted, f)
	} else {
		_ = removeFile(job.temp)
	}
	r.saving = nil
	if !job.export {
		c.setState(r, job.prev)
	}
	if err != nil {
		c.raise(r, err)
	}
	c.signalSaves()
	if r.allowDelete() && !c.closed {
		c.destroy(r)
	}
}

// signalSaves wakes WaitForSaves.
func (c *Core) signalSaves() {
	close(c.saveDone)
	c.saveDone = make(chan struct{})
}

// backup moves path to original.
func backup(path, original string) error {
	if err := os.MkdirAll(filepath.Dir(original), 0o755); err != nil {
		return err
	}
	return os.Rename(path, original)
}

// removeFile removes path, ignoring files that do not exist.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
