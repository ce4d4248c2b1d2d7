package history

import (
	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/tiles"
)

// Save is the command writing a state of the history to disk. It runs
// beside the stack and is never undone.
type Save struct {
	cmd    *Command
	source *Command
	filter *filter.Save
	bands  *tiles.SaveMap
}

// Command returns the ad-hoc command carrying the save filter.
func (s *Save) Command() *Command { return s.cmd }

// Source returns the command whose output is being saved.
func (s *Save) Source() *Command { return s.source }

// Filter returns the save filter.
func (s *Save) Filter() *filter.Save { return s.filter }

// Bands returns the save map of a tiled save, or nil.
func (s *Save) Bands() *tiles.SaveMap { return s.bands }

// PrepareSave starts saving the active command with f. With tiling the
// save streams bands of at most budget bytes built from the active
// command's tiles.
func (s *Stack) PrepareSave(f *filter.Save, budget int) (*Save, error) {
	if s.save != nil {
		return nil, ErrSaveInProgress
	}
	src := s.Current()
	if src == nil {
		return nil, ErrNotLoaded
	}
	sv := &Save{
		cmd: &Command{
			id:       s.nextID(),
			filter:   f,
			index:    -1,
			fullSize: src.fullSize,
		},
		source: src,
		filter: f,
	}
	if m := src.TileMap(); m != nil {
		sv.bands = tiles.NewSaveMap(m, budget)
		f.Bands(src.fullSize)
	}
	s.save = sv
	return sv, nil
}

// Saving returns the save in progress, or nil.
func (s *Stack) Saving() *Save { return s.save }

// ConcludeSave finishes the save in progress. The saved index becomes
// the index of the saved command if it is still in the history, and the
// load command is re-pointed at original, which now holds the unedited
// image.
func (s *Stack) ConcludeSave(original string) error {
	if s.save == nil {
		return ErrNoSave
	}
	s.saved = -1
	if src := s.save.source; src.stack == s {
		s.saved = src.index + 1
	}
	if l, ok := s.cmds[0].filter.(*filter.Load); ok && original != "" {
		l.Path = original
	}
	s.save = nil
	return nil
}

// DetachSave ends a save written to another location. The history and
// its saved index are left untouched.
func (s *Stack) DetachSave() {
	s.save = nil
}

// AbortSave drops the save in progress and removes its partial output.
// A save filter still in flight is returned instead; the caller aborts it
// once its task has completed.
func (s *Stack) AbortSave() *filter.Save {
	if s.save == nil {
		return nil
	}
	f := s.save.filter
	s.save = nil
	if s.busy(f) {
		return f
	}
	f.Abort()
	return nil
}

// Rebase replaces the history with a single load command reading the
// saved file. The new load command takes over the identity of the active
// command so that its cached images stay valid. It is used after a save
// whose original could not be backed up.
func (s *Stack) Rebase(load *filter.Load) {
	cur := s.Current()
	if cur == nil {
		return
	}
	for _, c := range s.cmds {
		if c != cur {
			s.delete(c)
		}
	}
	cur.releaseTiles()
	load.SetSize(cur.fullSize)
	cur.filter, cur.index, cur.session = load, 0, ""
	s.cmds = append(s.cmds[:0], cur)
	clear(s.cmds[1:cap(s.cmds)])
	s.current, s.saved, s.revert = 1, 1, 0
}
