package history

import (
	"fmt"
	"image"

	"github.com/gogpu/quill/internal/filter"
)

// Entry is the persisted form of one edit command.
type Entry struct {
	Name    string         `yaml:"name"`
	Options filter.Options `yaml:"options,omitempty"`
	Session string         `yaml:"session,omitempty"`
}

// Snapshot is the persisted form of a stack, without its load command.
type Snapshot struct {
	Commands []Entry `yaml:"commands"`
	Current  int     `yaml:"current"`
	Saved    int     `yaml:"saved"`
	Revert   int     `yaml:"revert"`
}

// Snapshot returns the persisted form of the stack.
func (s *Stack) Snapshot() Snapshot {
	snap := Snapshot{Current: s.current, Saved: s.saved, Revert: s.revert}
	for _, c := range s.cmds[min(1, len(s.cmds)):] {
		if c.filter == nil {
			continue
		}
		snap.Commands = append(snap.Commands, Entry{
			Name:    c.filter.Name(),
			Options: c.filter.Options(),
			Session: c.session,
		})
	}
	return snap
}

// Recover rebuilds the stack from load and a snapshot. Commands already
// present at the same index keep their identity, so that tasks in flight
// for them still resolve.
func (s *Stack) Recover(load filter.Filter, snap Snapshot) error {
	fs := make([]filter.Filter, len(snap.Commands))
	for i, e := range snap.Commands {
		f, err := filter.New(e.Name, e.Options)
		if err != nil {
			return fmt.Errorf("history: recover command %d: %w", i+1, err)
		}
		fs[i] = f
	}

	ids := make([]uint64, len(s.cmds))
	for i, c := range s.cmds {
		ids[i] = c.id
	}
	old := s.cmds
	s.cmds = nil
	for _, c := range old {
		if c.index == 0 {
			// The load output does not depend on the snapshot.
			c.releaseTiles()
			continue
		}
		s.delete(c)
	}

	all := append([]filter.Filter{load}, fs...)
	for i, f := range all {
		c := s.newCommand(f)
		if i < len(ids) {
			c.id = ids[i]
		}
		if i > 0 {
			c.session = snap.Commands[i-1].Session
			c.fullSize = f.NewFullImageSize(s.cmds[i-1].fullSize)
		} else {
			c.fullSize = f.NewFullImageSize(image.Point{})
		}
		s.cmds = append(s.cmds, c)
	}

	s.current = clampIndex(snap.Current, 1, len(s.cmds))
	s.saved = snap.Saved
	if s.saved > len(s.cmds) {
		s.saved = -1
	}
	s.revert = 0
	if snap.Revert > 1 && snap.Revert <= len(s.cmds) {
		s.revert = snap.Revert
	}
	return nil
}

func clampIndex(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
