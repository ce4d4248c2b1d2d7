// Package history implements the edit history of one file: an ordered
// list of commands with undo, redo, sessions, revert and save
// bookkeeping.
//
// The stack never computes pixels. It keeps the commands, their full
// image sizes and their tile maps, and reports deleted commands to its
// owner so that cached images can be evicted.
package history

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/tiles"
)

// Stack errors.
var (
	// ErrNilFilter is returned when adding an invalidated operation.
	ErrNilFilter = errors.New("history: nil filter")

	// ErrDestructiveFilter is returned when a filter would leave an empty
	// image.
	ErrDestructiveFilter = errors.New("history: filter produces an empty image")

	// ErrNotLoaded is returned by operations needing a load command.
	ErrNotLoaded = errors.New("history: stack has no load command")

	// ErrNothingToUndo is returned by Undo and Revert at the load command.
	ErrNothingToUndo = errors.New("history: nothing to undo")

	// ErrNothingToRedo is returned by Redo at the end of the history.
	ErrNothingToRedo = errors.New("history: nothing to redo")

	// ErrNothingToRestore is returned by Restore without a prior Revert.
	ErrNothingToRestore = errors.New("history: nothing to restore")

	// ErrSaveInProgress is returned by PrepareSave while saving.
	ErrSaveInProgress = errors.New("history: save in progress")

	// ErrNoSave is returned by ConcludeSave without PrepareSave.
	ErrNoSave = errors.New("history: no save in progress")
)

// Options configures a Stack.
type Options struct {
	// NextID allocates command identities. Required.
	NextID func() uint64
	// OnDelete is called for every command removed from the stack.
	OnDelete func(*Command)
	// Tiles is the shared tile cache; nil disables tiling.
	Tiles *tiles.Cache
	// TileSize is the tile grid size; zero disables tiling.
	TileSize image.Point
	// InFlight reports whether f is being applied by the worker. Such a
	// filter is not dropped with its command.
	InFlight func(f filter.Filter) bool
}

// Stack is the edit history of one file. It is not safe for concurrent
// use.
type Stack struct {
	cmds      []*Command
	current   int
	saved     int
	revert    int
	recording string
	waiting   bool
	save      *Save

	nextID   func() uint64
	onDelete func(*Command)
	inFlight func(filter.Filter) bool
	tiles    *tiles.Cache
	tileSize image.Point
	entropy  *rand.Rand
}

// New creates an empty stack.
func New(opts Options) *Stack {
	if opts.NextID == nil {
		var n uint64
		opts.NextID = func() uint64 { n++; return n }
	}
	return &Stack{
		nextID:   opts.NextID,
		onDelete: opts.OnDelete,
		inFlight: opts.InFlight,
		tiles:    opts.Tiles,
		tileSize: opts.TileSize,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load resets the stack to a single load command.
func (s *Stack) Load(f filter.Filter) error {
	if f == nil {
		return ErrNilFilter
	}
	s.truncate(0)
	c := s.newCommand(f)
	c.fullSize = f.NewFullImageSize(image.Point{})
	s.cmds = append(s.cmds, c)
	s.current, s.saved, s.revert = 1, 1, 0
	return nil
}

func (s *Stack) newCommand(f filter.Filter) *Command {
	return &Command{
		id:      s.nextID(),
		filter:  f,
		index:   len(s.cmds),
		session: s.recording,
		stack:   s,
	}
}

// Add appends a command after the active one, dropping the redo tail.
// A filter that leaves an empty image is rejected with
// ErrDestructiveFilter and the history is left without the command.
func (s *Stack) Add(f filter.Filter) (*Command, error) {
	if f == nil {
		return nil, ErrNilFilter
	}
	if len(s.cmds) == 0 {
		return nil, ErrNotLoaded
	}
	prev := s.cmds[s.current-1]
	if !s.waiting && prev.fullSize != (image.Point{}) {
		if size := f.NewFullImageSize(prev.fullSize); size.X <= 0 || size.Y <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDestructiveFilter, f.Name())
		}
	}
	s.truncate(s.current)
	c := s.newCommand(f)
	if !s.waiting {
		c.fullSize = f.NewFullImageSize(prev.fullSize)
	}
	s.cmds = append(s.cmds, c)
	s.current = len(s.cmds)
	s.revert = 0
	return c, nil
}

// truncate deletes the commands from index n on.
func (s *Stack) truncate(n int) {
	if n >= len(s.cmds) {
		return
	}
	for _, c := range s.cmds[n:] {
		s.delete(c)
	}
	clear(s.cmds[n:])
	s.cmds = s.cmds[:n]
	if s.saved > n {
		// The state on disk is no longer reachable.
		s.saved = -1
	}
	if s.revert > n {
		s.revert = 0
	}
	s.current = min(s.current, n)
}

func (s *Stack) delete(c *Command) {
	c.releaseTiles()
	if s.onDelete != nil {
		s.onDelete(c)
	}
	if !s.busy(c.filter) {
		c.filter = nil
	}
	c.stack = nil
}

func (s *Stack) busy(f filter.Filter) bool {
	return f != nil && s.inFlight != nil && s.inFlight(f)
}

// Undo deactivates the active command. Outside a recording session a
// closed session is undone as one unit.
func (s *Stack) Undo() error {
	if !s.CanUndo() {
		return ErrNothingToUndo
	}
	session := s.cmds[s.current-1].session
	s.current--
	if session == "" || s.recording != "" {
		return nil
	}
	for s.current > 1 && s.cmds[s.current-1].session == session {
		s.current--
	}
	return nil
}

// Redo reactivates the next command. Outside a recording session a
// closed session is redone as one unit.
func (s *Stack) Redo() error {
	if !s.CanRedo() {
		return ErrNothingToRedo
	}
	session := s.cmds[s.current].session
	s.current++
	if session == "" || s.recording != "" {
		return nil
	}
	for s.current < len(s.cmds) && s.cmds[s.current].session == session {
		s.current++
	}
	return nil
}

// CanUndo reports whether a command besides the load one is active.
func (s *Stack) CanUndo() bool { return s.current > 1 }

// CanRedo reports whether undone commands can be reactivated.
func (s *Stack) CanRedo() bool { return s.current < len(s.cmds) }

// StartSession starts recording a session. Commands added until
// EndSession share one session id and undo as one unit afterwards.
// While recording, undo and redo move one command at a time.
func (s *Stack) StartSession() string {
	if s.recording == "" {
		s.recording = ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	}
	return s.recording
}

// EndSession stops recording.
func (s *Stack) EndSession() { s.recording = "" }

// IsRecording reports whether a session is being recorded.
func (s *Stack) IsRecording() bool { return s.recording != "" }

// Revert undoes everything back to the load command, remembering where
// it was so that Restore can return.
func (s *Stack) Revert() error {
	if !s.CanRevert() {
		return ErrNothingToUndo
	}
	s.revert = s.current
	s.current = 1
	return nil
}

// CanRevert reports whether there is anything to revert.
func (s *Stack) CanRevert() bool { return s.current > 1 }

// Restore returns to the index active before Revert.
func (s *Stack) Restore() error {
	if !s.CanRestore() {
		return ErrNothingToRestore
	}
	s.current = s.revert
	s.revert = 0
	return nil
}

// CanRestore reports whether a revert is pending.
func (s *Stack) CanRestore() bool { return s.revert != 0 && s.revert <= len(s.cmds) }

// DropRedoHistory permanently deletes the undone commands.
func (s *Stack) DropRedoHistory() {
	s.truncate(s.current)
	s.revert = 0
}

// Discard deletes c and every command after it. It is used when a
// generator fails to resolve. The load command cannot be discarded.
func (s *Stack) Discard(c *Command) error {
	if c == nil || c.stack != s || c.index == 0 {
		return ErrNothingToUndo
	}
	s.truncate(c.index)
	return nil
}

// IsDirty reports whether the active state differs from the file on disk.
func (s *Stack) IsDirty() bool { return s.current != s.saved }

// IsClean reports whether the stack has no commands at all.
func (s *Stack) IsClean() bool { return len(s.cmds) == 0 }

// Len returns the number of commands, undone ones included.
func (s *Stack) Len() int { return len(s.cmds) }

// At returns the command at index i.
func (s *Stack) At(i int) *Command { return s.cmds[i] }

// Index returns the current index, one past the active command.
func (s *Stack) Index() int { return s.current }

// SavedIndex returns the index whose state is on disk, or -1.
func (s *Stack) SavedIndex() int { return s.saved }

// RevertIndex returns the index Restore returns to, 0 when none.
func (s *Stack) RevertIndex() int { return s.revert }

// Current returns the active command, or nil for an empty stack.
func (s *Stack) Current() *Command {
	if s.current == 0 {
		return nil
	}
	return s.cmds[s.current-1]
}

// LoadCommand returns the first command, or nil for an empty stack.
func (s *Stack) LoadCommand() *Command {
	if len(s.cmds) == 0 {
		return nil
	}
	return s.cmds[0]
}

// Command finds a command by identity, including the save command.
func (s *Stack) Command(id uint64) *Command {
	for _, c := range s.cmds {
		if c.id == id {
			return c
		}
	}
	if s.save != nil && s.save.cmd.id == id {
		return s.save.cmd
	}
	return nil
}

// SetWaitingForData marks the file as a placeholder whose size is not
// known yet. Sizes are not computed while waiting.
func (s *Stack) SetWaitingForData(waiting bool) { s.waiting = waiting }

// IsWaitingForData reports whether the file is a placeholder.
func (s *Stack) IsWaitingForData() bool { return s.waiting }

// RecalculateSizes recomputes the full image size of every command from
// the real size of the loaded image, and drops tile maps built for the
// old geometry.
func (s *Stack) RecalculateSizes(size image.Point) {
	if len(s.cmds) == 0 {
		return
	}
	if l, ok := s.cmds[0].filter.(*filter.Load); ok {
		l.SetSize(size)
	}
	prev := size
	for _, c := range s.cmds {
		if c.index == 0 {
			c.fullSize = size
		} else if c.filter != nil {
			c.fullSize = c.filter.NewFullImageSize(prev)
		}
		prev = c.fullSize
		c.releaseTiles()
	}
}

// Close deletes every command. The worker must be done with the stack.
func (s *Stack) Close() {
	if s.save != nil {
		s.save.filter.Abort()
		s.save = nil
	}
	s.truncate(0)
	s.current, s.saved, s.revert = 0, 0, 0
}
