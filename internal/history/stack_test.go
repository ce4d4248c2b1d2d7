package history

import (
	"errors"
	"image"
	"path/filepath"
	"testing"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/imaging"
	"github.com/gogpu/quill/internal/tiles"
)

type deleted map[uint64]bool

func newStack(t *testing.T, opts Options) (*Stack, deleted) {
	t.Helper()
	del := deleted{}
	opts.OnDelete = func(c *Command) { del[c.ID()] = true }
	s := New(opts)
	if err := s.Load(filter.NewLoad("in.png", imaging.FormatPNG, image.Pt(8, 2))); err != nil {
		t.Fatal(err)
	}
	return s, del
}

func add(t *testing.T, s *Stack, f filter.Filter) *Command {
	t.Helper()
	c, err := s.Add(f)
	if err != nil {
		t.Fatalf("Add(%s): %v", f.Name(), err)
	}
	return c
}

func TestLoad(t *testing.T) {
	s, _ := newStack(t, Options{})
	if s.Len() != 1 || s.Index() != 1 || s.SavedIndex() != 1 {
		t.Fatalf("len %d index %d saved %d", s.Len(), s.Index(), s.SavedIndex())
	}
	if s.IsDirty() {
		t.Error("freshly loaded stack is dirty")
	}
	if !s.Current().IsLoad() || s.Current().FullSize() != image.Pt(8, 2) {
		t.Errorf("current = %+v", s.Current())
	}
	if err := s.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("undoing the load command: %v", err)
	}
}

func TestAddRequiresLoad(t *testing.T) {
	s := New(Options{})
	if _, err := s.Add(filter.NewInvert()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Add on empty stack: %v", err)
	}
	if _, err := s.Add(nil); !errors.Is(err, ErrNilFilter) {
		t.Errorf("Add(nil): %v", err)
	}
}

func TestUndoRedoInverse(t *testing.T) {
	s, _ := newStack(t, Options{})
	a := add(t, s, filter.NewBrightness(20))
	b := add(t, s, filter.NewCrop(image.Rect(0, 0, 4, 2)))
	if b.FullSize() != image.Pt(4, 2) {
		t.Errorf("crop size = %v", b.FullSize())
	}
	if !s.IsDirty() {
		t.Error("edited stack not dirty")
	}

	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if s.Current() != a {
		t.Errorf("after undo current = %d, want %d", s.Current().ID(), a.ID())
	}
	if err := s.Redo(); err != nil {
		t.Fatal(err)
	}
	if s.Current() != b {
		t.Error("redo did not return to the cropped state")
	}
	if err := s.Redo(); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("redo at the end: %v", err)
	}
}

func TestAddDropsRedoTail(t *testing.T) {
	s, del := newStack(t, Options{})
	a := add(t, s, filter.NewBrightness(1))
	b := add(t, s, filter.NewBrightness(2))
	_ = s.Undo()
	c := add(t, s, filter.NewBrightness(3))

	if s.Len() != 3 || s.At(2) != c {
		t.Fatalf("history = %d commands", s.Len())
	}
	if !del[b.ID()] || del[a.ID()] {
		t.Errorf("deleted = %v", del)
	}
	if b.Filter() != nil {
		t.Error("deleted command kept its filter")
	}
	if s.Command(b.ID()) != nil {
		t.Error("deleted command still resolves")
	}
}

func TestDestructiveFilterRejected(t *testing.T) {
	s, _ := newStack(t, Options{})
	_, err := s.Add(filter.NewCrop(image.Rect(20, 20, 30, 30)))
	if !errors.Is(err, ErrDestructiveFilter) {
		t.Fatalf("Add = %v", err)
	}
	if s.Len() != 1 || s.Index() != 1 {
		t.Errorf("rejected filter left len %d index %d", s.Len(), s.Index())
	}
}

func TestCommandIDsUnique(t *testing.T) {
	var n uint64
	next := func() uint64 { n++; return n }
	s1, _ := newStack(t, Options{NextID: next})
	s2, _ := newStack(t, Options{NextID: next})
	seen := map[uint64]bool{}
	for _, s := range []*Stack{s1, s2} {
		for range 3 {
			c := add(t, s, filter.NewInvert())
			if seen[c.ID()] {
				t.Fatalf("id %d reused", c.ID())
			}
			seen[c.ID()] = true
		}
		_ = s.Undo()
		c := add(t, s, filter.NewInvert())
		if seen[c.ID()] {
			t.Fatalf("id %d reused after truncation", c.ID())
		}
		seen[c.ID()] = true
	}
}

func TestSessionAtomicity(t *testing.T) {
	s, _ := newStack(t, Options{})
	before := add(t, s, filter.NewInvert())

	id := s.StartSession()
	if id == "" || !s.IsRecording() {
		t.Fatal("session not recording")
	}
	var inSession []*Command
	for i := range 3 {
		inSession = append(inSession, add(t, s, filter.NewBrightness(i)))
	}
	s.EndSession()
	for _, c := range inSession {
		if c.Session() != id {
			t.Errorf("command %d session %q, want %q", c.ID(), c.Session(), id)
		}
	}

	// One undo from outside reverts the whole session.
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if s.Current() != before {
		t.Fatalf("undo stopped at index %d", s.Index())
	}
	// One redo reapplies it.
	if err := s.Redo(); err != nil {
		t.Fatal(err)
	}
	if s.Current() != inSession[2] {
		t.Fatalf("redo stopped at index %d", s.Index())
	}

	// While recording, undo moves one step.
	s.StartSession()
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if s.Current() != inSession[1] {
		t.Errorf("undo while recording moved to index %d", s.Index())
	}
	s.EndSession()
}

func TestSessionNeverUndoesLoad(t *testing.T) {
	s, _ := newStack(t, Options{})
	s.StartSession()
	add(t, s, filter.NewInvert())
	add(t, s, filter.NewInvert())
	s.EndSession()
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if s.Index() != 1 {
		t.Errorf("index = %d, want 1", s.Index())
	}
}

func TestRevertRestore(t *testing.T) {
	s, _ := newStack(t, Options{})
	add(t, s, filter.NewInvert())
	last := add(t, s, filter.NewBrightness(5))
	if s.CanRestore() {
		t.Error("restore possible before revert")
	}
	if err := s.Revert(); err != nil {
		t.Fatal(err)
	}
	if s.Index() != 1 || s.RevertIndex() != 3 || !s.CanRestore() {
		t.Fatalf("after revert index %d revert %d", s.Index(), s.RevertIndex())
	}
	if err := s.Restore(); err != nil {
		t.Fatal(err)
	}
	if s.Current() != last || s.CanRestore() {
		t.Errorf("after restore index %d", s.Index())
	}
	if err := s.Restore(); !errors.Is(err, ErrNothingToRestore) {
		t.Errorf("second restore: %v", err)
	}

	_ = s.Revert()
	add(t, s, filter.NewInvert())
	if s.CanRestore() {
		t.Error("restore survived a new edit")
	}
}

func TestDropRedoHistory(t *testing.T) {
	s, del := newStack(t, Options{})
	c := add(t, s, filter.NewInvert())
	_ = s.Undo()
	s.DropRedoHistory()

	if s.CanRedo() {
		t.Fatal("redo possible after drop")
	}
	if !del[c.ID()] {
		t.Error("dropped command not deleted")
	}
	_ = s.Undo()
	_ = s.Redo()
	if s.CanRedo() || s.Len() != 1 {
		t.Error("dropped history came back")
	}
}

func TestSaveLifecycle(t *testing.T) {
	s, _ := newStack(t, Options{})
	c := add(t, s, filter.NewInvert())
	path := filepath.Join(t.TempDir(), "out.png")

	sv, err := s.PrepareSave(filter.NewSave(path, imaging.FormatPNG, 0), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if sv.Source() != c || sv.Bands() != nil {
		t.Errorf("save source %v bands %v", sv.Source(), sv.Bands())
	}
	if s.Command(sv.Command().ID()) != sv.Command() {
		t.Error("save command does not resolve")
	}
	if _, err := s.PrepareSave(filter.NewSave(path, imaging.FormatPNG, 0), 0); !errors.Is(err, ErrSaveInProgress) {
		t.Errorf("second PrepareSave: %v", err)
	}

	if err := s.ConcludeSave("backup.png"); err != nil {
		t.Fatal(err)
	}
	if s.IsDirty() || s.SavedIndex() != 2 {
		t.Errorf("after save dirty=%v saved=%d", s.IsDirty(), s.SavedIndex())
	}
	if l := s.LoadCommand().Filter().(*filter.Load); l.Path != "backup.png" {
		t.Errorf("load path = %q", l.Path)
	}
	if err := s.ConcludeSave(""); !errors.Is(err, ErrNoSave) {
		t.Errorf("ConcludeSave without save: %v", err)
	}

	// A truncated save source leaves the stack dirty.
	_, _ = s.PrepareSave(filter.NewSave(path, imaging.FormatPNG, 0), 0)
	_ = s.Undo()
	add(t, s, filter.NewBrightness(1))
	_ = s.ConcludeSave("")
	if s.SavedIndex() != -1 || !s.IsDirty() {
		t.Errorf("saved index = %d", s.SavedIndex())
	}
}

func TestInFlightFilterKept(t *testing.T) {
	var running filter.Filter
	s, del := newStack(t, Options{InFlight: func(f filter.Filter) bool { return f == running }})
	inv := filter.NewInvert()
	c := add(t, s, inv)
	running = inv
	_ = s.Undo()
	add(t, s, filter.NewBrightness(1))
	if !del[c.ID()] {
		t.Fatal("undone command not deleted")
	}
	if c.Filter() != inv {
		t.Error("in-flight filter dropped with its command")
	}

	sv := filter.NewSave(filepath.Join(t.TempDir(), "x.png"), imaging.FormatPNG, 0)
	if _, err := s.PrepareSave(sv, 0); err != nil {
		t.Fatal(err)
	}
	running = sv
	if got := s.AbortSave(); got != sv {
		t.Errorf("AbortSave = %v, want the in-flight save filter", got)
	}
	if s.Saving() != nil {
		t.Error("save still in progress after abort")
	}

	running = nil
	if _, err := s.PrepareSave(sv, 0); err != nil {
		t.Fatal(err)
	}
	if got := s.AbortSave(); got != nil {
		t.Errorf("AbortSave = %v, want nil for an idle filter", got)
	}
}

func TestTiledSave(t *testing.T) {
	tc := tiles.NewCache(8)
	s, _ := newStack(t, Options{Tiles: tc, TileSize: image.Pt(2, 2)})
	add(t, s, filter.NewCrop(image.Rect(0, 0, 6, 2)))
	sv, err := s.PrepareSave(filter.NewSave(filepath.Join(t.TempDir(), "x.png"), imaging.FormatPNG, 0), 6*4)
	if err != nil {
		t.Fatal(err)
	}
	if sv.Bands() == nil {
		t.Fatal("tiled save has no save map")
	}
	if sv.Bands().Band() != image.Rect(0, 0, 6, 1) {
		t.Errorf("first band = %v", sv.Bands().Band())
	}
	s.AbortSave()
	if s.Saving() != nil {
		t.Error("save still in progress after abort")
	}
}

func TestTileMapDerivedFromParent(t *testing.T) {
	tc := tiles.NewCache(8)
	s, _ := newStack(t, Options{Tiles: tc, TileSize: image.Pt(2, 2)})
	rot, _ := filter.NewRotate(90)
	c := add(t, s, rot)

	m := c.TileMap()
	if m == nil || m.Len() != 4 || m.FullSize() != image.Pt(2, 8) {
		t.Fatalf("tile map = %+v", m)
	}
	if c.TileMap() != m {
		t.Error("tile map not reused")
	}
	if New(Options{}).Current() != nil {
		t.Error("empty stack has a current command")
	}
}

func TestRecalculateSizes(t *testing.T) {
	s := New(Options{})
	_ = s.Load(filter.NewLoad("p.png", imaging.FormatPNG, image.Point{}))
	s.SetWaitingForData(true)
	c, err := s.Add(filter.NewCrop(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("placeholder add: %v", err)
	}
	if c.FullSize() != (image.Point{}) {
		t.Errorf("size computed while waiting: %v", c.FullSize())
	}
	s.SetWaitingForData(false)
	s.RecalculateSizes(image.Pt(10, 3))
	if c.FullSize() != image.Pt(4, 3) {
		t.Errorf("recalculated size = %v", c.FullSize())
	}
	if s.LoadCommand().Filter().(*filter.Load).Size() != image.Pt(10, 3) {
		t.Error("load size not updated")
	}
}

func TestSnapshotRecover(t *testing.T) {
	s, _ := newStack(t, Options{})
	s.StartSession()
	add(t, s, filter.NewBrightness(20))
	add(t, s, filter.NewCrop(image.Rect(1, 0, 5, 2)))
	s.EndSession()
	add(t, s, filter.NewInvert())
	_ = s.Undo()

	snap := s.Snapshot()
	if len(snap.Commands) != 3 || snap.Current != 3 || snap.Saved != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	r, del := newStack(t, Options{})
	oldLoad := r.LoadCommand()
	if err := r.Recover(oldLoad.Filter(), snap); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 4 || r.Index() != 3 || r.LoadCommand().ID() != oldLoad.ID() {
		t.Errorf("recovered len %d index %d", r.Len(), r.Index())
	}
	if len(del) != 0 {
		t.Errorf("recovering a fresh stack deleted %v", del)
	}
	if r.Current().FullSize() != image.Pt(4, 2) {
		t.Errorf("recovered size = %v", r.Current().FullSize())
	}
	if r.At(1).Session() == "" || r.At(1).Session() != r.At(2).Session() {
		t.Error("session ids not recovered")
	}

	bad := Snapshot{Commands: []Entry{{Name: "nope"}}, Current: 2}
	if err := r.Recover(oldLoad.Filter(), bad); !errors.Is(err, filter.ErrUnknownFilter) {
		t.Errorf("bad snapshot: %v", err)
	}
}

func TestRebase(t *testing.T) {
	s, del := newStack(t, Options{})
	first := add(t, s, filter.NewInvert())
	cur := add(t, s, filter.NewCrop(image.Rect(0, 0, 4, 2)))
	s.Rebase(filter.NewLoad("saved.png", imaging.FormatPNG, image.Point{}))

	if s.Len() != 1 || s.Current() != cur || !cur.IsLoad() {
		t.Fatalf("rebased len %d", s.Len())
	}
	if s.CanUndo() || s.IsDirty() {
		t.Error("rebased stack is undoable or dirty")
	}
	if !del[first.ID()] || del[cur.ID()] {
		t.Errorf("deleted = %v", del)
	}
	if cur.Filter().(*filter.Load).Size() != image.Pt(4, 2) {
		t.Error("rebased load lost the size")
	}
}

func TestDiscard(t *testing.T) {
	s, del := newStack(t, Options{})
	a := add(t, s, filter.NewBrightness(10))
	b := add(t, s, filter.NewBrightness(20))
	if err := s.Discard(a); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 || s.Index() != 1 {
		t.Errorf("len %d index %d, want 1 1", s.Len(), s.Index())
	}
	if !del[a.ID()] || !del[b.ID()] {
		t.Error("discarded commands not reported as deleted")
	}
	if err := s.Discard(s.LoadCommand()); err == nil {
		t.Error("discarding the load command succeeded")
	}
}
