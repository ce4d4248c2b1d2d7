package historyfile

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/history"
	"github.com/gogpu/quill/internal/imaging"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestWriteRead(t *testing.T) {
	s := newStore(t)
	doc := Document{
		Source:   "/photos/a.png",
		Original: "/photos/.original/a.png",
		Format:   "png",
		Snapshot: history.Snapshot{
			Commands: []history.Entry{
				{Name: "brightness", Options: filter.Options{"delta": "20"}, Session: "01HX"},
				{Name: "invert"},
			},
			Current: 3,
			Saved:   1,
			Revert:  0,
		},
	}
	if err := s.Write(doc); err != nil {
		t.Fatal(err)
	}

	path := s.Path(doc.Source)
	if !strings.HasSuffix(path, Extension) || filepath.Base(filepath.Dir(path)) != "history" {
		t.Errorf("path = %s", path)
	}

	got, err := s.Read(doc.Source)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != Version || got.Source != doc.Source || got.Original != doc.Original {
		t.Errorf("header = %+v", got)
	}
	if len(got.Commands) != 2 || got.Commands[0].Options["delta"] != "20" || got.Commands[0].Session != "01HX" {
		t.Errorf("commands = %+v", got.Commands)
	}
	if got.Current != 3 || got.Saved != 1 {
		t.Errorf("indices = %d %d", got.Current, got.Saved)
	}
}

func TestReadMissing(t *testing.T) {
	s := newStore(t)
	if _, err := s.Read("/nowhere.png"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing = %v", err)
	}
	if err := s.Remove("/nowhere.png"); err != nil {
		t.Errorf("Remove missing = %v", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	s := newStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path("/x.png")), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("/x.png"), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read("/x.png"); err == nil {
		t.Error("corrupt document decoded")
	}
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	if err := s.Write(Document{Source: "/a.png"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("/a.png"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Path("/a.png")); !errors.Is(err, os.ErrNotExist) {
		t.Error("document still on disk")
	}
}

func TestRecoverFromDocument(t *testing.T) {
	s := newStore(t)
	load := filter.NewLoad("/a.png", imaging.FormatPNG, image.Pt(8, 2))
	st := history.New(history.Options{})
	if err := st.Load(load); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Add(filter.NewCrop(image.Rect(0, 0, 4, 2))); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(Document{Source: "/a.png", Snapshot: st.Snapshot()}); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Read("/a.png")
	if err != nil {
		t.Fatal(err)
	}
	again := history.New(history.Options{})
	_ = again.Load(load)
	if err := again.Recover(load, doc.Snapshot); err != nil {
		t.Fatal(err)
	}
	if again.Len() != 2 || again.Current().FullSize() != image.Pt(4, 2) {
		t.Errorf("recovered %d commands, size %v", again.Len(), again.Current().FullSize())
	}
}
