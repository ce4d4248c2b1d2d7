package quill

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/gogpu/quill/internal/imaging"
)

func TestNewErrorClassifies(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		write bool
		want  ErrorKind
	}{
		{"missing", fmt.Errorf("open: %w", fs.ErrNotExist), false, FileNotFound},
		{"denied read", fs.ErrPermission, false, FileOpenForRead},
		{"denied write", fs.ErrPermission, true, FileOpenForWrite},
		{"unknown format", imaging.ErrUnsupportedFormat, false, FormatUnsupported},
		{"corrupt", fmt.Errorf("decode: %w", imaging.ErrCorrupt), false, FileCorrupt},
		{"other read", errors.New("boom"), false, FileRead},
		{"other write", errors.New("boom"), true, FileWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newError(SourceFile, "/x.png", tt.err, tt.write)
			if e.Kind != tt.want {
				t.Errorf("kind = %v, want %v", e.Kind, tt.want)
			}
			if !errors.Is(e, tt.err) {
				t.Error("cause not wrapped")
			}
		})
	}
}

func TestNewErrorKeepsClassified(t *testing.T) {
	inner := &Error{Kind: ImageSizeLimit, Source: SourceOriginal, Path: "/a"}
	if got := newError(SourceFile, "/b", fmt.Errorf("wrap: %w", inner), false); got != inner {
		t.Errorf("newError = %v, want the wrapped *Error", got)
	}
}

func TestErrorIs(t *testing.T) {
	e := &Error{Kind: FileCorrupt, Source: SourceThumbnail, Path: "/t.png", Err: imaging.ErrCorrupt}
	if !errors.Is(e, &Error{Kind: FileCorrupt, Source: SourceThumbnail}) {
		t.Error("same kind and source do not match")
	}
	if errors.Is(e, &Error{Kind: FileCorrupt, Source: SourceFile}) {
		t.Error("different source matches")
	}
	if !errors.Is(e, imaging.ErrCorrupt) {
		t.Error("cause does not match")
	}
	msg := e.Error()
	for _, part := range []string{"thumbnail", "corrupt file", "/t.png"} {
		if !strings.Contains(msg, part) {
			t.Errorf("%q does not mention %q", msg, part)
		}
	}
}

func TestKindStrings(t *testing.T) {
	for k := FileNotFound; k <= FilterFailed; k++ {
		if s := k.String(); s == "" || strings.HasPrefix(s, "ErrorKind(") {
			t.Errorf("kind %d has no name", int(k))
		}
	}
	if s := ErrorKind(99).String(); s != "ErrorKind(99)" {
		t.Errorf("unknown kind = %q", s)
	}
	if s := State(42).String(); s != "State(42)" {
		t.Errorf("unknown state = %q", s)
	}
}
