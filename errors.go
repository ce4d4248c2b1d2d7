package quill

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/gogpu/quill/internal/history"
	"github.com/gogpu/quill/internal/imaging"
)

// Errors returned by API misuse.
var (
	// ErrClosed is returned by operations on a closed Core.
	ErrClosed = errors.New("quill: core closed")

	// ErrInvalidHandle is returned by operations on a closed handle or a
	// handle whose file has been removed.
	ErrInvalidHandle = errors.New("quill: invalid handle")

	// ErrNotFound is returned when an operation needs file data that does
	// not exist.
	ErrNotFound = errors.New("quill: file not found")

	// ErrReadOnly is returned when editing or saving a read-only file.
	ErrReadOnly = errors.New("quill: file is read-only")

	// ErrUnsupported is returned when editing or saving a file whose
	// format cannot be processed.
	ErrUnsupported = errors.New("quill: unsupported format")

	// ErrNotManual is returned by ReleaseAndWait on a Core running its
	// own worker.
	ErrNotManual = errors.New("quill: core is not in manual dispatch mode")

	// ErrFilterPanic wraps panics recovered from filters.
	ErrFilterPanic = errors.New("quill: filter panicked")
)

// Errors re-exported from the edit history.
var (
	ErrDestructiveFilter = history.ErrDestructiveFilter
	ErrNothingToUndo     = history.ErrNothingToUndo
	ErrNothingToRedo     = history.ErrNothingToRedo
	ErrNothingToRestore  = history.ErrNothingToRestore
	ErrSaveInProgress    = history.ErrSaveInProgress
)

// ErrorKind classifies errors raised by background work.
type ErrorKind int

// Error kinds.
const (
	FileNotFound ErrorKind = iota
	FileOpenForRead
	FileOpenForWrite
	FileRead
	FileWrite
	FormatUnsupported
	FileCorrupt
	DirCreate
	ImageSizeLimit
	ImagePixelsLimit
	FilterGenerator
	FilterFailed
)

var kindNames = [...]string{
	FileNotFound:      "file not found",
	FileOpenForRead:   "cannot open for reading",
	FileOpenForWrite:  "cannot open for writing",
	FileRead:          "read failed",
	FileWrite:         "write failed",
	FormatUnsupported: "unsupported format",
	FileCorrupt:       "corrupt file",
	DirCreate:         "cannot create directory",
	ImageSizeLimit:    "image size limit exceeded",
	ImagePixelsLimit:  "image pixel limit exceeded",
	FilterGenerator:   "filter generator failed",
	FilterFailed:      "filter failed",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindNames[k]
}

// ErrorSource names the file an error concerns.
type ErrorSource int

// Error sources.
const (
	SourceFile ErrorSource = iota
	SourceOriginal
	SourceThumbnail
	SourceTemporary
	SourceEditHistory
)

func (s ErrorSource) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceOriginal:
		return "original"
	case SourceThumbnail:
		return "thumbnail"
	case SourceTemporary:
		return "temporary file"
	case SourceEditHistory:
		return "edit history"
	default:
		return fmt.Sprintf("ErrorSource(%d)", int(s))
	}
}

// Error is an error raised by background work on a file. It is delivered
// to the handles of the file and to the global listeners.
//
// Errors compare equal under errors.Is when Kind and Source match, so a
// template such as &Error{Kind: FileCorrupt} matches any corrupt file.
type Error struct {
	Kind   ErrorKind
	Source ErrorSource
	// Path is the file the error concerns, which is not always the edited
	// file (thumbnails, backups, temporary files).
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("quill: %s: %s", e.Source, e.Kind)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and source.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Source == e.Source
}

// newError classifies err for a file. write selects the write-side kinds
// for I/O failures.
func newError(source ErrorSource, path string, err error, write bool) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := FileRead
	if write {
		kind = FileWrite
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = FileNotFound
	case errors.Is(err, fs.ErrPermission) && write:
		kind = FileOpenForWrite
	case errors.Is(err, fs.ErrPermission):
		kind = FileOpenForRead
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		kind = FormatUnsupported
	case errors.Is(err, imaging.ErrCorrupt):
		kind = FileCorrupt
	}
	return &Error{Kind: kind, Source: source, Path: path, Err: err}
}
