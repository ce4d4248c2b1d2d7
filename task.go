package quill

import (
	"fmt"
	"runtime/debug"

	"github.com/gogpu/quill/internal/filter"
	"github.com/gogpu/quill/internal/imaging"
)

// taskKind tells the completion handler what to do with a result.
type taskKind int

const (
	taskCompute taskKind = iota
	taskThumbnailLoad
	taskThumbnailSave
	taskPreviewImprovement
	taskOverlay
	taskSave
)

func (k taskKind) String() string {
	switch k {
	case taskCompute:
		return "compute"
	case taskThumbnailLoad:
		return "thumbnail-load"
	case taskThumbnailSave:
		return "thumbnail-save"
	case taskPreviewImprovement:
		return "preview-improvement"
	case taskOverlay:
		return "overlay"
	case taskSave:
		return "save"
	default:
		return fmt.Sprintf("taskKind(%d)", int(k))
	}
}

// task is one filter application. It is immutable once built; the
// worker only reads it.
type task struct {
	kind    taskKind
	record  uint64
	command uint64
	level   int
	// tile is the tile index for tiled work, -1 otherwise.
	tile   int
	filter filter.Filter
	input  imaging.Image

	// dest is the final path of a thumbnail save.
	dest string
}

type result struct {
	img imaging.Image
	err error
}

// run applies the filter of t. Panics are recovered and reported as
// errors wrapping ErrFilterPanic.
func (t *task) run() (res result) {
	defer func() {
		if p := recover(); p != nil {
			res = result{err: fmt.Errorf("%w: %s: %v\n%s", ErrFilterPanic, t.filter.Name(), p, debug.Stack())}
		}
	}()
	img, err := t.filter.Apply(t.input)
	return result{img: img, err: err}
}
