// Package quill is an asynchronous multi-resolution image editing engine.
//
// Client code opens image files, applies a sequence of editing filters
// and receives progressively higher resolution results without waiting
// for expensive image processing. A single background worker runs one
// filter application at a time; the core decides which one comes next
// across every open file, resolution level, tile and save in progress.
//
// # Resolution levels
//
// Levels 0..N-1 are previews configured by [Config.PreviewLevels];
// level N is the full image. With [Config.TileSize] set the full level is
// computed tile by tile around the viewport of each file. Previews are
// computed first, so that something is shown early; the full image
// follows for files whose display level asks for it.
//
// # Editing
//
// Every file has an edit history. [Handle.RunFilter] appends a filter,
// [Handle.Undo] and [Handle.Redo] move through the history, sessions
// group several filters into one undo step and [Handle.Revert] returns to
// the unedited image until [Handle.Restore]. The image of the active
// state of every level is kept while intermediate states live in bounded
// caches and are recomputed when needed.
//
// # Quick start
//
//	cfg := quill.DefaultConfig()
//	core, err := quill.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Close()
//
//	h, err := core.Open("photo.png", quill.FormatUnknown)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h.OnEvent(func(ev quill.Event) {
//	    if ev.Kind == quill.EventImageAvailable {
//	        // redraw
//	    }
//	})
//	_ = h.SetDisplayLevel(len(cfg.PreviewLevels))
//	f, _ := quill.NewFilter("brightness", quill.FilterOptions{"delta": "20"})
//	_ = h.RunFilter(f)
//	_ = h.Save()
//	_ = core.WaitForSaves(ctx)
//
// # Persistence
//
// With [Config.EditHistoryPath] set, histories are written after every
// change and recovered when the file is opened again. Saving over a file
// moves the unedited original to a .original directory next to it, so
// that revert still works after saving. Thumbnails of the preview levels
// are read and written under [Config.ThumbnailBasePath].
//
// # Logging
//
// quill is silent by default. See [SetLogger] and [WithLogger].
package quill
