package quill

import "log/slog"

// Option configures a Core during creation.
//
// Example:
//
//	// Background worker, no external collaborators
//	c, err := quill.New(cfg)
//
//	// Tests drive the scheduler one task at a time
//	c, err := quill.New(cfg, quill.WithManualDispatch())
type Option func(*coreOptions)

// coreOptions holds optional collaborators of a Core.
type coreOptions struct {
	thumbnailer Thumbnailer
	metadata    Metadata
	manual      bool
	logger      *slog.Logger
}

// defaultOptions returns the default core options.
func defaultOptions() coreOptions {
	return coreOptions{
		metadata: nopMetadata{},
	}
}

// WithThumbnailer sets the external thumbnailer asked for previews of
// formats that cannot be decoded in process.
func WithThumbnailer(t Thumbnailer) Option {
	return func(o *coreOptions) {
		o.thumbnailer = t
	}
}

// WithMetadata sets the metadata handler used to carry metadata from the
// original file over to saved files. Nil keeps the no-op default.
func WithMetadata(m Metadata) Option {
	return func(o *coreOptions) {
		if m != nil {
			o.metadata = m
		}
	}
}

// WithManualDispatch disables the background worker. Tasks only run
// when ReleaseAndWait is called, one per call.
func WithManualDispatch() Option {
	return func(o *coreOptions) {
		o.manual = true
	}
}

// WithLogger sets the logger of the Core. Without it the package logger
// (see SetLogger) is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *coreOptions) {
		o.logger = l
	}
}
