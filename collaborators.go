package quill

// Metadata reads and writes the non-pixel metadata of image files.
// Read is called on the file being saved before it is overwritten and
// Write on the new file before it replaces the old one.
type Metadata interface {
	Read(path string) ([]byte, error)
	Write(path string, blob []byte) error
}

// nopMetadata drops metadata.
type nopMetadata struct{}

func (nopMetadata) Read(string) ([]byte, error) { return nil, nil }
func (nopMetadata) Write(string, []byte) error  { return nil }

// Thumbnailer produces thumbnails for formats quill cannot decode.
//
// Request is called when the scheduler is idle, at most once per file
// and flavor until done is called. done may be called from any goroutine,
// including synchronously from Request. On success the thumbnail must
// exist at the path the core derives for the file and flavor.
type Thumbnailer interface {
	Supports(mime string) bool
	Request(path, mime, flavor string, done func(error))
}
