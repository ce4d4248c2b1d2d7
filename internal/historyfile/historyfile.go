// Package historyfile persists edit histories so that they survive a
// crash or restart.
//
// Each source file has one document at
// <dir>/<md5 of the source path>.yaml.zst: a YAML document compressed
// with zstd.
package historyfile

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/quill/internal/history"
)

// Version is the document format version written by this package.
const Version = 1

// Extension is appended to the hashed source path.
const Extension = ".yaml.zst"

// ErrVersion is returned for documents written by a newer format.
var ErrVersion = errors.New("historyfile: unsupported document version")

// Document is the persisted state of one file.
type Document struct {
	Version  int    `yaml:"version"`
	Source   string `yaml:"source"`
	Original string `yaml:"original,omitempty"`
	Format   string `yaml:"format,omitempty"`

	history.Snapshot `yaml:",inline"`
}

// Store reads and writes documents under one directory.
// It is safe for concurrent use.
type Store struct {
	dir     string
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) (*Store, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("historyfile: zstd writer: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("historyfile: zstd reader: %w", err)
	}
	return &Store{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Path returns the document path for source.
func (s *Store) Path(source string) string {
	sum := md5.Sum([]byte(source)) //nolint:gosec // file naming, not security
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+Extension)
}

// Write stores doc for its source, replacing any previous document.
func (s *Store) Write(doc Document) error {
	doc.Version = Version
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("historyfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("historyfile: encode: %w", err)
	}

	s.mu.Lock()
	compressed := s.encoder.EncodeAll(buf.Bytes(), nil)
	s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("historyfile: create dir: %w", err)
	}
	path := s.Path(doc.Source)
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("historyfile: create: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("historyfile: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("historyfile: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("historyfile: rename: %w", err)
	}
	return nil
}

// Read loads the document of source. A missing document is reported with
// an error matching os.ErrNotExist.
func (s *Store) Read(source string) (Document, error) {
	data, err := os.ReadFile(s.Path(source))
	if err != nil {
		return Document{}, fmt.Errorf("historyfile: read: %w", err)
	}
	s.mu.Lock()
	raw, err := s.decoder.DecodeAll(data, nil)
	s.mu.Unlock()
	if err != nil {
		return Document{}, fmt.Errorf("historyfile: decompress: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("historyfile: decode: %w", err)
	}
	if doc.Version > Version {
		return Document{}, fmt.Errorf("%w: %d", ErrVersion, doc.Version)
	}
	return doc, nil
}

// Remove deletes the document of source. A missing document is not an
// error.
func (s *Store) Remove(source string) error {
	err := os.Remove(s.Path(source))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("historyfile: remove: %w", err)
	}
	return nil
}

// Close releases the codec resources.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.encoder.Close()
	s.decoder.Close()
}
