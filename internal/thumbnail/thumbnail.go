// Package thumbnail locates stored previews on disk.
//
// A thumbnail of a source file at one preview level lives at
// <base>/<flavor>/<md5 of the file URI><ext> and is valid while it is not
// older than the source. Sources that could not be thumbnailed get an
// empty marker file under <base>/fail so that they are not retried.
package thumbnail

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FailFlavor is the directory holding failure markers.
const FailFlavor = "fail"

// ErrDisabled is returned by EnsureDir for a flavor whose directory could
// not be created before.
var ErrDisabled = errors.New("thumbnail: flavor disabled")

// URI returns the file URI of path, which thumbnails are keyed by.
func URI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// Key returns the hashed name of a source, without extension.
func Key(path string) string {
	sum := md5.Sum([]byte(URI(path))) //nolint:gosec // naming scheme, not security
	return hex.EncodeToString(sum[:])
}

// Store manages the thumbnails under one base directory.
// It is safe for concurrent use.
type Store struct {
	base string
	ext  string

	mu       sync.Mutex
	disabled map[string]bool
}

// NewStore creates a store. ext is the thumbnail file extension,
// including the dot.
func NewStore(base, ext string) *Store {
	if ext == "" {
		ext = ".png"
	}
	return &Store{base: base, ext: ext, disabled: make(map[string]bool)}
}

// Base returns the base directory.
func (s *Store) Base() string { return s.base }

// Path returns the thumbnail path of source for flavor.
func (s *Store) Path(source, flavor string) string {
	return filepath.Join(s.base, flavor, Key(source)+s.ext)
}

// Valid reports whether a thumbnail exists and is not older than source.
func (s *Store) Valid(source, flavor string) bool {
	return newerThan(s.Path(source, flavor), source)
}

func newerThan(path, source string) bool {
	ti, err := os.Stat(path)
	if err != nil {
		return false
	}
	si, err := os.Stat(source)
	if err != nil {
		return false
	}
	return !ti.ModTime().Before(si.ModTime())
}

// EnsureDir creates the directory of a flavor. After one failure the
// flavor is disabled and ErrDisabled is returned without retrying.
func (s *Store) EnsureDir(flavor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled[flavor] {
		return ErrDisabled
	}
	dir := filepath.Join(s.base, flavor)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.disabled[flavor] = true
		return fmt.Errorf("thumbnail: create %s: %w", dir, err)
	}
	return nil
}

// Delete removes one thumbnail.
func (s *Store) Delete(source, flavor string) error {
	return removeIfExists(s.Path(source, flavor))
}

// Remove deletes every thumbnail of source for the given flavors and its
// failure marker.
func (s *Store) Remove(source string, flavors []string) error {
	var errs []error
	for _, f := range flavors {
		errs = append(errs, s.Delete(source, f))
	}
	errs = append(errs, s.ClearFailed(source))
	return errors.Join(errs...)
}

func (s *Store) failPath(source string) string {
	return filepath.Join(s.base, FailFlavor, Key(source))
}

// MarkFailed records that source cannot be thumbnailed.
func (s *Store) MarkFailed(source string) error {
	if err := s.EnsureDir(FailFlavor); err != nil {
		return err
	}
	path := s.failPath(source)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		return fmt.Errorf("thumbnail: mark failed: %w", err)
	}
	now := time.Now()
	return os.Chtimes(path, now, now)
}

// HasFailed reports whether a failure marker exists that is not older
// than source.
func (s *Store) HasFailed(source string) bool {
	return newerThan(s.failPath(source), source)
}

// ClearFailed removes the failure marker of source.
func (s *Store) ClearFailed(source string) error {
	return removeIfExists(s.failPath(source))
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("thumbnail: remove: %w", err)
	}
	return nil
}
