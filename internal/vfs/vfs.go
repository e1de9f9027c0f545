// Package vfs is the OS/VFS shim: file open/read/write/sync primitives,
// existence/removal helpers, random bytes and a time source, kept behind
// a narrow interface so internal/pager never talks to os.File directly.
package vfs

import (
	"crypto/rand"
	"io"
	"os"
	"time"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// File is the subset of *os.File the pager needs. An in-memory database
// never touches this interface at all (internal/pager keeps its own
// map-backed path for ":memory:"); File exists purely to keep real file
// I/O swappable and testable.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Open opens path for read/write, creating it if absent.
func Open(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCantOpen, "open database file: "+err.Error(), "")
	}
	return f, nil
}

// OpenExisting opens path for read/write without creating it.
func OpenExisting(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err // caller checks os.IsNotExist
	}
	return f, nil
}

// Exists reports whether path names a file already on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsNotExist reports whether err indicates a missing file, so callers
// (internal/pager's journal recovery) don't need to import "os" directly.
func IsNotExist(err error) bool { return os.IsNotExist(err) }

// Remove deletes path; missing files are not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RandomBytes fills and returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "random bytes: "+err.Error(), "")
	}
	return buf, nil
}

// Now is the system's single time source, kept as a function value (not a
// direct time.Now call) so tests can substitute a fixed clock.
var Now = time.Now
