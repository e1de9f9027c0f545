package vfs

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	if Exists(path) {
		t.Fatal("file should not exist yet")
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if !Exists(path) {
		t.Fatal("open should have created the file")
	}
}

func TestWriteReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	want := []byte("hello world")
	if _, err := f.WriteAt(want, 10); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len(want))
	if _, err := f.ReadAt(got, 10); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRemoveMissingFileIsNotError(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("remove of missing file should be nil, got %v", err)
	}
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("random bytes: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("got %d bytes, want 16", len(b))
	}
}
