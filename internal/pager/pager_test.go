package pager

import (
	"path/filepath"
	"testing"
)

func TestPageCRC_DetectsCorruption(t *testing.T) {
	buf := NewPage(DefaultPageSize, KindTableLeaf, 2)
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("valid CRC failed: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected CRC error after corruption")
	}
}

func TestFileHeader_RoundTrip(t *testing.T) {
	h := NewFileHeader(DefaultPageSize)
	h.PageCount = 7
	h.SchemaCookie = 3
	h.FreeTrunkHead = 5
	h.TextEncoding = EncodingUTF16LE
	buf := make([]byte, FileHeaderSize)
	h.Marshal(buf)
	got, err := ParseFileHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.PageCount != h.PageCount || got.SchemaCookie != h.SchemaCookie ||
		got.FreeTrunkHead != h.FreeTrunkHead || got.TextEncoding != h.TextEncoding {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", h, got)
	}
}

func TestFileHeader_PageSize65536EncodesAsOne(t *testing.T) {
	h := NewFileHeader(65536)
	buf := make([]byte, FileHeaderSize)
	h.Marshal(buf)
	got, err := ParseFileHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.PageSize != 65536 {
		t.Fatalf("page size: got %d want 65536", got.PageSize)
	}
}

func TestFileHeader_BadMagic(t *testing.T) {
	h := NewFileHeader(DefaultPageSize)
	buf := make([]byte, FileHeaderSize)
	h.Marshal(buf)
	buf[0] = 'X'
	if _, err := ParseFileHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestFreeList_PushThenPop(t *testing.T) {
	fl := NewFreeList(DefaultPageSize)
	pageBuf := make([]byte, DefaultPageSize)
	head, trunkBuf := fl.Push(InvalidPageNo, nil, 10, pageBuf)
	if head != 10 {
		t.Fatalf("head: got %d want 10", head)
	}
	popped, newHead, _, ok := fl.Pop(head, trunkBuf)
	if !ok {
		t.Fatal("expected a page to pop")
	}
	if popped != 10 {
		t.Fatalf("popped: got %d want 10", popped)
	}
	if newHead != InvalidPageNo {
		t.Fatalf("new head: got %d want invalid", newHead)
	}
}

func TestPager_MemoryAllocAndReadBack(t *testing.T) {
	p, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	no, buf := p.AllocPage()
	SetPageMeta(buf, KindTableLeaf, no)
	copy(buf[CellAreaStart(no):], []byte("hello"))
	if err := p.WritePage(nil, no, buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.UnpinPage(no)

	got, err := p.ReadPage(no)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got[CellAreaStart(no):CellAreaStart(no)+5]) != "hello" {
		t.Fatalf("unexpected page contents")
	}
}

func TestPager_FileRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	p, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	no, buf := p.AllocPage()
	SetPageMeta(buf, KindTableLeaf, no)
	copy(buf[CellAreaStart(no):], []byte("persisted"))
	if err := p.WritePage(nil, no, buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	got, err := p2.ReadPage(no)
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if string(got[CellAreaStart(no):CellAreaStart(no)+9]) != "persisted" {
		t.Fatalf("data did not survive reopen")
	}
}

func TestFileLock_Ladder(t *testing.T) {
	l := NewFileLock()
	if err := l.AcquireShared(); err != nil {
		t.Fatalf("shared: %v", err)
	}
	if err := l.AcquireReserved(); err != nil {
		t.Fatalf("reserved: %v", err)
	}
	if err := l.AcquirePending(); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if err := l.AcquireExclusive(); err != nil {
		t.Fatalf("exclusive: %v", err)
	}
	l.Downgrade()
	if l.State() != LockShared {
		t.Fatalf("state after downgrade: got %v want shared", l.State())
	}
}

func TestTableLock_WriterExcludesReader(t *testing.T) {
	tl := NewTableLock()
	if err := tl.AcquireWrite("main", 3); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tl.AcquireRead("main", 3); err == nil {
		t.Fatal("expected read to be blocked by writer")
	}
	tl.Release("main", 3, true)
	if err := tl.AcquireRead("main", 3); err != nil {
		t.Fatalf("read after release: %v", err)
	}
}
