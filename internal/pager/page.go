// Package pager implements the paged file layer of ferrodb: a fixed-size
// page cache, the crash-safe journal protocol, and the free-page manager.
// Page 1 always carries the 100-byte file header at its start, followed
// by the root of the catalog b-tree.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

const (
	// DefaultPageSize matches the on-disk default most embedders use.
	DefaultPageSize = 4096
	MinPageSize     = 512
	MaxPageSize     = 65536

	// PageNo 0 never exists; page numbers are 1-based and stable for the
	// life of the file.
	InvalidPageNo PageNo = 0
	// FileHeaderPage is the schema root.
	FileHeaderPage PageNo = 1

	// pageHeaderSize is the common per-page trailer: type, flags, a CRC32-C
	// checksum and reserved bytes. It sits at the END of the page so page 1
	// can carry the 100-byte file header unobstructed at offset 0.
	pageHeaderSize = 16
)

// PageNo is a 1-based page number. 0 is not a valid page.
type PageNo uint32

// PageKind identifies the structural role of a page.
type PageKind uint8

const (
	KindFileHeader    PageKind = iota + 1 // page 1 only
	KindTableInterior                     // table b-tree interior node
	KindTableLeaf                         // table b-tree leaf node
	KindIndexInterior                     // index b-tree interior node
	KindIndexLeaf                         // index b-tree leaf node
	KindFreeTrunk                         // free-list trunk page
	KindFreeLeaf                          // free-list leaf page (listed by a trunk)
	KindOverflow                          // overflow payload chain link
)

func (k PageKind) String() string {
	switch k {
	case KindFileHeader:
		return "file-header"
	case KindTableInterior:
		return "table-interior"
	case KindTableLeaf:
		return "table-leaf"
	case KindIndexInterior:
		return "index-interior"
	case KindIndexLeaf:
		return "index-leaf"
	case KindFreeTrunk:
		return "free-trunk"
	case KindFreeLeaf:
		return "free-leaf"
	case KindOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// trailerOffset returns the byte offset of the per-page trailer within a
// page of the given size. Trailer layout (16 bytes):
//
//	[0]    PageKind
//	[1]    Flags
//	[2:4]  Reserved
//	[4:8]  PageNo (redundant with position, used to catch misreads)
//	[8:12] CRC32-C of the rest of the page with this field zeroed
//	[12:16] Reserved
func trailerOffset(pageSize int) int { return pageSize - pageHeaderSize }

// SetPageMeta stamps kind/page-number metadata into a page buffer's
// trailer in place (the CRC is computed separately by SetPageCRC, which
// the pager calls when it writes the page).
func SetPageMeta(buf []byte, kind PageKind, no PageNo) {
	off := trailerOffset(len(buf))
	buf[off] = byte(kind)
	buf[off+1] = 0
	binary.LittleEndian.PutUint16(buf[off+2:], 0)
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(no))
}

// PageKindOf reads the kind stamped by SetPageMeta.
func PageKindOf(buf []byte) PageKind {
	return PageKind(buf[trailerOffset(len(buf))])
}

// PageNoOf reads the page number stamped by SetPageMeta.
func PageNoOf(buf []byte) PageNo {
	off := trailerOffset(len(buf))
	return PageNo(binary.LittleEndian.Uint32(buf[off+4:]))
}

// ComputePageCRC computes the CRC32-C of buf with the CRC field itself
// treated as zero.
func ComputePageCRC(buf []byte) uint32 {
	off := trailerOffset(len(buf))
	h := crc32.New(crcTable)
	h.Write(buf[:off+8])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[off+12:])
	return h.Sum32()
}

// SetPageCRC stamps the checksum into the trailer.
func SetPageCRC(buf []byte) {
	off := trailerOffset(len(buf))
	binary.LittleEndian.PutUint32(buf[off+8:], ComputePageCRC(buf))
}

// VerifyPageCRC checks a page's checksum, returning ErrCorrupt on mismatch.
func VerifyPageCRC(buf []byte) error {
	off := trailerOffset(len(buf))
	stored := binary.LittleEndian.Uint32(buf[off+8:])
	if got := ComputePageCRC(buf); got != stored {
		return ferrors.Wrapf(ferrors.ErrCorrupt, "", "page %d checksum mismatch (stored=%08x computed=%08x)",
			PageNoOf(buf), stored, got)
	}
	return nil
}

// NewPage allocates a zeroed page buffer of the given size and stamps it.
func NewPage(pageSize int, kind PageKind, no PageNo) []byte {
	buf := make([]byte, pageSize)
	SetPageMeta(buf, kind, no)
	return buf
}

// UsableBytes returns how many bytes of a page are available to cell
// storage once the common trailer is excluded. Page 1 additionally
// reserves the 100-byte file header.
func UsableBytes(pageSize int, no PageNo) int {
	n := pageSize - pageHeaderSize
	if no == FileHeaderPage {
		n -= FileHeaderSize
	}
	return n
}

// CellAreaStart returns the byte offset where a page's own structural
// header (and then its cell-pointer array) begins.
func CellAreaStart(no PageNo) int {
	if no == FileHeaderPage {
		return FileHeaderSize
	}
	return 0
}
