package pager

import (
	"encoding/binary"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// Free pages are linked as trunk pages, each holding a list of leaf page
// numbers plus a pointer to the next trunk.
//
// Trunk page layout (after the common trailer reservation):
//
//	[0:4]  next trunk page number (0 = end of chain)
//	[4:8]  count of leaf entries stored in this trunk
//	[8:]   leaf page numbers, 4 bytes each
const (
	trunkHeaderSize = 8
)

func trunkCapacity(pageSize int) int {
	return (UsableBytes(pageSize, 2) - trunkHeaderSize) / 4
}

func trunkNext(buf []byte) PageNo {
	return PageNo(binary.LittleEndian.Uint32(buf[0:4]))
}

func setTrunkNext(buf []byte, no PageNo) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(no))
}

func trunkCount(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[4:8]))
}

func setTrunkCount(buf []byte, n int) {
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n))
}

func trunkLeaf(buf []byte, i int) PageNo {
	off := trunkHeaderSize + i*4
	return PageNo(binary.LittleEndian.Uint32(buf[off:]))
}

func setTrunkLeaf(buf []byte, i int, no PageNo) {
	off := trunkHeaderSize + i*4
	binary.LittleEndian.PutUint32(buf[off:], uint32(no))
}

// FreeList manages the chain of free pages rooted at a file header's
// FreeTrunkHead. It operates purely on byte buffers handed to it by Pager,
// so it carries no file-handle state of its own.
type FreeList struct {
	pageSize int
}

// NewFreeList returns a free-list manager for the given page size.
func NewFreeList(pageSize int) *FreeList {
	return &FreeList{pageSize: pageSize}
}

// Push returns pageNo to the free list. trunkBuf is the current trunk head's
// buffer (nil if head is InvalidPageNo); pageBuf is pageNo's buffer, which
// Push zeroes and reuses when pageNo becomes the new trunk.
//
// Push either appends pageNo as a leaf of the existing trunk (when it has
// room) or turns pageNo itself into the new trunk head.
func (f *FreeList) Push(head PageNo, trunkBuf []byte, pageNo PageNo, pageBuf []byte) (newHead PageNo, newTrunkBuf []byte) {
	if head != InvalidPageNo && trunkCount(trunkBuf) < trunkCapacity(f.pageSize) {
		setTrunkLeaf(trunkBuf, trunkCount(trunkBuf), pageNo)
		setTrunkCount(trunkBuf, trunkCount(trunkBuf)+1)
		SetPageMeta(trunkBuf, KindFreeTrunk, head)
		return head, trunkBuf
	}
	for i := range pageBuf {
		pageBuf[i] = 0
	}
	setTrunkNext(pageBuf, head)
	setTrunkCount(pageBuf, 0)
	SetPageMeta(pageBuf, KindFreeTrunk, pageNo)
	return pageNo, pageBuf
}

// Pop removes and returns one page number from the free list headed at
// head/trunkBuf. ok is false when the list is empty.
func (f *FreeList) Pop(head PageNo, trunkBuf []byte) (popped PageNo, newHead PageNo, newTrunkBuf []byte, ok bool) {
	if head == InvalidPageNo {
		return InvalidPageNo, InvalidPageNo, nil, false
	}
	n := trunkCount(trunkBuf)
	if n > 0 {
		leaf := trunkLeaf(trunkBuf, n-1)
		setTrunkCount(trunkBuf, n-1)
		SetPageMeta(trunkBuf, KindFreeTrunk, head)
		return leaf, head, trunkBuf, true
	}
	// Trunk itself has no leaves left; hand the trunk page out and advance
	// to the next trunk in the chain.
	next := trunkNext(trunkBuf)
	return head, next, nil, true
}

// ValidateTrunk sanity-checks a trunk page's leaf count against the page
// size, returning ErrCorrupt if the count could not have been written by
// this implementation.
func (f *FreeList) ValidateTrunk(buf []byte) error {
	n := trunkCount(buf)
	if n < 0 || n > trunkCapacity(f.pageSize) {
		return ferrors.Wrapf(ferrors.ErrCorrupt, "", "free-list trunk count %d exceeds capacity", n)
	}
	return nil
}
