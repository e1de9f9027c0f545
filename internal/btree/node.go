// Package btree implements the table and index b-trees: table trees
// keyed by int64 rowid, index trees keyed by an encoded record tuple
// with an optional trailing rowid. Both share one on-disk slotted-page
// node layout, sized to leave room for page 1's 100-byte file header,
// and an explicit cursor page-stack in place of parent pointers.
package btree

import (
	"encoding/binary"

	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
)

// Node header, written immediately after a page's cell area start. The
// slot directory grows from low addresses; cell data packs from high
// addresses:
//
//	[0]     flags (bit0 leaf, bit1 index)
//	[1:3]   reserved
//	[3:5]   cellCount uint16
//	[5:7]   contentStart uint16 (offset of the first byte of packed cell data)
//	[7:11]  rightChild PageNo (interior) / nextLeaf PageNo (leaf)
//	[11:15] prevLeaf PageNo (leaf only)
const (
	nodeHeaderSize = 16
	cellPtrSize    = 4 // {offset uint16, length uint16} per slot

	flagLeaf  uint8 = 1 << 0
	flagIndex uint8 = 1 << 1
)

// Node wraps a raw page buffer as a b-tree node.
type Node struct {
	buf     []byte
	no      pager.PageNo
	base    int // CellAreaStart(no): where the node header begins
	trailer int // trailerOffset(len(buf)): end of usable space
}

// WrapNode wraps an existing page buffer already initialized as a node.
func WrapNode(buf []byte, no pager.PageNo) *Node {
	return &Node{buf: buf, no: no, base: pager.CellAreaStart(no), trailer: len(buf) - 16}
}

// InitNode initializes buf as an empty node of the given kind.
func InitNode(buf []byte, no pager.PageNo, kind pager.PageKind, leaf, index bool) *Node {
	pager.SetPageMeta(buf, kind, no)
	n := WrapNode(buf, no)
	var flags uint8
	if leaf {
		flags |= flagLeaf
	}
	if index {
		flags |= flagIndex
	}
	buf[n.base] = flags
	n.setCellCount(0)
	n.setContentStart(n.trailer)
	n.setRightChild(pager.InvalidPageNo)
	n.setPrevLeaf(pager.InvalidPageNo)
	return n
}

func (n *Node) IsLeaf() bool  { return n.buf[n.base]&flagLeaf != 0 }
func (n *Node) IsIndex() bool { return n.buf[n.base]&flagIndex != 0 }
func (n *Node) PageNo() pager.PageNo { return n.no }
func (n *Node) Bytes() []byte { return n.buf }

func (n *Node) CellCount() int {
	return int(binary.LittleEndian.Uint16(n.buf[n.base+3:]))
}
func (n *Node) setCellCount(c int) {
	binary.LittleEndian.PutUint16(n.buf[n.base+3:], uint16(c))
}

func (n *Node) contentStart() int {
	return int(binary.LittleEndian.Uint16(n.buf[n.base+5:]))
}
func (n *Node) setContentStart(off int) {
	binary.LittleEndian.PutUint16(n.buf[n.base+5:], uint16(off))
}

// RightChild is the rightmost child pointer of an interior node (the
// subtree holding keys greater than every separator in the node).
func (n *Node) RightChild() pager.PageNo {
	return pager.PageNo(binary.LittleEndian.Uint32(n.buf[n.base+7:]))
}
func (n *Node) SetRightChild(no pager.PageNo) { n.setRightChild(no) }
func (n *Node) setRightChild(no pager.PageNo) {
	binary.LittleEndian.PutUint32(n.buf[n.base+7:], uint32(no))
}

// NextLeaf/PrevLeaf link sibling leaves for ordered range scans, sharing
// storage with RightChild/reserved since a node is never both leaf and
// interior at once.
func (n *Node) NextLeaf() pager.PageNo   { return n.RightChild() }
func (n *Node) SetNextLeaf(no pager.PageNo) { n.setRightChild(no) }
func (n *Node) PrevLeaf() pager.PageNo {
	return pager.PageNo(binary.LittleEndian.Uint32(n.buf[n.base+11:]))
}
func (n *Node) setPrevLeaf(no pager.PageNo) {
	binary.LittleEndian.PutUint32(n.buf[n.base+11:], uint32(no))
}
func (n *Node) SetPrevLeaf(no pager.PageNo) { n.setPrevLeaf(no) }

func (n *Node) slotDirOff() int { return n.base + nodeHeaderSize }

func (n *Node) getSlot(i int) (offset, length int) {
	off := n.slotDirOff() + i*cellPtrSize
	return int(binary.LittleEndian.Uint16(n.buf[off:])), int(binary.LittleEndian.Uint16(n.buf[off+2:]))
}

func (n *Node) setSlot(i, offset, length int) {
	off := n.slotDirOff() + i*cellPtrSize
	binary.LittleEndian.PutUint16(n.buf[off:], uint16(offset))
	binary.LittleEndian.PutUint16(n.buf[off+2:], uint16(length))
}

func (n *Node) slotDirEnd() int { return n.slotDirOff() + n.CellCount()*cellPtrSize }

// FreeBytes returns how much room remains for one more cell plus its slot.
func (n *Node) FreeBytes() int {
	return n.contentStart() - n.slotDirEnd() - cellPtrSize
}

// RawCell returns the raw bytes of the cell at slot i.
func (n *Node) RawCell(i int) []byte {
	off, length := n.getSlot(i)
	return n.buf[off : off+length]
}

// InsertRawAt inserts data as a new cell at sorted position pos, shifting
// later slots right. Returns ErrFull if there isn't room.
func (n *Node) InsertRawAt(pos int, data []byte) error {
	needed := len(data)
	if n.FreeBytes() < needed {
		return ferrors.Wrapf(ferrors.ErrFull, "", "node page full: need %d have %d", needed, n.FreeBytes())
	}
	newStart := n.contentStart() - needed
	copy(n.buf[newStart:], data)
	n.setContentStart(newStart)

	count := n.CellCount()
	n.setCellCount(count + 1)
	for i := count; i > pos; i-- {
		o, l := n.getSlot(i - 1)
		n.setSlot(i, o, l)
	}
	n.setSlot(pos, newStart, needed)
	return nil
}

// ReplaceAt replaces the cell at slot pos with new data, appending fresh
// content rather than attempting an in-place update (node pages are small
// enough that fragmentation is reclaimed by the next Compact).
func (n *Node) ReplaceAt(pos int, data []byte) error {
	needed := len(data)
	if n.FreeBytes()+cellPtrSize < needed {
		return ferrors.Wrapf(ferrors.ErrFull, "", "node page full on replace: need %d", needed)
	}
	newStart := n.contentStart() - needed
	copy(n.buf[newStart:], data)
	n.setContentStart(newStart)
	n.setSlot(pos, newStart, needed)
	return nil
}

// DeleteAt removes the cell at slot pos, shifting later slots left.
func (n *Node) DeleteAt(pos int) {
	count := n.CellCount()
	for i := pos; i < count-1; i++ {
		o, l := n.getSlot(i + 1)
		n.setSlot(i, o, l)
	}
	n.setCellCount(count - 1)
}

// Compact reclaims fragmentation left by ReplaceAt/DeleteAt by rewriting
// every live cell back-to-back from the trailer, preserving slot order.
func (n *Node) Compact() {
	count := n.CellCount()
	type rec struct{ data []byte }
	cells := make([]rec, count)
	for i := 0; i < count; i++ {
		cells[i] = rec{append([]byte{}, n.RawCell(i)...)}
	}
	n.setContentStart(n.trailer)
	for i, c := range cells {
		newStart := n.contentStart() - len(c.data)
		copy(n.buf[newStart:], c.data)
		n.setContentStart(newStart)
		n.setSlot(i, newStart, len(c.data))
	}
}

// Capacity is the total cell-storage bytes available to a brand new node of
// this page size (used by split to decide the target fill fraction).
func Capacity(pageSize int, no pager.PageNo) int {
	return pager.UsableBytes(pageSize, no) - nodeHeaderSize
}
