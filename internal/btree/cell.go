package btree

import (
	"encoding/binary"

	"github.com/kjmoran/ferrodb/internal/pager"
)

// Cells use ordinary unsigned-LEB128 varints (encoding/binary.*Uvarint) for
// their own bookkeeping fields (rowid, lengths) — distinct from the record
// serial-type varints, which are a big-endian, fixed-width-9th-byte
// scheme owned by internal/sqlvalue. Cell framing is a storage-layer
// concern; only the payload bytes it wraps need to be byte-exact.

const overflowFlag = 0x01

// TableInteriorCell is a separator entry in a table tree interior node: the
// left child subtree holds every rowid <= RowID.
type TableInteriorCell struct {
	ChildPage pager.PageNo
	RowID     int64
}

func MarshalTableInterior(c TableInteriorCell) []byte {
	buf := make([]byte, 4+binary.MaxVarintLen64)
	binary.LittleEndian.PutUint32(buf, uint32(c.ChildPage))
	n := binary.PutUvarint(buf[4:], uint64(c.RowID))
	return buf[:4+n]
}

func ParseTableInterior(raw []byte) TableInteriorCell {
	child := pager.PageNo(binary.LittleEndian.Uint32(raw))
	rowid, _ := binary.Uvarint(raw[4:])
	return TableInteriorCell{ChildPage: child, RowID: int64(rowid)}
}

// TableLeafCell holds one row's payload (the record-encoded column
// values) keyed by rowid, with overflow-chain support for oversized rows.
type TableLeafCell struct {
	RowID        int64
	Payload      []byte // inline payload; empty when Overflow
	Overflow     bool
	OverflowPage pager.PageNo
	TotalSize    uint32 // full payload size, Overflow only
}

func MarshalTableLeaf(c TableLeafCell) []byte {
	head := make([]byte, binary.MaxVarintLen64+1)
	n := binary.PutUvarint(head, uint64(c.RowID))
	head = head[:n]
	if c.Overflow {
		buf := make([]byte, len(head)+1+4+4)
		copy(buf, head)
		buf[len(head)] = overflowFlag
		binary.LittleEndian.PutUint32(buf[len(head)+1:], uint32(c.OverflowPage))
		binary.LittleEndian.PutUint32(buf[len(head)+5:], c.TotalSize)
		return buf
	}
	lenBuf := make([]byte, binary.MaxVarintLen64)
	ln := binary.PutUvarint(lenBuf, uint64(len(c.Payload)))
	buf := make([]byte, len(head)+1+ln+len(c.Payload))
	off := copy(buf, head)
	buf[off] = 0
	off++
	off += copy(buf[off:], lenBuf[:ln])
	copy(buf[off:], c.Payload)
	return buf
}

func ParseTableLeaf(raw []byte) TableLeafCell {
	rowid, n := binary.Uvarint(raw)
	flags := raw[n]
	n++
	if flags&overflowFlag != 0 {
		return TableLeafCell{
			RowID:        int64(rowid),
			Overflow:     true,
			OverflowPage: pager.PageNo(binary.LittleEndian.Uint32(raw[n:])),
			TotalSize:    binary.LittleEndian.Uint32(raw[n+4:]),
		}
	}
	plen, m := binary.Uvarint(raw[n:])
	n += m
	payload := make([]byte, plen)
	copy(payload, raw[n:n+int(plen)])
	return TableLeafCell{RowID: int64(rowid), Payload: payload}
}

// IndexInteriorCell is a separator entry in an index tree interior node.
type IndexInteriorCell struct {
	ChildPage pager.PageNo
	Key       []byte
}

func MarshalIndexInterior(c IndexInteriorCell) []byte {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	ln := binary.PutUvarint(lenBuf, uint64(len(c.Key)))
	buf := make([]byte, 4+ln+len(c.Key))
	binary.LittleEndian.PutUint32(buf, uint32(c.ChildPage))
	off := 4 + copy(buf[4:], lenBuf[:ln])
	copy(buf[off:], c.Key)
	return buf
}

func ParseIndexInterior(raw []byte) IndexInteriorCell {
	child := pager.PageNo(binary.LittleEndian.Uint32(raw))
	klen, n := binary.Uvarint(raw[4:])
	key := make([]byte, klen)
	copy(key, raw[4+n:4+n+int(klen)])
	return IndexInteriorCell{ChildPage: child, Key: key}
}

// IndexLeafCell holds one index entry: the encoded key tuple (a record
// key plus an optional trailing rowid for non-unique indexes).
type IndexLeafCell struct {
	Key          []byte
	Overflow     bool
	OverflowPage pager.PageNo
	TotalSize    uint32
}

func MarshalIndexLeaf(c IndexLeafCell) []byte {
	if c.Overflow {
		buf := make([]byte, 1+4+4)
		buf[0] = overflowFlag
		binary.LittleEndian.PutUint32(buf[1:], uint32(c.OverflowPage))
		binary.LittleEndian.PutUint32(buf[5:], c.TotalSize)
		return buf
	}
	lenBuf := make([]byte, binary.MaxVarintLen64)
	ln := binary.PutUvarint(lenBuf, uint64(len(c.Key)))
	buf := make([]byte, 1+ln+len(c.Key))
	buf[0] = 0
	off := 1 + copy(buf[1:], lenBuf[:ln])
	copy(buf[off:], c.Key)
	return buf
}

func ParseIndexLeaf(raw []byte) IndexLeafCell {
	if raw[0]&overflowFlag != 0 {
		return IndexLeafCell{
			Overflow:     true,
			OverflowPage: pager.PageNo(binary.LittleEndian.Uint32(raw[1:])),
			TotalSize:    binary.LittleEndian.Uint32(raw[5:]),
		}
	}
	klen, n := binary.Uvarint(raw[1:])
	key := make([]byte, klen)
	copy(key, raw[1+n:1+n+int(klen)])
	return IndexLeafCell{Key: key}
}
