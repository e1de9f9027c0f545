package btree

import (
	"encoding/binary"

	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
)

// Overflow pages hold the tail of a payload too large to fit in a leaf
// cell, chained singly. Layout after the common trailer-relative cell
// area:
//
//	[0:4]  next overflow PageNo (0 = end of chain)
//	[4:8]  payload bytes stored in this page
//	[8:]   payload data
const overflowHeaderSize = 8

func overflowCapacity(pageSize int) int {
	return pager.UsableBytes(pageSize, 2) - overflowHeaderSize
}

// Store is the page-allocation surface the b-tree layer needs from the
// pager, kept narrow so tree.go can be tested against a fake.
type Store interface {
	ReadPage(no pager.PageNo) ([]byte, error)
	UnpinPage(no pager.PageNo)
	WritePage(no pager.PageNo, buf []byte) error
	AllocPage() (pager.PageNo, []byte)
	FreePage(no pager.PageNo) error
	PageSize() int
}

// WriteOverflow stores data across as many overflow pages as needed and
// returns the head page number.
func WriteOverflow(s Store, data []byte) (pager.PageNo, error) {
	cap := overflowCapacity(s.PageSize())
	var head pager.PageNo = pager.InvalidPageNo
	var headBuf []byte
	prev := pager.InvalidPageNo
	var prevBuf []byte

	for offset := 0; offset < len(data); offset += cap {
		end := offset + cap
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		no, buf := s.AllocPage()
		pager.SetPageMeta(buf, pager.KindOverflow, no)
		binary.LittleEndian.PutUint32(buf[pager.CellAreaStart(no):], uint32(pager.InvalidPageNo))
		binary.LittleEndian.PutUint32(buf[pager.CellAreaStart(no)+4:], uint32(len(chunk)))
		copy(buf[pager.CellAreaStart(no)+overflowHeaderSize:], chunk)

		if head == pager.InvalidPageNo {
			head, headBuf = no, buf
		}
		if prev != pager.InvalidPageNo {
			binary.LittleEndian.PutUint32(prevBuf[pager.CellAreaStart(prev):], uint32(no))
			if err := s.WritePage(prev, prevBuf); err != nil {
				return pager.InvalidPageNo, err
			}
			s.UnpinPage(prev)
		}
		prev, prevBuf = no, buf
	}
	if prev != pager.InvalidPageNo {
		if err := s.WritePage(prev, prevBuf); err != nil {
			return pager.InvalidPageNo, err
		}
		s.UnpinPage(prev)
	}
	_ = headBuf
	return head, nil
}

// ReadOverflow reassembles a payload of totalSize bytes starting at head.
func ReadOverflow(s Store, head pager.PageNo, totalSize int) ([]byte, error) {
	out := make([]byte, 0, totalSize)
	for no := head; no != pager.InvalidPageNo && len(out) < totalSize; {
		buf, err := s.ReadPage(no)
		if err != nil {
			return nil, err
		}
		base := pager.CellAreaStart(no)
		next := pager.PageNo(binary.LittleEndian.Uint32(buf[base:]))
		dataLen := int(binary.LittleEndian.Uint32(buf[base+4:]))
		out = append(out, buf[base+overflowHeaderSize:base+overflowHeaderSize+dataLen]...)
		s.UnpinPage(no)
		no = next
	}
	if len(out) != totalSize {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "overflow chain yielded %d bytes, want %d", len(out), totalSize)
	}
	return out, nil
}

// FreeOverflow releases every page in an overflow chain back to the pager.
func FreeOverflow(s Store, head pager.PageNo) error {
	for no := head; no != pager.InvalidPageNo; {
		buf, err := s.ReadPage(no)
		if err != nil {
			return err
		}
		next := pager.PageNo(binary.LittleEndian.Uint32(buf[pager.CellAreaStart(no):]))
		s.UnpinPage(no)
		if err := s.FreePage(no); err != nil {
			return err
		}
		no = next
	}
	return nil
}
