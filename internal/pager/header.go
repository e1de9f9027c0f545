package pager

import (
	"encoding/binary"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// FileHeaderSize is the byte-exact size of the file header.
const FileHeaderSize = 100

// magic is written at offset 0. 16 bytes, NUL-padded, chosen to be
// recognizably ours rather than a byte-for-byte copy of any existing
// format's magic string.
var magic = [16]byte{'f', 'e', 'r', 'r', 'o', 'd', 'b', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', 0}

// TextEncoding identifies how TEXT values are stored.
type TextEncoding uint32

const (
	EncodingUTF8    TextEncoding = 1
	EncodingUTF16LE TextEncoding = 2
	EncodingUTF16BE TextEncoding = 3
)

// JournalMode selects the crash-recovery protocol: a flat enum for
// dynamic dispatch rather than a class hierarchy.
type JournalMode uint8

const (
	JournalRollback JournalMode = iota // default: rollback journal
	JournalWAL                         // write-ahead log
)

// FileHeader is the parsed form of the first 100 bytes of page 1.
//
// Layout (all multi-byte fields little-endian):
//
//	[0:16]   magic
//	[16:18]  PageSize (power of two 512..65536; 1 means 65536)
//	[18]     ReadVersion  (1=rollback-journal, 2=WAL)
//	[19]     WriteVersion (1=rollback-journal, 2=WAL)
//	[20]     ReservedPerPage
//	[21]     MaxPayloadFraction
//	[22]     MinPayloadFraction
//	[23]     LeafPayloadFraction
//	[24:28]  ChangeCounter
//	[28:32]  PageCount
//	[32:36]  FreeTrunkHead  (0 = none)
//	[36:40]  FreePageCount
//	[40:44]  SchemaCookie
//	[44:48]  SchemaFormat (1..4)
//	[48:52]  DefaultCacheSize
//	[52:56]  VacuumRootPage
//	[56:60]  TextEncoding (1=UTF-8, 2=UTF16LE, 3=UTF16BE)
//	[60:64]  UserVersion
//	[64:68]  IncrementalVacuum
//	[68:72]  ApplicationID
//	[72:92]  Reserved
//	[92:96]  VersionValidFor
//	[96:100] FormatVersionNumber
type FileHeader struct {
	PageSize            uint32
	JournalMode         JournalMode
	ReservedPerPage      uint8
	ChangeCounter       uint32
	PageCount           uint32
	FreeTrunkHead       PageNo
	FreePageCount       uint32
	SchemaCookie        uint32
	SchemaFormat        uint32
	DefaultCacheSize    uint32
	VacuumRootPage      PageNo
	TextEncoding        TextEncoding
	UserVersion         uint32
	IncrementalVacuum   uint32
	ApplicationID       uint32
	VersionValidFor     uint32
	FormatVersionNumber uint32
}

// NewFileHeader returns a header for a brand new database file.
func NewFileHeader(pageSize int) *FileHeader {
	return &FileHeader{
		PageSize:            uint32(pageSize),
		JournalMode:         JournalRollback,
		SchemaFormat:        4,
		DefaultCacheSize:    2000,
		TextEncoding:        EncodingUTF8,
		FormatVersionNumber: 1,
	}
}

// pageSizeOnDisk encodes PageSize per spec: 65536 is stored as 1 since the
// field is only 16 bits wide.
func pageSizeOnDisk(ps uint32) uint16 {
	if ps == 65536 {
		return 1
	}
	return uint16(ps)
}

func pageSizeFromDisk(v uint16) uint32 {
	if v == 1 {
		return 65536
	}
	return uint32(v)
}

// Marshal writes the header into the first FileHeaderSize bytes of buf.
func (h *FileHeader) Marshal(buf []byte) {
	copy(buf[0:16], magic[:])
	binary.LittleEndian.PutUint16(buf[16:18], pageSizeOnDisk(h.PageSize))
	rw := uint8(1)
	if h.JournalMode == JournalWAL {
		rw = 2
	}
	buf[18] = rw
	buf[19] = rw
	buf[20] = h.ReservedPerPage
	buf[21] = 64 // max payload fraction, fixed per format
	buf[22] = 32 // min payload fraction, fixed per format
	buf[23] = 32 // leaf payload fraction, fixed per format
	binary.LittleEndian.PutUint32(buf[24:28], h.ChangeCounter)
	binary.LittleEndian.PutUint32(buf[28:32], h.PageCount)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(h.FreeTrunkHead))
	binary.LittleEndian.PutUint32(buf[36:40], h.FreePageCount)
	binary.LittleEndian.PutUint32(buf[40:44], h.SchemaCookie)
	binary.LittleEndian.PutUint32(buf[44:48], h.SchemaFormat)
	binary.LittleEndian.PutUint32(buf[48:52], h.DefaultCacheSize)
	binary.LittleEndian.PutUint32(buf[52:56], uint32(h.VacuumRootPage))
	binary.LittleEndian.PutUint32(buf[56:60], uint32(h.TextEncoding))
	binary.LittleEndian.PutUint32(buf[60:64], h.UserVersion)
	binary.LittleEndian.PutUint32(buf[64:68], h.IncrementalVacuum)
	binary.LittleEndian.PutUint32(buf[68:72], h.ApplicationID)
	for i := 72; i < 92; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[92:96], h.VersionValidFor)
	binary.LittleEndian.PutUint32(buf[96:100], h.FormatVersionNumber)
}

// ParseFileHeader validates the magic and decodes the header.
func ParseFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, ferrors.Wrap(ferrors.ErrNotADB, "file too small for header", "")
	}
	for i := 0; i < 15; i++ { // byte 15 is a NUL terminator, tolerate drift
		if buf[i] != magic[i] {
			return nil, ferrors.Wrap(ferrors.ErrNotADB, "bad magic", "")
		}
	}
	ps := pageSizeFromDisk(binary.LittleEndian.Uint16(buf[16:18]))
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "invalid page size %d", ps)
	}
	h := &FileHeader{
		PageSize:            ps,
		ReservedPerPage:      buf[20],
		ChangeCounter:       binary.LittleEndian.Uint32(buf[24:28]),
		PageCount:           binary.LittleEndian.Uint32(buf[28:32]),
		FreeTrunkHead:       PageNo(binary.LittleEndian.Uint32(buf[32:36])),
		FreePageCount:       binary.LittleEndian.Uint32(buf[36:40]),
		SchemaCookie:        binary.LittleEndian.Uint32(buf[40:44]),
		SchemaFormat:        binary.LittleEndian.Uint32(buf[44:48]),
		DefaultCacheSize:    binary.LittleEndian.Uint32(buf[48:52]),
		VacuumRootPage:      PageNo(binary.LittleEndian.Uint32(buf[52:56])),
		TextEncoding:        TextEncoding(binary.LittleEndian.Uint32(buf[56:60])),
		UserVersion:         binary.LittleEndian.Uint32(buf[60:64]),
		IncrementalVacuum:   binary.LittleEndian.Uint32(buf[64:68]),
		ApplicationID:       binary.LittleEndian.Uint32(buf[68:72]),
		VersionValidFor:     binary.LittleEndian.Uint32(buf[92:96]),
		FormatVersionNumber: binary.LittleEndian.Uint32(buf[96:100]),
	}
	if buf[18] == 2 {
		h.JournalMode = JournalWAL
	}
	return h, nil
}
