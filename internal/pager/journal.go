package pager

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// Journal is the default crash-recovery mechanism: before a
// page is dirtied for the first time in a transaction, its pre-image is
// appended to a sidecar journal file. A clean commit deletes the journal; a
// crash leaves it behind, and the next opener rolls the pre-images back onto
// the main file before doing anything else. This is the rollback-journal
// twin of wal.go's WAL, sharing its record framing and checksum scheme but
// storing original pages instead of new ones.
//
// File header (32 bytes):
//
//	[0:8]   magic "FERRODBJ"
//	[8:12]  version
//	[12:16] page size
//	[16:20] page count of the main file before this transaction began
//	[20:24] reserved
//	[24:28] header CRC32-C of bytes [0:24]
//	[28:32] padding
//
// Each frame: [0:4] page number, [4:4+pageSize] pre-image, [4+pageSize:+4]
// CRC32-C of the page number and pre-image.
const (
	journalMagic      = "FERRODBJ"
	journalVersion    = uint32(1)
	journalFileHdrSz  = 32
	journalFrameHdrSz = 4
	journalFrameTrlSz = 4
)

// Journal manages one transaction's worth of page pre-images.
type Journal struct {
	f        *os.File
	path     string
	pageSize int
	saved    map[PageNo]bool
}

// CreateJournal creates a new journal file recording the main file's current
// page count, ready to receive page pre-images as they are dirtied.
func CreateJournal(path string, pageSize int, pageCountBefore uint32) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCantOpen, "create journal: "+err.Error(), "")
	}
	var hdr [journalFileHdrSz]byte
	copy(hdr[0:8], journalMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], journalVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(pageSize))
	binary.LittleEndian.PutUint32(hdr[16:20], pageCountBefore)
	binary.LittleEndian.PutUint32(hdr[24:28], crc32.Checksum(hdr[:24], crcTable))
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.ErrIoError, "write journal header: "+err.Error(), "")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.ErrIoError, "sync journal header: "+err.Error(), "")
	}
	return &Journal{f: f, path: path, pageSize: pageSize, saved: map[PageNo]bool{}}, nil
}

// SavePreImage appends page's current on-disk contents to the journal, if
// this is the first time in the transaction that page has been touched.
func (j *Journal) SavePreImage(page PageNo, preImage []byte) error {
	if j.saved[page] {
		return nil
	}
	frame := make([]byte, journalFrameHdrSz+len(preImage)+journalFrameTrlSz)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(page))
	copy(frame[journalFrameHdrSz:], preImage)
	h := crc32.New(crcTable)
	h.Write(frame[:journalFrameHdrSz+len(preImage)])
	binary.LittleEndian.PutUint32(frame[journalFrameHdrSz+len(preImage):], h.Sum32())
	if _, err := j.f.Write(frame); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "journal append: "+err.Error(), "")
	}
	j.saved[page] = true
	return nil
}

// Sync fsyncs the journal, the durability point a caller must reach before
// dirtying the main file (write-ahead-of-main-file ordering).
func (j *Journal) Sync() error {
	return j.f.Sync()
}

// Commit deletes the journal file, the atomic instant a rollback journal
// transaction is considered durable.
func (j *Journal) Commit() error {
	j.f.Close()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return ferrors.Wrap(ferrors.ErrIoError, "remove journal: "+err.Error(), "")
	}
	return nil
}

// Abandon closes the journal handle without deleting the file, used when a
// rollback still needs to read it afterward.
func (j *Journal) Abandon() error {
	return j.f.Close()
}

// JournalFrame is one recovered pre-image.
type JournalFrame struct {
	Page     PageNo
	PreImage []byte
}

// ReadJournal opens an existing journal file left behind by a crash and
// replays its header and frames for recovery. pageCountBefore is the page
// count the main file must be truncated to once frames are applied.
func ReadJournal(path string) (frames []JournalFrame, pageCountBefore uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, ferrors.Wrap(ferrors.ErrCantOpen, "open journal: "+err.Error(), "")
	}
	defer f.Close()

	var hdr [journalFileHdrSz]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, 0, ferrors.Wrap(ferrors.ErrCorrupt, "truncated journal header", "")
	}
	if string(hdr[0:8]) != journalMagic {
		return nil, 0, ferrors.Wrap(ferrors.ErrNotADB, "bad journal magic", "")
	}
	if stored, computed := binary.LittleEndian.Uint32(hdr[24:28]), crc32.Checksum(hdr[:24], crcTable); stored != computed {
		return nil, 0, ferrors.Wrap(ferrors.ErrCorrupt, "journal header checksum mismatch", "")
	}
	pageSize := int(binary.LittleEndian.Uint32(hdr[12:16]))
	pageCountBefore = binary.LittleEndian.Uint32(hdr[16:20])

	for {
		var fhdr [journalFrameHdrSz]byte
		if _, err := io.ReadFull(f, fhdr[:]); err != nil {
			break // EOF or torn frame: stop, as much as was fsynced survives
		}
		page := PageNo(binary.LittleEndian.Uint32(fhdr[:]))
		data := make([]byte, pageSize)
		if _, err := io.ReadFull(f, data); err != nil {
			break
		}
		var trailer [journalFrameTrlSz]byte
		if _, err := io.ReadFull(f, trailer[:]); err != nil {
			break
		}
		h := crc32.New(crcTable)
		h.Write(fhdr[:])
		h.Write(data)
		if h.Sum32() != binary.LittleEndian.Uint32(trailer[:]) {
			break // torn or corrupt frame: everything before it still applies
		}
		frames = append(frames, JournalFrame{Page: page, PreImage: data})
	}
	return frames, pageCountBefore, nil
}

// JournalExists reports whether a hot journal is present at path, the signal
// that the next Open must recover before doing anything else.
func JournalExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
