package pager

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// WAL is the flat alternative to the rollback journal: an append-only
// log of full page images plus transaction framing records.
// JournalRollback is the default mode; a connection opts into WAL with
// PRAGMA journal_mode=wal.
//
// File header (first 32 bytes):
//
//	[0:8]   magic "FERRODBW"
//	[8:12]  version
//	[12:16] page size
//	[16:24] reserved
//	[24:28] header CRC32-C of bytes [0:24]
//	[28:32] padding
//
// Record (variable length):
//
//	[0]     WALRecordType
//	[1:5]   reserved
//	[5:13]  LSN
//	[13:21] TxID
//	[21:25] PageNo (PageImage records only)
//	[25:29] data length
//	[29:33] record CRC32-C
//	[33:]   data
const (
	walMagic       = "FERRODBW"
	walVersion     = uint32(1)
	walFileHdrSize = 32
	walRecHdrSize  = 33
)

// LSN is a monotonically increasing log sequence number.
type LSN uint64

// TxID identifies a transaction within the WAL.
type TxID uint64

// WALRecordType tags the kind of entry in a WAL record stream.
type WALRecordType uint8

const (
	WALBegin      WALRecordType = 0x01
	WALPageImage  WALRecordType = 0x02
	WALCommit     WALRecordType = 0x03
	WALAbort      WALRecordType = 0x04
	WALCheckpoint WALRecordType = 0x05
)

// WALRecord is the in-memory form of one WAL entry.
type WALRecord struct {
	Type WALRecordType
	LSN  LSN
	TxID TxID
	Page PageNo
	Data []byte // full page image for WALPageImage, nil otherwise
}

// WALFile is the append-only WAL for one database file.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int
	nextLSN  LSN
	writePos int64
}

// OpenWALFile opens or creates the WAL sidecar file at path.
func OpenWALFile(path string, pageSize int) (*WALFile, error) {
	_, statErr := os.Stat(path)
	exists := !os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCantOpen, "open wal: "+err.Error(), "")
	}

	wf := &WALFile{f: f, pageSize: pageSize, nextLSN: 1}
	if exists {
		if err := wf.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := wf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}

	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.ErrIoError, "seek wal end: "+err.Error(), "")
	}
	wf.writePos = endPos
	return wf, nil
}

func (wf *WALFile) writeHeader() error {
	var hdr [walFileHdrSize]byte
	copy(hdr[0:8], walMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], walVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(wf.pageSize))
	binary.LittleEndian.PutUint32(hdr[24:28], crc32.Checksum(hdr[:24], crcTable))
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "write wal header: "+err.Error(), "")
	}
	return wf.f.Sync()
}

func (wf *WALFile) validateHeader() error {
	var hdr [walFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return ferrors.Wrap(ferrors.ErrIoError, "read wal header: "+err.Error(), "")
	}
	if n < walFileHdrSize {
		return ferrors.Wrap(ferrors.ErrCorrupt, "wal header too short", "")
	}
	if string(hdr[0:8]) != walMagic {
		return ferrors.Wrap(ferrors.ErrNotADB, "bad wal magic", "")
	}
	if binary.LittleEndian.Uint32(hdr[8:12]) != walVersion {
		return ferrors.Wrap(ferrors.ErrCorrupt, "unsupported wal version", "")
	}
	if ps := binary.LittleEndian.Uint32(hdr[12:16]); int(ps) != wf.pageSize {
		return ferrors.Wrapf(ferrors.ErrCorrupt, "", "wal page size %d != expected %d", ps, wf.pageSize)
	}
	if stored, computed := binary.LittleEndian.Uint32(hdr[24:28]), crc32.Checksum(hdr[:24], crcTable); stored != computed {
		return ferrors.Wrap(ferrors.ErrCorrupt, "wal header checksum mismatch", "")
	}
	return nil
}

// AppendRecord writes rec and assigns it a fresh LSN.
func (wf *WALFile) AppendRecord(rec *WALRecord) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	lsn := wf.nextLSN
	wf.nextLSN++
	rec.LSN = lsn

	data := marshalWALRecord(rec)
	n, err := wf.f.WriteAt(data, wf.writePos)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.ErrIoError, "wal append: "+err.Error(), "")
	}
	wf.writePos += int64(n)
	return lsn, nil
}

// Sync fsyncs the WAL file.
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Close closes the WAL file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Checkpoint truncates the WAL back to just its header, after the pager has
// applied every committed page image to the main database file.
func (wf *WALFile) Checkpoint() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(walFileHdrSize); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "wal checkpoint: "+err.Error(), "")
	}
	wf.writePos = walFileHdrSize
	return wf.f.Sync()
}

func marshalWALRecord(rec *WALRecord) []byte {
	dataLen := len(rec.Data)
	buf := make([]byte, walRecHdrSize+dataLen)
	buf[0] = byte(rec.Type)
	binary.LittleEndian.PutUint64(buf[5:13], uint64(rec.LSN))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(rec.TxID))
	binary.LittleEndian.PutUint32(buf[21:25], uint32(rec.Page))
	binary.LittleEndian.PutUint32(buf[25:29], uint32(dataLen))
	if dataLen > 0 {
		copy(buf[walRecHdrSize:], rec.Data)
	}
	h := crc32.New(crcTable)
	h.Write(buf[:29])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[walRecHdrSize:])
	binary.LittleEndian.PutUint32(buf[29:33], h.Sum32())
	return buf
}

func unmarshalWALRecord(r io.Reader) (*WALRecord, error) {
	var hdr [walRecHdrSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	rec := &WALRecord{
		Type: WALRecordType(hdr[0]),
		LSN:  LSN(binary.LittleEndian.Uint64(hdr[5:13])),
		TxID: TxID(binary.LittleEndian.Uint64(hdr[13:21])),
		Page: PageNo(binary.LittleEndian.Uint32(hdr[21:25])),
	}
	dataLen := int(binary.LittleEndian.Uint32(hdr[25:29]))
	storedCRC := binary.LittleEndian.Uint32(hdr[29:33])

	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, ferrors.Wrap(ferrors.ErrIoError, "wal record data: "+err.Error(), "")
		}
		rec.Data = data
	}

	h := crc32.New(crcTable)
	h.Write(hdr[:29])
	h.Write([]byte{0, 0, 0, 0})
	if data != nil {
		h.Write(data)
	}
	if h.Sum32() != storedCRC {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "wal record checksum mismatch at lsn %d", rec.LSN)
	}
	return rec, nil
}

// ReadAllRecords replays every record in the WAL file at path. A partial or
// corrupt record at the tail (a torn write from a crash mid-append) stops
// the scan rather than failing it.
func ReadAllRecords(path string) ([]*WALRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCantOpen, "open wal: "+err.Error(), "")
	}
	defer f.Close()

	if _, err := f.Seek(walFileHdrSize, io.SeekStart); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "seek wal: "+err.Error(), "")
	}

	var records []*WALRecord
	for {
		rec, err := unmarshalWALRecord(f)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}
