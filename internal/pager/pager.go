package pager

import (
	"sync"

	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/vfs"
)

// pageFrame is one cached page.
type pageFrame struct {
	no     PageNo
	buf    []byte
	dirty  bool
	pinned int
	prev   *pageFrame
	next   *pageFrame
}

// pageCache is a pin-aware LRU page cache: pinned pages are never evicted.
// It uses a doubly-linked list for LRU ordering.
type pageCache struct {
	mu       sync.Mutex
	maxPages int
	pages    map[PageNo]*pageFrame
	head     *pageFrame
	tail     *pageFrame
}

func newPageCache(maxPages int) *pageCache {
	if maxPages <= 0 {
		maxPages = 2000
	}
	return &pageCache{maxPages: maxPages, pages: make(map[PageNo]*pageFrame, maxPages)}
}

func (c *pageCache) get(no PageNo) (*pageFrame, bool) {
	f, ok := c.pages[no]
	if ok {
		c.moveToFront(f)
	}
	return f, ok
}

func (c *pageCache) put(f *pageFrame) {
	if _, exists := c.pages[f.no]; exists {
		c.moveToFront(f)
		return
	}
	for len(c.pages) >= c.maxPages {
		if !c.evictOne() {
			break
		}
	}
	c.pages[f.no] = f
	c.pushFront(f)
}

func (c *pageCache) remove(no PageNo) {
	f, ok := c.pages[no]
	if !ok {
		return
	}
	c.unlink(f)
	delete(c.pages, no)
}

func (c *pageCache) evictOne() bool {
	for f := c.tail; f != nil; f = f.prev {
		if f.pinned == 0 && !f.dirty {
			c.unlink(f)
			delete(c.pages, f.no)
			return true
		}
	}
	return false
}

func (c *pageCache) dirtyPages() []*pageFrame {
	var out []*pageFrame
	for _, f := range c.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (c *pageCache) pushFront(f *pageFrame) {
	f.prev = nil
	f.next = c.head
	if c.head != nil {
		c.head.prev = f
	}
	c.head = f
	if c.tail == nil {
		c.tail = f
	}
}

func (c *pageCache) unlink(f *pageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		c.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		c.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (c *pageCache) moveToFront(f *pageFrame) {
	c.unlink(f)
	c.pushFront(f)
}

// Options configures an open Pager.
type Options struct {
	Path          string // "" or ":memory:" for an in-memory database
	PageSize      int    // 0 = DefaultPageSize
	MaxCachePages int    // 0 = default
	JournalMode   JournalMode
}

// Pager is the central I/O layer: every page read or write goes through
// it so checksum validation, journaling and the lock ladder all happen
// in one place, a single buffer-pool choke point.
type Pager struct {
	mu          sync.RWMutex
	file        vfs.File
	inMemory    map[PageNo][]byte // backing store when Options.Path is empty
	cache       *pageCache
	freeList    *FreeList
	header      *FileHeader
	pageSize    int
	path        string
	journalPath string
	journal     *Journal
	wal         *WALFile
	lock        *FileLock
	closed      bool
}

// Open opens or creates a database file per Options.
func Open(opts Options) (*Pager, error) {
	ps := opts.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, ferrors.Wrapf(ferrors.ErrMisuse, "", "invalid page size %d", ps)
	}

	p := &Pager{
		cache:    newPageCache(opts.MaxCachePages),
		freeList: NewFreeList(ps),
		pageSize: ps,
		path:     opts.Path,
		lock:     NewFileLock(),
	}

	if opts.Path == "" || opts.Path == ":memory:" {
		p.inMemory = map[PageNo][]byte{}
		p.header = NewFileHeader(ps)
		p.header.JournalMode = opts.JournalMode
		return p, nil
	}

	p.journalPath = opts.Path + "-journal"

	isNew := !vfs.Exists(opts.Path)

	if JournalExists(p.journalPath) {
		if err := p.recoverFromJournal(); err != nil {
			return nil, err
		}
	}

	f, err := vfs.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	p.file = f

	if isNew {
		h := NewFileHeader(ps)
		h.JournalMode = opts.JournalMode
		h.PageCount = 1
		p.header = h
		buf := NewPage(ps, KindFileHeader, FileHeaderPage)
		h.Marshal(buf)
		if err := p.writePageRaw(FileHeaderPage, buf); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, ferrors.Wrap(ferrors.ErrIoError, err.Error(), "")
		}
	} else {
		buf := make([]byte, ps)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, ferrors.Wrap(ferrors.ErrIoError, "read header: "+err.Error(), "")
		}
		h, err := ParseFileHeader(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.header = h
		p.pageSize = int(h.PageSize)
		p.freeList = NewFreeList(p.pageSize)
	}

	if p.header.JournalMode == JournalWAL {
		wf, err := OpenWALFile(opts.Path+"-wal", p.pageSize)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.wal = wf
	}

	return p, nil
}

func (p *Pager) recoverFromJournal() error {
	frames, pageCountBefore, err := ReadJournal(p.journalPath)
	if err != nil {
		return err
	}
	f, err := vfs.OpenExisting(p.path)
	if err != nil {
		if vfs.IsNotExist(err) {
			return vfs.Remove(p.journalPath)
		}
		return ferrors.Wrap(ferrors.ErrCantOpen, "open for recovery: "+err.Error(), "")
	}
	for _, fr := range frames {
		off := int64(fr.Page-1) * int64(len(fr.PreImage))
		if _, err := f.WriteAt(fr.PreImage, off); err != nil {
			f.Close()
			return ferrors.Wrap(ferrors.ErrIoError, "restore pre-image: "+err.Error(), "")
		}
	}
	if pageCountBefore > 0 {
		_ = f.Truncate(int64(pageCountBefore) * int64(p.pageSize))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ferrors.Wrap(ferrors.ErrIoError, err.Error(), "")
	}
	f.Close()
	return vfs.Remove(p.journalPath)
}

func (p *Pager) readPageRaw(no PageNo) ([]byte, error) {
	if p.inMemory != nil {
		buf, ok := p.inMemory[no]
		if !ok {
			return nil, ferrors.Wrapf(ferrors.ErrIoError, "", "page %d not allocated", no)
		}
		return buf, nil
	}
	buf := make([]byte, p.pageSize)
	off := int64(no-1) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, ferrors.Wrapf(ferrors.ErrIoError, "", "read page %d: %s", no, err.Error())
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Pager) writePageRaw(no PageNo, buf []byte) error {
	SetPageCRC(buf)
	if p.inMemory != nil {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		p.inMemory[no] = cp
		return nil
	}
	off := int64(no-1) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return ferrors.Wrapf(ferrors.ErrIoError, "", "write page %d: %s", no, err.Error())
	}
	return nil
}

// ReadPage returns a page's bytes through the cache, pinning it. Callers
// must call UnpinPage when finished; cursor page-stack discipline relies
// on explicit pin/unpin rather than GC-managed lifetime.
func (p *Pager) ReadPage(no PageNo) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.cache.mu.Lock()
	if f, ok := p.cache.get(no); ok {
		f.pinned++
		p.cache.mu.Unlock()
		return f.buf, nil
	}
	p.cache.mu.Unlock()

	buf, err := p.readPageRaw(no)
	if err != nil {
		return nil, err
	}
	f := &pageFrame{no: no, buf: buf, pinned: 1}
	p.cache.mu.Lock()
	p.cache.put(f)
	p.cache.mu.Unlock()
	return buf, nil
}

// UnpinPage releases a pin taken by ReadPage or AllocPage.
func (p *Pager) UnpinPage(no PageNo) {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()
	if f, ok := p.cache.get(no); ok && f.pinned > 0 {
		f.pinned--
	}
}

// WritePage marks a page dirty in the cache, journaling its pre-image first
// if this is the first write to the page in the current transaction.
func (p *Pager) WritePage(j *Journal, no PageNo, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if j != nil {
		pre, err := p.readPageRaw(no)
		if err == nil {
			if err := j.SavePreImage(no, pre); err != nil {
				return err
			}
		}
	}

	p.cache.mu.Lock()
	f, ok := p.cache.get(no)
	if !ok {
		f = &pageFrame{no: no, buf: make([]byte, p.pageSize)}
		p.cache.put(f)
	}
	copy(f.buf, buf)
	f.dirty = true
	p.cache.mu.Unlock()
	return nil
}

// AllocPage returns a fresh or recycled page number with a zeroed, pinned
// buffer ready for the caller to populate.
func (p *Pager) AllocPage() (PageNo, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var no PageNo
	if p.header.FreeTrunkHead != InvalidPageNo {
		trunkBuf, err := p.readPageRaw(p.header.FreeTrunkHead)
		if err == nil {
			popped, newHead, newTrunkBuf, ok := p.freeList.Pop(p.header.FreeTrunkHead, trunkBuf)
			if ok {
				no = popped
				p.header.FreeTrunkHead = newHead
				p.header.FreePageCount--
				if newTrunkBuf != nil {
					_ = p.writePageRaw(newHead, newTrunkBuf)
				}
			}
		}
	}
	if no == InvalidPageNo {
		p.header.PageCount++
		no = PageNo(p.header.PageCount)
	}

	buf := make([]byte, p.pageSize)
	f := &pageFrame{no: no, buf: buf, pinned: 1, dirty: true}
	p.cache.mu.Lock()
	p.cache.put(f)
	p.cache.mu.Unlock()
	return no, buf
}

// FreePage returns a page to the free list.
func (p *Pager) FreePage(no PageNo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var trunkBuf []byte
	if p.header.FreeTrunkHead != InvalidPageNo {
		buf, err := p.readPageRaw(p.header.FreeTrunkHead)
		if err != nil {
			return err
		}
		trunkBuf = buf
	}
	pageBuf := make([]byte, p.pageSize)
	newHead, newTrunkBuf := p.freeList.Push(p.header.FreeTrunkHead, trunkBuf, no, pageBuf)
	if err := p.writePageRaw(newHead, newTrunkBuf); err != nil {
		return err
	}
	p.header.FreeTrunkHead = newHead
	p.header.FreePageCount++
	p.cache.mu.Lock()
	p.cache.remove(no)
	p.cache.mu.Unlock()
	return nil
}

// BeginWrite opens a new rollback journal for a write transaction:
// reserved must already be held by the caller. In WAL mode and for an
// in-memory database it opens nothing and returns a nil journal; no
// records are appended to the -wal file, and Commit writes dirty pages
// straight to the main file.
func (p *Pager) BeginWrite() (*Journal, error) {
	if p.header.JournalMode == JournalWAL || p.inMemory != nil {
		return nil, nil
	}
	j, err := CreateJournal(p.journalPath, p.pageSize, p.header.PageCount)
	if err != nil {
		return nil, err
	}
	p.journal = j
	return j, nil
}

// Commit flushes dirty pages to the main file and retires the journal,
// the atomic instant the transaction becomes durable.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.journal != nil {
		if err := p.journal.Sync(); err != nil {
			return err
		}
	}

	p.header.ChangeCounter++
	headerBuf := NewPage(p.pageSize, KindFileHeader, FileHeaderPage)
	p.header.Marshal(headerBuf)
	if err := p.writePageRaw(FileHeaderPage, headerBuf); err != nil {
		return err
	}

	p.cache.mu.Lock()
	dirty := p.cache.dirtyPages()
	for _, f := range dirty {
		if err := p.writePageRaw(f.no, f.buf); err != nil {
			p.cache.mu.Unlock()
			return err
		}
		f.dirty = false
	}
	p.cache.mu.Unlock()

	if p.file != nil {
		if err := p.file.Sync(); err != nil {
			return ferrors.Wrap(ferrors.ErrIoError, err.Error(), "")
		}
	}

	if p.journal != nil {
		if err := p.journal.Commit(); err != nil {
			return err
		}
		p.journal = nil
	}
	return nil
}

// Rollback discards in-memory dirty pages and restores from the journal's
// pre-images, undoing a failed write transaction.
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.journal == nil {
		p.cache.mu.Lock()
		for _, f := range p.cache.dirtyPages() {
			f.dirty = false
			p.cache.remove(f.no)
		}
		p.cache.mu.Unlock()
		return nil
	}

	if err := p.journal.Abandon(); err != nil {
		return err
	}
	frames, pageCountBefore, err := ReadJournal(p.journalPath)
	if err != nil {
		return err
	}
	for _, fr := range frames {
		if err := p.writePageRaw(fr.Page, fr.PreImage); err != nil {
			return err
		}
		p.cache.mu.Lock()
		p.cache.remove(fr.Page)
		p.cache.mu.Unlock()
	}
	p.header.PageCount = pageCountBefore
	if err := vfs.Remove(p.journalPath); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, err.Error(), "")
	}
	p.journal = nil
	return nil
}

// Header returns a copy of the current file header.
func (p *Pager) Header() FileHeader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.header
}

// UpdateHeader mutates the in-memory header; Commit persists it.
func (p *Pager) UpdateHeader(fn func(h *FileHeader)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.header)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// Lock returns the file-level lock ladder for this pager.
func (p *Pager) Lock() *FileLock { return p.lock }

// Path returns the database file path ("" for in-memory).
func (p *Pager) Path() string { return p.path }

// Close flushes and closes the pager's underlying files.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.Commit(); err != nil {
		if p.wal != nil {
			_ = p.wal.Close()
		}
		if p.file != nil {
			_ = p.file.Close()
		}
		return err
	}
	if p.wal != nil {
		if err := p.wal.Close(); err != nil {
			if p.file != nil {
				_ = p.file.Close()
			}
			return err
		}
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
