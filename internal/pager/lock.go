package pager

import (
	"sync"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// LockState is a rung of the single-writer/many-reader lock ladder:
// unlocked -> shared -> reserved -> pending -> exclusive. The Acquire
// methods move a connection up the ladder; Downgrade drops it from any
// write rung straight back to shared (or unlocked once no reader is left).
type LockState uint8

const (
	LockUnlocked LockState = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

func (s LockState) String() string {
	switch s {
	case LockUnlocked:
		return "unlocked"
	case LockShared:
		return "shared"
	case LockReserved:
		return "reserved"
	case LockPending:
		return "pending"
	case LockExclusive:
		return "exclusive"
	default:
		return "invalid"
	}
}

// FileLock is the in-process arbiter of the lock ladder for one open
// database file. It only serializes the connections this process itself
// has open against the same Pager; no OS-level file lock is taken, so other
// processes opening the same file are not excluded (internal/vfs has no
// locking primitive).
type FileLock struct {
	mu    sync.Mutex
	state LockState
	// readers is the count of connections currently holding LockShared or
	// higher (every rung above unlocked implies at least read access).
	readers int
	// reserved/pending/exclusive holders are single-owner: at most one
	// connection may hold each at a time.
	reservedHeld bool
}

// NewFileLock returns a lock ladder starting at LockUnlocked.
func NewFileLock() *FileLock { return &FileLock{} }

// AcquireShared moves a connection from unlocked to shared. Fails with
// ErrBusy while a writer holds pending or exclusive.
func (l *FileLock) AcquireShared() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state >= LockPending {
		return ferrors.Wrap(ferrors.ErrBusy, "database is locked", "SQLITE_BUSY")
	}
	l.readers++
	if l.state < LockShared {
		l.state = LockShared
	}
	return nil
}

// ReleaseShared drops one shared holder, returning to unlocked once the
// last reader leaves (unless a writer still holds reserved/pending above).
func (l *FileLock) ReleaseShared() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers > 0 {
		l.readers--
	}
	if l.readers == 0 && !l.reservedHeld {
		l.state = LockUnlocked
	}
}

// AcquireReserved marks intent to write; multiple readers may still coexist,
// but only one connection may hold reserved at a time.
func (l *FileLock) AcquireReserved() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reservedHeld {
		return ferrors.Wrap(ferrors.ErrBusy, "database is locked", "SQLITE_BUSY")
	}
	l.reservedHeld = true
	l.state = LockReserved
	return nil
}

// AcquirePending blocks new readers from joining while existing ones drain,
// the rung a writer occupies while waiting out the last concurrent readers.
func (l *FileLock) AcquirePending() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.reservedHeld {
		return ferrors.Wrap(ferrors.ErrMisuse, "pending lock requires reserved first", "")
	}
	l.state = LockPending
	return nil
}

// AcquireExclusive requires every other reader to have already released;
// returns ErrBusy if any remain.
func (l *FileLock) AcquireExclusive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers > 1 { // the writer itself counts as one reader
		return ferrors.Wrap(ferrors.ErrBusy, "database is locked", "SQLITE_BUSY")
	}
	l.state = LockExclusive
	return nil
}

// Downgrade drops back to shared after a commit or rollback, releasing the
// write rungs while the connection keeps reading.
func (l *FileLock) Downgrade() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reservedHeld = false
	if l.readers > 0 {
		l.state = LockShared
	} else {
		l.state = LockUnlocked
	}
}

// State returns the current rung, for diagnostics.
func (l *FileLock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// TableLock is a shared-cache-mode lock keyed by (database id, root page):
// under shared cache, distinct connections attached to the same cache
// contend at table granularity rather than whole-file granularity.
type TableLock struct {
	mu    sync.Mutex
	held  map[tableLockKey]tableLockState
}

type tableLockKey struct {
	db   string
	root PageNo
}

type tableLockState struct {
	readers int
	writer  bool
}

// NewTableLock returns an empty shared-cache table lock table.
func NewTableLock() *TableLock {
	return &TableLock{held: map[tableLockKey]tableLockState{}}
}

// AcquireRead grants a read lock on (db, root), failing only if a writer
// already holds it.
func (t *TableLock) AcquireRead(db string, root PageNo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := tableLockKey{db, root}
	st := t.held[k]
	if st.writer {
		return ferrors.Wrap(ferrors.ErrLocked, "table is locked", "SQLITE_LOCKED_SHAREDCACHE")
	}
	st.readers++
	t.held[k] = st
	return nil
}

// AcquireWrite grants a write lock, failing if any reader or writer already
// holds it (shared-cache tables do not support concurrent writers or
// reader/writer mixes, only whole-database-level queuing does).
func (t *TableLock) AcquireWrite(db string, root PageNo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := tableLockKey{db, root}
	st := t.held[k]
	if st.writer || st.readers > 0 {
		return ferrors.Wrap(ferrors.ErrLocked, "table is locked", "SQLITE_LOCKED_SHAREDCACHE")
	}
	st.writer = true
	t.held[k] = st
	return nil
}

// Release drops whatever lock this caller held on (db, root).
func (t *TableLock) Release(db string, root PageNo, wasWrite bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := tableLockKey{db, root}
	st := t.held[k]
	if wasWrite {
		st.writer = false
	} else if st.readers > 0 {
		st.readers--
	}
	if st.readers == 0 && !st.writer {
		delete(t.held, k)
	} else {
		t.held[k] = st
	}
}
