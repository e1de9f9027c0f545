// Package ferrodb is the embedded SQL engine's connection-level API: open
// a database, prepare a statement, step it row by row, bind parameters,
// read result columns, reset or finalize. Everything below this layer —
// the tokenizer/parser, planner, code generator, register machine,
// b-tree, and pager — lives under internal/ and is reached only through
// the calls here, re-exported as the module's single public surface.
package ferrodb

import (
	"sync"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/pager"
)

// Conn is one connection to a database, in-memory or file-backed. A Conn is
// not safe for concurrent use by multiple goroutines without external
// locking: each VM execution gets its own cursors against a shared pager,
// but the connection-level prepare/step/bind bookkeeping here has no such
// per-call isolation.
type Conn struct {
	mu    sync.Mutex
	p     *pager.Pager
	cat   *catalog.Catalog
	cache *queryCache

	synchronous int
	foreignKeys bool
	tempStore   int

	txnDepth   int
	savepoints []string

	openStmts map[*Stmt]struct{}
}

// Open opens or creates a database named by dsn. dsn may be ":memory:" (or
// the empty string) for a private in-memory database, "mem://[?opts]" for
// the same, "file:path[?opts]" for a file-backed one, or a bare filesystem
// path. Recognized options mirror the PRAGMA surface: page_size, cache_size,
// journal_mode, synchronous, foreign_keys, temp_store.
func Open(dsn string) (*Conn, error) {
	o, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	p, err := pager.Open(pager.Options{
		Path:          o.path,
		PageSize:      o.pageSize,
		MaxCachePages: o.cacheSize,
		JournalMode:   o.journalMode,
	})
	if err != nil {
		return nil, err
	}
	store := &btree.PagerStore{P: p}
	cat, err := catalog.Open(store)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Conn{
		p:           p,
		cat:         cat,
		cache:       newQueryCache(defaultCacheSize),
		synchronous: o.synchronous,
		foreignKeys: o.foreignKeys,
		tempStore:   o.tempStore,
		openStmts:   map[*Stmt]struct{}{},
	}, nil
}

// Close finalizes every statement this connection never finalized itself,
// then closes the underlying pager (flushing and releasing its file lock).
func (c *Conn) Close() error {
	c.mu.Lock()
	for s := range c.openStmts {
		s.finalizeLocked()
	}
	c.mu.Unlock()
	return c.p.Close()
}
