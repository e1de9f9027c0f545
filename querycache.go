package ferrodb

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// defaultCacheSize bounds the prepared-plan cache. It uses
// hashicorp/golang-lru's generic Cache instead of a hand-rolled
// container/list LRU.
const defaultCacheSize = 128

// cachedPlan is what one prepared single-statement source text compiles to.
// prog is nil for statement kinds codegen.Compile doesn't handle (DDL,
// PRAGMA, EXPLAIN, transaction control) since Prepare runs those directly
// off stmt instead.
type cachedPlan struct {
	stmt   sqlparse.Statement
	prog   *vm.Program
	cookie uint32 // schema cookie this plan was compiled against
}

// queryCache memoizes Prepare's parse+compile step by exact source text.
// A hit is only used when its cookie still matches the pager's current
// schema cookie; a stale hit is evicted and recompiled by the caller
// rather than served.
type queryCache struct {
	c *lru.Cache[string, *cachedPlan]
}

func newQueryCache(size int) *queryCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, _ := lru.New[string, *cachedPlan](size)
	return &queryCache{c: c}
}

func (q *queryCache) get(sql string, cookie uint32) (*cachedPlan, bool) {
	p, ok := q.c.Get(sql)
	if !ok {
		return nil, false
	}
	if p.cookie != cookie {
		q.c.Remove(sql)
		return nil, false
	}
	return p, true
}

func (q *queryCache) put(sql string, p *cachedPlan) {
	q.c.Add(sql, p)
}
