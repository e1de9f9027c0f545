package catalog

import (
	"testing"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/pager"
)

func newStore(t *testing.T) *btree.PagerStore {
	t.Helper()
	p, err := pager.Open(pager.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return &btree.PagerStore{P: p}
}

func TestOpenFreshDatabaseHasEmptySchema(t *testing.T) {
	c, err := Open(newStore(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(c.Tables()) != 0 {
		t.Fatalf("expected no tables in a fresh database, got %v", c.Tables())
	}
}

func TestPutTableAndReload(t *testing.T) {
	c, err := Open(newStore(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sql := "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT UNIQUE)"
	if err := c.PutTable("users", sql, 2); err != nil {
		t.Fatalf("put table: %v", err)
	}
	ts, ok := c.Table("users")
	if !ok {
		t.Fatal("expected users table to resolve")
	}
	if ts.RootPage != 2 || len(ts.Columns) != 3 {
		t.Fatalf("unexpected table schema: %+v", ts)
	}
	if ts.ColumnIndex("email") != 2 {
		t.Fatalf("expected email at index 2, got %d", ts.ColumnIndex("email"))
	}
	if !ts.Columns[0].PrimaryKey {
		t.Fatalf("expected id to be primary key: %+v", ts.Columns[0])
	}
}

func TestPutIndexAndCovers(t *testing.T) {
	c, err := Open(newStore(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.PutTable("t1", "CREATE TABLE t1 (a INT, b INT, c INT)", 2); err != nil {
		t.Fatalf("put table: %v", err)
	}
	if err := c.PutIndex("i1", "t1", "CREATE INDEX i1 ON t1 (a, b)", 3); err != nil {
		t.Fatalf("put index: %v", err)
	}
	ixs := c.IndexesOn("t1")
	if len(ixs) != 1 || ixs[0].Name != "i1" {
		t.Fatalf("expected one index i1, got %+v", ixs)
	}
	if !ixs[0].Covers([]string{"a", "b"}) {
		t.Fatalf("expected index on (a,b) to cover (a,b)")
	}
	if ixs[0].Covers([]string{"a", "c"}) {
		t.Fatalf("expected index on (a,b) to not cover c")
	}
}

func TestDropTableRemovesItsIndexes(t *testing.T) {
	c, err := Open(newStore(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.PutTable("t1", "CREATE TABLE t1 (a INT)", 2); err != nil {
		t.Fatalf("put table: %v", err)
	}
	if err := c.PutIndex("i1", "t1", "CREATE INDEX i1 ON t1 (a)", 3); err != nil {
		t.Fatalf("put index: %v", err)
	}
	if err := c.DropTable("t1"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, ok := c.Table("t1"); ok {
		t.Fatal("expected t1 to be gone")
	}
	if _, ok := c.Index("i1"); ok {
		t.Fatal("expected i1 to be dropped along with its table")
	}
}
