package codegen

import (
	"testing"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// fixture opens an in-memory database with its own pager and catalog, ready
// for ExecDDL/Compile/run calls in one test.
type fixture struct {
	t     *testing.T
	p     *pager.Pager
	store *btree.PagerStore
	cat   *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p, err := pager.Open(pager.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	store := &btree.PagerStore{P: p}
	cat, err := catalog.Open(store)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	return &fixture{t: t, p: p, store: store, cat: cat}
}

// exec runs a schema or DML statement: DDL goes through ExecDDL directly,
// everything else compiles to a Program and runs it to completion, dropping
// any result rows it emits.
func (f *fixture) exec(sql string) {
	f.t.Helper()
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		f.t.Fatalf("parse %q: %v", sql, err)
	}
	switch stmt.(type) {
	case *sqlparse.CreateTable, *sqlparse.CreateIndex, *sqlparse.DropTable, *sqlparse.DropIndex:
		if err := ExecDDL(stmt, sql, f.cat, f.store); err != nil {
			f.t.Fatalf("exec ddl %q: %v", sql, err)
		}
		return
	}
	prog, err := New(f.cat).Compile(stmt)
	if err != nil {
		f.t.Fatalf("compile %q: %v", sql, err)
	}
	m := vm.New(prog, f.p)
	defer m.Close()
	for {
		res, err := m.Step()
		if err != nil {
			f.t.Fatalf("run %q: %v", sql, err)
		}
		if res == vm.StepDone {
			break
		}
	}
}

// query runs sql as a SELECT and collects every result row.
func (f *fixture) query(sql string) [][]any {
	f.t.Helper()
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		f.t.Fatalf("parse %q: %v", sql, err)
	}
	prog, err := New(f.cat).Compile(stmt)
	if err != nil {
		f.t.Fatalf("compile %q: %v", sql, err)
	}
	m := vm.New(prog, f.p)
	defer m.Close()
	var rows [][]any
	for {
		res, err := m.Step()
		if err != nil {
			f.t.Fatalf("run %q: %v", sql, err)
		}
		if res == vm.StepDone {
			break
		}
		row := m.Row()
		out := make([]any, len(row))
		for i, v := range row {
			out[i] = v.Int()
		}
		rows = append(rows, out)
	}
	return rows
}

func TestCreateTableThenInsertAndSelect(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20)")
	rows := f.query("SELECT a FROM t1 WHERE id = 2")
	if len(rows) != 1 || rows[0][0] != int64(20) {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestUpdateMaintainsIndex(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("CREATE INDEX ix_a ON t1 (a)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10)")
	f.exec("UPDATE t1 SET a = 99 WHERE id = 1")
	rows := f.query("SELECT a FROM t1 WHERE id = 1")
	if len(rows) != 1 || rows[0][0] != int64(99) {
		t.Fatalf("unexpected rows after update: %+v", rows)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20)")
	f.exec("DELETE FROM t1 WHERE id = 1")
	rows := f.query("SELECT id FROM t1")
	if len(rows) != 1 || rows[0][0] != int64(2) {
		t.Fatalf("unexpected rows after delete: %+v", rows)
	}
}

func TestInsertOrReplaceResolvesIPKConflict(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20)")
	f.exec("INSERT OR REPLACE INTO t1 (id, a) VALUES (2, 99)")
	rows := f.query("SELECT a FROM t1 WHERE id = 2")
	if len(rows) != 1 || rows[0][0] != int64(99) {
		t.Fatalf("unexpected rows after replace: %+v", rows)
	}
}

func TestUpdateOrReplaceResolvesIPKConflict(t *testing.T) {
	// UPDATE OR REPLACE colliding a row's new rowid with an existing
	// different row deletes the existing row first.
	f := newFixture(t)
	f.exec("CREATE TABLE t2 (a INTEGER PRIMARY KEY, b INT)")
	f.exec("INSERT INTO t2 (a, b) VALUES (2, 1), (4, 2)")
	f.exec("UPDATE OR REPLACE t2 SET a = 4 WHERE a = 2")
	rows := f.query("SELECT a, b FROM t2")
	if len(rows) != 1 {
		t.Fatalf("expected exactly one surviving row, got %+v", rows)
	}
	if rows[0][0] != int64(4) || rows[0][1] != int64(1) {
		t.Fatalf("expected the updated row (4,1) to win, got %+v", rows[0])
	}
}

func TestDropTableRemovesItsIndexRows(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("CREATE INDEX ix_a ON t1 (a)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10)")
	f.exec("DROP TABLE t1")
	if _, ok := f.cat.Table("t1"); ok {
		t.Fatal("expected t1 to be gone")
	}
	if _, ok := f.cat.Index("ix_a"); ok {
		t.Fatal("expected ix_a to be dropped along with its table")
	}
}

func TestCreateTableIfNotExistsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY)")
	f.exec("CREATE TABLE IF NOT EXISTS t1 (id INTEGER PRIMARY KEY)")
}
