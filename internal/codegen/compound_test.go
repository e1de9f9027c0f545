package codegen

import (
	"testing"

	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

func TestInsertSelectWithScalarSubqueryArithmetic(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (w INTEGER PRIMARY KEY, y INT)")
	f.exec("INSERT INTO t1 (w, y) VALUES (1, 0), (2, 5), (3, 12)")
	f.exec("CREATE TABLE t2 (w INTEGER PRIMARY KEY, z INT)")

	f.exec("INSERT INTO t2 SELECT w, (SELECT max(y) FROM t1) - y FROM t1")

	rows := f.query("SELECT w, z FROM t2 ORDER BY w")
	want := [][2]int64{{1, 12}, {2, 7}, {3, 0}}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, r := range rows {
		if r[0] != want[i][0] || r[1] != want[i][1] {
			t.Fatalf("row %d: got (%v,%v), want %v", i, r[0], r[1], want[i])
		}
	}
}

func TestInsertSelectPlainCopiesRows(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")

	f.exec("INSERT INTO t2 SELECT id, a FROM t1 WHERE a > 10")

	rows := f.query("SELECT id, a FROM t2")
	if len(rows) != 1 || rows[0][0] != int64(2) || rows[0][1] != int64(20) {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestInsertSelectWithCompoundSourceIsRejected(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")

	sql := "INSERT INTO t2 SELECT id, a FROM t1 UNION SELECT id, a FROM t1"
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	if _, err := New(f.cat).Compile(stmt); err == nil {
		t.Fatal("expected an error compiling INSERT ... SELECT from a compound SELECT")
	}
}

func TestScalarSubqueryInProjection(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 3), (2, 9), (3, 4)")

	rows := f.query("SELECT id, a, (SELECT max(a) FROM t1) FROM t1 ORDER BY id")
	if len(rows) != 3 {
		t.Fatalf("unexpected row count: %+v", rows)
	}
	for i, r := range rows {
		if r[2] != int64(9) {
			t.Fatalf("row %d: scalar subquery column = %v, want 9", i, r[2])
		}
	}
}

func TestScalarSubqueryOfEmptySetIsNull(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")

	sql := "SELECT (SELECT max(a) FROM t1)"
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	prog, err := New(f.cat).Compile(stmt)
	if err != nil {
		t.Fatalf("compile %q: %v", sql, err)
	}
	m := vm.New(prog, f.p)
	defer m.Close()
	res, err := m.Step()
	if err != nil {
		t.Fatalf("run %q: %v", sql, err)
	}
	if res != vm.StepRow {
		t.Fatal("expected one result row")
	}
	if !m.Row()[0].IsNull() {
		t.Fatalf("expected NULL, got %v", m.Row()[0])
	}
}

func TestCompoundUnionDedupsAcrossArms(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t2 (id, a) VALUES (3, 20), (4, 30)")

	rows := f.query("SELECT a FROM t1 UNION SELECT a FROM t2 ORDER BY a")
	want := []int64{10, 20, 30}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, r := range rows {
		if r[0] != want[i] {
			t.Fatalf("row %d: got %v, want %v", i, r[0], want[i])
		}
	}
}

func TestCompoundUnionAllKeepsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t2 (id, a) VALUES (3, 20), (4, 30)")

	rows := f.query("SELECT a FROM t1 UNION ALL SELECT a FROM t2 ORDER BY a")
	want := []int64{10, 20, 20, 30}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, r := range rows {
		if r[0] != want[i] {
			t.Fatalf("row %d: got %v, want %v", i, r[0], want[i])
		}
	}
}

func TestCompoundIntersect(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20), (3, 30)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t2 (id, a) VALUES (4, 20), (5, 30), (6, 40)")

	rows := f.query("SELECT a FROM t1 INTERSECT SELECT a FROM t2 ORDER BY a")
	want := []int64{20, 30}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, r := range rows {
		if r[0] != want[i] {
			t.Fatalf("row %d: got %v, want %v", i, r[0], want[i])
		}
	}
}

func TestCompoundExcept(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 20), (3, 30)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t2 (id, a) VALUES (4, 20)")

	rows := f.query("SELECT a FROM t1 EXCEPT SELECT a FROM t2 ORDER BY a")
	want := []int64{10, 30}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, r := range rows {
		if r[0] != want[i] {
			t.Fatalf("row %d: got %v, want %v", i, r[0], want[i])
		}
	}
}

func TestCompoundUnionWithTrailingOrderByAndLimit(t *testing.T) {
	f := newFixture(t)
	f.exec("CREATE TABLE t1 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t1 (id, a) VALUES (1, 10), (2, 30)")
	f.exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY, a INT)")
	f.exec("INSERT INTO t2 (id, a) VALUES (3, 20)")

	rows := f.query("SELECT a FROM t1 UNION SELECT a FROM t2 ORDER BY a LIMIT 1")
	if len(rows) != 1 || rows[0][0] != int64(10) {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
