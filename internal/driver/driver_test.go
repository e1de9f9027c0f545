package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"
)

func TestParseDSNPoolOptions(t *testing.T) {
	c, rest, err := parseDSN("mem://?pool_readers=2&pool_writers=3&busy_timeout=750ms")
	if err != nil {
		t.Fatalf("parseDSN returned error: %v", err)
	}
	if c.maxReaders != 2 {
		t.Fatalf("expected maxReaders=2, got %d", c.maxReaders)
	}
	if c.maxWriters != 3 {
		t.Fatalf("expected maxWriters=3, got %d", c.maxWriters)
	}
	if c.busyTimeout != 750*time.Millisecond {
		t.Fatalf("expected busyTimeout=750ms, got %s", c.busyTimeout)
	}
	if rest != "mem://" {
		t.Fatalf("expected driver-only options stripped, got %q", rest)
	}
}

func TestParseDSNPassesThroughEngineOptions(t *testing.T) {
	_, rest, err := parseDSN("mem://?pool_readers=2&page_size=8192&journal_mode=wal")
	if err != nil {
		t.Fatalf("parseDSN returned error: %v", err)
	}
	if rest != "mem://?page_size=8192&journal_mode=wal" {
		t.Fatalf("expected engine options preserved, got %q", rest)
	}
}

func TestParseDSNAliases(t *testing.T) {
	c, _, err := parseDSN("mem://?read_pool=2&write_pool=1&busytimeout=100")
	if err != nil {
		t.Fatalf("parseDSN returned error: %v", err)
	}
	if c.maxReaders != 2 || c.maxWriters != 1 || c.busyTimeout != 100*time.Millisecond {
		t.Fatalf("alias parsing failed: %#v", c)
	}
}

func TestParsePoolSize(t *testing.T) {
	if n, err := parsePoolSize("5", "pool_readers"); err != nil || n != 5 {
		t.Fatalf("expected 5, got %d (err=%v)", n, err)
	}
	if _, err := parsePoolSize("abc", "pool_readers"); err == nil {
		t.Fatalf("expected error for invalid number")
	}
	if _, err := parsePoolSize("-2", "pool_readers"); err == nil {
		t.Fatalf("expected error for negative value")
	}
}

func TestParseBusyTimeout(t *testing.T) {
	if dur, err := parseBusyTimeout("1500"); err != nil || dur != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms, got %s (err=%v)", dur, err)
	}
	if dur, err := parseBusyTimeout("2s"); err != nil || dur != 2*time.Second {
		t.Fatalf("expected 2s, got %s (err=%v)", dur, err)
	}
	if _, err := parseBusyTimeout("-1"); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if _, err := parseBusyTimeout("later"); err == nil {
		t.Fatalf("expected error for invalid duration string")
	}
}

func TestDriverEndToEnd(t *testing.T) {
	db, err := sql.Open("ferrodb", "mem://")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec("INSERT INTO people (id, name) VALUES (?, ?)", int64(1), "Alice"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := db.Query("SELECT id, name FROM people WHERE id = ?", int64(1))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 2 || cols[0] != "id" || cols[1] != "name" {
		t.Fatalf("unexpected columns: %v", cols)
	}

	if !rows.Next() {
		t.Fatalf("expected a row, got none (err=%v)", rows.Err())
	}
	var id int64
	var name string
	if err := rows.Scan(&id, &name); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if id != 1 || name != "Alice" {
		t.Fatalf("expected (1, Alice), got (%d, %s)", id, name)
	}
	if rows.Next() {
		t.Fatalf("expected exactly one row")
	}
}

func TestDriverSharesConnByDSN(t *testing.T) {
	d := &drv{servers: map[string]*server{}}
	c1, err := d.Open("mem://shared")
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	c2, err := d.Open("mem://shared")
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	if c1.(*conn).srv != c2.(*conn).srv {
		t.Fatalf("expected same server for identical DSN")
	}
}

func TestDriverTransaction(t *testing.T) {
	db, err := sql.Open("ferrodb", "mem://")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t (id) VALUES (1)"); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after commit, got %d", count)
	}
}

func TestBindUnsupportedType(t *testing.T) {
	db, err := sql.Open("ferrodb", "mem://bind_unsupported")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err = db.Exec("INSERT INTO t (id) VALUES (?)", struct{ X int }{X: 1})
	if err == nil {
		t.Fatalf("expected error binding an unsupported type")
	}
}

func TestCheckNamedValueNormalizesInt(t *testing.T) {
	c := &conn{}
	nv := &driver.NamedValue{Value: int(7)}
	if err := c.CheckNamedValue(nv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := nv.Value.(int64); !ok {
		t.Fatalf("expected int normalized to int64, got %T", nv.Value)
	}
}
