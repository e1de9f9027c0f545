package ferrodb

import "testing"

func queryOne(t *testing.T, c *Conn, sql string) (int64, string, bool) {
	t.Helper()
	st, _, err := c.Prepare(sql)
	if err != nil {
		t.Fatalf("Prepare(%q): %v", sql, err)
	}
	defer st.Finalize()
	res, err := st.Step()
	if err != nil {
		t.Fatalf("Step(%q): %v", sql, err)
	}
	if res != StepRow {
		return 0, "", false
	}
	switch st.ColumnType(0) {
	case TypeText:
		return 0, st.ColumnText(0), true
	default:
		return st.ColumnInt(0), "", true
	}
}

func TestPragmaPageSize(t *testing.T) {
	c := mustOpen(t)
	n, _, ok := queryOne(t, c, "PRAGMA page_size")
	if !ok || n <= 0 {
		t.Fatalf("expected a positive page_size, got %d (ok=%v)", n, ok)
	}
}

func TestPragmaJournalModeRoundtrip(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "PRAGMA journal_mode = WAL")
	_, s, ok := queryOne(t, c, "PRAGMA journal_mode")
	if !ok || s != "wal" {
		t.Fatalf("expected journal_mode=wal after setting it, got %q (ok=%v)", s, ok)
	}
}

func TestPragmaUserVersionRoundtrip(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "PRAGMA user_version = 42")
	n, _, ok := queryOne(t, c, "PRAGMA user_version")
	if !ok || n != 42 {
		t.Fatalf("expected user_version=42, got %d (ok=%v)", n, ok)
	}
}

func TestPragmaForeignKeysRoundtrip(t *testing.T) {
	c := mustOpen(t)
	n, _, ok := queryOne(t, c, "PRAGMA foreign_keys")
	if !ok || n != 0 {
		t.Fatalf("expected foreign_keys off by default, got %d (ok=%v)", n, ok)
	}
	mustExec(t, c, "PRAGMA foreign_keys = 1")
	n, _, ok = queryOne(t, c, "PRAGMA foreign_keys")
	if !ok || n != 1 {
		t.Fatalf("expected foreign_keys=1 after setting it, got %d (ok=%v)", n, ok)
	}
}

func TestPragmaUnknownNameIsNoop(t *testing.T) {
	c := mustOpen(t)
	st, _, err := c.Prepare("PRAGMA not_a_real_pragma")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()
	res, err := st.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res != StepDone {
		t.Fatalf("expected an unknown pragma to produce no rows")
	}
}

func TestPragmaIntegrityCheckOK(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	mustExec(t, c, "CREATE INDEX idx_name ON t (name)")
	mustExec(t, c, "INSERT INTO t (id, name) VALUES (1, 'a')")
	mustExec(t, c, "INSERT INTO t (id, name) VALUES (2, 'b')")

	_, s, ok := queryOne(t, c, "PRAGMA integrity_check")
	if !ok || s != "ok" {
		t.Fatalf("expected integrity_check=ok, got %q (ok=%v)", s, ok)
	}
}
