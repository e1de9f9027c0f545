package ferrodb

import "testing"

func mustOpen(t *testing.T) *Conn {
	t.Helper()
	c, err := Open("mem://")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustExec(t *testing.T, c *Conn, sql string) {
	t.Helper()
	st, _, err := c.Prepare(sql)
	if err != nil {
		t.Fatalf("Prepare(%q): %v", sql, err)
	}
	defer st.Finalize()
	for {
		res, err := st.Step()
		if err != nil {
			t.Fatalf("Step(%q): %v", sql, err)
		}
		if res == StepDone {
			return
		}
	}
}

func TestOpenAndClose(t *testing.T) {
	c := mustOpen(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCreateInsertSelect(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, `CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)`)
	mustExec(t, c, `INSERT INTO people (id, name, age) VALUES (1, 'Alice', 30)`)
	mustExec(t, c, `INSERT INTO people (id, name, age) VALUES (2, 'Bob', 25)`)

	st, _, err := c.Prepare(`SELECT id, name, age FROM people WHERE age > 26 ORDER BY id`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()

	if got := st.ColumnCount(); got != 3 {
		t.Fatalf("expected 3 columns, got %d", got)
	}
	if got := st.ColumnName(1); got != "name" {
		t.Fatalf("expected column 1 to be name, got %q", got)
	}

	res, err := st.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res != StepRow {
		t.Fatalf("expected a row, got %v", res)
	}
	if st.ColumnInt(0) != 1 || st.ColumnText(1) != "Alice" {
		t.Fatalf("unexpected row: id=%d name=%s", st.ColumnInt(0), st.ColumnText(1))
	}

	res, err = st.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res != StepDone {
		t.Fatalf("expected exactly one matching row, got another")
	}
}

func TestBindParameters(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, `CREATE TABLE t (id INTEGER, name TEXT)`)
	mustExec(t, c, `INSERT INTO t (id, name) VALUES (1, 'x')`)
	mustExec(t, c, `INSERT INTO t (id, name) VALUES (2, 'y')`)

	st, _, err := c.Prepare(`SELECT name FROM t WHERE id = ?`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()

	if err := st.BindInt(1, 2); err != nil {
		t.Fatalf("BindInt: %v", err)
	}
	res, err := st.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res != StepRow || st.ColumnText(0) != "y" {
		t.Fatalf("expected row with name=y, got res=%v", res)
	}

	if err := st.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := st.BindInt(1, 1); err != nil {
		t.Fatalf("BindInt after reset: %v", err)
	}
	res, err = st.Step()
	if err != nil {
		t.Fatalf("Step after reset: %v", err)
	}
	if res != StepRow || st.ColumnText(0) != "x" {
		t.Fatalf("expected row with name=x after reset, got res=%v", res)
	}
}

func TestPrepareReturnsTail(t *testing.T) {
	c := mustOpen(t)
	_, tail, err := c.Prepare(`CREATE TABLE a (id INTEGER); CREATE TABLE b (id INTEGER);`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if tail != ` CREATE TABLE b (id INTEGER);` {
		t.Fatalf("unexpected tail: %q", tail)
	}
}

func TestDropTableThenSelectFails(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, `CREATE TABLE t (id INTEGER)`)
	mustExec(t, c, `DROP TABLE t`)

	if _, _, err := c.Prepare(`SELECT * FROM t`); err == nil {
		t.Fatalf("expected error selecting from a dropped table")
	}
}

func TestSchemaCookieInvalidatesPreparedStatement(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, `CREATE TABLE t (id INTEGER)`)
	mustExec(t, c, `INSERT INTO t (id) VALUES (1)`)

	st, _, err := c.Prepare(`SELECT id FROM t`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()

	// A schema change between Prepare and Step must not crash Step; it
	// should transparently recompile against the new catalog.
	mustExec(t, c, `CREATE TABLE other (id INTEGER)`)

	res, err := st.Step()
	if err != nil {
		t.Fatalf("Step after schema change: %v", err)
	}
	if res != StepRow || st.ColumnInt(0) != 1 {
		t.Fatalf("expected the original row still readable, got res=%v", res)
	}
}

func TestFinalizeRemovesFromOpenStatements(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, `CREATE TABLE t (id INTEGER)`)
	st, _, err := c.Prepare(`SELECT id FROM t`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(c.openStmts) != 1 {
		t.Fatalf("expected 1 open statement, got %d", len(c.openStmts))
	}
	if err := st.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(c.openStmts) != 0 {
		t.Fatalf("expected 0 open statements after Finalize, got %d", len(c.openStmts))
	}
}
