package ferrodb

import "testing"

func TestExplainQueryPlan(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")

	st, _, err := c.Prepare("EXPLAIN QUERY PLAN SELECT * FROM t WHERE id = 1")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()

	cols := []string{"id", "parent", "detail"}
	for i, want := range cols {
		if got := st.ColumnName(i); got != want {
			t.Fatalf("column %d: want %q, got %q", i, want, got)
		}
	}

	res, err := st.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res != StepRow {
		t.Fatalf("expected at least one plan row")
	}
	if st.ColumnText(2) == "" {
		t.Fatalf("expected a non-empty plan detail")
	}
}

func TestExplainRejectsNonSelect(t *testing.T) {
	c := mustOpen(t)
	if _, _, err := c.Prepare("EXPLAIN CREATE TABLE t (id INTEGER)"); err == nil {
		t.Fatalf("expected EXPLAIN of a non-SELECT statement to be rejected")
	}
}
