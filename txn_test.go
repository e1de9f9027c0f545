package ferrodb

import "testing"

func TestTxnBeginCommit(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "BEGIN")
	if c.txnDepth != 1 {
		t.Fatalf("expected txnDepth=1 after BEGIN, got %d", c.txnDepth)
	}
	mustExec(t, c, "COMMIT")
	if c.txnDepth != 0 {
		t.Fatalf("expected txnDepth=0 after COMMIT, got %d", c.txnDepth)
	}
}

func TestTxnNestedBeginRejected(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "BEGIN")
	st, _, err := c.Prepare("BEGIN")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()
	if _, err := st.Step(); err == nil {
		t.Fatalf("expected an error starting a transaction within a transaction")
	}
}

func TestTxnCommitWithoutBeginRejected(t *testing.T) {
	c := mustOpen(t)
	st, _, err := c.Prepare("COMMIT")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer st.Finalize()
	if _, err := st.Step(); err == nil {
		t.Fatalf("expected an error committing with no active transaction")
	}
}

func TestTxnSavepointRelease(t *testing.T) {
	c := mustOpen(t)
	mustExec(t, c, "BEGIN")
	mustExec(t, c, "SAVEPOINT sp1")
	if len(c.savepoints) != 1 || c.savepoints[0] != "sp1" {
		t.Fatalf("expected one savepoint named sp1, got %v", c.savepoints)
	}
	mustExec(t, c, "RELEASE sp1")
	if len(c.savepoints) != 0 {
		t.Fatalf("expected savepoints cleared after RELEASE, got %v", c.savepoints)
	}
}

func TestAttachDatabaseRejected(t *testing.T) {
	c := mustOpen(t)
	if _, _, err := c.Prepare("ATTACH DATABASE 'other.db' AS other"); err == nil {
		t.Fatalf("expected ATTACH DATABASE to be rejected")
	}
}
