package ferrodb

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// execTxn applies a BEGIN/COMMIT/ROLLBACK/SAVEPOINT/RELEASE statement.
//
// Every INSERT/UPDATE/DELETE program now opens and closes its own pager
// transaction (OpTransaction/OpCommit), so there is no outer transaction
// for these statements to extend: a SQL-level BEGIN...COMMIT block here is
// connection bookkeeping only, accepted for compatibility with clients that
// issue one, while each statement inside it still commits on its own. The
// register machine's own OpSavepoint likewise implements no nested undo:
// it is a no-op.
func (c *Conn) execTxn(t *sqlparse.TxnStatement) error {
	switch t.Kind {
	case sqlparse.TxnBegin:
		if c.txnDepth > 0 {
			return ferrors.Wrap(ferrors.ErrGeneric, "cannot start a transaction within a transaction", "")
		}
		c.txnDepth = 1
	case sqlparse.TxnCommit:
		if c.txnDepth == 0 {
			return ferrors.Wrap(ferrors.ErrGeneric, "cannot commit - no transaction is active", "")
		}
		c.txnDepth = 0
		c.savepoints = nil
	case sqlparse.TxnRollback:
		if t.Savepoint != "" {
			c.popSavepoint(t.Savepoint)
			return nil
		}
		if c.txnDepth == 0 {
			return ferrors.Wrap(ferrors.ErrGeneric, "cannot rollback - no transaction is active", "")
		}
		c.txnDepth = 0
		c.savepoints = nil
	case sqlparse.TxnSavepoint:
		c.savepoints = append(c.savepoints, t.Savepoint)
	case sqlparse.TxnRelease:
		c.popSavepoint(t.Savepoint)
	}
	return nil
}

func (c *Conn) popSavepoint(name string) {
	for i := len(c.savepoints) - 1; i >= 0; i-- {
		if c.savepoints[i] == name {
			c.savepoints = c.savepoints[:i]
			return
		}
	}
}
