package ferrodb

import (
	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/codegen"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// stmtKind classifies a prepared statement by how Step executes it. Only
// kindRows goes through the register machine; everything else is handled
// directly by this package.
type stmtKind uint8

const (
	kindRows stmtKind = iota
	kindDDL
	kindPragma
	kindExplain
	kindTxn
)

// Stmt is a prepared statement: parsed once, stepped any number of
// times, optionally reset and re-stepped, and finalized when no longer
// needed.
type Stmt struct {
	conn    *Conn
	sqlText string
	kind    stmtKind
	stmt    sqlparse.Statement
	cookie  uint32

	prog   *vm.Program
	vmm    *vm.VM
	binds  map[int]sqlvalue.Value

	cols    []string
	rows    [][]sqlvalue.Value
	rowIdx  int
	curRow  []sqlvalue.Value
	done    bool
}

// Prepare parses the first statement out of sql and returns it along with
// tail, the unconsumed remainder after the statement's terminating
// semicolon, which a caller can Prepare again to process a
// multi-statement script one statement at a time.
func (c *Conn) Prepare(sql string) (*Stmt, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parser := sqlparse.NewParser(sql)
	parsed, err := parser.ParseStatement()
	if err != nil {
		return nil, "", err
	}
	off := parser.Pos()
	tailStart := off
	if off < len(sql) && sql[off] == ';' {
		tailStart++
	}

	s := &Stmt{
		conn:    c,
		sqlText: sql[:off],
		binds:   map[int]sqlvalue.Value{},
	}
	if err := s.classify(parsed); err != nil {
		return nil, "", err
	}
	c.openStmts[s] = struct{}{}
	return s, sql[tailStart:], nil
}

// classify dispatches a freshly parsed statement to its kind, compiling or
// precomputing whatever the kind needs up front. ATTACH/DETACH have no home
// in a single-pager connection and are rejected outright as unimplemented.
func (s *Stmt) classify(stmt sqlparse.Statement) error {
	switch t := stmt.(type) {
	case *sqlparse.Select, *sqlparse.Insert, *sqlparse.Update, *sqlparse.Delete:
		s.kind = kindRows
		return s.compileRows(stmt)
	case *sqlparse.CreateTable, *sqlparse.CreateIndex, *sqlparse.DropTable, *sqlparse.DropIndex:
		s.kind = kindDDL
		s.stmt = stmt
		s.cookie = s.conn.p.Header().SchemaCookie
		return nil
	case *sqlparse.Pragma:
		return s.classifyPragma(t)
	case *sqlparse.Explain:
		return s.classifyExplain(t)
	case *sqlparse.TxnStatement:
		s.kind = kindTxn
		s.stmt = stmt
		return nil
	case *sqlparse.AttachDatabase, *sqlparse.DetachDatabase:
		return ferrors.Wrap(ferrors.ErrMisuse, "ATTACH/DETACH DATABASE is not supported", "")
	default:
		return ferrors.Wrap(ferrors.ErrMisuse, "unsupported statement", "")
	}
}

// compileRows compiles (or fetches from cache) the program backing a SELECT
// or DML statement.
func (s *Stmt) compileRows(stmt sqlparse.Statement) error {
	cookie := s.conn.p.Header().SchemaCookie
	if cached, ok := s.conn.cache.get(s.sqlText, cookie); ok {
		s.stmt, s.prog, s.cookie = cached.stmt, cached.prog, cached.cookie
		return nil
	}
	prog, err := codegen.New(s.conn.cat).Compile(stmt)
	if err != nil {
		return err
	}
	s.stmt, s.prog, s.cookie = stmt, prog, cookie
	s.conn.cache.put(s.sqlText, &cachedPlan{stmt: stmt, prog: prog, cookie: cookie})
	return nil
}

// ensureFresh re-parses and recompiles sqlText against the current catalog
// when the schema cookie this statement was compiled against is stale: a
// compiled program's root-page references, and an explain plan's
// table/index bindings, can point at objects DDL since dropped or
// recreated.
func (s *Stmt) ensureFresh() error {
	if s.kind != kindRows && s.kind != kindDDL {
		return nil
	}
	cur := s.conn.p.Header().SchemaCookie
	if s.cookie == cur {
		return nil
	}
	parser := sqlparse.NewParser(s.sqlText)
	parsed, err := parser.ParseStatement()
	if err != nil {
		return err
	}
	if s.kind == kindDDL {
		s.stmt, s.cookie = parsed, cur
		return nil
	}
	s.vmm = nil
	return s.compileRows(parsed)
}

// Step advances the statement and reports whether it produced a row.
func (s *Stmt) Step() (StepResult, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if err := s.ensureFresh(); err != nil {
		return StepDone, err
	}
	switch s.kind {
	case kindRows:
		return s.stepRows()
	case kindDDL:
		return s.stepDDL()
	case kindTxn:
		return s.stepTxn()
	default: // kindPragma, kindExplain
		return s.stepRowBuffer()
	}
}

func (s *Stmt) stepRows() (StepResult, error) {
	if s.vmm == nil {
		s.vmm = vm.New(s.prog, s.conn.p)
		for idx, v := range s.binds {
			s.vmm.SetParam(idx, v)
		}
	}
	res, err := s.vmm.Step()
	if err != nil {
		return res, err
	}
	if res == StepRow {
		s.curRow = s.vmm.Row()
	}
	return res, nil
}

// stepDDL runs CREATE/DROP TABLE/INDEX to completion on its first Step,
// bracketed by the same BeginWrite/Commit pair codegen's DML programs now
// emit as OpTransaction/OpCommit, since ExecDDL writes pages directly
// through a *btree.PagerStore rather than through the register machine.
func (s *Stmt) stepDDL() (StepResult, error) {
	if s.done {
		return StepDone, nil
	}
	s.done = true
	store := &btree.PagerStore{P: s.conn.p}
	j, err := s.conn.p.BeginWrite()
	if err != nil {
		return StepDone, err
	}
	store.J = j
	if err := codegen.ExecDDL(s.stmt, s.sqlText, s.conn.cat, store); err != nil {
		s.conn.p.Rollback()
		return StepDone, err
	}
	if err := s.conn.p.Commit(); err != nil {
		return StepDone, err
	}
	s.cookie = s.conn.p.Header().SchemaCookie
	return StepDone, nil
}

func (s *Stmt) stepTxn() (StepResult, error) {
	if s.done {
		return StepDone, nil
	}
	s.done = true
	t := s.stmt.(*sqlparse.TxnStatement)
	return StepDone, s.conn.execTxn(t)
}

func (s *Stmt) stepRowBuffer() (StepResult, error) {
	if s.rowIdx >= len(s.rows) {
		return StepDone, nil
	}
	s.curRow = s.rows[s.rowIdx]
	s.rowIdx++
	return StepRow, nil
}

// setRowBuffer installs a precomputed set of result rows, used by PRAGMA
// queries and EXPLAIN.
func (s *Stmt) setRowBuffer(cols []string, rows [][]sqlvalue.Value) {
	s.cols = cols
	s.rows = rows
	s.rowIdx = 0
}

// ColumnCount reports how many columns the current result row has.
func (s *Stmt) ColumnCount() int { return len(s.resultCols()) }

// ColumnName reports the name of result column i, as it would appear in a
// SELECT's column list.
func (s *Stmt) ColumnName(i int) string { return s.resultCols()[i] }

func (s *Stmt) resultCols() []string {
	if s.kind == kindRows {
		return s.prog.ResultCols
	}
	return s.cols
}

func (s *Stmt) ColumnType(i int) ColumnType     { return s.curRow[i].Type() }
func (s *Stmt) ColumnInt(i int) int64           { return s.curRow[i].Int() }
func (s *Stmt) ColumnDouble(i int) float64      { return s.curRow[i].Float() }
func (s *Stmt) ColumnText(i int) string         { return s.curRow[i].Text() }
func (s *Stmt) ColumnBlob(i int) []byte         { return s.curRow[i].Bytes() }

func (s *Stmt) bind(i int, v sqlvalue.Value) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.kind != kindRows {
		return ferrors.Wrap(ferrors.ErrMisuse, "statement takes no bound parameters", "")
	}
	if _, ok := s.prog.BindReg(i); !ok {
		return ferrors.Wrapf(ferrors.ErrRange, "", "bind index %d out of range", i)
	}
	s.binds[i] = v
	if s.vmm != nil {
		s.vmm.SetParam(i, v)
	}
	return nil
}

func (s *Stmt) BindNull(i int) error          { return s.bind(i, sqlvalue.Null()) }
func (s *Stmt) BindInt(i int, v int64) error  { return s.bind(i, sqlvalue.Integer(v)) }
func (s *Stmt) BindDouble(i int, v float64) error { return s.bind(i, sqlvalue.Real(v)) }
func (s *Stmt) BindText(i int, v string) error { return s.bind(i, sqlvalue.Text(v)) }
func (s *Stmt) BindBlob(i int, v []byte) error { return s.bind(i, sqlvalue.Blob(v)) }

// Reset rewinds the statement so the next Step starts over, keeping any
// bound parameters: reset does not clear bindings.
func (s *Stmt) Reset() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.vmm != nil {
		s.vmm.Close()
		s.vmm = nil
	}
	s.done = false
	s.rowIdx = 0
	s.curRow = nil
	return nil
}

// Finalize releases the statement's resources and deregisters it from its
// connection.
func (s *Stmt) Finalize() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.finalizeLocked()
	return nil
}

func (s *Stmt) finalizeLocked() {
	if s.vmm != nil {
		s.vmm.Close()
		s.vmm = nil
	}
	delete(s.conn.openStmts, s)
}
