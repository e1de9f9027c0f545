package vm

import (
	"sort"
	"strings"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

// RegKey marks a seek/lookup opcode's P4 as a register holding the encoded
// key to use, rather than a []byte compile-time constant: codegen reaches
// for this whenever the key being sought (a DISTINCT dedup key, an
// UPDATE OR REPLACE conflict probe, an index seek against a bound
// parameter) isn't known until a row is in hand. See OpSeekGE/GT/LE/LT and
// OpNotFound/OpFound/OpNoConflict.
type RegKey int

// keyBytes resolves a seek/lookup opcode's P4 operand to its key bytes,
// whether compiled as a literal []byte constant or as a RegKey pointing at
// a register holding an OpMakeRecord-built blob.
func (m *VM) keyBytes(p4 interface{}) []byte {
	switch k := p4.(type) {
	case []byte:
		return k
	case RegKey:
		return m.reg(int(k)).Bytes()
	default:
		return nil
	}
}

// RegRowid marks a rowid-seeking opcode's P4 as a register holding the
// int64 rowid to probe, for the same reason RegKey exists: an INSERT's
// IPK value or a freshly allocated OpNewRowid result isn't known until
// the row is being built, so it can't ride along as P3's literal int.
// When P4 holds a RegRowid, it takes priority over P3.
type RegRowid int

func (m *VM) rowID(ins Instruction) int64 {
	if r, ok := ins.P4.(RegRowid); ok {
		return m.reg(int(r)).Int()
	}
	return int64(ins.P3)
}

// Program is the linear list of opcodes a statement compiles to.
// Constants referenced by P4 live inline on the Instruction itself.
type Program struct {
	Instructions []Instruction
	NumRegisters int
	NumCursors   int

	// ParamBase/NumParams locate the contiguous register range the root
	// package's Bind* calls must fill before the first Step: codegen
	// resolves every BindParam to ParamBase+(Index-1) at compile time.
	ParamBase int
	NumParams int

	// ResultCols names each ResultRow column in projection order, for the
	// root package's Column name/count introspection.
	ResultCols []string
}

// BindReg returns the register index a Step of this program reads when
// parameter index (1-based) is set via Bind*, or false when out of range.
func (p *Program) BindReg(index int) (int, bool) {
	if index < 1 || index > p.NumParams {
		return 0, false
	}
	return p.ParamBase + index - 1, true
}

// SetParam writes a value directly into a prepared VM's parameter register,
// used by the root package's Bind* calls between Reset and Step.
func (m *VM) SetParam(index int, v sqlvalue.Value) bool {
	reg, ok := m.prog.BindReg(index)
	if !ok {
		return false
	}
	m.setReg(reg, v)
	return true
}

// ResultCols exposes the program's result column names (Column
// Count/Name/Decltype).
func (m *VM) ResultCols() []string { return m.prog.ResultCols }

// StepResult is what Step returns to the prepare/step/finalize caller.
type StepResult uint8

const (
	StepDone StepResult = iota
	StepRow
)

// aggState accumulates one aggregate function's running value across
// AggStep calls into a given register.
type aggState struct {
	fn    string
	count int64
	sum   sqlvalue.Value
	min   sqlvalue.Value
	max   sqlvalue.Value
	first bool
}

// VM executes one Program against a Pager: step runs opcodes until
// ResultRow, Halt, or an error, with all state persisting in the VM
// between steps.
type VM struct {
	prog    *Program
	pc      int
	halted  bool
	regs    []sqlvalue.Value
	cursors []*vmCursor
	aggs    map[int]*aggState
	store   *btree.PagerStore
	p       *pager.Pager
	journal *pager.Journal
	collate sqlvalue.Collation

	resultFirst int
	resultCount int

	callStack []int // Gosub return addresses

	interrupted bool
}

// New builds a VM ready to run prog against p (the database's real pager).
func New(prog *Program, p *pager.Pager) *VM {
	regs := make([]sqlvalue.Value, prog.NumRegisters)
	for i := range regs {
		regs[i] = sqlvalue.Null()
	}
	return &VM{
		prog:    prog,
		regs:    regs,
		cursors: make([]*vmCursor, prog.NumCursors),
		aggs:    map[int]*aggState{},
		store:   &btree.PagerStore{P: p},
		p:       p,
		collate: sqlvalue.CollBinary,
	}
}

// Interrupt sets the connection-level interrupt flag polled between
// opcodes.
func (m *VM) Interrupt() { m.interrupted = true }

func (m *VM) reg(i int) sqlvalue.Value { return m.regs[i] }
func (m *VM) setReg(i int, v sqlvalue.Value) { m.regs[i] = v }

// Row returns the current result row's values (valid only right after
// Step returns StepRow).
func (m *VM) Row() []sqlvalue.Value {
	out := make([]sqlvalue.Value, m.resultCount)
	copy(out, m.regs[m.resultFirst:m.resultFirst+m.resultCount])
	return out
}

// Close releases every cursor the VM still holds open: every opened
// cursor is registered on the statement and closed on reset/finalize
// even on error.
func (m *VM) Close() {
	for i, c := range m.cursors {
		if c != nil {
			c.Close()
			m.cursors[i] = nil
		}
	}
}

// Step runs opcodes until a ResultRow, Halt, or error.
func (m *VM) Step() (StepResult, error) {
	if m.halted {
		return StepDone, nil
	}
	for m.pc < len(m.prog.Instructions) {
		if m.interrupted {
			return StepDone, ferrors.Wrap(ferrors.ErrInterrupt, "interrupted", "")
		}
		ins := m.prog.Instructions[m.pc]
		jump, row, err := m.exec(ins)
		if err != nil {
			return StepDone, err
		}
		if m.halted {
			return StepDone, nil
		}
		if row {
			m.pc++
			return StepRow, nil
		}
		if jump >= 0 {
			m.pc = jump
		} else {
			m.pc++
		}
	}
	m.halted = true
	return StepDone, nil
}

// exec runs one instruction. jump >= 0 means "set pc to jump instead of
// pc+1"; row means "this instruction produced a result row."
func (m *VM) exec(ins Instruction) (jump int, row bool, err error) {
	jump = -1
	switch ins.Op {
	case OpNoop, OpOnce:
		// Once is treated as a no-op: this VM re-runs a program fresh per
		// Step() call chain, so "run only the first time through" never
		// recurs within a single prepared statement's lifetime boundary
		// that would make Once meaningfully differ from Noop here.

	case OpHalt:
		m.halted = true

	case OpGoto:
		jump = ins.P2

	case OpGosub:
		m.callStack = append(m.callStack, m.pc+1)
		jump = ins.P2

	case OpReturn:
		if len(m.callStack) == 0 {
			return -1, false, ferrors.Wrap(ferrors.ErrInternal, "Return with empty call stack", "")
		}
		jump = m.callStack[len(m.callStack)-1]
		m.callStack = m.callStack[:len(m.callStack)-1]

	case OpIf:
		if truthy(m.reg(ins.P1)) {
			jump = ins.P2
		}
	case OpIfNot:
		if !truthy(m.reg(ins.P1)) {
			jump = ins.P2
		}

	case OpInteger:
		m.setReg(ins.P2, sqlvalue.Integer(int64(ins.P1)))
	case OpInt64:
		m.setReg(ins.P2, sqlvalue.Integer(ins.P4.(int64)))
	case OpReal:
		m.setReg(ins.P2, sqlvalue.Real(ins.P4.(float64)))
	case OpNull:
		m.setReg(ins.P2, sqlvalue.Null())
	case OpCopy, OpSCopy, OpMove:
		m.setReg(ins.P2, m.reg(ins.P1))
		if ins.Op == OpMove {
			m.setReg(ins.P1, sqlvalue.Null())
		}

	case OpString8:
		m.setReg(ins.P2, sqlvalue.Text(ins.P4.(string)))
	case OpBlob:
		m.setReg(ins.P2, sqlvalue.Blob(ins.P4.([]byte)))
	case OpCast:
		m.setReg(ins.P1, sqlvalue.Apply(m.reg(ins.P1), ins.P4.(sqlvalue.Affinity)))
	case OpLength:
		v := m.reg(ins.P1)
		var n int
		if v.Type() == sqlvalue.TypeBlob {
			n = len(v.Bytes())
		} else {
			n = len([]rune(v.Text()))
		}
		m.setReg(ins.P2, sqlvalue.Integer(int64(n)))
	case OpSubstr:
		m.setReg(ins.P3, substr(m.reg(ins.P1), ins.P2, ins.P4))
	case OpLike:
		pat, ok1 := ins.P4.(string)
		_ = ok1
		m.setReg(ins.P3, sqlvalue.Integer(boolInt(likeMatch(pat, m.reg(ins.P1).Text(), true))))
	case OpGlob:
		pat, _ := ins.P4.(string)
		m.setReg(ins.P3, sqlvalue.Integer(boolInt(likeMatch(pat, m.reg(ins.P1).Text(), false))))

	case OpAdd:
		m.setReg(ins.P3, sqlvalue.Add(m.reg(ins.P1), m.reg(ins.P2)))
	case OpSubtract:
		m.setReg(ins.P3, sqlvalue.Subtract(m.reg(ins.P2), m.reg(ins.P1)))
	case OpMultiply:
		m.setReg(ins.P3, sqlvalue.Multiply(m.reg(ins.P1), m.reg(ins.P2)))
	case OpDivide:
		m.setReg(ins.P3, sqlvalue.Divide(m.reg(ins.P2), m.reg(ins.P1)))
	case OpRemainder:
		m.setReg(ins.P3, sqlvalue.Remainder(m.reg(ins.P2), m.reg(ins.P1)))
	case OpBitAnd:
		m.setReg(ins.P3, sqlvalue.Integer(m.reg(ins.P1).Int()&m.reg(ins.P2).Int()))
	case OpBitOr:
		m.setReg(ins.P3, sqlvalue.Integer(m.reg(ins.P1).Int()|m.reg(ins.P2).Int()))
	case OpShiftLeft:
		m.setReg(ins.P3, sqlvalue.Integer(m.reg(ins.P2).Int()<<uint(m.reg(ins.P1).Int())))
	case OpShiftRight:
		m.setReg(ins.P3, sqlvalue.Integer(m.reg(ins.P2).Int()>>uint(m.reg(ins.P1).Int())))
	case OpNegative:
		m.setReg(ins.P2, sqlvalue.Negative(m.reg(ins.P1)))
	case OpAddImm:
		m.setReg(ins.P1, sqlvalue.Integer(m.reg(ins.P1).Int()+int64(ins.P2)))

	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		a, b := m.reg(ins.P1), m.reg(ins.P3)
		if a.IsNull() || b.IsNull() {
			break // NULL comparisons are never true; never jump
		}
		c := sqlvalue.Compare(a, b, m.collate)
		if compareJumps(ins.Op, c) {
			jump = ins.P2
		}
	case OpCompareJump:
		keys := ins.P4.([]int)
		for _, r := range keys {
			c := sqlvalue.Compare(m.reg(r), m.reg(r+ins.P3), m.collate)
			if c != 0 {
				if c < 0 {
					jump = ins.P2
				}
				break
			}
		}

	case OpOpenRead, OpOpenWrite:
		root := pager.PageNo(ins.P2)
		isIndex := ins.P3 != 0
		m.cursors[ins.P1] = &vmCursor{
			kind:  kindFor(isIndex),
			tree:  btree.Open(m.store, root, isIndex),
			store: m.store,
		}
	case OpOpenAutoindex, OpOpenEphemeral:
		ep, eerr := pager.Open(pager.Options{Path: ":memory:"})
		if eerr != nil {
			return -1, false, eerr
		}
		estore := &btree.PagerStore{P: ep}
		isIndex := ins.P3 != 0
		t, terr := btree.Create(estore, isIndex)
		if terr != nil {
			return -1, false, terr
		}
		m.cursors[ins.P1] = &vmCursor{kind: cursorEphemeral, tree: t, store: estore, ephemeral: ep, name: newEphemeralName()}
	case OpOpenPseudo:
		m.cursors[ins.P1] = &vmCursor{kind: cursorPseudo}
	case OpClose:
		if c := m.cursors[ins.P1]; c != nil {
			c.Close()
			m.cursors[ins.P1] = nil
		}

	case OpRewind, OpLast:
		c := m.cursors[ins.P1]
		c.cur = c.tree.NewCursor()
		if ins.Op == OpRewind {
			err = c.cur.Rewind()
		} else {
			err = c.cur.Last()
		}
		if err != nil {
			return -1, false, err
		}
		if rerr := m.refresh(c); rerr != nil {
			return -1, false, rerr
		}
		if !c.valid {
			jump = ins.P2
		}
	case OpNext, OpPrev:
		c := m.cursors[ins.P1]
		if ins.Op == OpNext {
			err = c.cur.Next()
		} else {
			err = c.cur.Prev()
		}
		if err != nil {
			return -1, false, err
		}
		if rerr := m.refresh(c); rerr != nil {
			return -1, false, rerr
		}
		if c.valid {
			jump = ins.P2
		}
	case OpSeekGE, OpSeekGT, OpSeekLE, OpSeekLT:
		c := m.cursors[ins.P1]
		c.cur = c.tree.NewCursor()
		var found bool
		if c.kind == cursorIndex || c.kind == cursorEphemeral && ins.P4 != nil {
			found, err = c.cur.SeekKey(m.keyBytes(ins.P4))
		} else {
			found, err = c.cur.SeekRowID(m.rowID(ins))
		}
		if err != nil {
			return -1, false, err
		}
		if (ins.Op == OpSeekGT || ins.Op == OpSeekLT) && found {
			if ins.Op == OpSeekGT {
				err = c.cur.Next()
			} else {
				err = c.cur.Prev()
			}
			if err != nil {
				return -1, false, err
			}
		}
		if rerr := m.refresh(c); rerr != nil {
			return -1, false, rerr
		}
		if !c.valid {
			jump = ins.P2
		}
	case OpNotFound, OpFound, OpNoConflict:
		c := m.cursors[ins.P1]
		cur := c.tree.NewCursor()
		var found bool
		if c.kind == cursorIndex || (c.kind == cursorEphemeral && c.tree.IsIndex()) {
			found, err = cur.SeekKey(m.keyBytes(ins.P4))
		} else {
			found, err = cur.SeekRowID(m.rowID(ins))
		}
		cur.Close()
		if err != nil {
			return -1, false, err
		}
		want := ins.Op != OpNotFound
		if found == want {
			jump = ins.P2
		}

	case OpColumn:
		c := m.cursors[ins.P1]
		vals, rerr := c.row()
		if rerr != nil {
			return -1, false, rerr
		}
		if ins.P2 < len(vals) {
			m.setReg(ins.P3, vals[ins.P2])
		} else {
			m.setReg(ins.P3, sqlvalue.Null())
		}
	case OpRowid:
		m.setReg(ins.P2, sqlvalue.Integer(m.cursors[ins.P1].currentRowID))
	case OpSequence:
		c := m.cursors[ins.P1]
		c.currentRowID++
		m.setReg(ins.P2, sqlvalue.Integer(c.currentRowID))

	case OpNewRowid:
		c := m.cursors[ins.P1]
		rid, rerr := nextFreeRowID(c.tree)
		if rerr != nil {
			return -1, false, rerr
		}
		m.setReg(ins.P2, sqlvalue.Integer(rid))
	case OpMakeRecord:
		vals := make([]sqlvalue.Value, ins.P2)
		copy(vals, m.regs[ins.P1:ins.P1+ins.P2])
		m.setReg(ins.P3, sqlvalue.Blob(sqlvalue.EncodeRecord(vals)))
	case OpInsert:
		c := m.cursors[ins.P1]
		rowid := m.reg(ins.P3).Int()
		payload := m.reg(ins.P2).Bytes()
		if ierr := c.tree.InsertTable(rowid, payload); ierr != nil {
			return -1, false, ierr
		}
	case OpDelete:
		c := m.cursors[ins.P1]
		if derr := c.tree.DeleteTable(c.currentRowID); derr != nil {
			return -1, false, derr
		}
	case OpIdxInsert:
		c := m.cursors[ins.P1]
		if ierr := c.tree.InsertIndex(m.reg(ins.P2).Bytes()); ierr != nil {
			return -1, false, ierr
		}
	case OpIdxDelete:
		c := m.cursors[ins.P1]
		if derr := c.tree.DeleteIndex(m.reg(ins.P2).Bytes()); derr != nil {
			return -1, false, derr
		}
	case OpResetCount:
		// no-op: the VM keeps no count of inserted or deleted rows.

	case OpTransaction:
		if ins.P1 != 0 {
			j, terr := m.p.BeginWrite()
			if terr != nil {
				return -1, false, terr
			}
			m.journal = j
			m.store.J = j
		}
	case OpCommit:
		if cerr := m.p.Commit(); cerr != nil {
			return -1, false, cerr
		}
		m.journal = nil
		m.store.J = nil
	case OpRollback:
		if rerr := m.p.Rollback(); rerr != nil {
			return -1, false, rerr
		}
		m.journal = nil
		m.store.J = nil
	case OpSavepoint:
		// Nested savepoints above the single active journal are out of
		// this engine's scope: the VM treats a savepoint instruction as a
		// no-op boundary marker, and codegen never emits one.

	case OpAggStep:
		m.aggStep(ins)
	case OpAggFinal:
		m.aggFinal(ins)
	case OpAggReset:
		delete(m.aggs, ins.P1)
	case OpSorterOpen:
		ep, eerr := pager.Open(pager.Options{Path: ":memory:"})
		if eerr != nil {
			return -1, false, eerr
		}
		estore := &btree.PagerStore{P: ep}
		t, terr := btree.Create(estore, true)
		if terr != nil {
			return -1, false, terr
		}
		m.cursors[ins.P1] = &vmCursor{kind: cursorEphemeral, tree: t, store: estore, ephemeral: ep, name: newEphemeralName()}
	case OpSorterInsert:
		c := m.cursors[ins.P1]
		if ierr := c.tree.InsertIndex(m.reg(ins.P2).Bytes()); ierr != nil {
			return -1, false, ierr
		}
	case OpSorterSort:
		c := m.cursors[ins.P1]
		c.cur = c.tree.NewCursor()
		if serr := c.cur.Rewind(); serr != nil {
			return -1, false, serr
		}
		if rerr := m.refresh(c); rerr != nil {
			return -1, false, rerr
		}
		if !c.valid {
			jump = ins.P2
		}
	case OpSorterData:
		c := m.cursors[ins.P1]
		m.setReg(ins.P2, sqlvalue.Blob(c.currentKey))
	case OpSorterNext:
		c := m.cursors[ins.P1]
		if nerr := c.cur.Next(); nerr != nil {
			return -1, false, nerr
		}
		if rerr := m.refresh(c); rerr != nil {
			return -1, false, rerr
		}
		if c.valid {
			jump = ins.P2
		}
	case OpSorterCompare:
		// Sorted order already follows the ephemeral index tree's byte
		// ordering; SorterCompare is only meaningful for early-exit
		// DISTINCT-style comparisons the code generator doesn't emit yet.

	case OpResultRow:
		m.resultFirst = ins.P1
		m.resultCount = ins.P2
		row = true

	default:
		return -1, false, ferrors.Wrapf(ferrors.ErrInternal, "", "unimplemented opcode %d", ins.Op)
	}
	return jump, row, err
}

func (m *VM) refresh(c *vmCursor) error {
	if c.kind == cursorIndex || c.kind == cursorEphemeral {
		return c.refreshIndex()
	}
	return c.refreshTable()
}

func kindFor(isIndex bool) cursorKind {
	if isIndex {
		return cursorIndex
	}
	return cursorTable
}

func nextFreeRowID(t *btree.Tree) (int64, error) {
	cur := t.NewCursor()
	defer cur.Close()
	if err := cur.Last(); err != nil {
		return 0, err
	}
	if !cur.Valid() {
		return 1, nil
	}
	return cur.TableLeaf().RowID + 1, nil
}

func truthy(v sqlvalue.Value) bool {
	if v.IsNull() {
		return false
	}
	return v.Int() != 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func compareJumps(op Op, c int) bool {
	switch op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	default:
		return false
	}
}

func substr(v sqlvalue.Value, start int, lenArg interface{}) sqlvalue.Value {
	s := []rune(v.Text())
	if start < 1 {
		start = 1
	}
	if start > len(s)+1 {
		return sqlvalue.Text("")
	}
	n := len(s) - (start - 1)
	if lenArg != nil {
		if l, ok := lenArg.(int); ok && l < n {
			n = l
		}
	}
	if n < 0 {
		n = 0
	}
	return sqlvalue.Text(string(s[start-1 : start-1+n]))
}

// likeMatch implements LIKE (% and _ wildcards, caseInsensitive) and GLOB
// (* and ?, case-sensitive) with one shared backtracking matcher.
func likeMatch(pattern, s string, caseInsensitive bool) bool {
	if caseInsensitive {
		pattern = strings.ToUpper(pattern)
		s = strings.ToUpper(s)
	}
	return wildMatch([]rune(pattern), []rune(s), caseInsensitive)
}

func wildMatch(pat, s []rune, like bool) bool {
	multi, single := byte('%'), byte('_')
	if !like {
		multi, single = '*', '?'
	}
	var pi, si int
	var starIdx = -1
	var matchIdx int
	for si < len(s) {
		if pi < len(pat) && (pat[pi] == rune(single) || pat[pi] == s[si]) {
			pi++
			si++
		} else if pi < len(pat) && pat[pi] == rune(multi) {
			starIdx = pi
			matchIdx = si
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
		} else {
			return false
		}
	}
	for pi < len(pat) && pat[pi] == rune(multi) {
		pi++
	}
	return pi == len(pat)
}

// sortRows stably sorts rows by the keyCols columns under coll, descending
// where desc says so. Nothing in the module calls it; ORDER BY goes
// through the sorter opcodes above.
func sortRows(rows [][]sqlvalue.Value, keyCols []int, desc []bool, coll sqlvalue.Collation) {
	sort.SliceStable(rows, func(i, j int) bool {
		for k, col := range keyCols {
			c := sqlvalue.Compare(rows[i][col], rows[j][col], coll)
			if c == 0 {
				continue
			}
			if k < len(desc) && desc[k] {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
