package codegen

import (
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// singleTableScope builds the one-entry scope a DML statement's WHERE/SET
// expressions resolve VarRefs against, reusing planner.ResolveColumn instead
// of a separate name-lookup path for statements with exactly one table.
func singleTableScope(table string, ts *catalog.TableSchema) []planner.ScopeEntry {
	cols := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		cols[i] = c.Name
	}
	return []planner.ScopeEntry{{Name: table, Table: table, Columns: cols}}
}

// ipkColumn returns the 0-based position of ts's single-column INTEGER
// PRIMARY KEY, the rowid alias, or -1 if ts has none (WITHOUT ROWID tables
// and multi-column primary keys are not given a rowid alias here).
func ipkColumn(ts *catalog.TableSchema) int {
	if ts.WithoutRowID || len(ts.PrimaryKey) > 0 {
		return -1
	}
	for i, c := range ts.Columns {
		if c.PrimaryKey {
			return i
		}
	}
	return -1
}

func (c *Compiler) table(name string) (*catalog.TableSchema, error) {
	ts, ok := c.Schema.Table(name)
	if !ok {
		return nil, ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+name, "")
	}
	return ts, nil
}

// emitDeleteByRowid deletes the row at rowidReg in ts, plus its entry in
// every index on ts, if one exists. OpNotFound/OpFound probe by seeking a
// throwaway cursor (they never touch the persistent cursor's iteration
// position, see OpNotFound's case in internal/vm), so the actual delete
// runs against a second, freshly seeked cursor rather than reusing the
// probe's.
func (g *genCtx) emitDeleteByRowid(ts *catalog.TableSchema, rowidReg int) {
	probeCur := g.b.cursor()
	g.b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: probeCur, P2: int(ts.RootPage), P3: 0})
	skip := g.b.emit(vm.Instruction{Op: vm.OpNotFound, P1: probeCur, P2: -1, P4: vm.RegRowid(rowidReg)})

	delCur := g.b.cursor()
	g.b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: delCur, P2: int(ts.RootPage), P3: 0})
	seekMiss := g.b.emit(vm.Instruction{Op: vm.OpSeekGE, P1: delCur, P2: -1, P4: vm.RegRowid(rowidReg)})

	rowBase := g.b.regs(len(ts.Columns))
	for i := range ts.Columns {
		g.b.emit(vm.Instruction{Op: vm.OpColumn, P1: delCur, P2: i, P3: rowBase + i})
	}
	g.emitMaintainIndexesDelete(ts, rowBase, rowidReg)
	g.b.emit(vm.Instruction{Op: vm.OpDelete, P1: delCur})

	end := g.b.here()
	g.b.patch(skip, end)
	g.b.patch(seekMiss, end)
}

// buildColPos maps each table column to the 0-based position its value
// comes from in an inserted row (VALUES tuple or SELECT projection): -1
// when the column isn't named, defaulting to positional order when cols is
// empty (INSERT INTO t VALUES ... / INSERT INTO t SELECT ... without an
// explicit column list).
func buildColPos(ts *catalog.TableSchema, cols []string) ([]int, error) {
	colPos := make([]int, len(ts.Columns))
	for i := range colPos {
		colPos[i] = -1
	}
	if len(cols) == 0 {
		for i := range ts.Columns {
			colPos[i] = i
		}
		return colPos, nil
	}
	for vi, name := range cols {
		ci := ts.ColumnIndex(name)
		if ci < 0 {
			return nil, ferrors.Wrap(ferrors.ErrMisuse, "no such column: "+name, "")
		}
		colPos[ci] = vi
	}
	return colPos, nil
}

// emitInsertRow builds one table row from valueReg (the row's colPos-indexed
// source values), resolves its rowid, applies OnConflict, and maintains
// every index on ts. Shared by compileInsert's VALUES loop and
// compileInsertSelect's rowSink, the only difference being where a value
// register comes from.
func (g *genCtx) emitInsertRow(ts *catalog.TableSchema, cur int, colPos []int, ipk int, onConflict sqlparse.OnConflictAction, valueReg func(vi int) (int, error)) error {
	rowBase := g.b.regs(len(ts.Columns))
	for ci := range ts.Columns {
		vi := colPos[ci]
		var r int
		var err error
		if vi < 0 {
			r, err = g.compileExpr(nil)
		} else {
			r, err = valueReg(vi)
		}
		if err != nil {
			return err
		}
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: rowBase + ci})
	}

	rowidReg := g.b.reg()
	if ipk >= 0 {
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: rowBase + ipk, P2: rowidReg})
	} else {
		g.b.emit(vm.Instruction{Op: vm.OpNewRowid, P1: cur, P2: rowidReg})
	}

	if onConflict == sqlparse.ConflictReplace {
		g.emitDeleteByRowid(ts, rowidReg)
	} else if onConflict == sqlparse.ConflictIgnore {
		skip := g.b.emit(vm.Instruction{Op: vm.OpFound, P1: cur, P2: -1, P4: vm.RegRowid(rowidReg)})
		payload := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: rowBase, P2: len(ts.Columns), P3: payload})
		g.b.emit(vm.Instruction{Op: vm.OpInsert, P1: cur, P2: payload, P3: rowidReg})
		g.emitMaintainIndexesInsert(ts, rowBase, rowidReg)
		after := g.b.here()
		g.b.patch(skip, after)
		return nil
	}

	payload := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: rowBase, P2: len(ts.Columns), P3: payload})
	g.b.emit(vm.Instruction{Op: vm.OpInsert, P1: cur, P2: payload, P3: rowidReg})
	g.emitMaintainIndexesInsert(ts, rowBase, rowidReg)
	return nil
}

// compileInsert evaluates each VALUES row into a fresh table row, resolving
// the rowid from the row's IPK column when the table has one and
// allocating a fresh one via OpNewRowid otherwise, then maintains every
// index on the table. INSERT ... SELECT is handled separately by
// compileInsertSelect, which drives the same emitInsertRow body from the
// sub-select's produced rows instead of a VALUES list.
func (c *Compiler) compileInsert(ins *sqlparse.Insert) (*vm.Program, error) {
	ts, err := c.table(ins.Table)
	if err != nil {
		return nil, err
	}
	if ins.Select != nil {
		return c.compileInsertSelect(ins, ts)
	}

	b := newBuilder()
	g := newGenCtx(b, c.Schema, singleTableScope(ins.Table, ts), ins)
	b.emit(vm.Instruction{Op: vm.OpTransaction, P1: 1})

	colPos, err := buildColPos(ts, ins.Cols)
	if err != nil {
		return nil, err
	}
	ipk := ipkColumn(ts)

	cur := b.cursor()
	b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: cur, P2: int(ts.RootPage), P3: 0})

	for _, row := range ins.Rows {
		row := row
		valueReg := func(vi int) (int, error) {
			if vi >= len(row) {
				return g.compileExpr(nil)
			}
			return g.compileExpr(row[vi])
		}
		if err := g.emitInsertRow(ts, cur, colPos, ipk, ins.OnConflict, valueReg); err != nil {
			return nil, err
		}
	}

	b.emit(vm.Instruction{Op: vm.OpCommit})
	b.emit(vm.Instruction{Op: vm.OpHalt})
	return g.finish(b, nil), nil
}

// compileInsertSelect compiles INSERT INTO t [(cols)] SELECT ...: the
// sub-select is planned and walked exactly as a top-level SELECT would be
// (compileSelectBody is shared with compileSelect), but each row it
// produces is routed through g.rowSink into emitInsertRow instead of
// OpResultRow. A LIMIT on the sub-select still needs an early stop once
// enough rows have been produced, but that stop must land after OpCommit
// runs, not at the program's Halt the way a bare SELECT's does — jumping
// straight to Halt would abandon the transaction.
func (c *Compiler) compileInsertSelect(ins *sqlparse.Insert, ts *catalog.TableSchema) (*vm.Program, error) {
	if ins.Select.Compound != nil {
		return nil, ferrors.Wrap(ferrors.ErrMisuse, "INSERT ... SELECT does not support a compound SELECT (UNION/INTERSECT/EXCEPT) source", "")
	}

	pl := planner.New(c.Schema)
	plan, err := pl.Plan(ins.Select)
	if err != nil {
		return nil, err
	}

	colPos, err := buildColPos(ts, ins.Cols)
	if err != nil {
		return nil, err
	}
	ipk := ipkColumn(ts)

	b := newBuilder()
	g := newGenCtx(b, c.Schema, plan.Scope, ins)
	b.emit(vm.Instruction{Op: vm.OpTransaction, P1: 1})

	cur := b.cursor()
	b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: cur, P2: int(ts.RootPage), P3: 0})

	g.rowSink = func(base, n int) error {
		valueReg := func(vi int) (int, error) {
			if vi >= n {
				return g.compileExpr(nil)
			}
			return base + vi, nil
		}
		return g.emitInsertRow(ts, cur, colPos, ipk, ins.OnConflict, valueReg)
	}

	_, stopJumps, err := g.compileSelectBody(plan, ins.Select)
	if err != nil {
		return nil, err
	}

	commitAt := b.here()
	b.emit(vm.Instruction{Op: vm.OpCommit})
	b.emit(vm.Instruction{Op: vm.OpHalt})
	for _, j := range stopJumps {
		b.patch(j, commitAt)
	}
	return g.finish(b, nil), nil
}

// compileDelete scans table, evaluating Where inline per row, and deletes
// every qualifying row's table entry plus its entry in every index.
func (c *Compiler) compileDelete(del *sqlparse.Delete) (*vm.Program, error) {
	ts, err := c.table(del.Table)
	if err != nil {
		return nil, err
	}
	b := newBuilder()
	g := newGenCtx(b, c.Schema, singleTableScope(del.Table, ts), del)
	b.emit(vm.Instruction{Op: vm.OpTransaction, P1: 1})

	cur := b.cursor()
	b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: cur, P2: int(ts.RootPage), P3: 0})
	rewindSkip := b.emit(vm.Instruction{Op: vm.OpRewind, P1: cur, P2: -1})
	loopStart := b.here()
	rowBase := b.regs(len(ts.Columns))
	g.rowBase[0] = rowBase
	for i := range ts.Columns {
		b.emit(vm.Instruction{Op: vm.OpColumn, P1: cur, P2: i, P3: rowBase + i})
	}

	if err := g.emitGuard(del.Where, func() error {
		rowidReg := b.reg()
		b.emit(vm.Instruction{Op: vm.OpRowid, P1: cur, P2: rowidReg})
		g.emitMaintainIndexesDelete(ts, rowBase, rowidReg)
		b.emit(vm.Instruction{Op: vm.OpDelete, P1: cur})
		return nil
	}); err != nil {
		return nil, err
	}

	b.emit(vm.Instruction{Op: vm.OpNext, P1: cur, P2: loopStart})
	b.patch(rewindSkip, b.here())
	b.emit(vm.Instruction{Op: vm.OpCommit})
	b.emit(vm.Instruction{Op: vm.OpHalt})
	return g.finish(b, nil), nil
}

// compileUpdate scans table, evaluating Where inline, applying Sets in
// declaration order into a copy of the row, and writing the result back.
// When the table has an IPK and OR REPLACE resolves an updated rowid that
// collides with a different existing row, the conflicting row is deleted
// first: the same OpNotFound/RegRowid probe INSERT ... OR REPLACE uses,
// run before the write. A conflict on a UNIQUE secondary index is not
// resolved here (see the note at the end of this file).
func (c *Compiler) compileUpdate(upd *sqlparse.Update) (*vm.Program, error) {
	ts, err := c.table(upd.Table)
	if err != nil {
		return nil, err
	}
	b := newBuilder()
	scope := singleTableScope(upd.Table, ts)
	g := newGenCtx(b, c.Schema, scope, upd)
	b.emit(vm.Instruction{Op: vm.OpTransaction, P1: 1})
	ipk := ipkColumn(ts)

	setPos := map[int]sqlparse.Expr{}
	for _, s := range upd.Sets {
		ci := ts.ColumnIndex(s.Col)
		if ci < 0 {
			return nil, ferrors.Wrap(ferrors.ErrMisuse, "no such column: "+s.Col, "")
		}
		setPos[ci] = s.Expr
	}

	cur := b.cursor()
	b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: cur, P2: int(ts.RootPage), P3: 0})
	rewindSkip := b.emit(vm.Instruction{Op: vm.OpRewind, P1: cur, P2: -1})
	loopStart := b.here()
	rowBase := b.regs(len(ts.Columns))
	g.rowBase[0] = rowBase
	for i := range ts.Columns {
		b.emit(vm.Instruction{Op: vm.OpColumn, P1: cur, P2: i, P3: rowBase + i})
	}

	err = g.emitGuard(upd.Where, func() error {
		oldRowid := b.reg()
		b.emit(vm.Instruction{Op: vm.OpRowid, P1: cur, P2: oldRowid})

		newBase := b.regs(len(ts.Columns))
		for ci := range ts.Columns {
			if e, ok := setPos[ci]; ok {
				r, err := g.compileExpr(e)
				if err != nil {
					return err
				}
				b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: newBase + ci})
			} else {
				b.emit(vm.Instruction{Op: vm.OpSCopy, P1: rowBase + ci, P2: newBase + ci})
			}
		}

		newRowid := oldRowid
		if ipk >= 0 {
			if _, ok := setPos[ipk]; ok {
				newRowid = b.reg()
				b.emit(vm.Instruction{Op: vm.OpSCopy, P1: newBase + ipk, P2: newRowid})
			}
		}

		g.emitMaintainIndexesDelete(ts, rowBase, oldRowid)

		if upd.OnConflict == sqlparse.ConflictReplace && newRowid != oldRowid {
			g.emitDeleteByRowid(ts, newRowid)
		}

		payload := b.reg()
		b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: newBase, P2: len(ts.Columns), P3: payload})
		if newRowid != oldRowid {
			b.emit(vm.Instruction{Op: vm.OpDelete, P1: cur})
			b.emit(vm.Instruction{Op: vm.OpInsert, P1: cur, P2: payload, P3: newRowid})
		} else {
			b.emit(vm.Instruction{Op: vm.OpInsert, P1: cur, P2: payload, P3: newRowid})
		}
		g.emitMaintainIndexesInsert(ts, newBase, newRowid)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.emit(vm.Instruction{Op: vm.OpNext, P1: cur, P2: loopStart})
	b.patch(rewindSkip, b.here())
	b.emit(vm.Instruction{Op: vm.OpCommit})
	b.emit(vm.Instruction{Op: vm.OpHalt})
	return g.finish(b, nil), nil
}

// OR REPLACE conflict resolution against a UNIQUE secondary index (rather
// than the rowid/IPK itself) is not implemented: detecting it needs an
// equality seek on the index's leading columns while ignoring the key's
// trailing rowid component, which is a prefix match the fixed SeekKey
// opcode (exact byte-for-byte key match) cannot express. Only the IPK
// rowid-conflict path is implemented; see DESIGN.md.
