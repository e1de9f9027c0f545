package codegen

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// compileCompoundSelect compiles a UNION/UNION ALL/INTERSECT/EXCEPT chain.
// Each arm is planned and compiled independently (planner.FlattenCompound
// does the chain walking), materializing its rows into its own ephemeral
// index; the arms are then folded left to right into a running result set
// by foldCompoundArm, reusing the same ephemeral-index primitives
// compileStreaming's DISTINCT support already relies on: OpFound+OpIdxInsert
// to dedup, OpSorterInsert/OpSorterSort/OpSorterNext to walk a materialized
// set. UNION and UNION ALL differ only in whether the fold step dedups;
// INTERSECT and EXCEPT probe one arm's membership index while walking the
// other's rows.
//
// A trailing ORDER BY/LIMIT/OFFSET lexically belongs to the chain's last
// arm (see sqlparse's compound-clause grammar) but semantically applies to
// the whole combined result, so it's stripped off that arm before planning
// it and reapplied afterward over the folded set.
func (c *Compiler) compileCompoundSelect(sel *sqlparse.Select) (*vm.Program, error) {
	arms := planner.FlattenCompound(sel)
	lastIdx := len(arms) - 1
	last := arms[lastIdx].Select
	orderBy, limitExpr, offsetExpr := last.OrderBy, last.Limit, last.Offset
	if len(orderBy) > 0 || limitExpr != nil || offsetExpr != nil {
		trimmed := *last
		trimmed.OrderBy, trimmed.Limit, trimmed.Offset = nil, nil, nil
		arms[lastIdx].Select = &trimmed
	}

	b := newBuilder()
	paramBase, numParams := 0, maxBindParamIndex(sel)
	if numParams > 0 {
		paramBase = b.regs(numParams)
	}

	pl := planner.New(c.Schema)
	var names []string
	runningCur, ncols := -1, 0
	for i, arm := range arms {
		plan, err := pl.Plan(arm.Select)
		if err != nil {
			return nil, err
		}
		g := &genCtx{b: b, schema: c.Schema, scope: plan.Scope, rowBase: map[int]int{}, paramBase: paramBase, numParams: numParams}

		armCur := b.cursor()
		b.emit(vm.Instruction{Op: vm.OpOpenEphemeral, P1: armCur, P3: 1})
		armNcols := 0
		g.rowSink = func(base, n int) error {
			armNcols = n
			rec := g.b.reg()
			g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: base, P2: n, P3: rec})
			g.b.emit(vm.Instruction{Op: vm.OpSorterInsert, P1: armCur, P2: rec})
			return nil
		}
		armNames, _, err := g.compileSelectBody(plan, arm.Select)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			names, runningCur, ncols = armNames, armCur, armNcols
			continue
		}
		if armNcols != ncols {
			return nil, ferrors.Wrap(ferrors.ErrMisuse, "compound SELECT arms must have the same number of result columns", "")
		}
		runningCur, err = foldCompoundArm(b, arm.Op, runningCur, armCur, ncols)
		if err != nil {
			return nil, err
		}
	}

	colOffset := 0
	if len(orderBy) > 0 {
		var err error
		runningCur, colOffset, err = sortCompoundResult(b, runningCur, names, ncols, orderBy)
		if err != nil {
			return nil, err
		}
	}

	g := &genCtx{b: b, schema: c.Schema, rowBase: map[int]int{}, paramBase: paramBase, numParams: numParams}
	var limitNode *planner.PlanNode
	if limitExpr != nil || offsetExpr != nil {
		limitNode = &planner.PlanNode{Kind: planner.NodeLimit, Limit: limitExpr, Offset: offsetExpr}
	}
	lm, err := newLimiter(g, limitNode)
	if err != nil {
		return nil, err
	}

	emptyJump := b.emit(vm.Instruction{Op: vm.OpSorterSort, P1: runningCur, P2: -1})
	loopStart := b.here()
	outBase := b.regs(ncols)
	for i := 0; i < ncols; i++ {
		b.emit(vm.Instruction{Op: vm.OpColumn, P1: runningCur, P2: colOffset + i, P3: outBase + i})
	}
	if err := lm.guard(func() error {
		g.emitResultRow(outBase, ncols)
		return nil
	}); err != nil {
		return nil, err
	}
	b.emit(vm.Instruction{Op: vm.OpSorterNext, P1: runningCur, P2: loopStart})
	b.patch(emptyJump, b.here())

	haltAt := b.here()
	b.emit(vm.Instruction{Op: vm.OpHalt})
	for _, j := range lm.stopJumps {
		b.patch(j, haltAt)
	}
	return g.finish(b, names), nil
}

// foldCompoundArm combines armCur's materialized rows into runningCur per
// op, returning a fresh ephemeral cursor holding the combined set.
// UNION/UNION ALL simply append both sides (deduping for plain UNION);
// INTERSECT/EXCEPT walk runningCur's rows, keeping or dropping each one by
// probing its exact-row key against armCur's index.
func foldCompoundArm(b *builder, op sqlparse.CompoundOp, runningCur, armCur, ncols int) (int, error) {
	newCur := b.cursor()
	b.emit(vm.Instruction{Op: vm.OpOpenEphemeral, P1: newCur, P3: 1})
	dedup := op != sqlparse.CompoundUnionAll

	// appendRows walks src's rows, optionally gating each one on whether it
	// is (or isn't) present in membership's index, and copies the survivors
	// into newCur.
	appendRows := func(src, membership int, keepIfFound bool) {
		empty := b.emit(vm.Instruction{Op: vm.OpSorterSort, P1: src, P2: -1})
		loopStart := b.here()
		rowBase := b.regs(ncols)
		for i := 0; i < ncols; i++ {
			b.emit(vm.Instruction{Op: vm.OpColumn, P1: src, P2: i, P3: rowBase + i})
		}
		rec := b.reg()
		b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: rowBase, P2: ncols, P3: rec})

		hasMembership := membership >= 0
		var membershipSkip int
		if hasMembership {
			if keepIfFound {
				membershipSkip = b.emit(vm.Instruction{Op: vm.OpNotFound, P1: membership, P2: -1, P4: vm.RegKey(rec)})
			} else {
				membershipSkip = b.emit(vm.Instruction{Op: vm.OpFound, P1: membership, P2: -1, P4: vm.RegKey(rec)})
			}
		}

		if dedup {
			dedupSkip := b.emit(vm.Instruction{Op: vm.OpFound, P1: newCur, P2: -1, P4: vm.RegKey(rec)})
			b.emit(vm.Instruction{Op: vm.OpIdxInsert, P1: newCur, P2: rec})
			b.patch(dedupSkip, b.here())
		} else {
			b.emit(vm.Instruction{Op: vm.OpSorterInsert, P1: newCur, P2: rec})
		}

		if hasMembership {
			b.patch(membershipSkip, b.here())
		}
		b.emit(vm.Instruction{Op: vm.OpSorterNext, P1: src, P2: loopStart})
		b.patch(empty, b.here())
	}

	switch op {
	case sqlparse.CompoundUnion, sqlparse.CompoundUnionAll:
		appendRows(runningCur, -1, false)
		appendRows(armCur, -1, false)
	case sqlparse.CompoundIntersect:
		appendRows(runningCur, armCur, true)
	case sqlparse.CompoundExcept:
		appendRows(runningCur, armCur, false)
	default:
		return 0, ferrors.Wrapf(ferrors.ErrInternal, "", "unknown compound operator %v", op)
	}
	return newCur, nil
}

// sortCompoundResult re-keys every row in cur by orderBy's terms, resolved
// against the compound's output column names/positions (a compound
// SELECT's ORDER BY can only reference its own result columns, not the
// individual arms' source expressions), and returns a fresh cursor
// iterating them in that order plus the column offset its rows carry: each
// row is stored as the sort-key columns followed by the original ncols
// columns, so a reader must skip the first colOffset columns to reach the
// real data.
func sortCompoundResult(b *builder, cur int, names []string, ncols int, orderBy []sqlparse.OrderItem) (int, int, error) {
	cols := make([]int, len(orderBy))
	for i, o := range orderBy {
		ci, err := compoundOrderColIndex(o, names)
		if err != nil {
			return 0, 0, err
		}
		cols[i] = ci
	}

	sorterCur := b.cursor()
	b.emit(vm.Instruction{Op: vm.OpOpenEphemeral, P1: sorterCur, P3: 1})
	nOrder := len(orderBy)

	empty := b.emit(vm.Instruction{Op: vm.OpSorterSort, P1: cur, P2: -1})
	loopStart := b.here()
	rowBase := b.regs(ncols)
	for i := 0; i < ncols; i++ {
		b.emit(vm.Instruction{Op: vm.OpColumn, P1: cur, P2: i, P3: rowBase + i})
	}
	rowBuf := b.regs(nOrder + ncols)
	for i, ci := range cols {
		b.emit(vm.Instruction{Op: vm.OpSCopy, P1: rowBase + ci, P2: rowBuf + i})
	}
	for i := 0; i < ncols; i++ {
		b.emit(vm.Instruction{Op: vm.OpSCopy, P1: rowBase + i, P2: rowBuf + nOrder + i})
	}
	rec := b.reg()
	b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: rowBuf, P2: nOrder + ncols, P3: rec})
	b.emit(vm.Instruction{Op: vm.OpSorterInsert, P1: sorterCur, P2: rec})
	b.emit(vm.Instruction{Op: vm.OpSorterNext, P1: cur, P2: loopStart})
	b.patch(empty, b.here())

	return sorterCur, nOrder, nil
}

func compoundOrderColIndex(o sqlparse.OrderItem, names []string) (int, error) {
	if o.Col != "" {
		for i, n := range names {
			if n == o.Col {
				return i, nil
			}
		}
		return 0, ferrors.Wrap(ferrors.ErrMisuse, "no such column in compound SELECT's ORDER BY: "+o.Col, "")
	}
	if lit, ok := o.Expr.(*sqlparse.Literal); ok {
		if n, ok := lit.Val.(int64); ok {
			idx := int(n) - 1
			if idx < 0 || idx >= len(names) {
				return 0, ferrors.Wrap(ferrors.ErrMisuse, "ORDER BY position out of range in compound SELECT", "")
			}
			return idx, nil
		}
	}
	return 0, ferrors.Wrap(ferrors.ErrMisuse, "compound SELECT's ORDER BY must reference an output column by name or position", "")
}
