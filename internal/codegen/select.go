package codegen

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// compileSelect walks planner.Plan's fixed node shape (Limit? > Distinct? >
// Sort? > Project > Aggregate? > Filter? > join tree of Scan/IndexScan)
// rather than a fully generic plan-tree compiler: the planner always builds
// exactly this nesting (see select.go's Plan), so peeling it off layer by
// layer is simpler than a general visitor and just as complete for what the
// planner can actually produce.
func (c *Compiler) compileSelect(sel *sqlparse.Select) (*vm.Program, error) {
	if sel.Compound != nil {
		return c.compileCompoundSelect(sel)
	}

	pl := planner.New(c.Schema)
	plan, err := pl.Plan(sel)
	if err != nil {
		return nil, err
	}

	b := newBuilder()
	g := newGenCtx(b, c.Schema, plan.Scope, sel)

	names, stopJumps, err := g.compileSelectBody(plan, sel)
	if err != nil {
		return nil, err
	}

	haltAt := b.here()
	b.emit(vm.Instruction{Op: vm.OpHalt})
	for _, j := range stopJumps {
		b.patch(j, haltAt)
	}
	return g.finish(b, names), nil
}

// compileSelectBody walks plan's fixed node shape (Limit? > Distinct? >
// Sort? > Project > Aggregate? > Filter? > join tree) and emits the row
// production code for sel, routing each produced row through g.emitRow. It
// returns the result column names and any LIMIT stop-jumps still needing a
// target patched in: a top-level SELECT patches them to its own Halt,
// compileInsertSelect patches them to just before its OpCommit instead, so
// an early stop there still commits the rows already inserted.
func (g *genCtx) compileSelectBody(plan *planner.Plan, sel *sqlparse.Select) ([]string, []int, error) {
	if plan.Root == nil {
		base, names, err := g.compileProjList(sel.Projs)
		if err != nil {
			return nil, nil, err
		}
		if err := g.emitRow(base, len(sel.Projs)); err != nil {
			return nil, nil, err
		}
		return names, nil, nil
	}

	root := plan.Root
	var limitNode, sortNode, aggNode, filterNode *planner.PlanNode
	distinct := false
	if root.Kind == planner.NodeLimit {
		limitNode = root
		root = root.Children[0]
	}
	if root.Kind == planner.NodeDistinct {
		distinct = true
		root = root.Children[0]
	}
	if root.Kind == planner.NodeSort {
		sortNode = root
		root = root.Children[0]
	}
	if root.Kind != planner.NodeProject {
		return nil, nil, ferrors.Wrap(ferrors.ErrInternal, "plan root is not a projection", "")
	}
	projNode := root
	root = root.Children[0]
	if root.Kind == planner.NodeAggregate {
		aggNode = root
		root = root.Children[0]
	}
	if root.Kind == planner.NodeFilter {
		filterNode = root
		root = root.Children[0]
	}
	joinTree := root

	lm, err := newLimiter(g, limitNode)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	if aggNode != nil && len(aggNode.GroupBy) > 0 {
		names, err = g.compileGroupedAggregate(joinTree, filterNode, aggNode, projNode, lm)
	} else if aggNode != nil {
		names, err = g.compilePlainAggregate(joinTree, filterNode, aggNode, projNode)
	} else {
		names, err = g.compileStreaming(joinTree, filterNode, projNode, sortNode, distinct, lm)
	}
	if err != nil {
		return nil, nil, err
	}
	return names, lm.stopJumps, nil
}

func (g *genCtx) finish(b *builder, names []string) *vm.Program {
	p := b.program()
	p.ParamBase, p.NumParams = g.paramBase, g.numParams
	p.ResultCols = names
	return p
}

func (g *genCtx) scopeIndexForAlias(alias string) int {
	for i, e := range g.scope {
		if e.Name == alias {
			return i
		}
	}
	return -1
}

func (g *genCtx) emitResultRow(base, n int) {
	g.b.emit(vm.Instruction{Op: vm.OpResultRow, P1: base, P2: n})
}

// emitRow is what every row-producing path (streaming, plain aggregate,
// grouped aggregate) calls once a row is ready to leave the query: g.rowSink
// when one is set, OpResultRow otherwise.
func (g *genCtx) emitRow(base, n int) error {
	if g.rowSink != nil {
		return g.rowSink(base, n)
	}
	g.emitResultRow(base, n)
	return nil
}

// compileProjList evaluates every projection into a contiguous register
// block (copying each computed value over, since compileExpr's own
// temporaries aren't guaranteed contiguous), expanding "*"/"t.*" against
// the resolved scope.
func (g *genCtx) compileProjList(projs []sqlparse.SelectItem) (int, []string, error) {
	type item struct {
		expr sqlparse.Expr
		name string
	}
	var items []item
	for _, p := range projs {
		if p.Star {
			if p.StarTable != "" {
				si := g.scopeIndexForAlias(p.StarTable)
				if si < 0 {
					return 0, nil, ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+p.StarTable, "")
				}
				for ci, col := range g.scope[si].Columns {
					items = append(items, item{&sqlparse.VarRef{Table: p.StarTable, Name: col}, col})
					_ = ci
				}
				continue
			}
			for _, e := range g.scope {
				for _, col := range e.Columns {
					items = append(items, item{&sqlparse.VarRef{Table: e.Name, Name: col}, col})
				}
			}
			continue
		}
		items = append(items, item{p.Expr, projResultName(p)})
	}

	base := g.b.regs(len(items))
	names := make([]string, len(items))
	for i, it := range items {
		r, err := g.compileExpr(it.expr)
		if err != nil {
			return 0, nil, err
		}
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: base + i})
		names[i] = it.name
	}
	return base, names, nil
}

// orderExpr returns an ORDER BY term's value expression, building a bare
// VarRef when the parser captured it as a plain column name instead.
func orderExpr(o sqlparse.OrderItem) sqlparse.Expr {
	if o.Expr != nil {
		return o.Expr
	}
	return &sqlparse.VarRef{Name: o.Col}
}

func projResultName(p sqlparse.SelectItem) string {
	if p.Alias != "" {
		return p.Alias
	}
	if vr, ok := p.Expr.(*sqlparse.VarRef); ok {
		return vr.Name
	}
	return ""
}

// emitGuard skips cont when cond evaluates falsy, falling through otherwise.
// A nil cond always falls through.
func (g *genCtx) emitGuard(cond sqlparse.Expr, cont func() error) error {
	if cond == nil {
		return cont()
	}
	reg, err := g.compileExpr(cond)
	if err != nil {
		return err
	}
	skip := g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: reg, P2: -1})
	if err := cont(); err != nil {
		return err
	}
	end := g.b.here()
	g.b.patch(skip, end)
	return nil
}

func (g *genCtx) emitGuards(preds []sqlparse.Expr, cont func() error) error {
	if len(preds) == 0 {
		return cont()
	}
	p := preds[0]
	if p == nil {
		return g.emitGuards(preds[1:], cont)
	}
	return g.emitGuard(p, func() error { return g.emitGuards(preds[1:], cont) })
}

// compileSourceTree walks a join/scan/filter subtree, invoking cont once
// per qualifying row with every scope entry's rowBase populated.
func (g *genCtx) compileSourceTree(node *planner.PlanNode, cont func() error) error {
	switch node.Kind {
	case planner.NodeScan, planner.NodeIndexScan:
		return g.compileScanLeaf(node, cont)
	case planner.NodeNestedLoopJoin, planner.NodeHashJoin:
		// NodeHashJoin compiles identically to a nested loop: building a
		// real hash bucket structure would need an ephemeral index keyed
		// on the join column with multi-row buckets, which the fixed
		// cursor/seek opcode set has no clean way to express; nested-loop
		// is correct, just without the join's intended algorithmic edge.
		left, right := node.Children[0], node.Children[1]
		return g.compileSourceTree(left, func() error {
			return g.compileSourceTree(right, func() error {
				return g.emitGuard(node.On, cont)
			})
		})
	case planner.NodeFilter:
		return g.compileSourceTree(node.Children[0], func() error {
			return g.emitGuard(node.Predicate, cont)
		})
	default:
		return ferrors.Wrapf(ferrors.ErrInternal, "", "unexpected plan node %v in source position", node.Kind)
	}
}

// compileScanLeaf opens a read cursor over the table and loops every row,
// applying MatchedExprs + ResidualWhere inline: seeking by a runtime-built
// index key isn't attempted (see DESIGN.md), so an index scan degrades to
// a full scan re-checking the predicates the index would otherwise have
// narrowed on.
func (g *genCtx) compileScanLeaf(node *planner.PlanNode, cont func() error) error {
	si := g.scopeIndexForAlias(node.Alias)
	if si < 0 {
		return ferrors.Wrap(ferrors.ErrInternal, "scan node alias not found in scope: "+node.Alias, "")
	}
	cur := g.b.cursor()
	g.b.emit(vm.Instruction{Op: vm.OpOpenRead, P1: cur, P2: int(node.Schema.RootPage), P3: 0})
	base := g.b.regs(len(node.Schema.Columns))
	g.rowBase[si] = base

	rewindSkip := g.b.emit(vm.Instruction{Op: vm.OpRewind, P1: cur, P2: -1})
	loopStart := g.b.here()
	for i := range node.Schema.Columns {
		g.b.emit(vm.Instruction{Op: vm.OpColumn, P1: cur, P2: i, P3: base + i})
	}

	preds := append(append([]sqlparse.Expr{}, node.MatchedExprs...), node.ResidualWhere)
	if err := g.emitGuards(preds, cont); err != nil {
		return err
	}

	g.b.emit(vm.Instruction{Op: vm.OpNext, P1: cur, P2: loopStart})
	end := g.b.here()
	g.b.patch(rewindSkip, end)
	return nil
}

// limiter implements LIMIT/OFFSET as register counters checked at the point
// a row is about to be emitted. A LIMIT stop jumps straight past every open
// loop to the program's Halt, patched in once the whole statement is built.
type limiter struct {
	g         *genCtx
	active    bool
	hasOffset bool
	offsetReg int
	hasLimit  bool
	limitReg  int
	countReg  int
	stopJumps []int
}

func newLimiter(g *genCtx, node *planner.PlanNode) (*limiter, error) {
	lm := &limiter{g: g}
	if node == nil {
		return lm, nil
	}
	lm.active = true
	lm.countReg = g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P2: lm.countReg})
	if node.Offset != nil {
		r, err := g.compileExpr(node.Offset)
		if err != nil {
			return nil, err
		}
		lm.hasOffset, lm.offsetReg = true, r
	}
	if node.Limit != nil {
		r, err := g.compileExpr(node.Limit)
		if err != nil {
			return nil, err
		}
		lm.hasLimit, lm.limitReg = true, r
	}
	return lm, nil
}

// guard wraps cont so it only runs for rows past the OFFSET, stops the
// whole statement once LIMIT rows have been produced, and otherwise counts
// the row as emitted.
func (lm *limiter) guard(cont func() error) error {
	if !lm.active {
		return cont()
	}
	g := lm.g
	var skipTargets []int
	if lm.hasOffset {
		skip := g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: lm.offsetReg, P2: -1})
		g.b.emit(vm.Instruction{Op: vm.OpAddImm, P1: lm.offsetReg, P2: -1})
		skipRow := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
		g.b.patch(skip, g.b.here())
		skipTargets = append(skipTargets, skipRow)
	}
	if lm.hasLimit {
		stop := g.b.emit(vm.Instruction{Op: vm.OpGe, P1: lm.countReg, P3: lm.limitReg, P2: -1})
		lm.stopJumps = append(lm.stopJumps, stop)
	}
	if err := cont(); err != nil {
		return err
	}
	if lm.hasLimit {
		g.b.emit(vm.Instruction{Op: vm.OpAddImm, P1: lm.countReg, P2: 1})
	}
	end := g.b.here()
	for _, j := range skipTargets {
		g.b.patch(j, end)
	}
	return nil
}

// compileStreaming handles the no-aggregate case: project every qualifying
// row, optionally de-duplicate, optionally route through an ephemeral
// sorter for ORDER BY, then apply LIMIT/OFFSET at the final emission point.
func (g *genCtx) compileStreaming(joinTree, filterNode *planner.PlanNode, projNode *planner.PlanNode, sortNode *planner.PlanNode, distinct bool, lm *limiter) ([]string, error) {
	source := joinTree
	if filterNode != nil {
		source = &planner.PlanNode{Kind: planner.NodeFilter, Predicate: filterNode.Predicate, Children: []*planner.PlanNode{joinTree}}
	}

	var names []string
	var dedupCur int
	if distinct {
		dedupCur = g.b.cursor()
		g.b.emit(vm.Instruction{Op: vm.OpOpenEphemeral, P1: dedupCur, P3: 1})
	}

	if sortNode != nil {
		sorterCur := g.b.cursor()
		g.b.emit(vm.Instruction{Op: vm.OpOpenEphemeral, P1: sorterCur, P3: 1})
		nOrder := len(sortNode.OrderBy)

		err := g.compileSourceTree(source, func() error {
			base, ns, err := g.compileProjList(projNode.Projs)
			if err != nil {
				return err
			}
			names = ns
			keyBase := g.b.regs(nOrder)
			for i, o := range sortNode.OrderBy {
				r, err := g.compileExpr(orderExpr(o))
				if err != nil {
					return err
				}
				g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: keyBase + i})
			}
			rowBuf := g.b.regs(nOrder + len(projNode.Projs))
			for i := 0; i < nOrder; i++ {
				g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: keyBase + i, P2: rowBuf + i})
			}
			for i := 0; i < len(projNode.Projs); i++ {
				g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: base + i, P2: rowBuf + nOrder + i})
			}
			rec := g.b.reg()
			g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: rowBuf, P2: nOrder + len(projNode.Projs), P3: rec})
			g.b.emit(vm.Instruction{Op: vm.OpSorterInsert, P1: sorterCur, P2: rec})
			return nil
		})
		if err != nil {
			return nil, err
		}

		sortEmpty := g.b.emit(vm.Instruction{Op: vm.OpSorterSort, P1: sorterCur, P2: -1})
		sortLoop := g.b.here()
		outBase := g.b.regs(len(projNode.Projs))
		for i := 0; i < len(projNode.Projs); i++ {
			g.b.emit(vm.Instruction{Op: vm.OpColumn, P1: sorterCur, P2: nOrder + i, P3: outBase + i})
		}
		if err := g.emitDedupAndEmit(distinct, dedupCur, outBase, len(projNode.Projs), lm); err != nil {
			return nil, err
		}
		g.b.emit(vm.Instruction{Op: vm.OpSorterNext, P1: sorterCur, P2: sortLoop})
		g.b.patch(sortEmpty, g.b.here())
		return names, nil
	}

	err := g.compileSourceTree(source, func() error {
		base, ns, err := g.compileProjList(projNode.Projs)
		if err != nil {
			return err
		}
		names = ns
		return g.emitDedupAndEmit(distinct, dedupCur, base, len(projNode.Projs), lm)
	})
	return names, err
}

func (g *genCtx) emitDedupAndEmit(distinct bool, dedupCur, base, n int, lm *limiter) error {
	emit := func() error {
		return lm.guard(func() error {
			return g.emitRow(base, n)
		})
	}
	if !distinct {
		return emit()
	}
	rec := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: base, P2: n, P3: rec})
	skip := g.b.emit(vm.Instruction{Op: vm.OpFound, P1: dedupCur, P2: -1, P4: vm.RegKey(rec)})
	g.b.emit(vm.Instruction{Op: vm.OpIdxInsert, P1: dedupCur, P2: rec})
	if err := emit(); err != nil {
		return err
	}
	end := g.b.here()
	g.b.patch(skip, end)
	return nil
}

// aggSpec is one aggregate function appearing in the projection list.
type aggSpec struct {
	fn       string
	argExpr  sqlparse.Expr // nil for COUNT(*)
	projIdx  int
}

func collectAggSpecs(projs []sqlparse.SelectItem) []aggSpec {
	var specs []aggSpec
	for i, p := range projs {
		fc, ok := p.Expr.(*sqlparse.FuncCall)
		if !ok {
			continue
		}
		switch fc.Name {
		case "COUNT", "SUM", "AVG", "MIN", "MAX":
			var arg sqlparse.Expr
			if !fc.Star && len(fc.Args) > 0 {
				arg = fc.Args[0]
			}
			specs = append(specs, aggSpec{fn: fc.Name, argExpr: arg, projIdx: i})
		}
	}
	return specs
}

// compilePlainAggregate handles SELECT with aggregate functions and no
// GROUP BY: exactly one output row, so ORDER BY/DISTINCT/LIMIT=0 aside,
// every row-shaping clause above it is a no-op and not separately compiled.
func (g *genCtx) compilePlainAggregate(joinTree, filterNode, aggNode, projNode *planner.PlanNode) ([]string, error) {
	source := joinTree
	if filterNode != nil {
		source = &planner.PlanNode{Kind: planner.NodeFilter, Predicate: filterNode.Predicate, Children: []*planner.PlanNode{joinTree}}
	}
	specs := collectAggSpecs(projNode.Projs)
	slots := make([]int, len(specs))
	for i := range specs {
		slots[i] = g.b.aggSlot()
	}

	err := g.compileSourceTree(source, func() error {
		for i, spec := range specs {
			argReg := -1
			if spec.argExpr != nil {
				r, err := g.compileExpr(spec.argExpr)
				if err != nil {
					return err
				}
				argReg = r
			}
			g.b.emit(vm.Instruction{Op: vm.OpAggStep, P1: slots[i], P2: argReg, P4: spec.fn})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outBase := g.b.regs(len(projNode.Projs))
	names := make([]string, len(projNode.Projs))
	specByProj := map[int]int{}
	for i, s := range specs {
		specByProj[s.projIdx] = i
	}
	for i, p := range projNode.Projs {
		names[i] = projResultName(p)
		if si, ok := specByProj[i]; ok {
			g.b.emit(vm.Instruction{Op: vm.OpAggFinal, P1: slots[si], P2: outBase + i, P4: specs[si].fn})
			continue
		}
		r, err := g.compileExpr(p.Expr)
		if err != nil {
			return nil, err
		}
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: outBase + i})
	}
	if err := g.emitRow(outBase, len(projNode.Projs)); err != nil {
		return nil, err
	}
	return names, nil
}

// compileGroupedAggregate handles GROUP BY via a sort-then-scan pass: rows
// are routed into an ephemeral sorter keyed by the GROUP BY columns, then
// re-read in sorted order, accumulating into per-group OpAggStep slots and
// emitting one ResultRow each time the group key changes.
//
// Every non-aggregate projection must itself be one of the GROUP BY
// expressions (checked via groupByIndex); this matches standard SQL GROUP
// BY validity rules and sidesteps tracking arbitrary pass-through columns
// through the sorter. ORDER BY and DISTINCT on top of a grouped query are
// not specially re-applied: groups already come out in GROUP BY key order
// and are already one row per distinct key, so both would be no-ops for
// the common case of ordering/distinct-ing by the grouping columns
// themselves; a query reordering by something else is not supported here.
func (g *genCtx) compileGroupedAggregate(joinTree, filterNode, aggNode, projNode *planner.PlanNode, lm *limiter) ([]string, error) {
	source := joinTree
	if filterNode != nil {
		source = &planner.PlanNode{Kind: planner.NodeFilter, Predicate: filterNode.Predicate, Children: []*planner.PlanNode{joinTree}}
	}
	specs := collectAggSpecs(projNode.Projs)
	slots := make([]int, len(specs))
	for i := range specs {
		slots[i] = g.b.aggSlot()
	}
	nGroup := len(aggNode.GroupBy)

	sorterCur := g.b.cursor()
	g.b.emit(vm.Instruction{Op: vm.OpOpenEphemeral, P1: sorterCur, P3: 1})

	err := g.compileSourceTree(source, func() error {
		rowBuf := g.b.regs(nGroup + len(specs))
		for i, ge := range aggNode.GroupBy {
			r, err := g.compileExpr(ge)
			if err != nil {
				return err
			}
			g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: rowBuf + i})
		}
		for i, spec := range specs {
			if spec.argExpr == nil {
				g.b.emit(vm.Instruction{Op: vm.OpNull, P2: rowBuf + nGroup + i})
				continue
			}
			r, err := g.compileExpr(spec.argExpr)
			if err != nil {
				return err
			}
			g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: rowBuf + nGroup + i})
		}
		rec := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: rowBuf, P2: nGroup + len(specs), P3: rec})
		g.b.emit(vm.Instruction{Op: vm.OpSorterInsert, P1: sorterCur, P2: rec})
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, len(projNode.Projs))
	specByProj := map[int]int{}
	for i, s := range specs {
		specByProj[s.projIdx] = i
	}
	groupByIndex := func(e sqlparse.Expr) int {
		vr, ok := e.(*sqlparse.VarRef)
		if !ok {
			return -1
		}
		for i, ge := range aggNode.GroupBy {
			if gv, ok := ge.(*sqlparse.VarRef); ok && gv.Table == vr.Table && gv.Name == vr.Name {
				return i
			}
		}
		return -1
	}
	for i, p := range projNode.Projs {
		names[i] = projResultName(p)
		if _, ok := specByProj[i]; ok {
			continue
		}
		if groupByIndex(p.Expr) < 0 {
			return nil, ferrors.Wrap(ferrors.ErrMisuse, "GROUP BY projection column must be one of the grouping expressions or an aggregate", "")
		}
	}

	prevKey := g.b.regs(nGroup)
	started := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P2: started})

	emitGroupRow := func() error {
		outBase := g.b.regs(len(projNode.Projs))
		for i, p := range projNode.Projs {
			if si, ok := specByProj[i]; ok {
				g.b.emit(vm.Instruction{Op: vm.OpAggFinal, P1: slots[si], P2: outBase + i, P4: specs[si].fn})
				continue
			}
			gi := groupByIndex(p.Expr)
			g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: prevKey + gi, P2: outBase + i})
		}
		return g.emitGuard(aggNode.Having, func() error {
			return lm.guard(func() error {
				return g.emitRow(outBase, len(projNode.Projs))
			})
		})
	}

	sortEmpty := g.b.emit(vm.Instruction{Op: vm.OpSorterSort, P1: sorterCur, P2: -1})
	loopStart := g.b.here()
	curKey := g.b.regs(nGroup)
	for i := 0; i < nGroup; i++ {
		g.b.emit(vm.Instruction{Op: vm.OpColumn, P1: sorterCur, P2: i, P3: curKey + i})
	}

	notFirst := g.b.emit(vm.Instruction{Op: vm.OpIf, P1: started, P2: -1})
	newGroupGoto := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
	sameCheck := g.b.here()
	sameReg := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: 1, P2: sameReg})
	for i := 0; i < nGroup; i++ {
		eq := g.emitCompareBool(vm.OpEq, curKey+i, prevKey+i)
		g.b.emit(vm.Instruction{Op: vm.OpMultiply, P1: sameReg, P2: eq, P3: sameReg})
	}
	sameSkip := g.b.emit(vm.Instruction{Op: vm.OpIf, P1: sameReg, P2: -1})
	g.b.patch(notFirst, sameCheck)

	newGroupStart := g.b.here()
	g.b.patch(newGroupGoto, newGroupStart)
	notFirstBoundary := g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: started, P2: -1})
	if err := emitGroupRow(); err != nil {
		return nil, err
	}
	afterFinalize := g.b.here()
	g.b.patch(notFirstBoundary, afterFinalize)
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: 1, P2: started})
	for i := 0; i < nGroup; i++ {
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: curKey + i, P2: prevKey + i})
	}
	for _, slot := range slots {
		g.b.emit(vm.Instruction{Op: vm.OpAggReset, P1: slot})
	}
	afterNewGroup := g.b.here()
	g.b.patch(sameSkip, afterNewGroup)

	// The aggregate argument was already evaluated once per source row and
	// captured into the sorter record; re-read it from there rather than
	// recompiling spec.argExpr, whose VarRefs resolve against scan-leaf
	// registers that no longer hold this row's values in the sorted pass.
	for i, spec := range specs {
		argReg := -1
		if spec.argExpr != nil {
			col := g.b.reg()
			g.b.emit(vm.Instruction{Op: vm.OpColumn, P1: sorterCur, P2: nGroup + i, P3: col})
			argReg = col
		}
		g.b.emit(vm.Instruction{Op: vm.OpAggStep, P1: slots[i], P2: argReg, P4: spec.fn})
	}

	g.b.emit(vm.Instruction{Op: vm.OpSorterNext, P1: sorterCur, P2: loopStart})
	g.b.patch(sortEmpty, g.b.here())

	notFirst = g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: started, P2: -1})
	if err := emitGroupRow(); err != nil {
		return nil, err
	}
	g.b.patch(notFirst, g.b.here())

	return names, nil
}
