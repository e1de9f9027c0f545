package planner

import (
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// Planner builds query plans against a fixed schema snapshot.
type Planner struct {
	Schema catalog.Resolver
}

// New returns a Planner resolving names and indexes against schema.
func New(schema catalog.Resolver) *Planner { return &Planner{Schema: schema} }

// CompoundArm is one SELECT in a compound chain (UNION/UNION ALL/INTERSECT/
// EXCEPT), paired with the operator joining it to the arm before it; Op is
// unused on the chain's first arm.
type CompoundArm struct {
	Op     sqlparse.CompoundOp
	Select *sqlparse.Select
}

// FlattenCompound walks sel's Compound chain into its individual arms,
// left to right. A plain SELECT with no Compound clause flattens to its
// own single arm. Plan itself only ever plans one arm at a time — it does
// not walk Compound, since each arm has its own independent FROM/JOIN
// scope and planning them together would mean threading one scope through
// clauses that don't share it. Compiling every arm and combining their
// results is codegen's job (see compileCompoundSelect); FlattenCompound is
// the shared place that does the walking so codegen doesn't have to.
func FlattenCompound(sel *sqlparse.Select) []CompoundArm {
	arms := []CompoundArm{{Select: sel}}
	for sel.Compound != nil {
		next := sel.Compound
		arms = append(arms, CompoundArm{Op: next.Op, Select: next.Next})
		sel = next.Next
	}
	return arms
}

// Plan builds a full plan for one SELECT arm: scope resolution, per-source
// table/index scan choice, join strategy, and the filter/aggregate/sort/
// limit stages layered on top, in that order (the logical SELECT
// pipeline). A compound SELECT's arms are planned independently, one Plan
// per arm via FlattenCompound; Plan does not consult sel.Compound itself.
func (p *Planner) Plan(sel *sqlparse.Select) (*Plan, error) {
	scope, err := buildScope(sel, p.Schema)
	if err != nil {
		return nil, err
	}
	if sel.From == nil {
		return &Plan{Root: nil, Scope: scope}, nil
	}
	if err := resolveAllNames(sel, scope); err != nil {
		return nil, err
	}

	conjuncts := flattenAnd(sel.Where)
	owned, leftover := assignPredicates(conjuncts, scope)

	root, err := p.planSource(0, sel.From, owned[0])
	if err != nil {
		return nil, err
	}
	for i := range sel.Joins {
		j := &sel.Joins[i]
		right, err := p.planSource(i+1, &j.Right, owned[i+1])
		if err != nil {
			return nil, err
		}
		root = combineJoin(root, right, j)
	}

	need, starAll := neededColumns(sel, scope)
	markCovering(root, need, starAll)

	if residual := andAll(leftover); residual != nil {
		root = &PlanNode{Kind: NodeFilter, Predicate: residual, Children: []*PlanNode{root}}
	}

	if len(sel.GroupBy) > 0 || hasAggregate(sel.Projs) {
		root = &PlanNode{Kind: NodeAggregate, GroupBy: sel.GroupBy, Having: sel.Having, Children: []*PlanNode{root}}
	}

	root = &PlanNode{Kind: NodeProject, Projs: sel.Projs, Children: []*PlanNode{root}}

	if len(sel.OrderBy) > 0 {
		root = &PlanNode{Kind: NodeSort, OrderBy: sel.OrderBy, Children: []*PlanNode{root}}
	}
	if sel.Distinct {
		root = &PlanNode{Kind: NodeDistinct, Children: []*PlanNode{root}}
	}
	if sel.Limit != nil || sel.Offset != nil {
		root = &PlanNode{Kind: NodeLimit, Limit: sel.Limit, Offset: sel.Offset, Children: []*PlanNode{root}}
	}

	return &Plan{Root: root, Scope: scope}, nil
}

func hasAggregate(projs []sqlparse.SelectItem) bool {
	for _, p := range projs {
		if fc, ok := p.Expr.(*sqlparse.FuncCall); ok && isAggregateName(fc.Name) {
			return true
		}
	}
	return false
}

func isAggregateName(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

// assignPredicates partitions WHERE conjuncts across FROM/JOIN sources: a
// conjunct referencing columns from exactly one source is pushed to that
// source's index; everything else (cross-source joins conditions living
// in WHERE, constant predicates, subquery predicates) is left for a
// Filter layered above the joins.
func assignPredicates(conjuncts []sqlparse.Expr, scope []ScopeEntry) (owned [][]sqlparse.Expr, leftover []sqlparse.Expr) {
	owned = make([][]sqlparse.Expr, len(scope))
	for _, c := range conjuncts {
		refs := referencedVarRefs(c)
		if len(refs) == 0 {
			leftover = append(leftover, c)
			continue
		}
		idx, ok := soleSource(refs, scope)
		if !ok {
			leftover = append(leftover, c)
			continue
		}
		owned[idx] = append(owned[idx], c)
	}
	return owned, leftover
}

func soleSource(refs []*sqlparse.VarRef, scope []ScopeEntry) (int, bool) {
	found := -1
	for _, r := range refs {
		si, ok := findSource(r, scope)
		if !ok {
			return 0, false
		}
		if found == -1 {
			found = si
		} else if found != si {
			return 0, false
		}
	}
	return found, found != -1
}

func findSource(r *sqlparse.VarRef, scope []ScopeEntry) (int, bool) {
	if r.Table != "" {
		for si, e := range scope {
			if e.Name == r.Table {
				return si, true
			}
		}
		return 0, false
	}
	found := -1
	for si, e := range scope {
		for _, c := range e.Columns {
			if c == r.Name {
				if found != -1 {
					return 0, false
				}
				found = si
			}
		}
	}
	return found, found != -1
}

// planSource builds a Scan or IndexScan node for one FROM/JOIN source,
// choosing the best available index for the predicates already assigned
// to it.
func (p *Planner) planSource(scopeIdx int, item *sqlparse.FromItem, predicates []sqlparse.Expr) (*PlanNode, error) {
	alias := item.Alias
	if item.Subquery != nil {
		if alias == "" {
			return nil, ferrors.Wrap(ferrors.ErrMisuse, "subquery in FROM requires an alias", "")
		}
		if item.Subquery.Compound != nil {
			return nil, ferrors.Wrap(ferrors.ErrMisuse, "a compound SELECT (UNION/INTERSECT/EXCEPT) is not supported as a FROM subquery", "")
		}
		sub, err := p.Plan(item.Subquery)
		if err != nil {
			return nil, err
		}
		node := sub.Root
		if node == nil {
			node = &PlanNode{Kind: NodeProject}
		}
		node.Alias = alias
		if residual := andAll(predicates); residual != nil {
			node = &PlanNode{Kind: NodeFilter, Predicate: residual, Children: []*PlanNode{node}}
		}
		return node, nil
	}

	ts, ok := p.Schema.Table(item.Table)
	if !ok {
		return nil, ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+item.Table, "")
	}
	if alias == "" {
		alias = item.Table
	}

	idx, matched, matchedExprs, residual := chooseIndex(item.Table, predicates, p.Schema)
	node := &PlanNode{Table: item.Table, Alias: alias, Schema: ts}
	if idx == nil {
		node.Kind = NodeScan
		node.ResidualWhere = andAll(predicates)
		return node, nil
	}
	node.Kind = NodeIndexScan
	node.Index = idx
	node.MatchedCols = matched
	node.MatchedExprs = matchedExprs
	node.ResidualWhere = residual
	return node, nil
}

// chooseIndex picks the index over table whose leading columns match the
// most of predicates (equality columns, then at most one trailing range
// column), the same leading-column-prefix rule SQLite itself uses. No
// index beats a plain scan when nothing matches.
func chooseIndex(table string, predicates []sqlparse.Expr, schema catalog.Resolver) (*catalog.IndexSchema, []MatchedPredicate, []sqlparse.Expr, sqlparse.Expr) {
	byCol := map[string]struct {
		expr sqlparse.Expr
		op   string
	}{}
	for _, pr := range predicates {
		if col, op, ok := singleColumnComparison(pr); ok {
			if _, exists := byCol[col]; !exists {
				byCol[col] = struct {
					expr sqlparse.Expr
					op   string
				}{pr, op}
			}
		}
	}

	var best *catalog.IndexSchema
	var bestMatched []MatchedPredicate
	var bestMatchedExprs []sqlparse.Expr
	for _, ix := range schema.IndexesOn(table) {
		var matched []MatchedPredicate
		var matchedExprs []sqlparse.Expr
		for _, c := range ix.Columns {
			hit, ok := byCol[c.Name]
			if !ok {
				break
			}
			matched = append(matched, MatchedPredicate{Column: c.Name, Op: hit.op})
			matchedExprs = append(matchedExprs, hit.expr)
			if hit.op != "=" {
				break // a range predicate can only terminate the matched prefix
			}
		}
		if len(matched) > len(bestMatched) {
			best, bestMatched, bestMatchedExprs = ix, matched, matchedExprs
		}
	}
	if best == nil {
		return nil, nil, nil, andAll(predicates)
	}

	usedCols := map[string]bool{}
	for _, m := range bestMatched {
		usedCols[m.Column] = true
	}
	var residual []sqlparse.Expr
	for _, pr := range predicates {
		if col, _, ok := singleColumnComparison(pr); ok && usedCols[col] {
			continue
		}
		residual = append(residual, pr)
	}
	return best, bestMatched, bestMatchedExprs, andAll(residual)
}

// combineJoin picks hash-join for a bare "a.x = b.y" equi-join condition,
// building an in-memory hash table on one side, and falls back to
// nested-loop for every other join shape.
func combineJoin(left, right *PlanNode, j *sqlparse.JoinClause) *PlanNode {
	node := &PlanNode{JoinType: j.Type, On: j.On, Children: []*PlanNode{left, right}}
	if isEquiJoin(j.On) || len(j.Using) > 0 {
		node.Kind = NodeHashJoin
		node.HashLeft = true
	} else {
		node.Kind = NodeNestedLoopJoin
	}
	return node
}

// isEquiJoin reports whether cond is a bare "VarRef = VarRef" comparison,
// the one ON-condition shape combineJoin turns into a hash join.
func isEquiJoin(cond sqlparse.Expr) bool {
	b, ok := cond.(*sqlparse.Binary)
	if !ok || b.Op != "=" {
		return false
	}
	_, lok := b.Left.(*sqlparse.VarRef)
	_, rok := b.Right.(*sqlparse.VarRef)
	return lok && rok
}
