package planner

import "github.com/kjmoran/ferrodb/internal/sqlparse"

// neededColumns collects, per FROM/JOIN source, the set of column names
// the statement actually references anywhere (projection, WHERE, GROUP
// BY, HAVING, ORDER BY) — exactly the set internal/planner needs to tell
// "USING INDEX" from "COVERING INDEX" apart. starAll is set when an
// unqualified "SELECT *" appears, in which case every source needs all
// of its own columns.
func neededColumns(sel *sqlparse.Select, scope []ScopeEntry) (need map[string]map[string]bool, starAll bool) {
	need = map[string]map[string]bool{}
	ensure := func(alias string) {
		if need[alias] == nil {
			need[alias] = map[string]bool{}
		}
	}
	addRef := func(r *sqlparse.VarRef) {
		if r.Table != "" {
			ensure(r.Table)
			need[r.Table][r.Name] = true
			return
		}
		if si, ok := findSource(r, scope); ok {
			ensure(scope[si].Name)
			need[scope[si].Name][r.Name] = true
		}
	}
	walkExpr := func(e sqlparse.Expr) {
		for _, r := range referencedVarRefs(e) {
			addRef(r)
		}
	}

	for _, p := range sel.Projs {
		if p.Star {
			if p.StarTable == "" {
				starAll = true
				continue
			}
			ensure(p.StarTable)
			for _, e := range scope {
				if e.Name == p.StarTable {
					for _, c := range e.Columns {
						need[p.StarTable][c] = true
					}
				}
			}
			continue
		}
		walkExpr(p.Expr)
	}
	walkExpr(sel.Where)
	for _, g := range sel.GroupBy {
		walkExpr(g)
	}
	walkExpr(sel.Having)
	for _, o := range sel.OrderBy {
		if o.Expr != nil {
			walkExpr(o.Expr)
		} else if o.Col != "" {
			addRef(&sqlparse.VarRef{Name: o.Col})
		}
	}
	return need, starAll
}

// markCovering walks the plan tree setting Covering on every IndexScan
// node whose chosen index covers every column needed from its table.
func markCovering(n *PlanNode, need map[string]map[string]bool, starAll bool) {
	if n == nil {
		return
	}
	if n.Kind == NodeIndexScan {
		cols := need[n.Alias]
		if starAll {
			cols = map[string]bool{}
			for _, c := range n.Schema.Columns {
				cols[c.Name] = true
			}
		}
		names := make([]string, 0, len(cols))
		for c := range cols {
			names = append(names, c)
		}
		n.Covering = n.Index.Covers(names)
	}
	for _, c := range n.Children {
		markCovering(c, need, starAll)
	}
}
