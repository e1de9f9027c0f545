package planner

import (
	"fmt"
	"strings"
)

// ExplainRow is one row of an EXPLAIN QUERY PLAN result set. Detail is
// column 3 (0-based) of SQLite's own four-column EXPLAIN QUERY PLAN
// shape (id, parent, notused, detail); internal/codegen emits all four,
// this package only computes Detail, the column callers actually read.
type ExplainRow struct {
	ID     int
	Parent int
	Detail string
}

// ExplainQueryPlan flattens a plan into its EXPLAIN QUERY PLAN rows,
// depth-first, one row per table/index access and per join. Filter,
// project, aggregate, sort, distinct and limit nodes produce no row of
// their own; their children hang off the nearest ancestor that did.
func ExplainQueryPlan(root *PlanNode) []ExplainRow {
	var rows []ExplainRow
	var walk func(n *PlanNode, parent int)
	walk = func(n *PlanNode, parent int) {
		if n == nil {
			return
		}
		if d := detailFor(n); d != "" {
			id := len(rows) + 1
			rows = append(rows, ExplainRow{ID: id, Parent: parent, Detail: d})
			parent = id
		}
		for _, c := range n.Children {
			walk(c, parent)
		}
	}
	walk(root, 0)
	return rows
}

// detailFor renders one plan node's EXPLAIN QUERY PLAN detail text.
// Table/index access nodes use SQLite's own wording:
//
//	"SCAN t1"                         — no usable index
//	"USING INDEX i1 (a=?, b=?)"       — index narrows the scan, a table
//	                                    row lookup is still needed
//	"COVERING INDEX i1 (a=?)"         — the index alone satisfies every
//	                                    referenced column
func detailFor(n *PlanNode) string {
	switch n.Kind {
	case NodeScan:
		return "SCAN " + n.Table
	case NodeIndexScan:
		label := "USING INDEX"
		if n.Covering {
			label = "COVERING INDEX"
		}
		if len(n.MatchedCols) == 0 {
			return fmt.Sprintf("%s %s", label, n.Index.Name)
		}
		return fmt.Sprintf("%s %s (%s)", label, n.Index.Name, joinConstraints(n.MatchedCols))
	case NodeNestedLoopJoin:
		return "NESTED LOOP JOIN"
	case NodeHashJoin:
		return "HASH JOIN"
	default:
		return ""
	}
}

func joinConstraints(m []MatchedPredicate) string {
	parts := make([]string, len(m))
	for i, p := range m {
		parts[i] = p.Column + p.Op + "?"
	}
	return strings.Join(parts, ", ")
}
