// Package planner turns a parsed statement into a tree of plan nodes:
// which table-access strategy (table scan vs. index scan, and whether an
// index scan is covering) each FROM/JOIN source uses, how joins combine
// them, and where filtering, aggregation, sorting and limiting happen.
//
// Name resolution happens once, ahead of execution, against
// internal/catalog's schema and produces ordinal (scope, column)
// positions for internal/codegen's register allocator, rather than
// building a per-row map keyed by both "table.column" and bare "column"
// and looking names up at evaluation time.
//
// Index and join selection is a small heuristic: a leading-column match
// count picks among candidate indexes (a source with no match gets a table
// scan), a bare VarRef = VarRef equi-join condition or a USING list gets a
// hash join, and every other join shape a nested loop. No real cost model
// is involved. The EXPLAIN QUERY PLAN
// wording ("SCAN t1" / "USING INDEX i1" / "COVERING INDEX i1" plus
// "col=?" per matched predicate column) follows SQLite's own output
// format for the same statement.
package planner

import (
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// NodeKind distinguishes the shapes of plan node this package builds.
type NodeKind int

const (
	NodeScan NodeKind = iota
	NodeIndexScan
	NodeNestedLoopJoin
	NodeHashJoin
	NodeFilter
	NodeProject
	NodeAggregate
	NodeSort
	NodeDistinct
	NodeLimit
)

// PlanNode is one step of a query plan. Not every field is meaningful for
// every Kind; see the per-Kind builder functions in select.go.
type PlanNode struct {
	Kind     NodeKind
	Children []*PlanNode

	// NodeScan / NodeIndexScan
	Table        string
	Alias        string
	Schema       *catalog.TableSchema
	Index        *catalog.IndexSchema
	Covering     bool
	MatchedCols  []MatchedPredicate
	MatchedExprs []sqlparse.Expr // the predicate each MatchedCols entry came from, same order; codegen re-evaluates these as an inline filter since seeking by a runtime-computed key isn't expressible in the fixed opcode set (see DESIGN.md)
	ResidualWhere sqlparse.Expr // predicate left over after the index match, still needs evaluating

	// NodeNestedLoopJoin / NodeHashJoin
	JoinType sqlparse.JoinType
	On       sqlparse.Expr
	HashLeft bool // true when the left child builds the hash table; combineJoin always picks the left child

	// NodeFilter
	Predicate sqlparse.Expr

	// NodeProject
	Projs []sqlparse.SelectItem

	// NodeAggregate
	GroupBy []sqlparse.Expr
	Having  sqlparse.Expr

	// NodeSort
	OrderBy []sqlparse.OrderItem

	// NodeLimit
	Limit  sqlparse.Expr
	Offset sqlparse.Expr
}

// MatchedPredicate records one equality or range predicate this node's
// index scan used to narrow the scan, in index-column order.
type MatchedPredicate struct {
	Column string
	Op     string // "=", ">", ">=", "<", "<="
}

// Plan is the root of a fully built query plan plus the resolved FROM/JOIN
// scope codegen needs to turn VarRefs into (scope, column) register loads.
type Plan struct {
	Root  *PlanNode
	Scope []ScopeEntry
}
