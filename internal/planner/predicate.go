package planner

import "github.com/kjmoran/ferrodb/internal/sqlparse"

// flattenAnd walks a WHERE tree's top-level AND chain into its leaf
// conjuncts. It does not push through OR; there's no attempt at
// disjunctive normal form.
func flattenAnd(e sqlparse.Expr) []sqlparse.Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*sqlparse.Binary); ok && b.Op == "AND" {
		return append(flattenAnd(b.Left), flattenAnd(b.Right)...)
	}
	return []sqlparse.Expr{e}
}

// andAll rebuilds a single expression from conjuncts, the inverse of
// flattenAnd, used to assemble the residual filter left over once some
// conjuncts have been pushed into an index scan.
func andAll(exprs []sqlparse.Expr) sqlparse.Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &sqlparse.Binary{Op: "AND", Left: out, Right: e}
	}
	return out
}

// singleColumnComparison reports whether e is "col <op> const" or
// "const <op> col" for a comparison operator, returning the column name
// and the operator oriented as "col <op> const".
func singleColumnComparison(e sqlparse.Expr) (col string, op string, ok bool) {
	b, isBin := e.(*sqlparse.Binary)
	if !isBin {
		return "", "", false
	}
	switch b.Op {
	case "=", ">", ">=", "<", "<=":
	default:
		return "", "", false
	}
	if vr, isVr := b.Left.(*sqlparse.VarRef); isVr && isConstant(b.Right) {
		return vr.Name, b.Op, true
	}
	if vr, isVr := b.Right.(*sqlparse.VarRef); isVr && isConstant(b.Left) {
		return vr.Name, flipOp(b.Op), true
	}
	return "", "", false
}

func isConstant(e sqlparse.Expr) bool {
	switch e.(type) {
	case *sqlparse.Literal, *sqlparse.BindParam:
		return true
	default:
		return false
	}
}

func flipOp(op string) string {
	switch op {
	case ">":
		return "<"
	case ">=":
		return "<="
	case "<":
		return ">"
	case "<=":
		return ">="
	default:
		return op
	}
}

// referencedVarRefs walks an expression tree collecting every VarRef it
// touches, used to decide which FROM/JOIN source (if any single one) a
// WHERE conjunct can be pushed down to.
func referencedVarRefs(e sqlparse.Expr) []*sqlparse.VarRef {
	var out []*sqlparse.VarRef
	var walk func(sqlparse.Expr)
	walk = func(e sqlparse.Expr) {
		switch n := e.(type) {
		case nil:
		case *sqlparse.VarRef:
			out = append(out, n)
		case *sqlparse.Unary:
			walk(n.Expr)
		case *sqlparse.Binary:
			walk(n.Left)
			walk(n.Right)
		case *sqlparse.IsNull:
			walk(n.Expr)
		case *sqlparse.Between:
			walk(n.Expr)
			walk(n.Low)
			walk(n.High)
		case *sqlparse.InList:
			walk(n.Expr)
			for _, it := range n.Items {
				walk(it)
			}
		case *sqlparse.Like:
			walk(n.Expr)
			walk(n.Pattern)
			walk(n.Escape)
		case *sqlparse.Cast:
			walk(n.Expr)
		case *sqlparse.CollateExpr:
			walk(n.Expr)
		case *sqlparse.FuncCall:
			for _, a := range n.Args {
				walk(a)
			}
		case *sqlparse.CaseExpr:
			walk(n.Operand)
			for _, w := range n.Whens {
				walk(w.Cond)
				walk(w.Then)
			}
			walk(n.Else)
		}
	}
	walk(e)
	return out
}
