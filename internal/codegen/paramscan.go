package codegen

import "github.com/kjmoran/ferrodb/internal/sqlparse"

// maxBindParamIndex walks every expression reachable from stmt and returns
// the highest BindParam.Index seen, 0 if none. Parameters are numbered once
// per prepared statement, including inside subqueries, covering both "?"
// positional and ":name" named parameter numbering.
func maxBindParamIndex(stmt sqlparse.Statement) int {
	max := 0
	see := func(e sqlparse.Expr) { max = maxInt(max, maxParamInExpr(e)) }
	switch s := stmt.(type) {
	case *sqlparse.Select:
		max = maxInt(max, maxParamInSelect(s))
	case *sqlparse.Insert:
		for _, row := range s.Rows {
			for _, e := range row {
				see(e)
			}
		}
		if s.Select != nil {
			max = maxInt(max, maxParamInSelect(s.Select))
		}
	case *sqlparse.Update:
		for _, set := range s.Sets {
			see(set.Expr)
		}
		see(s.Where)
	case *sqlparse.Delete:
		see(s.Where)
	}
	return max
}

func maxParamInSelect(sel *sqlparse.Select) int {
	if sel == nil {
		return 0
	}
	max := 0
	see := func(e sqlparse.Expr) { max = maxInt(max, maxParamInExpr(e)) }
	for _, p := range sel.Projs {
		see(p.Expr)
	}
	if sel.From != nil && sel.From.Subquery != nil {
		max = maxInt(max, maxParamInSelect(sel.From.Subquery))
	}
	for _, j := range sel.Joins {
		see(j.On)
		if j.Right.Subquery != nil {
			max = maxInt(max, maxParamInSelect(j.Right.Subquery))
		}
	}
	see(sel.Where)
	for _, g := range sel.GroupBy {
		see(g)
	}
	see(sel.Having)
	for _, o := range sel.OrderBy {
		if o.Expr != nil {
			see(o.Expr)
		}
	}
	see(sel.Limit)
	see(sel.Offset)
	if sel.Compound != nil {
		max = maxInt(max, maxParamInSelect(sel.Compound.Next))
	}
	return max
}

func maxParamInExpr(e sqlparse.Expr) int {
	switch v := e.(type) {
	case nil:
		return 0
	case *sqlparse.BindParam:
		return v.Index
	case *sqlparse.Unary:
		return maxParamInExpr(v.Expr)
	case *sqlparse.Binary:
		return maxInt(maxParamInExpr(v.Left), maxParamInExpr(v.Right))
	case *sqlparse.IsNull:
		return maxParamInExpr(v.Expr)
	case *sqlparse.Between:
		return maxInt(maxParamInExpr(v.Expr), maxInt(maxParamInExpr(v.Low), maxParamInExpr(v.High)))
	case *sqlparse.InList:
		max := maxParamInExpr(v.Expr)
		for _, it := range v.Items {
			max = maxInt(max, maxParamInExpr(it))
		}
		return max
	case *sqlparse.InSubquery:
		return maxInt(maxParamInExpr(v.Expr), maxParamInSelect(v.Select))
	case *sqlparse.Like:
		return maxInt(maxParamInExpr(v.Expr), maxInt(maxParamInExpr(v.Pattern), maxParamInExpr(v.Escape)))
	case *sqlparse.Cast:
		return maxParamInExpr(v.Expr)
	case *sqlparse.CollateExpr:
		return maxParamInExpr(v.Expr)
	case *sqlparse.FuncCall:
		max := 0
		for _, a := range v.Args {
			max = maxInt(max, maxParamInExpr(a))
		}
		return max
	case *sqlparse.CaseExpr:
		max := maxParamInExpr(v.Operand)
		for _, w := range v.Whens {
			max = maxInt(max, maxInt(maxParamInExpr(w.Cond), maxParamInExpr(w.Then)))
		}
		return maxInt(max, maxParamInExpr(v.Else))
	case *sqlparse.Exists:
		return maxParamInSelect(v.Select)
	case *sqlparse.Subquery:
		return maxParamInSelect(v.Select)
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
