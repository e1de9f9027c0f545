package ferrodb

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

// classifyExplain plans e.Stmt and freezes the resulting plan as result
// rows; EXPLAIN and EXPLAIN QUERY PLAN share one shape here since this
// engine, like the planner it's grounded on, never had a separate bytecode
// listing form.
func (s *Stmt) classifyExplain(e *sqlparse.Explain) error {
	sel, ok := e.Stmt.(*sqlparse.Select)
	if !ok {
		return ferrors.Wrap(ferrors.ErrMisuse, "EXPLAIN is only supported for SELECT", "")
	}
	plan, err := planner.New(s.conn.cat).Plan(sel)
	if err != nil {
		return err
	}
	rows := planner.ExplainQueryPlan(plan.Root)
	out := make([][]sqlvalue.Value, len(rows))
	for i, r := range rows {
		out[i] = []sqlvalue.Value{
			sqlvalue.Integer(int64(r.ID)),
			sqlvalue.Integer(int64(r.Parent)),
			sqlvalue.Text(r.Detail),
		}
	}
	s.kind = kindExplain
	s.setRowBuffer([]string{"id", "parent", "detail"}, out)
	return nil
}
