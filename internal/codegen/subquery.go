package codegen

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// compileScalarSubquery plans and compiles sub inline at the point it's
// referenced, reusing compileSelectBody the same way a top-level SELECT or
// an INSERT ... SELECT does, and returns a register holding its single
// result value: the subquery's last produced row if it produced one, NULL
// if it produced none (SQL's scalar-subquery-of-empty-set rule).
//
// Because the subquery's instructions are emitted right where the
// expression appears, a subquery referenced from inside an outer per-row
// loop is recompiled into that loop's body once and re-executed by the VM
// once per outer row. aggFinal already clears its accumulator slot after
// reading it (see internal/vm/agg.go), so a nested aggregate subquery
// starts clean on every re-run without any extra reset here; aggSlot's
// builder-wide counter (rather than restarting from 0 per aggregate query)
// is what keeps a nested aggregate's slot from colliding with an outer
// one active across the same row.
func (g *genCtx) compileScalarSubquery(sub *sqlparse.Select) (int, error) {
	if sub.Compound != nil {
		return 0, ferrors.Wrap(ferrors.ErrMisuse, "a compound SELECT is not supported as a scalar subquery", "")
	}

	pl := planner.New(g.schema)
	plan, err := pl.Plan(sub)
	if err != nil {
		return 0, err
	}
	if len(sub.Projs) != 1 {
		return 0, ferrors.Wrap(ferrors.ErrMisuse, "scalar subquery must return exactly one column", "")
	}

	out := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpNull, P2: out})

	inner := &genCtx{
		b:         g.b,
		schema:    g.schema,
		scope:     plan.Scope,
		rowBase:   map[int]int{},
		paramBase: g.paramBase,
		numParams: g.numParams,
	}
	inner.rowSink = func(base, n int) error {
		inner.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: base, P2: out})
		return nil
	}

	_, stopJumps, err := inner.compileSelectBody(plan, sub)
	if err != nil {
		return 0, err
	}
	after := g.b.here()
	for _, j := range stopJumps {
		g.b.patch(j, after)
	}
	return out, nil
}
