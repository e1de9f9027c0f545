package codegen

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// compileExpr evaluates e into a freshly allocated register and returns it.
// Comparisons and logical connectives materialize a 0/1 integer rather than
// propagating NULL through three-valued logic in full. Row filtering
// (WHERE/ON/HAVING) is expected to emit its own jump-on-compare bytecode
// directly rather than going through this value-producing path, so the
// simplified NULL handling here mainly affects a comparison used as an
// ordinary scalar value (e.g. "SELECT a = b FROM t").
func (g *genCtx) compileExpr(e sqlparse.Expr) (int, error) {
	switch v := e.(type) {
	case nil:
		r := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpNull, P2: r})
		return r, nil

	case *sqlparse.Literal:
		return g.compileLiteral(v.Val)

	case *sqlparse.BindParam:
		return g.paramReg(v.Index), nil

	case *sqlparse.VarRef:
		si, ci, err := planner.ResolveColumn(g.scope, v)
		if err != nil {
			return 0, err
		}
		base, ok := g.rowBase[si]
		if !ok {
			return 0, ferrors.Wrap(ferrors.ErrInternal, "column referenced before its source row was loaded: "+v.Name, "")
		}
		return base + ci, nil

	case *sqlparse.Unary:
		return g.compileUnary(v)

	case *sqlparse.Binary:
		return g.compileBinary(v)

	case *sqlparse.IsNull:
		inner, err := g.compileExpr(v.Expr)
		if err != nil {
			return 0, err
		}
		return g.emitIsNull(inner, v.Negate), nil

	case *sqlparse.Between:
		return g.compileBetween(v)

	case *sqlparse.InList:
		return g.compileInList(v)

	case *sqlparse.Like:
		return g.compileLike(v)

	case *sqlparse.Cast:
		inner, err := g.compileExpr(v.Expr)
		if err != nil {
			return 0, err
		}
		r := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: inner, P2: r})
		g.b.emit(vm.Instruction{Op: vm.OpCast, P1: r, P4: sqlvalue.AffinityForTypeName(v.TypeName)})
		return r, nil

	case *sqlparse.CollateExpr:
		// Collation only affects comparison/ordering, applied by the caller
		// that consumes this value (compileBinary, sorter key building);
		// the value itself is unaffected.
		return g.compileExpr(v.Expr)

	case *sqlparse.FuncCall:
		return g.compileFuncCall(v)

	case *sqlparse.CaseExpr:
		return g.compileCase(v)

	case *sqlparse.Subquery:
		return g.compileScalarSubquery(v.Select)
	case *sqlparse.Exists:
		return 0, ferrors.Wrap(ferrors.ErrMisuse, "EXISTS is not yet supported by the code generator", "")
	case *sqlparse.InSubquery:
		return 0, ferrors.Wrap(ferrors.ErrMisuse, "IN (SELECT ...) is not yet supported by the code generator", "")

	default:
		return 0, ferrors.Wrapf(ferrors.ErrMisuse, "", "unsupported expression %T", e)
	}
}

func (g *genCtx) compileLiteral(val any) (int, error) {
	r := g.b.reg()
	switch x := val.(type) {
	case nil:
		g.b.emit(vm.Instruction{Op: vm.OpNull, P2: r})
	case bool:
		n := int64(0)
		if x {
			n = 1
		}
		g.b.emit(vm.Instruction{Op: vm.OpInt64, P2: r, P4: n})
	case int64:
		g.b.emit(vm.Instruction{Op: vm.OpInt64, P2: r, P4: x})
	case float64:
		g.b.emit(vm.Instruction{Op: vm.OpReal, P2: r, P4: x})
	case string:
		g.b.emit(vm.Instruction{Op: vm.OpString8, P2: r, P4: x})
	case []byte:
		g.b.emit(vm.Instruction{Op: vm.OpBlob, P2: r, P4: x})
	default:
		return 0, ferrors.Wrapf(ferrors.ErrMisuse, "", "unsupported literal type %T", val)
	}
	return r, nil
}

func (g *genCtx) compileUnary(v *sqlparse.Unary) (int, error) {
	inner, err := g.compileExpr(v.Expr)
	if err != nil {
		return 0, err
	}
	switch v.Op {
	case "+":
		return inner, nil
	case "-":
		r := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpNegative, P1: inner, P2: r})
		return r, nil
	case "NOT":
		// NULL treated as false, consistent with compileAndOr's simplification.
		r := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: 1, P2: r})
		falseAt := g.b.emit(vm.Instruction{Op: vm.OpIf, P1: inner, P2: -1})
		gotoEnd := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
		notTrue := g.b.here()
		g.b.emit(vm.Instruction{Op: vm.OpInteger, P2: r})
		end := g.b.here()
		g.b.patch(falseAt, notTrue)
		g.b.patch(gotoEnd, end)
		return r, nil
	default:
		return 0, ferrors.Wrapf(ferrors.ErrMisuse, "", "unsupported unary operator %q", v.Op)
	}
}

// emitIsNull returns a fresh register holding 1 if reg's current value is
// NULL (or 0 if negate), else the opposite, built from OpEq's own rule that
// a NULL operand never makes the comparison jump — so "v = v" jumps exactly
// when v is non-NULL, with no dedicated null-test opcode required.
func (g *genCtx) emitIsNull(reg int, negate bool) int {
	r := g.b.reg()
	isNullVal, notNullVal := int64(1), int64(0)
	if negate {
		isNullVal, notNullVal = 0, 1
	}
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: int(isNullVal), P2: r})
	eqAt := g.b.emit(vm.Instruction{Op: vm.OpEq, P1: reg, P3: reg, P2: -1})
	gotoEnd := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
	notNull := g.b.here()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: int(notNullVal), P2: r})
	end := g.b.here()
	g.b.patch(eqAt, notNull)
	g.b.patch(gotoEnd, end)
	return r
}

var cmpOps = map[string]vm.Op{
	"<": vm.OpLt, "<=": vm.OpLe, ">": vm.OpGt, ">=": vm.OpGe,
	"=": vm.OpEq, "==": vm.OpEq, "!=": vm.OpNe, "<>": vm.OpNe,
}

func (g *genCtx) compileBinary(v *sqlparse.Binary) (int, error) {
	switch v.Op {
	case "AND", "OR":
		return g.compileAndOr(v)
	}
	l, err := g.compileExpr(v.Left)
	if err != nil {
		return 0, err
	}
	r, err := g.compileExpr(v.Right)
	if err != nil {
		return 0, err
	}
	if op, ok := cmpOps[v.Op]; ok {
		return g.emitCompareBool(op, l, r), nil
	}
	dest := g.b.reg()
	switch v.Op {
	case "+":
		g.b.emit(vm.Instruction{Op: vm.OpAdd, P1: l, P2: r, P3: dest})
	case "-":
		g.b.emit(vm.Instruction{Op: vm.OpSubtract, P1: r, P2: l, P3: dest})
	case "*":
		g.b.emit(vm.Instruction{Op: vm.OpMultiply, P1: l, P2: r, P3: dest})
	case "/":
		g.b.emit(vm.Instruction{Op: vm.OpDivide, P1: r, P2: l, P3: dest})
	case "%":
		g.b.emit(vm.Instruction{Op: vm.OpRemainder, P1: r, P2: l, P3: dest})
	case "&":
		g.b.emit(vm.Instruction{Op: vm.OpBitAnd, P1: l, P2: r, P3: dest})
	case "|":
		g.b.emit(vm.Instruction{Op: vm.OpBitOr, P1: l, P2: r, P3: dest})
	case "<<":
		g.b.emit(vm.Instruction{Op: vm.OpShiftLeft, P1: r, P2: l, P3: dest})
	case ">>":
		g.b.emit(vm.Instruction{Op: vm.OpShiftRight, P1: r, P2: l, P3: dest})
	case "||":
		g.b.emit(vm.Instruction{Op: vm.OpAdd, P1: l, P2: r, P3: dest}) // best-effort; real concat needs a dedicated opcode
	default:
		return 0, ferrors.Wrapf(ferrors.ErrMisuse, "", "unsupported binary operator %q", v.Op)
	}
	return dest, nil
}

// emitCompareBool materializes cmpOp(l,r) as a 0/1 register via the native
// jump-on-compare opcodes: assume false, jump past the "set true" arm when
// the comparison doesn't hold (including the NULL case, since compare
// opcodes never jump on a NULL operand).
func (g *genCtx) emitCompareBool(op vm.Op, l, r int) int {
	dest := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P2: dest})
	jumpTrue := g.b.emit(vm.Instruction{Op: op, P1: l, P3: r, P2: -1})
	gotoEnd := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
	trueAt := g.b.here()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: 1, P2: dest})
	end := g.b.here()
	g.b.patch(jumpTrue, trueAt)
	g.b.patch(gotoEnd, end)
	return dest
}

// compileAndOr implements AND/OR with NULL treated as false, a deliberate
// simplification: strict SQL three-valued logic (NULL AND false = false,
// NULL AND true = NULL) is not reproduced, only two-valued short-circuit
// evaluation.
func (g *genCtx) compileAndOr(v *sqlparse.Binary) (int, error) {
	l, err := g.compileExpr(v.Left)
	if err != nil {
		return 0, err
	}
	dest := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: l, P2: dest})
	var shortCircuit int
	if v.Op == "AND" {
		shortCircuit = g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: dest, P2: -1})
	} else {
		shortCircuit = g.b.emit(vm.Instruction{Op: vm.OpIf, P1: dest, P2: -1})
	}
	r, err := g.compileExpr(v.Right)
	if err != nil {
		return 0, err
	}
	g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: r, P2: dest})
	end := g.b.here()
	g.b.patch(shortCircuit, end)
	return dest, nil
}

func (g *genCtx) compileBetween(v *sqlparse.Between) (int, error) {
	val, err := g.compileExpr(v.Expr)
	if err != nil {
		return 0, err
	}
	lo, err := g.compileExpr(v.Low)
	if err != nil {
		return 0, err
	}
	hi, err := g.compileExpr(v.High)
	if err != nil {
		return 0, err
	}
	geLo := g.emitCompareBool(vm.OpGe, val, lo)
	leHi := g.emitCompareBool(vm.OpLe, val, hi)
	and := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpMultiply, P1: geLo, P2: leHi, P3: and})
	if v.Negate {
		notReg := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpInteger, P2: notReg})
		skip := g.b.emit(vm.Instruction{Op: vm.OpIf, P1: and, P2: -1})
		g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: 1, P2: notReg})
		end := g.b.here()
		g.b.patch(skip, end)
		return notReg, nil
	}
	return and, nil
}

func (g *genCtx) compileInList(v *sqlparse.InList) (int, error) {
	val, err := g.compileExpr(v.Expr)
	if err != nil {
		return 0, err
	}
	noMatch, match := 0, 1
	if v.Negate {
		noMatch, match = 1, 0
	}
	dest := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: noMatch, P2: dest})
	var trueJumps []int
	for _, it := range v.Items {
		r, err := g.compileExpr(it)
		if err != nil {
			return 0, err
		}
		trueJumps = append(trueJumps, g.b.emit(vm.Instruction{Op: vm.OpEq, P1: val, P3: r, P2: -1}))
	}
	gotoEnd := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
	trueAt := g.b.here()
	g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: match, P2: dest})
	end := g.b.here()
	for _, j := range trueJumps {
		g.b.patch(j, trueAt)
	}
	g.b.patch(gotoEnd, end)
	return dest, nil
}

func (g *genCtx) compileLike(v *sqlparse.Like) (int, error) {
	val, err := g.compileExpr(v.Expr)
	if err != nil {
		return 0, err
	}
	lit, ok := v.Pattern.(*sqlparse.Literal)
	var pattern string
	if ok {
		pattern, _ = lit.Val.(string)
	} else {
		patReg, err := g.compileExpr(v.Pattern)
		if err != nil {
			return 0, err
		}
		_ = patReg // dynamic patterns aren't supported by OpLike/OpGlob's P4-constant shape
		return 0, ferrors.Wrap(ferrors.ErrMisuse, "LIKE/GLOB with a non-literal pattern is not supported", "")
	}
	dest := g.b.reg()
	op := vm.OpLike
	if v.Glob {
		op = vm.OpGlob
	}
	g.b.emit(vm.Instruction{Op: op, P1: val, P3: dest, P4: pattern})
	if v.Negate {
		notReg := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpInteger, P1: 1, P2: notReg})
		skip := g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: dest, P2: -1})
		g.b.emit(vm.Instruction{Op: vm.OpInteger, P2: notReg})
		end := g.b.here()
		g.b.patch(skip, end)
		return notReg, nil
	}
	return dest, nil
}

// compileFuncCall supports the scalar functions expressible with the fixed
// opcode set (LENGTH, SUBSTR via OpSubstr, COALESCE/IFNULL/NULLIF as control
// flow). COUNT/SUM/AVG/MIN/MAX go through OpAggStep/OpAggFinal wherever an
// aggregate stage builds them directly; reached through here (no aggregate
// stage in scope) they're rejected.
func (g *genCtx) compileFuncCall(v *sqlparse.FuncCall) (int, error) {
	name := v.Name
	switch name {
	case "LENGTH":
		a, err := g.compileExpr(v.Args[0])
		if err != nil {
			return 0, err
		}
		dest := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpLength, P1: a, P2: dest})
		return dest, nil
	case "SUBSTR", "SUBSTRING":
		a, err := g.compileExpr(v.Args[0])
		if err != nil {
			return 0, err
		}
		startLit, ok := v.Args[1].(*sqlparse.Literal)
		if !ok {
			return 0, ferrors.Wrap(ferrors.ErrMisuse, "SUBSTR requires a literal start position", "")
		}
		start := int(toInt64(startLit.Val))
		var lenArg interface{}
		if len(v.Args) > 2 {
			lenLit, ok := v.Args[2].(*sqlparse.Literal)
			if !ok {
				return 0, ferrors.Wrap(ferrors.ErrMisuse, "SUBSTR requires a literal length", "")
			}
			lenArg = int(toInt64(lenLit.Val))
		}
		dest := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpSubstr, P1: a, P2: start, P3: dest, P4: lenArg})
		return dest, nil
	case "COALESCE", "IFNULL":
		if name == "IFNULL" && len(v.Args) != 2 {
			return 0, ferrors.Wrap(ferrors.ErrMisuse, "IFNULL takes exactly 2 arguments", "")
		}
		dest := g.b.reg()
		var ends []int
		for i, arg := range v.Args {
			a, err := g.compileExpr(arg)
			if err != nil {
				return 0, err
			}
			g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: a, P2: dest})
			if i == len(v.Args)-1 {
				break
			}
			isnull := g.emitIsNull(dest, false)
			skip := g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: isnull, P2: -1})
			ends = append(ends, skip)
		}
		end := g.b.here()
		for _, j := range ends {
			g.b.patch(j, end)
		}
		return dest, nil
	case "NULLIF":
		if len(v.Args) != 2 {
			return 0, ferrors.Wrap(ferrors.ErrMisuse, "NULLIF takes exactly 2 arguments", "")
		}
		a, err := g.compileExpr(v.Args[0])
		if err != nil {
			return 0, err
		}
		b2, err := g.compileExpr(v.Args[1])
		if err != nil {
			return 0, err
		}
		dest := g.b.reg()
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: a, P2: dest})
		eq := g.b.emit(vm.Instruction{Op: vm.OpEq, P1: a, P3: b2, P2: -1})
		skip := g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1})
		nullAt := g.b.here()
		g.b.emit(vm.Instruction{Op: vm.OpNull, P2: dest})
		end := g.b.here()
		g.b.patch(eq, nullAt)
		g.b.patch(skip, end)
		return dest, nil
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return 0, ferrors.Wrapf(ferrors.ErrMisuse, "", "aggregate %s(...) used outside an aggregate context", name)
	default:
		return 0, ferrors.Wrapf(ferrors.ErrMisuse, "", "unsupported function %s", name)
	}
}

func (g *genCtx) compileCase(v *sqlparse.CaseExpr) (int, error) {
	dest := g.b.reg()
	var opReg int
	if v.Operand != nil {
		r, err := g.compileExpr(v.Operand)
		if err != nil {
			return 0, err
		}
		opReg = r
	}
	var ends []int
	for _, w := range v.Whens {
		var condReg int
		if v.Operand != nil {
			condR, err := g.compileExpr(w.Cond)
			if err != nil {
				return 0, err
			}
			condReg = g.emitCompareBool(vm.OpEq, opReg, condR)
		} else {
			r, err := g.compileExpr(w.Cond)
			if err != nil {
				return 0, err
			}
			condReg = r
		}
		skip := g.b.emit(vm.Instruction{Op: vm.OpIfNot, P1: condReg, P2: -1})
		thenReg, err := g.compileExpr(w.Then)
		if err != nil {
			return 0, err
		}
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: thenReg, P2: dest})
		ends = append(ends, g.b.emit(vm.Instruction{Op: vm.OpGoto, P2: -1}))
		nextArm := g.b.here()
		g.b.patch(skip, nextArm)
	}
	if v.Else != nil {
		elseReg, err := g.compileExpr(v.Else)
		if err != nil {
			return 0, err
		}
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: elseReg, P2: dest})
	} else {
		g.b.emit(vm.Instruction{Op: vm.OpNull, P2: dest})
	}
	end := g.b.here()
	for _, j := range ends {
		g.b.patch(j, end)
	}
	return dest, nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	default:
		return 0
	}
}
