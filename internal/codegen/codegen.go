// Package codegen turns a parsed statement plus, for SELECT, a planner.Plan
// into a vm.Program: the step after planning. Schema statements
// (CREATE/DROP TABLE/INDEX) have no row-at-a-time shape to compile against
// the register machine, so they execute directly against internal/catalog
// instead of emitting a Program; see ExecDDL.
//
// UPDATE OR REPLACE resolves a rowid conflict by deleting the conflicting
// row and proceeding with the update rather than aborting.
package codegen

import (
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/planner"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// Compiler turns statements into programs against a fixed schema snapshot.
type Compiler struct {
	Schema catalog.Resolver
}

// New returns a Compiler generating code against schema.
func New(schema catalog.Resolver) *Compiler { return &Compiler{Schema: schema} }

// Compile dispatches by statement kind. DDL statements are rejected here;
// callers should check for them and use ExecDDL instead.
func (c *Compiler) Compile(stmt sqlparse.Statement) (*vm.Program, error) {
	switch s := stmt.(type) {
	case *sqlparse.Select:
		return c.compileSelect(s)
	case *sqlparse.Insert:
		return c.compileInsert(s)
	case *sqlparse.Update:
		return c.compileUpdate(s)
	case *sqlparse.Delete:
		return c.compileDelete(s)
	default:
		return nil, ferrors.Wrapf(ferrors.ErrMisuse, "", "%T does not compile to a vm.Program; see ExecDDL", stmt)
	}
}

// builder accumulates instructions and hands out fresh register/cursor
// slots, with label-style forward-jump patching so control flow (loop
// exits, filter skips) can be emitted before its target address is known.
type builder struct {
	ins     []vm.Instruction
	nextReg int
	nextCur int
	nextAgg int
}

func newBuilder() *builder { return &builder{} }

func (b *builder) reg() int {
	r := b.nextReg
	b.nextReg++
	return r
}

func (b *builder) regs(n int) int {
	base := b.nextReg
	b.nextReg += n
	return base
}

func (b *builder) cursor() int {
	c := b.nextCur
	b.nextCur++
	return c
}

// aggSlot hands out a fresh OpAggStep/OpAggFinal accumulator slot. Slots are
// allocated from one builder-wide counter, not per aggregate query, so a
// scalar subquery's own aggregate never collides with an outer query's
// (the VM keys running aggregate state by this slot number alone).
func (b *builder) aggSlot() int {
	s := b.nextAgg
	b.nextAgg++
	return s
}

// here returns the address the next emit will land at.
func (b *builder) here() int { return len(b.ins) }

func (b *builder) emit(i vm.Instruction) int {
	b.ins = append(b.ins, i)
	return len(b.ins) - 1
}

// patch sets instruction at's jump target (P2) to target, once known.
func (b *builder) patch(at, target int) { b.ins[at].P2 = target }

func (b *builder) program() *vm.Program {
	return &vm.Program{Instructions: b.ins, NumRegisters: b.nextReg, NumCursors: b.nextCur}
}

// genCtx carries the state shared by every expression/row emitter for one
// statement: the builder, the resolved FROM/JOIN scope (nil for DML, which
// has a single implicit table), and the per-scope-entry row register bases
// populated as each source's loop is entered.
type genCtx struct {
	b         *builder
	schema    catalog.Resolver
	scope     []planner.ScopeEntry
	rowBase   map[int]int // scope index -> first register of that row's columns
	paramBase int
	numParams int

	// rowSink, when set, replaces OpResultRow as what happens to a produced
	// row (see emitRow): compileInsertSelect routes rows into an INSERT
	// body instead of the client-visible result set.
	rowSink func(base, n int) error
}

// newGenCtx reserves a contiguous parameter register block sized to the
// highest BindParam.Index appearing anywhere in stmt, so compileExpr can
// resolve every "?"/"?N" reference to paramBase+Index-1 without a second
// pass over the emitted program.
func newGenCtx(b *builder, schema catalog.Resolver, scope []planner.ScopeEntry, stmt sqlparse.Statement) *genCtx {
	n := maxBindParamIndex(stmt)
	base := 0
	if n > 0 {
		base = b.regs(n)
	}
	return &genCtx{b: b, schema: schema, scope: scope, rowBase: map[int]int{}, paramBase: base, numParams: n}
}

func (g *genCtx) paramReg(idx int) int { return g.paramBase + idx - 1 }
