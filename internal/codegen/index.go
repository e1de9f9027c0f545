package codegen

import (
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// emitIndexKey packs an index's columns (read out of rowBase, the table
// row's first register) followed by rowidReg into one OpMakeRecord blob,
// the key shape every index B-tree is keyed by: trailing rowid disambiguates
// duplicate index values and lets an index-only scan recover the rowid
// without a second table lookup.
func (g *genCtx) emitIndexKey(ts *catalog.TableSchema, ix *catalog.IndexSchema, rowBase, rowidReg int) int {
	n := len(ix.Columns)
	buf := g.b.regs(n + 1)
	for i, c := range ix.Columns {
		ci := ts.ColumnIndex(c.Name)
		g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: rowBase + ci, P2: buf + i})
	}
	g.b.emit(vm.Instruction{Op: vm.OpSCopy, P1: rowidReg, P2: buf + n})
	rec := g.b.reg()
	g.b.emit(vm.Instruction{Op: vm.OpMakeRecord, P1: buf, P2: n + 1, P3: rec})
	return rec
}

// emitMaintainIndexesInsert inserts one index entry per index on ts for the
// row sitting at rowBase/rowidReg.
func (g *genCtx) emitMaintainIndexesInsert(ts *catalog.TableSchema, rowBase, rowidReg int) {
	for _, ix := range g.schema.IndexesOn(ts.Name) {
		cur := g.b.cursor()
		g.b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: cur, P2: int(ix.RootPage), P3: 1})
		key := g.emitIndexKey(ts, ix, rowBase, rowidReg)
		g.b.emit(vm.Instruction{Op: vm.OpIdxInsert, P1: cur, P2: key})
	}
}

// emitMaintainIndexesDelete removes one index entry per index on ts for the
// row that was sitting at rowBase/rowidReg (call before the row's values
// change or it is deleted).
func (g *genCtx) emitMaintainIndexesDelete(ts *catalog.TableSchema, rowBase, rowidReg int) {
	for _, ix := range g.schema.IndexesOn(ts.Name) {
		cur := g.b.cursor()
		g.b.emit(vm.Instruction{Op: vm.OpOpenWrite, P1: cur, P2: int(ix.RootPage), P3: 1})
		key := g.emitIndexKey(ts, ix, rowBase, rowidReg)
		g.b.emit(vm.Instruction{Op: vm.OpIdxDelete, P1: cur, P2: key})
	}
}
