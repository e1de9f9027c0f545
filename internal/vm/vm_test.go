package vm

import (
	"testing"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

func openTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	p, err := pager.Open(pager.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestVM_IntegerAddResultRow(t *testing.T) {
	p := openTestPager(t)
	prog := &Program{
		NumRegisters: 3,
		Instructions: []Instruction{
			{Op: OpInteger, P1: 2, P2: 0},
			{Op: OpInteger, P1: 3, P2: 1},
			{Op: OpAdd, P1: 0, P2: 1, P3: 2},
			{Op: OpResultRow, P1: 2, P2: 1},
			{Op: OpHalt},
		},
	}
	m := New(prog, p)
	res, err := m.Step()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res != StepRow {
		t.Fatalf("expected a row, got %v", res)
	}
	row := m.Row()
	if row[0].Int() != 5 {
		t.Fatalf("2+3 = %d, want 5", row[0].Int())
	}
	res, err = m.Step()
	if err != nil || res != StepDone {
		t.Fatalf("expected Done, got %v err=%v", res, err)
	}
}

func TestVM_TableScanEmitsAllRows(t *testing.T) {
	p := openTestPager(t)
	store := &btree.PagerStore{P: p}
	tree, err := btree.Create(store, false)
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		rec := sqlvalue.EncodeRecord(oneColumnRecord(i))
		if err := tree.InsertTable(i, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	prog := &Program{
		NumRegisters: 2,
		NumCursors:   1,
		Instructions: []Instruction{
			{Op: OpOpenRead, P1: 0, P2: int(tree.Root()), P3: 0},
			{Op: OpRewind, P1: 0, P2: 6}, // jump to Halt if empty
			{Op: OpColumn, P1: 0, P2: 0, P3: 1},
			{Op: OpResultRow, P1: 1, P2: 1},
			{Op: OpNext, P1: 0, P2: 2},
			{Op: OpClose, P1: 0},
			{Op: OpHalt},
		},
	}
	m := New(prog, p)
	var got []int64
	for {
		res, serr := m.Step()
		if serr != nil {
			t.Fatalf("step: %v", serr)
		}
		if res == StepDone {
			break
		}
		got = append(got, m.Row()[0].Int())
	}
	if len(got) != 3 || got[0] != 100 || got[1] != 200 || got[2] != 300 {
		t.Fatalf("got %v", got)
	}
}

// oneColumnRecord builds a one-column record [i*100] to keep the
// table-scan test above self-contained without a real codegen layer.
func oneColumnRecord(i int64) []sqlvalue.Value {
	return []sqlvalue.Value{sqlvalue.Integer(i * 100)}
}

func TestVM_CompareJump(t *testing.T) {
	p := openTestPager(t)
	prog := &Program{
		NumRegisters: 2,
		Instructions: []Instruction{
			{Op: OpInteger, P1: 1, P2: 0},
			{Op: OpInteger, P1: 2, P2: 1},
			{Op: OpLt, P1: 0, P2: 5, P3: 1}, // 1 < 2 -> jump to 5
			{Op: OpInteger, P1: 0, P2: 0},   // skipped
			{Op: OpGoto, P2: 6},
			{Op: OpInteger, P1: 99, P2: 0},
			{Op: OpResultRow, P1: 0, P2: 1},
			{Op: OpHalt},
		},
	}
	m := New(prog, p)
	res, err := m.Step()
	if err != nil || res != StepRow {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if m.Row()[0].Int() != 99 {
		t.Fatalf("expected jump taken, got %d", m.Row()[0].Int())
	}
}

func TestVM_AggregateSumAndCount(t *testing.T) {
	p := openTestPager(t)
	prog := &Program{
		NumRegisters: 3,
		Instructions: []Instruction{
			{Op: OpInteger, P1: 10, P2: 0},
			{Op: OpAggStep, P1: 1, P2: 0, P4: "sum"},
			{Op: OpInteger, P1: 20, P2: 0},
			{Op: OpAggStep, P1: 1, P2: 0, P4: "sum"},
			{Op: OpAggFinal, P1: 1, P2: 2, P4: "sum"},
			{Op: OpResultRow, P1: 2, P2: 1},
			{Op: OpHalt},
		},
	}
	m := New(prog, p)
	res, err := m.Step()
	if err != nil || res != StepRow {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if m.Row()[0].Int() != 30 {
		t.Fatalf("sum = %d, want 30", m.Row()[0].Int())
	}
}

func TestLikeMatch(t *testing.T) {
	if !likeMatch("h%lo", "hello", true) {
		t.Fatal("h%lo should match hello")
	}
	if likeMatch("h%lo", "help", true) {
		t.Fatal("h%lo should not match help")
	}
	if !likeMatch("H_LLO", "hello", true) {
		t.Fatal("LIKE should be case-insensitive")
	}
	if likeMatch("H_LLO", "hello", false) {
		t.Fatal("GLOB should be case-sensitive")
	}
}
