package planner

import (
	"strings"
	"testing"

	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// fakeResolver is a minimal catalog.Resolver for planner tests, standing
// in for a database actually opened through internal/catalog.
type fakeResolver struct {
	tables  map[string]*catalog.TableSchema
	indexes map[string][]*catalog.IndexSchema
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{tables: map[string]*catalog.TableSchema{}, indexes: map[string][]*catalog.IndexSchema{}}
}

func (f *fakeResolver) addTable(name string, cols ...string) {
	ts := &catalog.TableSchema{Name: name}
	for _, c := range cols {
		ts.Columns = append(ts.Columns, catalog.ColumnSchema{Name: c})
	}
	f.tables[name] = ts
}

func (f *fakeResolver) addIndex(name, table string, cols ...string) {
	ix := &catalog.IndexSchema{Name: name, Table: table}
	for _, c := range cols {
		ix.Columns = append(ix.Columns, catalog.IndexColumn{Name: c})
	}
	f.indexes[table] = append(f.indexes[table], ix)
}

func (f *fakeResolver) Table(name string) (*catalog.TableSchema, bool) {
	t, ok := f.tables[name]
	return t, ok
}
func (f *fakeResolver) IndexesOn(table string) []*catalog.IndexSchema { return f.indexes[table] }
func (f *fakeResolver) Index(name string) (*catalog.IndexSchema, bool) {
	for _, ixs := range f.indexes {
		for _, ix := range ixs {
			if ix.Name == name {
				return ix, true
			}
		}
	}
	return nil, false
}

func planSQL(t *testing.T, r *fakeResolver, sql string) *Plan {
	t.Helper()
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	sel, ok := stmt.(*sqlparse.Select)
	if !ok {
		t.Fatalf("expected *Select, got %T", stmt)
	}
	plan, err := New(r).Plan(sel)
	if err != nil {
		t.Fatalf("plan %q: %v", sql, err)
	}
	return plan
}

func details(t *testing.T, plan *Plan) []string {
	t.Helper()
	rows := ExplainQueryPlan(plan.Root)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Detail
	}
	return out
}

func anyContains(details []string, substr string) bool {
	for _, d := range details {
		if strings.Contains(d, substr) {
			return true
		}
	}
	return false
}

func TestSingleColumnEqualityUsesIndex(t *testing.T) {
	r := newFakeResolver()
	r.addTable("t1", "a", "b")
	r.addIndex("i1", "t1", "a")
	d := details(t, planSQL(t, r, "SELECT * FROM t1 WHERE a = 5"))
	if !anyContains(d, "USING INDEX i1") || !anyContains(d, "a=?") {
		t.Fatalf("details: %v", d)
	}
}

func TestMultiColumnIndexPartialMatch(t *testing.T) {
	r := newFakeResolver()
	r.addTable("t1", "a", "b", "c")
	r.addIndex("i1", "t1", "a", "b")
	d := details(t, planSQL(t, r, "SELECT * FROM t1 WHERE a = 5"))
	if !anyContains(d, "USING INDEX i1") {
		t.Fatalf("details: %v", d)
	}
}

func TestNoIndexWhenNoMatch(t *testing.T) {
	r := newFakeResolver()
	r.addTable("t1", "a", "b")
	r.addIndex("i1", "t1", "a")
	d := details(t, planSQL(t, r, "SELECT * FROM t1 WHERE b = 5"))
	if !anyContains(d, "SCAN t1") {
		t.Fatalf("details: %v", d)
	}
}

func TestCoveringIndexPreferred(t *testing.T) {
	r := newFakeResolver()
	r.addTable("t1", "a", "b", "c")
	r.addIndex("i1", "t1", "a", "b")
	d := details(t, planSQL(t, r, "SELECT a, b FROM t1 WHERE a = 5"))
	if !anyContains(d, "COVERING INDEX i1") {
		t.Fatalf("details: %v", d)
	}
}

func TestRangeQueryUsesIndex(t *testing.T) {
	r := newFakeResolver()
	r.addTable("t1", "a")
	r.addIndex("i1", "t1", "a")
	d := details(t, planSQL(t, r, "SELECT * FROM t1 WHERE a > 5"))
	if !anyContains(d, "USING INDEX i1") {
		t.Fatalf("details: %v", d)
	}
}

func TestIndexWithMultipleConditions(t *testing.T) {
	r := newFakeResolver()
	r.addTable("t1", "a", "b")
	r.addIndex("i1", "t1", "a", "b")
	d := details(t, planSQL(t, r, "SELECT * FROM t1 WHERE a = 5 AND b = 10"))
	if !anyContains(d, "USING INDEX i1") || !anyContains(d, "a=?") || !anyContains(d, "b=?") {
		t.Fatalf("details: %v", d)
	}
}

func TestJoinPicksHashJoinForEquiCondition(t *testing.T) {
	r := newFakeResolver()
	r.addTable("a", "id", "x")
	r.addTable("b", "id", "y")
	plan := planSQL(t, r, "SELECT * FROM a JOIN b ON a.id = b.id")
	var found bool
	var walk func(n *PlanNode)
	walk = func(n *PlanNode) {
		if n == nil {
			return
		}
		if n.Kind == NodeHashJoin {
			found = true
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(plan.Root)
	if !found {
		t.Fatalf("expected a hash join node in plan")
	}
}

func TestAmbiguousColumnNameRejected(t *testing.T) {
	r := newFakeResolver()
	r.addTable("a", "id", "x")
	r.addTable("b", "id", "y")
	_, err := New(r).Plan(mustSelect(t, "SELECT id FROM a JOIN b ON a.id = b.id"))
	if err == nil {
		t.Fatal("expected ambiguous column name error")
	}
}

func mustSelect(t *testing.T, sql string) *sqlparse.Select {
	t.Helper()
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return stmt.(*sqlparse.Select)
}
