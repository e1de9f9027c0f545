package sqlparse

import "testing"

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := NewParser("SELECT a, b AS bb FROM t WHERE a > 1 ORDER BY b DESC LIMIT 10").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel, ok := stmt.(*Select)
	if !ok {
		t.Fatalf("expected *Select, got %T", stmt)
	}
	if len(sel.Projs) != 2 || sel.Projs[1].Alias != "bb" {
		t.Fatalf("projections: %+v", sel.Projs)
	}
	if sel.From.Table != "t" {
		t.Fatalf("from: %+v", sel.From)
	}
	if sel.OrderBy[0].Col != "b" || !sel.OrderBy[0].Desc {
		t.Fatalf("order by: %+v", sel.OrderBy)
	}
	lit, ok := sel.Limit.(*Literal)
	if !ok || lit.Val.(int64) != 10 {
		t.Fatalf("limit: %+v", sel.Limit)
	}
}

func TestParseCreateTableWithConstraints(t *testing.T) {
	stmt, err := NewParser(`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL COLLATE NOCASE,
		email TEXT UNIQUE,
		age INT DEFAULT 0,
		PRIMARY KEY (id)
	)`).ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ct, ok := stmt.(*CreateTable)
	if !ok {
		t.Fatalf("expected *CreateTable, got %T", stmt)
	}
	if len(ct.Cols) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(ct.Cols))
	}
	if !ct.Cols[0].PrimaryKey || !ct.Cols[0].AutoIncrement {
		t.Fatalf("id column: %+v", ct.Cols[0])
	}
	if ct.Cols[1].Collate != "NOCASE" || !ct.Cols[1].NotNull {
		t.Fatalf("name column: %+v", ct.Cols[1])
	}
}

func TestParseInsertOnConflictReplace(t *testing.T) {
	stmt, err := NewParser("INSERT OR REPLACE INTO t (a, b) VALUES (1, 'x')").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ins, ok := stmt.(*Insert)
	if !ok {
		t.Fatalf("expected *Insert, got %T", stmt)
	}
	if ins.OnConflict != ConflictReplace {
		t.Fatalf("expected ConflictReplace, got %v", ins.OnConflict)
	}
	if len(ins.Rows) != 1 || len(ins.Rows[0]) != 2 {
		t.Fatalf("rows: %+v", ins.Rows)
	}
}

func TestParseUpdateSetsOrderPreserved(t *testing.T) {
	stmt, err := NewParser("UPDATE t SET a = 1, b = a WHERE id = 5").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	upd := stmt.(*Update)
	if len(upd.Sets) != 2 || upd.Sets[0].Col != "a" || upd.Sets[1].Col != "b" {
		t.Fatalf("sets: %+v", upd.Sets)
	}
}

func TestParseCastAndCollate(t *testing.T) {
	stmt, err := NewParser("SELECT CAST(a AS INTEGER), b COLLATE NOCASE FROM t").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel := stmt.(*Select)
	cast, ok := sel.Projs[0].Expr.(*Cast)
	if !ok || cast.TypeName != "INTEGER" {
		t.Fatalf("cast: %+v", sel.Projs[0].Expr)
	}
	coll, ok := sel.Projs[1].Expr.(*CollateExpr)
	if !ok || coll.Name != "NOCASE" {
		t.Fatalf("collate: %+v", sel.Projs[1].Expr)
	}
}

func TestParseBetweenInLike(t *testing.T) {
	stmt, err := NewParser("SELECT * FROM t WHERE a BETWEEN 1 AND 10 AND b IN (1,2,3) AND c LIKE 'x%' AND d NOT GLOB '*y'").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel := stmt.(*Select)
	and1, ok := sel.Where.(*Binary)
	if !ok || and1.Op != "AND" {
		t.Fatalf("expected top-level AND chain, got %T", sel.Where)
	}
	_ = and1
}

func TestParseCompoundSelectUnionAll(t *testing.T) {
	stmt, err := NewParser("SELECT a FROM t1 UNION ALL SELECT a FROM t2").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel := stmt.(*Select)
	if sel.Compound == nil || sel.Compound.Op != CompoundUnionAll {
		t.Fatalf("expected UNION ALL compound, got %+v", sel.Compound)
	}
}

func TestParseExplainQueryPlan(t *testing.T) {
	stmt, err := NewParser("EXPLAIN QUERY PLAN SELECT * FROM t").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ex, ok := stmt.(*Explain)
	if !ok || !ex.QueryPlan {
		t.Fatalf("expected EXPLAIN QUERY PLAN, got %+v", stmt)
	}
	if _, ok := ex.Stmt.(*Select); !ok {
		t.Fatalf("expected wrapped *Select, got %T", ex.Stmt)
	}
}

func TestParsePragmaAndAttach(t *testing.T) {
	if _, err := NewParser("PRAGMA journal_mode = WAL").ParseStatement(); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	stmt, err := NewParser("ATTACH DATABASE 'other.db' AS other").ParseStatement()
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	at, ok := stmt.(*AttachDatabase)
	if !ok || at.Name != "other" {
		t.Fatalf("attach: %+v", stmt)
	}
}

func TestParseJoinWithUsing(t *testing.T) {
	stmt, err := NewParser("SELECT * FROM a JOIN b USING (id)").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel := stmt.(*Select)
	if len(sel.Joins) != 1 || len(sel.Joins[0].Using) != 1 || sel.Joins[0].Using[0] != "id" {
		t.Fatalf("joins: %+v", sel.Joins)
	}
}

func TestParseQualifiedStar(t *testing.T) {
	stmt, err := NewParser("SELECT a.*, b.x FROM a JOIN b ON a.id = b.id").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel := stmt.(*Select)
	if !sel.Projs[0].Star || sel.Projs[0].StarTable != "a" {
		t.Fatalf("expected a.* projection, got %+v", sel.Projs[0])
	}
}

func TestParseCaseExpr(t *testing.T) {
	stmt, err := NewParser("SELECT CASE WHEN a > 1 THEN 'big' ELSE 'small' END FROM t").ParseStatement()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel := stmt.(*Select)
	ce, ok := sel.Projs[0].Expr.(*CaseExpr)
	if !ok || len(ce.Whens) != 1 {
		t.Fatalf("case: %+v", sel.Projs[0].Expr)
	}
}

func TestParseTransactionControl(t *testing.T) {
	for _, sql := range []string{"BEGIN", "BEGIN IMMEDIATE", "COMMIT", "ROLLBACK", "SAVEPOINT sp1", "RELEASE sp1"} {
		if _, err := NewParser(sql).ParseStatement(); err != nil {
			t.Fatalf("%q: %v", sql, err)
		}
	}
}
