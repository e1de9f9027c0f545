// Package catalog implements the schema catalog: a sqlite_master-shaped
// table describing every table and index in the database, stored in its
// own B-tree rooted at a fixed page, plus an in-memory mirror used by the
// planner and codegen for name resolution and cost-based index selection.
//
// The on-disk shape is a table B-tree keyed by rowid storing one row per
// table or index (type, name, tbl_name, rootpage, sql); the in-memory mirror is a
// map-of-maps behind an RLock-guarded lookup surface consumed by
// internal/planner and internal/codegen.
package catalog

import (
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// ObjectType distinguishes the kind of schema object a Catalog row names,
// mirroring sqlite_master.type.
type ObjectType string

const (
	ObjectTable ObjectType = "table"
	ObjectIndex ObjectType = "index"
	ObjectView  ObjectType = "view"
)

// ColumnSchema describes one column of a table as recorded in the schema.
type ColumnSchema struct {
	Name          string
	TypeName      string
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Unique        bool
	Collate       string
	Default       sqlparse.Expr // nil if none
	Check         sqlparse.Expr // nil if none
}

// ForeignKey names the table/column a FOREIGN KEY constraint references.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
}

// TableSchema is the in-memory description of one table, resolved from its
// CREATE TABLE statement and cached until the schema cookie changes.
type TableSchema struct {
	Name         string
	RootPage     pager.PageNo
	Columns      []ColumnSchema
	WithoutRowID bool
	PrimaryKey   []string // table-level PRIMARY KEY(cols), empty if column-level or rowid table
	ForeignKeys  []ForeignKey
	Checks       []sqlparse.Expr
	SQL          string // original CREATE TABLE text, as sqlite_master.sql stores it
}

// ColumnIndex returns the 0-based position of name in t.Columns, or -1.
func (t *TableSchema) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// IndexSchema is the in-memory description of one secondary index.
type IndexSchema struct {
	Name     string
	Table    string
	RootPage pager.PageNo
	Columns  []IndexColumn
	Unique   bool
	Where    sqlparse.Expr // partial index predicate, nil if none
	SQL      string
}

// IndexColumn is one column of a CREATE INDEX column list.
type IndexColumn struct {
	Name string
	Desc bool
}

// ColumnIndex returns the 0-based position of name within the index's
// column list, or -1 if the index does not cover that column.
func (ix *IndexSchema) ColumnIndex(name string) int {
	for i, c := range ix.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Covers reports whether every name in cols appears somewhere in the
// index's column list, which is exactly the condition internal/planner
// uses to choose "COVERING INDEX" over "USING INDEX" in EXPLAIN QUERY PLAN.
func (ix *IndexSchema) Covers(cols []string) bool {
	for _, want := range cols {
		if ix.ColumnIndex(want) < 0 {
			return false
		}
	}
	return true
}

// Resolver is the read-only schema-lookup contract internal/planner and
// internal/codegen consume. *Catalog satisfies it; tests use small fakes.
type Resolver interface {
	Table(name string) (*TableSchema, bool)
	IndexesOn(table string) []*IndexSchema
	Index(name string) (*IndexSchema, bool)
}
