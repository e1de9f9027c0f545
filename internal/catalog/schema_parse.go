package catalog

import (
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// parseCreateTableSQL re-parses a stored CREATE TABLE statement into a
// TableSchema. The schema catalog stores SQL text (sqlite_master.sql, spec
// §6), not a pre-resolved struct, so every reload re-derives the mirror
// from source the same way a fresh connection opening the file would.
func parseCreateTableSQL(sql string) (*TableSchema, error) {
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "re-parse stored schema: %v", err)
	}
	ct, ok := stmt.(*sqlparse.CreateTable)
	if !ok {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "stored table schema is not CREATE TABLE: %q", sql)
	}
	ts := &TableSchema{
		Name:         ct.Name,
		WithoutRowID: ct.WithoutRowID,
		SQL:          sql,
	}
	for _, col := range ct.Cols {
		ts.Columns = append(ts.Columns, ColumnSchema{
			Name:          col.Name,
			TypeName:      col.TypeName,
			PrimaryKey:    col.PrimaryKey,
			AutoIncrement: col.AutoIncrement,
			NotNull:       col.NotNull,
			Unique:        col.Unique,
			Collate:       col.Collate,
			Default:       col.Default,
			Check:         col.Check,
		})
		if col.PrimaryKey {
			ts.PrimaryKey = append(ts.PrimaryKey, col.Name)
		}
		if col.References != nil {
			ts.ForeignKeys = append(ts.ForeignKeys, ForeignKey{
				Columns:    []string{col.Name},
				RefTable:   col.References.Table,
				RefColumns: []string{col.References.Column},
			})
		}
		if col.Check != nil {
			ts.Checks = append(ts.Checks, col.Check)
		}
	}
	for _, tc := range ct.Constraints {
		switch tc.Kind {
		case sqlparse.ConstraintPrimaryKey:
			ts.PrimaryKey = append(ts.PrimaryKey, tc.Columns...)
		case sqlparse.ConstraintForeignKey:
			if tc.FK != nil {
				ts.ForeignKeys = append(ts.ForeignKeys, ForeignKey{
					Columns:    tc.Columns,
					RefTable:   tc.FK.Table,
					RefColumns: []string{tc.FK.Column},
				})
			}
		case sqlparse.ConstraintCheck:
			if tc.Check != nil {
				ts.Checks = append(ts.Checks, tc.Check)
			}
		}
	}
	return ts, nil
}

// parseCreateIndexSQL re-parses a stored CREATE INDEX statement.
func parseCreateIndexSQL(sql string) (*IndexSchema, error) {
	stmt, err := sqlparse.NewParser(sql).ParseStatement()
	if err != nil {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "re-parse stored schema: %v", err)
	}
	ci, ok := stmt.(*sqlparse.CreateIndex)
	if !ok {
		return nil, ferrors.Wrapf(ferrors.ErrCorrupt, "", "stored index schema is not CREATE INDEX: %q", sql)
	}
	ix := &IndexSchema{
		Name:   ci.Name,
		Table:  ci.Table,
		Unique: ci.Unique,
		Where:  ci.Where,
		SQL:    sql,
	}
	for _, c := range ci.Columns {
		ix.Columns = append(ix.Columns, IndexColumn{Name: c.Col, Desc: c.Desc})
	}
	return ix, nil
}
