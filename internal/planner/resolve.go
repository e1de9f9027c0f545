package planner

import (
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// ScopeEntry is one FROM/JOIN source resolved against the schema: its
// exposed name (alias if given, else the table name) and the columns
// visible under it, in declaration order. A subquery source must be
// aliased and exposes its own projection list as columns.
type ScopeEntry struct {
	Name    string // alias or table name, used to resolve "name.col"
	Table   string // empty for a subquery source
	Columns []string
}

// buildScope resolves a Select's FROM and JOIN clauses into an ordered
// list of ScopeEntry, one per source, the flat ordinal space codegen's
// OpColumn addressing walks.
func buildScope(sel *sqlparse.Select, schema catalog.Resolver) ([]ScopeEntry, error) {
	var scope []ScopeEntry
	add := func(item *sqlparse.FromItem) error {
		e, err := resolveFromItem(item, schema)
		if err != nil {
			return err
		}
		scope = append(scope, e)
		return nil
	}
	if sel.From != nil {
		if err := add(sel.From); err != nil {
			return nil, err
		}
	}
	for i := range sel.Joins {
		j := &sel.Joins[i]
		if err := add(&j.Right); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

func resolveFromItem(item *sqlparse.FromItem, schema catalog.Resolver) (ScopeEntry, error) {
	name := item.Alias
	if item.Subquery != nil {
		if name == "" {
			return ScopeEntry{}, ferrors.Wrap(ferrors.ErrMisuse, "subquery in FROM requires an alias", "")
		}
		cols := make([]string, 0, len(item.Subquery.Projs))
		for _, p := range item.Subquery.Projs {
			cols = append(cols, projColumnName(p))
		}
		return ScopeEntry{Name: name, Columns: cols}, nil
	}
	ts, ok := schema.Table(item.Table)
	if !ok {
		return ScopeEntry{}, ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+item.Table, "")
	}
	if name == "" {
		name = item.Table
	}
	cols := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		cols[i] = c.Name
	}
	return ScopeEntry{Name: name, Table: item.Table, Columns: cols}, nil
}

func projColumnName(p sqlparse.SelectItem) string {
	if p.Alias != "" {
		return p.Alias
	}
	if vr, ok := p.Expr.(*sqlparse.VarRef); ok {
		return vr.Name
	}
	return ""
}

// ResolveColumn finds the (scope index, column index) a VarRef refers to.
// A qualified ref ("t.col") only searches the named scope; a bare ref
// searches every scope and is an error if more than one exposes it,
// mirroring the ambiguous-column-name rule every SQL engine applies.
func ResolveColumn(scope []ScopeEntry, ref *sqlparse.VarRef) (scopeIdx, colIdx int, err error) {
	if ref.Table != "" {
		for si, e := range scope {
			if e.Name != ref.Table {
				continue
			}
			for ci, c := range e.Columns {
				if c == ref.Name {
					return si, ci, nil
				}
			}
			return 0, 0, ferrors.Wrap(ferrors.ErrNotFound, "no such column: "+ref.Table+"."+ref.Name, "")
		}
		return 0, 0, ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+ref.Table, "")
	}
	found := -1
	foundCol := -1
	for si, e := range scope {
		for ci, c := range e.Columns {
			if c == ref.Name {
				if found != -1 {
					return 0, 0, ferrors.Wrap(ferrors.ErrMisuse, "ambiguous column name: "+ref.Name, "")
				}
				found, foundCol = si, ci
			}
		}
	}
	if found == -1 {
		return 0, 0, ferrors.Wrap(ferrors.ErrNotFound, "no such column: "+ref.Name, "")
	}
	return found, foundCol, nil
}

// resolveAllNames checks that every VarRef the statement's scalar clauses
// touch resolves unambiguously against scope, surfacing "no such column"
// and "ambiguous column name" errors before any plan node is built
// instead of at execution time.
func resolveAllNames(sel *sqlparse.Select, scope []ScopeEntry) error {
	check := func(e sqlparse.Expr) error {
		for _, r := range referencedVarRefs(e) {
			if _, _, err := ResolveColumn(scope, r); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range sel.Projs {
		if p.Star {
			continue
		}
		if err := check(p.Expr); err != nil {
			return err
		}
	}
	if err := check(sel.Where); err != nil {
		return err
	}
	for _, g := range sel.GroupBy {
		if err := check(g); err != nil {
			return err
		}
	}
	if err := check(sel.Having); err != nil {
		return err
	}
	for _, o := range sel.OrderBy {
		if o.Expr != nil {
			if err := check(o.Expr); err != nil {
				return err
			}
		}
	}
	for i := range sel.Joins {
		if err := check(sel.Joins[i].On); err != nil {
			return err
		}
	}
	return nil
}
