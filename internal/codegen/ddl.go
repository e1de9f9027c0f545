package codegen

import (
	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/catalog"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
)

// ExecDDL runs a schema statement directly against cat and store, bypassing
// the register machine: CREATE/DROP TABLE/INDEX have no per-row shape to
// compile into a Program, so they execute once, immediately, rather than
// through the VM. sql is the statement's original source text, stored
// verbatim in the schema row (sqlite_master-style) so cat.reload can
// re-derive the TableSchema/IndexSchema on every connection without a
// parallel serialization format. Every call that creates or drops a table or
// index bumps the file header's SchemaCookie: other connections compare
// it against their own cached one to notice the change.
func ExecDDL(stmt sqlparse.Statement, sql string, cat *catalog.Catalog, store *btree.PagerStore) error {
	switch s := stmt.(type) {
	case *sqlparse.CreateTable:
		return execCreateTable(s, sql, cat, store)
	case *sqlparse.CreateIndex:
		return execCreateIndex(s, sql, cat, store)
	case *sqlparse.DropTable:
		return execDropTable(s, cat, store)
	case *sqlparse.DropIndex:
		return execDropIndex(s, cat, store)
	default:
		return ferrors.Wrapf(ferrors.ErrMisuse, "", "%T is not a schema statement; see Compile", stmt)
	}
}

func bumpSchemaCookie(store *btree.PagerStore) {
	store.P.UpdateHeader(func(h *pager.FileHeader) { h.SchemaCookie++ })
}

func execCreateTable(ct *sqlparse.CreateTable, sql string, cat *catalog.Catalog, store *btree.PagerStore) error {
	if ct.AsSelect != nil {
		return ferrors.Wrap(ferrors.ErrMisuse, "CREATE TABLE ... AS SELECT is not supported by the code generator", "")
	}
	if _, ok := cat.Table(ct.Name); ok {
		if ct.IfNotExists {
			return nil
		}
		return ferrors.Wrap(ferrors.ErrMisuse, "table already exists: "+ct.Name, "")
	}

	tree, err := btree.Create(store, false)
	if err != nil {
		return err
	}
	if err := cat.PutTable(ct.Name, sql, tree.Root()); err != nil {
		return err
	}
	bumpSchemaCookie(store)
	return nil
}

func execCreateIndex(ci *sqlparse.CreateIndex, sql string, cat *catalog.Catalog, store *btree.PagerStore) error {
	if _, ok := cat.Index(ci.Name); ok {
		if ci.IfNotExists {
			return nil
		}
		return ferrors.Wrap(ferrors.ErrMisuse, "index already exists: "+ci.Name, "")
	}
	ts, ok := cat.Table(ci.Table)
	if !ok {
		return ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+ci.Table, "")
	}
	for _, col := range ci.Columns {
		name := col.Col
		if name == "" {
			continue // expression index columns have no ColumnIndex check to make here
		}
		if ts.ColumnIndex(name) < 0 {
			return ferrors.Wrap(ferrors.ErrMisuse, "no such column: "+name, "")
		}
	}

	tree, err := btree.Create(store, true)
	if err != nil {
		return err
	}
	if err := cat.PutIndex(ci.Name, ci.Table, sql, tree.Root()); err != nil {
		return err
	}
	bumpSchemaCookie(store)
	return nil
}

func execDropTable(dt *sqlparse.DropTable, cat *catalog.Catalog, store *btree.PagerStore) error {
	ts, ok := cat.Table(dt.Name)
	if !ok {
		if dt.IfExists {
			return nil
		}
		return ferrors.Wrap(ferrors.ErrNotFound, "no such table: "+dt.Name, "")
	}
	for _, ix := range cat.IndexesOn(dt.Name) {
		if err := freeTree(store, ix.RootPage, true); err != nil {
			return err
		}
	}
	if err := freeTree(store, ts.RootPage, false); err != nil {
		return err
	}
	if err := cat.DropTable(dt.Name); err != nil {
		return err
	}
	bumpSchemaCookie(store)
	return nil
}

func execDropIndex(di *sqlparse.DropIndex, cat *catalog.Catalog, store *btree.PagerStore) error {
	ix, ok := cat.Index(di.Name)
	if !ok {
		if di.IfExists {
			return nil
		}
		return ferrors.Wrap(ferrors.ErrNotFound, "no such index: "+di.Name, "")
	}
	if err := freeTree(store, ix.RootPage, true); err != nil {
		return err
	}
	if err := cat.DropIndex(di.Name); err != nil {
		return err
	}
	bumpSchemaCookie(store)
	return nil
}

// freeTree deletes every row/entry in the tree rooted at root, then frees
// its root page. There is no whole-tree page-walking free in internal/btree,
// so this drives it the same way a client would: a cursor pass collecting
// keys, then one delete per key.
func freeTree(store *btree.PagerStore, root pager.PageNo, isIndex bool) error {
	tree := btree.Open(store, root, isIndex)
	cur := tree.NewCursor()
	defer cur.Close()

	if isIndex {
		var keys [][]byte
		if err := cur.Rewind(); err != nil {
			return err
		}
		for cur.Valid() {
			cell := cur.IndexLeaf()
			key, err := tree.ResolveKey(cell)
			if err != nil {
				return err
			}
			keys = append(keys, key)
			if err := cur.Next(); err != nil {
				return err
			}
		}
		for _, k := range keys {
			if err := tree.DeleteIndex(k); err != nil {
				return err
			}
		}
	} else {
		var ids []int64
		if err := cur.Rewind(); err != nil {
			return err
		}
		for cur.Valid() {
			ids = append(ids, cur.TableLeaf().RowID)
			if err := cur.Next(); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if err := tree.DeleteTable(id); err != nil {
				return err
			}
		}
	}
	return store.FreePage(root)
}
