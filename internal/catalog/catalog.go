package catalog

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

// Catalog is the schema table, keyed by rowid, value = the sqlite_master
// row tuple (type, name, tbl_name, rootpage, sql), plus the in-memory
// mirror resolved from it. The root page is always pager.FileHeaderPage
// so every connection to the same file finds the schema the same way,
// without a separate bootstrap record.
type Catalog struct {
	mu   sync.RWMutex
	tree *btree.Tree

	tables  map[string]*TableSchema
	indexes map[string]*IndexSchema
	byTable map[string][]*IndexSchema

	loadGroup singleflight.Group
}

// row is the on-disk shape of one schema entry, mirroring sqlite_master.
type row struct {
	Type    ObjectType
	Name    string
	TblName string
	RootPg  pager.PageNo
	SQL     string
}

func encodeRow(r row) []byte {
	return sqlvalue.EncodeRecord([]sqlvalue.Value{
		sqlvalue.Text(string(r.Type)),
		sqlvalue.Text(r.Name),
		sqlvalue.Text(r.TblName),
		sqlvalue.Integer(int64(r.RootPg)),
		sqlvalue.Text(r.SQL),
	})
}

func decodeRow(buf []byte) (row, error) {
	vals, err := sqlvalue.DecodeRecord(buf)
	if err != nil {
		return row{}, err
	}
	if len(vals) != 5 {
		return row{}, ferrors.Wrapf(ferrors.ErrCorrupt, "", "catalog row: expected 5 fields, got %d", len(vals))
	}
	return row{
		Type:    ObjectType(vals[0].Text()),
		Name:    vals[1].Text(),
		TblName: vals[2].Text(),
		RootPg:  pager.PageNo(vals[3].Int()),
		SQL:     vals[4].Text(),
	}, nil
}

// Open attaches to the schema tree rooted at page 1, creating it (as an
// empty table-leaf sharing that page with the file header) on a brand new
// database, then loads the in-memory mirror.
func Open(store btree.Store) (*Catalog, error) {
	buf, err := store.ReadPage(pager.FileHeaderPage)
	if err != nil {
		return nil, err
	}
	if pager.PageKindOf(buf) != pager.KindTableLeaf {
		btree.InitNode(buf, pager.FileHeaderPage, pager.KindTableLeaf, true, false)
		if err := store.WritePage(pager.FileHeaderPage, buf); err != nil {
			store.UnpinPage(pager.FileHeaderPage)
			return nil, err
		}
	}
	store.UnpinPage(pager.FileHeaderPage)

	c := &Catalog{tree: btree.Open(store, pager.FileHeaderPage, false)}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// reload scans the whole schema tree and rebuilds the in-memory mirror.
// Concurrent reloaders (e.g. several connections racing a schema-cookie
// bump on a shared cache) collapse onto one actual scan via singleflight.
func (c *Catalog) reload() error {
	_, err, _ := c.loadGroup.Do("reload", func() (any, error) {
		tables := map[string]*TableSchema{}
		indexes := map[string]*IndexSchema{}
		byTable := map[string][]*IndexSchema{}

		cur := c.tree.NewCursor()
		defer cur.Close()
		if err := cur.Rewind(); err != nil {
			return nil, err
		}
		for cur.Valid() {
			cell := cur.TableLeaf()
			payload, err := c.tree.ResolvePayload(cell)
			if err != nil {
				return nil, err
			}
			r, err := decodeRow(payload)
			if err != nil {
				return nil, err
			}
			switch r.Type {
			case ObjectTable:
				ts, err := parseCreateTableSQL(r.SQL)
				if err != nil {
					return nil, err
				}
				ts.RootPage = r.RootPg
				tables[r.Name] = ts
			case ObjectIndex:
				ix, err := parseCreateIndexSQL(r.SQL)
				if err != nil {
					return nil, err
				}
				ix.RootPage = r.RootPg
				indexes[r.Name] = ix
				byTable[ix.Table] = append(byTable[ix.Table], ix)
			}
			if err := cur.Next(); err != nil {
				return nil, err
			}
		}
		c.mu.Lock()
		c.tables, c.indexes, c.byTable = tables, indexes, byTable
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// Table resolves a table by name.
func (c *Catalog) Table(name string) (*TableSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

// Index resolves an index by name.
func (c *Catalog) Index(name string) (*IndexSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ix, ok := c.indexes[name]
	return ix, ok
}

// IndexesOn returns every index defined on table, in creation order.
func (c *Catalog) IndexesOn(table string) []*IndexSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*IndexSchema(nil), c.byTable[table]...)
}

// Tables returns every table name currently registered, unordered.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	return names
}

func (c *Catalog) nextRowID() (int64, error) {
	cur := c.tree.NewCursor()
	defer cur.Close()
	if err := cur.Last(); err != nil {
		return 0, err
	}
	if !cur.Valid() {
		return 1, nil
	}
	return cur.TableLeaf().RowID + 1, nil
}

// PutTable appends a schema row for a table at the next free rowid and
// refreshes the in-memory mirror; an existing row with the same name is not
// removed. Callers are responsible for bumping the file header's
// SchemaCookie so other connections notice the change.
func (c *Catalog) PutTable(name, sql string, rootPage pager.PageNo) error {
	id, err := c.nextRowID()
	if err != nil {
		return err
	}
	payload := encodeRow(row{Type: ObjectTable, Name: name, TblName: name, RootPg: rootPage, SQL: sql})
	if err := c.tree.InsertTable(id, payload); err != nil {
		return err
	}
	return c.reload()
}

// PutIndex appends a schema row for an index at the next free rowid and
// refreshes the in-memory mirror; an existing row with the same name is not
// removed.
func (c *Catalog) PutIndex(name, table, sql string, rootPage pager.PageNo) error {
	id, err := c.nextRowID()
	if err != nil {
		return err
	}
	payload := encodeRow(row{Type: ObjectIndex, Name: name, TblName: table, RootPg: rootPage, SQL: sql})
	if err := c.tree.InsertTable(id, payload); err != nil {
		return err
	}
	return c.reload()
}

// dropByName removes every schema row whose name matches, used by both
// DropTable (also dropping indexes whose TblName == name) and DropIndex.
func (c *Catalog) dropByName(match func(r row) bool) error {
	cur := c.tree.NewCursor()
	defer cur.Close()
	if err := cur.Rewind(); err != nil {
		return err
	}
	var doomed []int64
	for cur.Valid() {
		cell := cur.TableLeaf()
		payload, err := c.tree.ResolvePayload(cell)
		if err != nil {
			return err
		}
		r, err := decodeRow(payload)
		if err != nil {
			return err
		}
		if match(r) {
			doomed = append(doomed, cell.RowID)
		}
		if err := cur.Next(); err != nil {
			return err
		}
	}
	for _, id := range doomed {
		if err := c.tree.DeleteTable(id); err != nil {
			return err
		}
	}
	return c.reload()
}

// DropTable removes a table's schema row and every index row naming it.
func (c *Catalog) DropTable(name string) error {
	return c.dropByName(func(r row) bool {
		return (r.Type == ObjectTable && r.Name == name) || (r.Type == ObjectIndex && r.TblName == name)
	})
}

// DropIndex removes one index's schema row.
func (c *Catalog) DropIndex(name string) error {
	return c.dropByName(func(r row) bool { return r.Type == ObjectIndex && r.Name == name })
}
