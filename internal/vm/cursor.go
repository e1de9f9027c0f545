package vm

import (
	"github.com/google/uuid"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

// cursorKind distinguishes the four OpenXxx flavors.
type cursorKind uint8

const (
	cursorTable cursorKind = iota
	cursorIndex
	cursorEphemeral
	cursorPseudo
)

// vmCursor is one indexed cursor slot, separate from the register array.
type vmCursor struct {
	kind      cursorKind
	tree      *btree.Tree
	cur       *btree.Cursor
	store     *btree.PagerStore
	ephemeral *pager.Pager // non-nil only for OpenEphemeral, closed on Close
	pseudoRow []sqlvalue.Value
	name      string // ephemeral/savepoint naming, random via uuid

	// currentRowID/currentPayload cache the position Column/Rowid read from,
	// refreshed by every movement opcode.
	valid          bool
	currentRowID   int64
	currentPayload []byte
	currentKey     []byte
}

func (c *vmCursor) Close() {
	if c.cur != nil {
		c.cur.Close()
	}
	if c.ephemeral != nil {
		c.ephemeral.Close()
	}
}

func (c *vmCursor) refreshTable() error {
	if !c.cur.Valid() {
		c.valid = false
		return nil
	}
	cell := c.cur.TableLeaf()
	payload, err := c.tree.ResolvePayload(cell)
	if err != nil {
		return err
	}
	c.valid = true
	c.currentRowID = cell.RowID
	c.currentPayload = payload
	return nil
}

func (c *vmCursor) refreshIndex() error {
	if !c.cur.Valid() {
		c.valid = false
		return nil
	}
	cell := c.cur.IndexLeaf()
	key, err := c.tree.ResolveKey(cell)
	if err != nil {
		return err
	}
	c.valid = true
	c.currentKey = key
	return nil
}

func (c *vmCursor) row() ([]sqlvalue.Value, error) {
	switch c.kind {
	case cursorPseudo:
		return c.pseudoRow, nil
	case cursorTable:
		return sqlvalue.DecodeRecord(c.currentPayload)
	case cursorIndex, cursorEphemeral:
		return sqlvalue.DecodeRecord(c.currentKey)
	default:
		return nil, ferrors.Wrap(ferrors.ErrMisuse, "row() on closed cursor", "")
	}
}

// newEphemeralName returns a collision-free name for an ephemeral b-tree or
// savepoint token, so two ephemeral trees opened in the same statement
// never collide in the catalog's temp namespace.
func newEphemeralName() string { return "temp." + uuid.NewString() }
