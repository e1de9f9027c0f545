package btree

import (
	"bytes"

	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
)

// frame is one level of a Cursor's explicit page stack: the page visited
// and the slot index taken to reach the next level down. An explicit
// stack is used rather than parent pointers, since a page can be
// reparented by a split/merge elsewhere in the tree without every cached
// child needing to learn about it.
type frame struct {
	no   pager.PageNo
	node *Node
	slot int
}

// Cursor walks a Tree leaf-to-leaf, keeping the path from root to current
// leaf on an explicit stack rather than in parent pointers. Next/Prev cross
// leaf boundaries through the leaves' sibling links, not by climbing the
// stack.
type Cursor struct {
	tree  *Tree
	stack []frame
	valid bool
}

func newCursor(t *Tree) *Cursor { return &Cursor{tree: t} }

// Close unpins every page this cursor is still holding.
func (c *Cursor) Close() {
	for _, f := range c.stack {
		c.tree.store.UnpinPage(f.no)
	}
	c.stack = nil
	c.valid = false
}

func (c *Cursor) top() *frame { return &c.stack[len(c.stack)-1] }

func (c *Cursor) descendTo(no pager.PageNo, push func(n *Node) int) error {
	for {
		buf, err := c.tree.store.ReadPage(no)
		if err != nil {
			return err
		}
		n := WrapNode(buf, no)
		slot := push(n)
		c.stack = append(c.stack, frame{no: no, node: n, slot: slot})
		if n.IsLeaf() {
			return nil
		}
		child := c.childAt(n, slot)
		no = child
	}
}

func (c *Cursor) childAt(n *Node, slot int) pager.PageNo {
	if slot >= n.CellCount() {
		return n.RightChild()
	}
	if n.IsIndex() {
		return ParseIndexInterior(n.RawCell(slot)).ChildPage
	}
	return ParseTableInterior(n.RawCell(slot)).ChildPage
}

// Rewind positions the cursor at the first entry of the tree.
func (c *Cursor) Rewind() error {
	c.Close()
	if c.tree.root == pager.InvalidPageNo {
		c.valid = false
		return nil
	}
	if err := c.descendTo(c.tree.root, func(n *Node) int { return 0 }); err != nil {
		return err
	}
	c.valid = c.top().node.CellCount() > 0
	return nil
}

// Last positions the cursor at the final entry of the tree.
func (c *Cursor) Last() error {
	c.Close()
	if c.tree.root == pager.InvalidPageNo {
		c.valid = false
		return nil
	}
	if err := c.descendTo(c.tree.root, func(n *Node) int { return n.CellCount() }); err != nil {
		return err
	}
	if f := c.top(); f.node.CellCount() > 0 {
		f.slot = f.node.CellCount() - 1
		c.valid = true
	} else {
		c.valid = false
	}
	return nil
}

// SeekRowID positions a table-tree cursor at rowid, or the first rowid
// greater than it if absent (found reports an exact match).
func (c *Cursor) SeekRowID(rowid int64) (found bool, err error) {
	c.Close()
	no := c.tree.root
	if no == pager.InvalidPageNo {
		c.valid = false
		return false, nil
	}
	for {
		buf, err := c.tree.store.ReadPage(no)
		if err != nil {
			return false, err
		}
		n := WrapNode(buf, no)
		pos, exact := searchTableNode(n, rowid)
		c.stack = append(c.stack, frame{no: no, node: n, slot: pos})
		if n.IsLeaf() {
			c.valid = pos < n.CellCount()
			return exact, nil
		}
		no = c.childAt(n, pos)
	}
}

// SeekKey positions an index-tree cursor at the first entry >= key.
func (c *Cursor) SeekKey(key []byte) (found bool, err error) {
	c.Close()
	no := c.tree.root
	if no == pager.InvalidPageNo {
		c.valid = false
		return false, nil
	}
	for {
		buf, err := c.tree.store.ReadPage(no)
		if err != nil {
			return false, err
		}
		n := WrapNode(buf, no)
		pos, exact := searchIndexNode(n, key)
		c.stack = append(c.stack, frame{no: no, node: n, slot: pos})
		if n.IsLeaf() {
			c.valid = pos < n.CellCount()
			return exact, nil
		}
		no = c.childAt(n, pos)
	}
}

func searchTableNode(n *Node, rowid int64) (pos int, exact bool) {
	count := n.CellCount()
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		var k int64
		if n.IsLeaf() {
			k = ParseTableLeaf(n.RawCell(mid)).RowID
		} else {
			k = ParseTableInterior(n.RawCell(mid)).RowID
		}
		if k < rowid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < count {
		var k int64
		if n.IsLeaf() {
			k = ParseTableLeaf(n.RawCell(lo)).RowID
		} else {
			k = ParseTableInterior(n.RawCell(lo)).RowID
		}
		exact = k == rowid
	}
	return lo, exact
}

func searchIndexNode(n *Node, key []byte) (pos int, exact bool) {
	count := n.CellCount()
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		var k []byte
		if n.IsLeaf() {
			k = ParseIndexLeaf(n.RawCell(mid)).Key
		} else {
			k = ParseIndexInterior(n.RawCell(mid)).Key
		}
		if bytes.Compare(k, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < count {
		var k []byte
		if n.IsLeaf() {
			k = ParseIndexLeaf(n.RawCell(lo)).Key
		} else {
			k = ParseIndexInterior(n.RawCell(lo)).Key
		}
		exact = bytes.Equal(k, key)
	}
	return lo, exact
}

// Valid reports whether the cursor is positioned on a real entry.
func (c *Cursor) Valid() bool { return c.valid }

// Next advances to the following entry, crossing a leaf boundary by
// following the leaf's next-sibling link and restarting the stack there.
func (c *Cursor) Next() error {
	if !c.valid {
		return ferrors.Wrap(ferrors.ErrMisuse, "Next on invalid cursor", "")
	}
	f := c.top()
	f.slot++
	if f.slot < f.node.CellCount() {
		return nil
	}
	next := f.node.NextLeaf()
	if next == pager.InvalidPageNo {
		c.valid = false
		return nil
	}
	c.Close()
	if err := c.descendTo(next, func(n *Node) int { return 0 }); err != nil {
		return err
	}
	c.valid = c.top().node.CellCount() > 0
	return nil
}

// Prev retreats to the preceding entry via the leaf's back-link.
func (c *Cursor) Prev() error {
	if !c.valid {
		return ferrors.Wrap(ferrors.ErrMisuse, "Prev on invalid cursor", "")
	}
	f := c.top()
	if f.slot > 0 {
		f.slot--
		return nil
	}
	prev := f.node.PrevLeaf()
	if prev == pager.InvalidPageNo {
		c.valid = false
		return nil
	}
	c.Close()
	if err := c.descendTo(prev, func(n *Node) int { return n.CellCount() }); err != nil {
		return err
	}
	if f := c.top(); f.node.CellCount() > 0 {
		f.slot = f.node.CellCount() - 1
		c.valid = true
	} else {
		c.valid = false
	}
	return nil
}

// TableLeaf returns the current table-tree leaf cell. Only valid when
// Valid() and the tree is a table tree.
func (c *Cursor) TableLeaf() TableLeafCell {
	f := c.top()
	return ParseTableLeaf(f.node.RawCell(f.slot))
}

// IndexLeaf returns the current index-tree leaf cell.
func (c *Cursor) IndexLeaf() IndexLeafCell {
	f := c.top()
	return ParseIndexLeaf(f.node.RawCell(f.slot))
}
