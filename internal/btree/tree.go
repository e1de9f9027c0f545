package btree

import (
	"encoding/binary"

	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
)

// Tree is a table tree (IsIndex==false, keyed by int64 rowid) or an index
// tree (IsIndex==true, keyed by an encoded record tuple). Both share
// node.go's page layout and the split/insert algorithm below; only key
// comparison and cell marshaling differ, dispatched on IsIndex.
type Tree struct {
	store   Store
	root    pager.PageNo
	isIndex bool
}

// Open wraps an existing tree rooted at root.
func Open(store Store, root pager.PageNo, isIndex bool) *Tree {
	return &Tree{store: store, root: root, isIndex: isIndex}
}

// IsIndex reports whether this tree is keyed by an encoded record (true) or
// by int64 rowid (false), so callers holding only a *Tree (e.g. the VM's
// ephemeral cursors, which can be either shape) can dispatch correctly.
func (t *Tree) IsIndex() bool { return t.isIndex }

// Create allocates a fresh, empty tree and returns it with its root page.
func Create(store Store, isIndex bool) (*Tree, error) {
	no, buf := store.AllocPage()
	kind := pager.KindTableLeaf
	if isIndex {
		kind = pager.KindIndexLeaf
	}
	InitNode(buf, no, kind, true, isIndex)
	if err := store.WritePage(no, buf); err != nil {
		return nil, err
	}
	store.UnpinPage(no)
	return &Tree{store: store, root: no, isIndex: isIndex}, nil
}

// Root returns the tree's root page number, for recording in the catalog.
func (t *Tree) Root() pager.PageNo { return t.root }

// ResolvePayload returns c's full payload, following its overflow chain if
// the row didn't fit inline.
func (t *Tree) ResolvePayload(c TableLeafCell) ([]byte, error) {
	if !c.Overflow {
		return c.Payload, nil
	}
	return ReadOverflow(t.store, c.OverflowPage, int(c.TotalSize))
}

// ResolveKey returns c's full key, following its overflow chain if needed.
func (t *Tree) ResolveKey(c IndexLeafCell) ([]byte, error) {
	if !c.Overflow {
		return c.Key, nil
	}
	return ReadOverflow(t.store, c.OverflowPage, int(c.TotalSize))
}

// NewCursor returns a cursor over this tree.
func (t *Tree) NewCursor() *Cursor { return newCursor(t) }

func (t *Tree) interiorKind() pager.PageKind {
	if t.isIndex {
		return pager.KindIndexInterior
	}
	return pager.KindTableInterior
}

func (t *Tree) leafKind() pager.PageKind {
	if t.isIndex {
		return pager.KindIndexLeaf
	}
	return pager.KindTableLeaf
}

// InsertTable inserts or overwrites the row at rowid in a table tree.
func (t *Tree) InsertTable(rowid int64, payload []byte) error {
	if t.isIndex {
		return ferrors.Wrap(ferrors.ErrMisuse, "InsertTable on an index tree", "")
	}
	cell, err := t.prepareTableLeaf(rowid, payload)
	if err != nil {
		return err
	}
	return t.insert(func(n *Node) (pos int, exact bool) { return searchTableNode(n, rowid) }, MarshalTableLeaf(cell), rowid, nil)
}

func (t *Tree) prepareTableLeaf(rowid int64, payload []byte) (TableLeafCell, error) {
	if len(payload) <= maxInlinePayload(t.store.PageSize()) {
		return TableLeafCell{RowID: rowid, Payload: payload}, nil
	}
	head, err := WriteOverflow(t.store, payload)
	if err != nil {
		return TableLeafCell{}, err
	}
	return TableLeafCell{RowID: rowid, Overflow: true, OverflowPage: head, TotalSize: uint32(len(payload))}, nil
}

// InsertIndex inserts a key into an index tree. Non-unique indexes encode
// the distinguishing rowid as a trailing field of key itself, so two
// calls with different keys never collide even when their SQL-level
// column values tie.
func (t *Tree) InsertIndex(key []byte) error {
	if !t.isIndex {
		return ferrors.Wrap(ferrors.ErrMisuse, "InsertIndex on a table tree", "")
	}
	cell := IndexLeafCell{Key: key}
	if len(key) > maxInlinePayload(t.store.PageSize()) {
		head, err := WriteOverflow(t.store, key)
		if err != nil {
			return err
		}
		cell = IndexLeafCell{Overflow: true, OverflowPage: head, TotalSize: uint32(len(key))}
	}
	return t.insert(func(n *Node) (pos int, exact bool) { return searchIndexNode(n, key) }, MarshalIndexLeaf(cell), 0, key)
}

func maxInlinePayload(pageSize int) int {
	// Leave room for several cells per leaf page even for the largest
	// payload that still counts as "inline".
	return pageSize / 4
}

// insert is the shared top-down search + bottom-up split algorithm. search
// locates the leaf insertion position; leafRaw is the pre-marshaled cell.
// sortRowID/sortKey identify the new entry for separator construction when
// a split is required.
func (t *Tree) insert(search func(n *Node) (int, bool), leafRaw []byte, sortRowID int64, sortKey []byte) error {
	if t.root == pager.InvalidPageNo {
		created, err := Create(t.store, t.isIndex)
		if err != nil {
			return err
		}
		t.root = created.root
	}

	var stack []frame
	no := t.root
	for {
		buf, err := t.store.ReadPage(no)
		if err != nil {
			return err
		}
		n := WrapNode(buf, no)
		pos, exact := search(n)
		stack = append(stack, frame{no: no, node: n, slot: pos})
		if n.IsLeaf() {
			if exact && !t.isIndex {
				n.DeleteAt(pos) // overwrite: table rowid is a primary key
			}
			break
		}
		no = t.childAt(n, pos)
	}
	defer func() {
		for _, f := range stack {
			t.store.UnpinPage(f.no)
		}
	}()

	leaf := stack[len(stack)-1]
	if err := leaf.node.InsertRawAt(leaf.slot, leafRaw); err == nil {
		return t.store.WritePage(leaf.no, leaf.node.Bytes())
	}

	// No room: split the leaf and propagate a new separator upward.
	return t.splitAndInsert(stack, leafRaw)
}

func (t *Tree) childAt(n *Node, slot int) pager.PageNo {
	if slot >= n.CellCount() {
		return n.RightChild()
	}
	if t.isIndex {
		return ParseIndexInterior(n.RawCell(slot)).ChildPage
	}
	return ParseTableInterior(n.RawCell(slot)).ChildPage
}

// splitAndInsert splits the leaf at the bottom of stack, inserting newRaw
// into whichever half it belongs in, then walks back up the stack splitting
// interior nodes as needed and finally growing a new root if the split
// reaches the top.
func (t *Tree) splitAndInsert(stack []frame, newRaw []byte) error {
	level := len(stack) - 1
	leaf := stack[level]

	allRaw := collectRaw(leaf.node)
	allRaw = insertAt(allRaw, leaf.slot, newRaw)

	rightNo, rightBuf := t.store.AllocPage()
	InitNode(rightBuf, rightNo, t.leafKind(), true, t.isIndex)
	right := WrapNode(rightBuf, rightNo)

	mid := len(allRaw) / 2
	leftRaw, rightRaw := allRaw[:mid], allRaw[mid:]

	rebuild(leaf.node, leftRaw)
	rebuild(right, rightRaw)

	right.SetNextLeaf(leaf.node.NextLeaf())
	right.SetPrevLeaf(leaf.no)
	leaf.node.SetNextLeaf(rightNo)

	if err := t.store.WritePage(leaf.no, leaf.node.Bytes()); err != nil {
		return err
	}
	if err := t.store.WritePage(rightNo, right.Bytes()); err != nil {
		return err
	}

	// The separator is the left half's last key: the left child holds every
	// key <= separator, which is how searchTableNode/searchIndexNode route.
	sepRaw := leftRaw[len(leftRaw)-1]
	sepRowID, sepKey := t.separatorOf(sepRaw)

	return t.propagateSplit(stack, level-1, leaf.no, rightNo, sepRowID, sepKey)
}

func (t *Tree) separatorOf(leafRaw []byte) (int64, []byte) {
	if t.isIndex {
		return 0, ParseIndexLeaf(leafRaw).Key
	}
	return ParseTableLeaf(leafRaw).RowID, nil
}

// propagateSplit inserts a separator for (leftChild, rightChild) into the
// interior node at stack[level], splitting it too if it has no room, all
// the way up to and including growing a new root.
func (t *Tree) propagateSplit(stack []frame, level int, leftChild, rightChild pager.PageNo, sepRowID int64, sepKey []byte) error {
	if level < 0 {
		// Splitting the root: grow a new one.
		newRootNo, newRootBuf := t.store.AllocPage()
		InitNode(newRootBuf, newRootNo, t.interiorKind(), false, t.isIndex)
		root := WrapNode(newRootBuf, newRootNo)
		var sepRaw []byte
		if t.isIndex {
			sepRaw = MarshalIndexInterior(IndexInteriorCell{ChildPage: leftChild, Key: sepKey})
		} else {
			sepRaw = MarshalTableInterior(TableInteriorCell{ChildPage: leftChild, RowID: sepRowID})
		}
		if err := root.InsertRawAt(0, sepRaw); err != nil {
			return err
		}
		root.SetRightChild(rightChild)
		if err := t.store.WritePage(newRootNo, root.Bytes()); err != nil {
			return err
		}
		t.root = newRootNo
		return nil
	}

	f := stack[level]
	var sepRaw []byte
	if t.isIndex {
		sepRaw = MarshalIndexInterior(IndexInteriorCell{ChildPage: leftChild, Key: sepKey})
	} else {
		sepRaw = MarshalTableInterior(TableInteriorCell{ChildPage: leftChild, RowID: sepRowID})
	}

	if err := f.node.InsertRawAt(f.slot, sepRaw); err == nil {
		// The node's old entry for this slot (now the cell just after the
		// new separator, or RightChild) still points at leftChild; the keys
		// it covers above the separator now live in rightChild, so repoint
		// it there. Every interior cell starts with its 4-byte ChildPage.
		if f.slot+1 < f.node.CellCount() {
			binary.LittleEndian.PutUint32(f.node.RawCell(f.slot+1), uint32(rightChild))
		} else {
			f.node.SetRightChild(rightChild)
		}
		return t.store.WritePage(f.no, f.node.Bytes())
	}

	// Interior node also full: split it the same way, promoting its own
	// middle separator further up the stack.
	allRaw := collectRaw(f.node)
	allRaw = insertAt(allRaw, f.slot, sepRaw)

	rightNo, rightBuf := t.store.AllocPage()
	InitNode(rightBuf, rightNo, t.interiorKind(), false, t.isIndex)
	rightNode := WrapNode(rightBuf, rightNo)

	mid := len(allRaw) / 2
	promoted := allRaw[mid]
	leftRaw := allRaw[:mid]
	rightRaw := allRaw[mid+1:]

	oldRightChild := f.node.RightChild()
	if f.slot+1 < len(allRaw) {
		binary.LittleEndian.PutUint32(allRaw[f.slot+1], uint32(rightChild))
	} else {
		oldRightChild = rightChild
	}
	rebuild(f.node, leftRaw)
	rebuild(rightNode, rightRaw)
	rightNode.SetRightChild(oldRightChild)

	var promotedRowID int64
	var promotedKey []byte
	var promotedChild pager.PageNo
	if t.isIndex {
		pc := ParseIndexInterior(promoted)
		promotedChild, promotedKey = pc.ChildPage, pc.Key
	} else {
		pc := ParseTableInterior(promoted)
		promotedChild, promotedRowID = pc.ChildPage, pc.RowID
	}
	f.node.SetRightChild(promotedChild)

	if err := t.store.WritePage(f.no, f.node.Bytes()); err != nil {
		return err
	}
	if err := t.store.WritePage(rightNo, rightNode.Bytes()); err != nil {
		return err
	}

	return t.propagateSplit(stack, level-1, f.no, rightNo, promotedRowID, promotedKey)
}

func collectRaw(n *Node) [][]byte {
	count := n.CellCount()
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = append([]byte{}, n.RawCell(i)...)
	}
	return out
}

func insertAt(cells [][]byte, pos int, raw []byte) [][]byte {
	out := make([][]byte, 0, len(cells)+1)
	out = append(out, cells[:pos]...)
	out = append(out, raw)
	out = append(out, cells[pos:]...)
	return out
}

func rebuild(n *Node, cells [][]byte) {
	n.setCellCount(0)
	n.setContentStart(n.trailer)
	for i, c := range cells {
		_ = n.InsertRawAt(i, c)
	}
}

// DeleteTable removes rowid from a table tree. No-op if absent.
func (t *Tree) DeleteTable(rowid int64) error {
	return t.delete(func(n *Node) (int, bool) { return searchTableNode(n, rowid) }, func(raw []byte) (overflow bool, page pager.PageNo) {
		c := ParseTableLeaf(raw)
		return c.Overflow, c.OverflowPage
	})
}

// DeleteIndex removes an exact key from an index tree. No-op if absent.
func (t *Tree) DeleteIndex(key []byte) error {
	return t.delete(func(n *Node) (int, bool) { return searchIndexNode(n, key) }, func(raw []byte) (overflow bool, page pager.PageNo) {
		c := ParseIndexLeaf(raw)
		return c.Overflow, c.OverflowPage
	})
}

// delete removes the matched cell from its leaf. If the leaf becomes empty
// and is not the root, it is unlinked from its parent and its page freed —
// a simplified rebalance that preserves correctness and sortedness without
// borrowing from siblings on underflow.
func (t *Tree) delete(search func(n *Node) (int, bool), overflowOf func(raw []byte) (bool, pager.PageNo)) error {
	if t.root == pager.InvalidPageNo {
		return nil
	}
	var stack []frame
	no := t.root
	for {
		buf, err := t.store.ReadPage(no)
		if err != nil {
			return err
		}
		n := WrapNode(buf, no)
		pos, exact := search(n)
		stack = append(stack, frame{no: no, node: n, slot: pos})
		if n.IsLeaf() {
			if !exact {
				for _, f := range stack {
					t.store.UnpinPage(f.no)
				}
				return nil
			}
			break
		}
		no = t.childAt(n, pos)
	}
	defer func() {
		for _, f := range stack {
			t.store.UnpinPage(f.no)
		}
	}()

	leaf := stack[len(stack)-1]
	if overflow, page := overflowOf(leaf.node.RawCell(leaf.slot)); overflow {
		if err := FreeOverflow(t.store, page); err != nil {
			return err
		}
	}
	leaf.node.DeleteAt(leaf.slot)

	if leaf.node.CellCount() > 0 || len(stack) == 1 {
		return t.store.WritePage(leaf.no, leaf.node.Bytes())
	}

	// Leaf emptied out and isn't the root: splice it out of the sibling
	// chain and drop the parent's separator pointing at it.
	prev, next := leaf.node.PrevLeaf(), leaf.node.NextLeaf()
	if prev != pager.InvalidPageNo {
		if pbuf, err := t.store.ReadPage(prev); err == nil {
			pn := WrapNode(pbuf, prev)
			pn.SetNextLeaf(next)
			_ = t.store.WritePage(prev, pn.Bytes())
			t.store.UnpinPage(prev)
		}
	}
	if next != pager.InvalidPageNo {
		if nbuf, err := t.store.ReadPage(next); err == nil {
			nn := WrapNode(nbuf, next)
			nn.SetPrevLeaf(prev)
			_ = t.store.WritePage(next, nn.Bytes())
			t.store.UnpinPage(next)
		}
	}

	parent := stack[len(stack)-2]
	if parent.slot < parent.node.CellCount() {
		parent.node.DeleteAt(parent.slot)
	} else if parent.node.RightChild() == leaf.no && parent.node.CellCount() > 0 {
		last := parent.node.CellCount() - 1
		var lastChild pager.PageNo
		if t.isIndex {
			lastChild = ParseIndexInterior(parent.node.RawCell(last)).ChildPage
		} else {
			lastChild = ParseTableInterior(parent.node.RawCell(last)).ChildPage
		}
		parent.node.SetRightChild(lastChild)
		parent.node.DeleteAt(last)
	}
	if err := t.store.WritePage(parent.no, parent.node.Bytes()); err != nil {
		return err
	}
	return t.store.FreePage(leaf.no)
}
