package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/kjmoran/ferrodb/internal/pager"
)

func newStore(t *testing.T) *PagerStore {
	t.Helper()
	p, err := pager.Open(pager.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return &PagerStore{P: p}
}

func TestTableTree_InsertAndSeek(t *testing.T) {
	store := newStore(t)
	tree, err := Create(store, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := int64(1); i <= 50; i++ {
		if err := tree.InsertTable(i, []byte(fmt.Sprintf("row-%d", i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	cur := tree.NewCursor()
	defer cur.Close()
	found, err := cur.SeekRowID(25)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if !found {
		t.Fatal("expected exact match for rowid 25")
	}
	cell := cur.TableLeaf()
	if string(cell.Payload) != "row-25" {
		t.Fatalf("payload: got %q want row-25", cell.Payload)
	}
}

func TestTableTree_OrderedScanAfterManyInserts(t *testing.T) {
	store := newStore(t)
	tree, err := Create(store, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	const n = 300
	for i := int64(n); i >= 1; i-- { // insert in reverse to exercise splits
		if err := tree.InsertTable(i, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	cur := tree.NewCursor()
	defer cur.Close()
	if err := cur.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	var got int64
	for cur.Valid() {
		got++
		cell := cur.TableLeaf()
		if cell.RowID != got {
			t.Fatalf("out of order: got rowid %d at position %d", cell.RowID, got)
		}
		if err := cur.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if got != n {
		t.Fatalf("scanned %d rows, want %d", got, n)
	}
}

func TestTableTree_DeleteRemovesRow(t *testing.T) {
	store := newStore(t)
	tree, err := Create(store, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := int64(1); i <= 10; i++ {
		_ = tree.InsertTable(i, []byte("x"))
	}
	if err := tree.DeleteTable(5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cur := tree.NewCursor()
	defer cur.Close()
	found, err := cur.SeekRowID(5)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if found {
		t.Fatal("rowid 5 should have been deleted")
	}
}

func TestTableTree_OverwriteExistingRowID(t *testing.T) {
	store := newStore(t)
	tree, err := Create(store, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = tree.InsertTable(1, []byte("first"))
	_ = tree.InsertTable(1, []byte("second"))
	cur := tree.NewCursor()
	defer cur.Close()
	found, err := cur.SeekRowID(1)
	if err != nil || !found {
		t.Fatalf("seek: found=%v err=%v", found, err)
	}
	if string(cur.TableLeaf().Payload) != "second" {
		t.Fatalf("expected overwrite, got %q", cur.TableLeaf().Payload)
	}
}

func TestTableTree_OverflowPayloadRoundTrip(t *testing.T) {
	store := newStore(t)
	tree, err := Create(store, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	big := bytes.Repeat([]byte("z"), 8000)
	if err := tree.InsertTable(1, big); err != nil {
		t.Fatalf("insert: %v", err)
	}
	cur := tree.NewCursor()
	defer cur.Close()
	found, err := cur.SeekRowID(1)
	if err != nil || !found {
		t.Fatalf("seek: found=%v err=%v", found, err)
	}
	cell := cur.TableLeaf()
	if !cell.Overflow {
		t.Fatal("expected large payload to overflow")
	}
	got, err := tree.ResolvePayload(cell)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Fatal("overflow payload did not round-trip")
	}
}

func TestIndexTree_SeekOrdersByKeyBytes(t *testing.T) {
	store := newStore(t)
	tree, err := Create(store, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	keys := [][]byte{[]byte("banana"), []byte("apple"), []byte("cherry")}
	for _, k := range keys {
		if err := tree.InsertIndex(k); err != nil {
			t.Fatalf("insert %q: %v", k, err)
		}
	}
	cur := tree.NewCursor()
	defer cur.Close()
	if err := cur.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	var order []string
	for cur.Valid() {
		order = append(order, string(cur.IndexLeaf().Key))
		if err := cur.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	want := []string{"apple", "banana", "cherry"}
	if len(order) != len(want) {
		t.Fatalf("order: got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]: got %q want %q", i, order[i], want[i])
		}
	}
}
