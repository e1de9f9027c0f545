package btree

import "github.com/kjmoran/ferrodb/internal/pager"

// PagerStore adapts a *pager.Pager (plus the current write transaction's
// journal, if any) to the Store interface this package needs. A fresh
// PagerStore is handed to each Tree for the lifetime of one statement, so
// the active Journal can change across BeginWrite/Commit without the tree
// itself needing to know.
type PagerStore struct {
	P *pager.Pager
	J *pager.Journal
}

func (s *PagerStore) ReadPage(no pager.PageNo) ([]byte, error) { return s.P.ReadPage(no) }
func (s *PagerStore) UnpinPage(no pager.PageNo)                { s.P.UnpinPage(no) }
func (s *PagerStore) WritePage(no pager.PageNo, buf []byte) error {
	return s.P.WritePage(s.J, no, buf)
}
func (s *PagerStore) AllocPage() (pager.PageNo, []byte) { return s.P.AllocPage() }
func (s *PagerStore) FreePage(no pager.PageNo) error    { return s.P.FreePage(no) }
func (s *PagerStore) PageSize() int                     { return s.P.PageSize() }
