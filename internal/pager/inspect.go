package pager

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats is a snapshot of a Pager's file-level diagnostics, the backing data
// for PRAGMA page_count / freelist_count / integrity_check output.
type Stats struct {
	PageSize      int
	PageCount     uint32
	FreePageCount uint32
	SchemaCookie  uint32
	ChangeCounter uint32
}

// Stats reports the current diagnostic snapshot.
func (p *Pager) Stats() Stats {
	h := p.Header()
	return Stats{
		PageSize:      p.pageSize,
		PageCount:     h.PageCount,
		FreePageCount: h.FreePageCount,
		SchemaCookie:  h.SchemaCookie,
		ChangeCounter: h.ChangeCounter,
	}
}

// String renders a human-readable one-line summary of the snapshot.
func (s Stats) String() string {
	total := uint64(s.PageCount) * uint64(s.PageSize)
	free := uint64(s.FreePageCount) * uint64(s.PageSize)
	return fmt.Sprintf(
		"page size: %s, pages: %d (%s total, %s free), schema cookie: %d, change counter: %d",
		humanize.Comma(int64(s.PageSize)), s.PageCount, humanize.Bytes(total), humanize.Bytes(free),
		s.SchemaCookie, s.ChangeCounter,
	)
}

// IntegrityCheck walks every allocated page and verifies its checksum,
// mirroring PRAGMA integrity_check's "ok" / list-of-problems output.
func (p *Pager) IntegrityCheck() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var problems []string
	for no := PageNo(1); no <= PageNo(p.header.PageCount); no++ {
		buf, err := p.readPageRaw(no)
		if err != nil {
			problems = append(problems, fmt.Sprintf("page %d: %s", no, err))
			continue
		}
		if no != FileHeaderPage {
			if err := VerifyPageCRC(buf); err != nil {
				problems = append(problems, fmt.Sprintf("page %d: %s", no, err))
			}
		}
	}
	if len(problems) == 0 {
		return []string{"ok"}
	}
	return problems
}
