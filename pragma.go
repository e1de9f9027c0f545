package ferrodb

import (
	"strconv"
	"strings"

	"github.com/kjmoran/ferrodb/internal/btree"
	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
	"github.com/kjmoran/ferrodb/internal/sqlparse"
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

// classifyPragma implements the PRAGMA surface: cache_size,
// page_size, journal_mode, synchronous, foreign_keys, temp_store,
// user_version, schema_version, integrity_check. The query form (no value)
// yields one result row named after the pragma; the assignment form applies
// the value and yields none. An unrecognized name is a silent no-op, the
// same as an unknown PRAGMA name elsewhere.
func (s *Stmt) classifyPragma(p *sqlparse.Pragma) error {
	s.kind = kindPragma
	name := strings.ToLower(p.Name)
	c := s.conn

	if p.Value != nil {
		val, ok := pragmaLiteral(p.Value)
		if !ok {
			return ferrors.Wrap(ferrors.ErrMisuse, "unsupported PRAGMA value", "")
		}
		return c.setPragma(name, val)
	}

	switch name {
	case "page_size":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(int64(c.p.PageSize()))))
	case "cache_size":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(int64(c.p.Header().DefaultCacheSize))))
	case "journal_mode":
		s.setRowBuffer([]string{name}, row(sqlvalue.Text(journalModeName(c.p.Header().JournalMode))))
	case "synchronous":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(int64(c.synchronous))))
	case "foreign_keys":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(boolInt(c.foreignKeys))))
	case "temp_store":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(int64(c.tempStore))))
	case "user_version":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(int64(c.p.Header().UserVersion))))
	case "schema_version":
		s.setRowBuffer([]string{name}, row(sqlvalue.Integer(int64(c.p.Header().SchemaCookie))))
	case "integrity_check":
		s.setRowBuffer([]string{name}, c.integrityCheck())
	default:
		s.setRowBuffer(nil, nil)
	}
	return nil
}

func row(v sqlvalue.Value) [][]sqlvalue.Value { return [][]sqlvalue.Value{{v}} }

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func journalModeName(m pager.JournalMode) string {
	if m == pager.JournalWAL {
		return "wal"
	}
	return "delete"
}

func parseJournalModeName(val string) (pager.JournalMode, bool) {
	switch strings.ToLower(val) {
	case "wal":
		return pager.JournalWAL, true
	case "delete", "rollback", "":
		return pager.JournalRollback, true
	default:
		return 0, false
	}
}

// pragmaLiteral reads a pragma assignment's right-hand side: either a
// literal (PRAGMA user_version = 5) or a bare identifier (PRAGMA
// journal_mode = WAL), since unquoted keyword-like values parse as VarRef
// rather than as a string Literal.
func pragmaLiteral(e sqlparse.Expr) (string, bool) {
	switch v := e.(type) {
	case *sqlparse.Literal:
		switch t := v.Val.(type) {
		case int64:
			return strconv.FormatInt(t, 10), true
		case float64:
			return strconv.FormatFloat(t, 'g', -1, 64), true
		case string:
			return t, true
		case bool:
			if t {
				return "1", true
			}
			return "0", true
		case nil:
			return "", true
		}
	case *sqlparse.VarRef:
		if v.Table == "" {
			return v.Name, true
		}
	}
	return "", false
}

// setPragma applies a PRAGMA assignment's connection-level or header-level
// effect. synchronous, foreign_keys and temp_store have no enforcement
// elsewhere in the engine beyond being readable back; they exist so clients
// that probe or set them don't fail.
func (c *Conn) setPragma(name, val string) error {
	switch name {
	case "cache_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return ferrors.Wrapf(ferrors.ErrMisuse, "", "invalid cache_size %q", val)
		}
		c.p.UpdateHeader(func(h *pager.FileHeader) { h.DefaultCacheSize = uint32(n) })
	case "journal_mode":
		mode, ok := parseJournalModeName(val)
		if !ok {
			return ferrors.Wrapf(ferrors.ErrMisuse, "", "unsupported journal_mode %q", val)
		}
		c.p.UpdateHeader(func(h *pager.FileHeader) { h.JournalMode = mode })
	case "synchronous":
		n, ok := synchronousLevel(val)
		if !ok {
			return ferrors.Wrapf(ferrors.ErrMisuse, "", "invalid synchronous %q", val)
		}
		c.synchronous = n
		return nil
	case "foreign_keys":
		c.foreignKeys = truthy(val)
		return nil
	case "temp_store":
		n, err := strconv.Atoi(val)
		if err != nil {
			return ferrors.Wrapf(ferrors.ErrMisuse, "", "invalid temp_store %q", val)
		}
		c.tempStore = n
		return nil
	case "user_version":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return ferrors.Wrapf(ferrors.ErrMisuse, "", "invalid user_version %q", val)
		}
		c.p.UpdateHeader(func(h *pager.FileHeader) { h.UserVersion = uint32(n) })
	case "schema_version":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return ferrors.Wrapf(ferrors.ErrMisuse, "", "invalid schema_version %q", val)
		}
		c.p.UpdateHeader(func(h *pager.FileHeader) { h.SchemaCookie = uint32(n) })
	case "page_size":
		// the assignment is accepted and ignored; the page size never changes.
		return nil
	default:
		return nil
	}
	return c.p.Commit()
}

// integrityCheck walks every table and index b-tree reachable from the
// catalog, returning "ok" if every cursor walk completes cleanly or one row
// per problem otherwise.
func (c *Conn) integrityCheck() [][]sqlvalue.Value {
	var problems []string
	for _, name := range c.cat.Tables() {
		ts, ok := c.cat.Table(name)
		if !ok {
			continue
		}
		if err := walkTree(c.p, ts.RootPage, false); err != nil {
			problems = append(problems, "table "+name+": "+err.Error())
		}
		for _, ix := range c.cat.IndexesOn(name) {
			if err := walkTree(c.p, ix.RootPage, true); err != nil {
				problems = append(problems, "index "+ix.Name+": "+err.Error())
			}
		}
	}
	if len(problems) == 0 {
		return row(sqlvalue.Text("ok"))
	}
	out := make([][]sqlvalue.Value, len(problems))
	for i, p := range problems {
		out[i] = []sqlvalue.Value{sqlvalue.Text(p)}
	}
	return out
}

func walkTree(p *pager.Pager, root pager.PageNo, isIndex bool) error {
	store := &btree.PagerStore{P: p}
	tree := btree.Open(store, root, isIndex)
	cur := tree.NewCursor()
	defer cur.Close()
	if err := cur.Rewind(); err != nil {
		return err
	}
	for cur.Valid() {
		if err := cur.Next(); err != nil {
			return err
		}
	}
	return nil
}
