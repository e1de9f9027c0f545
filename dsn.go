package ferrodb

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kjmoran/ferrodb/internal/pager"
)

// options holds the connection parameters derived from a parsed DSN, mirroring
// the PRAGMA surface names (cache_size, page_size, journal_mode,
// synchronous, foreign_keys, temp_store) so every one of them can be set
// either up front on the DSN or later with PRAGMA.
type options struct {
	path          string
	pageSize      int
	cacheSize     int
	journalMode   pager.JournalMode
	synchronous   int
	foreignKeys   bool
	tempStore     int
}

func defaultOptions() options {
	return options{synchronous: 2, tempStore: 0}
}

// parseDSN parses an Open dsn into options, generalized from
// internal/driver's parseDSN/applyDSNOption split: "mem://" and bare
// ":memory:" both mean an in-memory pager, "file:path?opts" and a bare
// filesystem path both mean a file-backed one.
func parseDSN(dsn string) (options, error) {
	o := defaultOptions()

	switch {
	case dsn == "" || dsn == ":memory:":
		o.path = ":memory:"
		return o, nil
	case strings.HasPrefix(dsn, "mem://"):
		o.path = ":memory:"
		return o, applyQuery(&o, queryPart(dsn, "mem://"))
	case strings.HasPrefix(dsn, "file:"):
		rest := strings.TrimPrefix(dsn, "file:")
		path, q := splitQuery(rest)
		if path == "" {
			return o, fmt.Errorf("ferrodb: file: DSN requires a path")
		}
		o.path = filepath.Clean(path)
		return o, applyQuery(&o, q)
	default:
		path, q := splitQuery(dsn)
		o.path = filepath.Clean(path)
		return o, applyQuery(&o, q)
	}
}

func queryPart(dsn, prefix string) string {
	_, q := splitQuery(strings.TrimPrefix(dsn, prefix))
	return q
}

func splitQuery(s string) (path, query string) {
	if i := strings.Index(s, "?"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func applyQuery(o *options, q string) error {
	for _, kv := range strings.Split(q, "&") {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		key := strings.ToLower(parts[0])
		val := ""
		if len(parts) == 2 {
			val = parts[1]
		}
		if err := applyPragmaOption(o, key, val); err != nil {
			return err
		}
	}
	return nil
}

// applyPragmaOption applies one DSN query parameter or PRAGMA assignment by
// name, shared by parseDSN and the PRAGMA statement handler so a value set
// on the connection string means the same thing as the equivalent PRAGMA.
func applyPragmaOption(o *options, key, val string) error {
	switch key {
	case "page_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("ferrodb: invalid page_size %q", val)
		}
		o.pageSize = n
	case "cache_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("ferrodb: invalid cache_size %q", val)
		}
		o.cacheSize = n
	case "journal_mode":
		switch strings.ToLower(val) {
		case "wal":
			o.journalMode = pager.JournalWAL
		case "delete", "rollback", "":
			o.journalMode = pager.JournalRollback
		default:
			return fmt.Errorf("ferrodb: unsupported journal_mode %q", val)
		}
	case "synchronous":
		n, ok := synchronousLevel(val)
		if !ok {
			return fmt.Errorf("ferrodb: invalid synchronous %q", val)
		}
		o.synchronous = n
	case "foreign_keys":
		o.foreignKeys = truthy(val)
	case "temp_store":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("ferrodb: invalid temp_store %q", val)
		}
		o.tempStore = n
	default:
		// unknown options are ignored rather than rejected, mirroring
		// PRAGMA's own treatment of an unrecognized name as a silent no-op.
	}
	return nil
}

func synchronousLevel(val string) (int, bool) {
	switch strings.ToLower(val) {
	case "0", "off":
		return 0, true
	case "1", "normal":
		return 1, true
	case "2", "full":
		return 2, true
	case "3", "extra":
		return 3, true
	default:
		return 0, false
	}
}

func truthy(val string) bool {
	v := strings.ToLower(val)
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
