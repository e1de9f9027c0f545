// Package driver implements a database/sql driver for ferrodb.
//
// What: A minimal driver that exposes the engine via the standard
// database/sql interfaces. It supports in-memory databases (mem://,
// :memory:) and file-backed persistence (file:path?options).
// How: A small server wrapper shares one *ferrodb.Conn across every
// database/sql connection opened against the same DSN and throttles
// concurrent access with reader/writer semaphores, the way a pooled client
// driver throttles access to a single embedded file.
// Why: Integrating with database/sql gives familiar APIs, tooling, and
// portability while keeping the driver itself a thin adapter.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjmoran/ferrodb"
)

func init() {
	sql.Register("ferrodb", &drv{servers: map[string]*server{}})
}

// OpenInMemory returns a *sql.DB backed by the in-memory database opened
// under the DSN "mem://". Servers are shared per DSN, so every caller of
// OpenInMemory (and every sql.Open of "mem://") sees the same database.
func OpenInMemory() (*sql.DB, error) {
	return sql.Open("ferrodb", "mem://")
}

// cfg stores the driver-only connection parameters parsed out of a DSN;
// everything else in the DSN passes through to ferrodb.Open unchanged.
type cfg struct {
	maxReaders  int
	maxWriters  int
	busyTimeout time.Duration
}

// parseDSN splits a DSN into driver-only options (pool_readers,
// pool_writers, busy_timeout) and the remainder, which is what gets handed
// to ferrodb.Open so its own options (page_size, journal_mode, ...)
// continue to work unmodified.
func parseDSN(dsn string) (cfg, string, error) {
	c := cfg{maxWriters: 1}
	path, q := splitQuery(dsn)
	var kept []string
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
		switch key {
		case "pool_readers", "read_pool", "reader_pool":
			n, err := parsePoolSize(val, "pool_readers")
			if err != nil {
				return c, "", err
			}
			c.maxReaders = n
		case "pool_writers", "write_pool", "writer_pool":
			n, err := parsePoolSize(val, "pool_writers")
			if err != nil {
				return c, "", err
			}
			c.maxWriters = n
		case "busy_timeout", "busytimeout":
			if val == "" {
				c.busyTimeout = 0
				continue
			}
			dur, err := parseBusyTimeout(val)
			if err != nil {
				return c, "", err
			}
			c.busyTimeout = dur
		default:
			kept = append(kept, kv)
		}
	}
	rebuilt := path
	if len(kept) > 0 {
		rebuilt += "?" + strings.Join(kept, "&")
	}
	return c, rebuilt, nil
}

func splitQuery(s string) (path, query string) {
	if i := strings.Index(s, "?"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// server shares one *ferrodb.Conn across every database/sql connection
// opened against the same DSN and throttles concurrent access.
type server struct {
	db          *ferrodb.Conn
	readerPool  chan struct{}
	writerPool  chan struct{}
	busyTimeout time.Duration
}

func newServer(db *ferrodb.Conn, c cfg) *server {
	s := &server{db: db, busyTimeout: c.busyTimeout}
	if c.maxReaders > 0 {
		s.readerPool = make(chan struct{}, c.maxReaders)
	}
	if c.maxWriters > 0 {
		s.writerPool = make(chan struct{}, c.maxWriters)
	}
	return s
}

func (s *server) acquireReader(ctx context.Context) error { return s.acquire(ctx, s.readerPool) }
func (s *server) releaseReader()                          { s.release(s.readerPool) }
func (s *server) acquireWriter(ctx context.Context) error { return s.acquire(ctx, s.writerPool) }
func (s *server) releaseWriter()                          { s.release(s.writerPool) }

//nolint:gocyclo // Connection throttling must cover timeout, context, and immediate acquisition paths.
func (s *server) acquire(ctx context.Context, pool chan struct{}) error {
	if pool == nil {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.busyTimeout <= 0 {
		select {
		case pool <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timeout := s.busyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < timeout {
			timeout = remain
		}
	}
	select {
	case pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("ferrodb: busy timeout after %s", timeout)
	}
}

func (s *server) release(pool chan struct{}) {
	if pool == nil {
		return
	}
	select {
	case <-pool:
	default:
	}
}

// drv shares one server per distinct (post-parse) DSN across however many
// driver.Conn database/sql chooses to pool, since the underlying pager
// holds an exclusive file lock per path.
type drv struct {
	mu      sync.Mutex
	servers map[string]*server
}

func (d *drv) Open(name string) (driver.Conn, error) {
	c, fdsn, err := parseDSN(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.servers[fdsn]
	if !ok {
		db, err := ferrodb.Open(fdsn)
		if err != nil {
			return nil, err
		}
		s = newServer(db, c)
		d.servers[fdsn] = s
	}
	return &conn{srv: s}, nil
}

// ------------------- connection / transactions -------------------

type conn struct {
	srv      *server
	inTx     bool
	txHeld   bool // true once BeginTx has taken the writer permit for the tx's duration
}

func (c *conn) Prepare(query string) (driver.Stmt, error) { return &stmt{c: c, sql: query}, nil }
func (c *conn) Close() error                              { return nil }
func (c *conn) Begin() (driver.Tx, error)                 { return c.BeginTx(context.Background(), driver.TxOptions{}) }

// BeginTx runs BEGIN through the shared Conn and holds the writer permit
// for the transaction's duration (internal/vm's register machine commits
// each statement on its own already; this driver-level BEGIN/COMMIT only
// brackets a run of statements so nothing else interleaves through this
// server while the caller thinks it's "in a transaction").
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.Isolation != driver.IsolationLevel(0) {
		return nil, fmt.Errorf("ferrodb: unsupported isolation level: %v", opts.Isolation)
	}
	if err := c.srv.acquireWriter(ctx); err != nil {
		return nil, err
	}
	c.txHeld = true
	if _, err := c.execSQL(ctx, "BEGIN"); err != nil {
		c.srv.releaseWriter()
		c.txHeld = false
		return nil, err
	}
	c.inTx = true
	return &tx{c: c}, nil
}

// Ping implements driver.Pinger so database/sql can health-check the connection.
func (c *conn) Ping(ctx context.Context) error {
	if err := c.srv.acquireReader(ctx); err != nil {
		return err
	}
	c.srv.releaseReader()
	return nil
}

type tx struct{ c *conn }

func (t *tx) Commit() error   { return t.c.endTx("COMMIT") }
func (t *tx) Rollback() error { return t.c.endTx("ROLLBACK") }

func (c *conn) endTx(keyword string) error {
	_, err := c.execSQL(context.Background(), keyword)
	c.inTx = false
	if c.txHeld {
		c.srv.releaseWriter()
		c.txHeld = false
	}
	return err
}

// execSQL runs one statement with no bound parameters and no writer-permit
// acquisition of its own; BEGIN/COMMIT/ROLLBACK call it while already
// holding the permit BeginTx took for the transaction's duration.
func (c *conn) execSQL(ctx context.Context, query string) (driver.Result, error) {
	st, _, err := c.srv.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer st.Finalize()
	for {
		res, err := st.Step()
		if err != nil {
			return nil, err
		}
		if res == ferrodb.StepDone {
			break
		}
	}
	return driver.RowsAffected(0), nil
}

// ------------------- exec / query -------------------

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.execBound(ctx, query, args)
}
func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.queryBound(ctx, query, args)
}

// Non-context fallbacks
func (c *conn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, namedValues(args))
}
func (c *conn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, namedValues(args))
}

func namedValues(args []driver.Value) []driver.NamedValue {
	n := make([]driver.NamedValue, len(args))
	for i, v := range args {
		n[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return n
}

func (c *conn) execBound(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	// Inside a transaction BeginTx already holds the writer permit.
	if !c.txHeld {
		if err := c.srv.acquireWriter(ctx); err != nil {
			return nil, err
		}
		defer c.srv.releaseWriter()
	}
	// database/sql's Exec/Query contract is one statement per call, so only
	// the first statement in query runs; a trailing tail is ignored here the
	// way a single Prepare call always was meant to consume one statement.
	st, _, err := c.srv.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer st.Finalize()
	if err := bind(st, args); err != nil {
		return nil, err
	}
	var affected int64
	for {
		res, err := st.Step()
		if err != nil {
			return nil, err
		}
		if res == ferrodb.StepDone {
			break
		}
		affected++
	}
	return driver.RowsAffected(affected), nil
}

func (c *conn) queryBound(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.srv.acquireReader(ctx); err != nil {
		return nil, err
	}
	st, _, err := c.srv.db.Prepare(query)
	if err != nil {
		c.srv.releaseReader()
		return nil, err
	}
	if err := bind(st, args); err != nil {
		st.Finalize()
		c.srv.releaseReader()
		return nil, err
	}
	return &rows{c: c, st: st}, nil
}

func bind(st *ferrodb.Stmt, args []driver.NamedValue) error {
	for _, a := range args {
		i := a.Ordinal
		switch v := a.Value.(type) {
		case nil:
			if err := st.BindNull(i); err != nil {
				return err
			}
		case int64:
			if err := st.BindInt(i, v); err != nil {
				return err
			}
		case float64:
			if err := st.BindDouble(i, v); err != nil {
				return err
			}
		case bool:
			n := int64(0)
			if v {
				n = 1
			}
			if err := st.BindInt(i, n); err != nil {
				return err
			}
		case []byte:
			if err := st.BindBlob(i, v); err != nil {
				return err
			}
		case string:
			if err := st.BindText(i, v); err != nil {
				return err
			}
		case time.Time:
			if err := st.BindText(i, v.UTC().Format(time.RFC3339Nano)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("ferrodb: unsupported bind value type %T", a.Value)
		}
	}
	return nil
}

// CheckNamedValue normalizes common Go types into values bind accepts.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	switch v := nv.Value.(type) {
	case int:
		nv.Value = int64(v)
	case int32:
		nv.Value = int64(v)
	case nil, int64, float64, bool, []byte, string, time.Time:
		// already acceptable
	default:
		return driver.ErrSkip
	}
	return nil
}

// ------------------- stmt / rows -------------------

type stmt struct {
	c   *conn
	sql string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }
func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}
func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}
func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.c.execBound(ctx, s.sql, args)
}
func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.c.queryBound(ctx, s.sql, args)
}

type rows struct {
	c    *conn
	st   *ferrodb.Stmt
	cols []string
	done bool
}

func (r *rows) Columns() []string {
	if r.cols == nil {
		n := r.st.ColumnCount()
		r.cols = make([]string, n)
		for i := range r.cols {
			r.cols[i] = r.st.ColumnName(i)
		}
	}
	return r.cols
}

func (r *rows) Close() error {
	if !r.done {
		r.c.srv.releaseReader()
		r.done = true
	}
	return r.st.Finalize()
}

func (r *rows) Next(dest []driver.Value) error {
	res, err := r.st.Step()
	if err != nil {
		return err
	}
	if res == ferrodb.StepDone {
		if !r.done {
			r.c.srv.releaseReader()
			r.done = true
		}
		return io.EOF
	}
	for i := range dest {
		switch r.st.ColumnType(i) {
		case ferrodb.TypeNull:
			dest[i] = nil
		case ferrodb.TypeInteger:
			dest[i] = r.st.ColumnInt(i)
		case ferrodb.TypeReal:
			dest[i] = r.st.ColumnDouble(i)
		case ferrodb.TypeText:
			dest[i] = r.st.ColumnText(i)
		default: // TypeBlob
			dest[i] = r.st.ColumnBlob(i)
		}
	}
	return nil
}

func (r *rows) ColumnTypeDatabaseTypeName(i int) string { return "TEXT" }
func (r *rows) ColumnTypeNullable(i int) (bool, bool)   { return true, true }
func (r *rows) ColumnTypeScanType(i int) any            { return "interface{}" }

func parsePoolSize(value, key string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("ferrodb: invalid %s value %q", key, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("ferrodb: %s must be >= 0", key)
	}
	return n, nil
}

func parseBusyTimeout(value string) (time.Duration, error) {
	isNumeric := true
	for _, r := range value {
		if r < '0' || r > '9' {
			isNumeric = false
			break
		}
	}
	if isNumeric {
		sz, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ferrodb: invalid busy_timeout value %q", value)
		}
		if sz < 0 {
			return 0, fmt.Errorf("ferrodb: busy_timeout must be >= 0")
		}
		return time.Duration(sz) * time.Millisecond, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("ferrodb: invalid busy_timeout value %q", value)
	}
	if dur < 0 {
		return 0, fmt.Errorf("ferrodb: busy_timeout must be >= 0")
	}
	return dur, nil
}
