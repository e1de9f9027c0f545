// Package benchmarks compares ferrodb's database/sql driver against
// modernc.org/sqlite (a pure-Go reference implementation) on the same
// workloads: bulk insert, full scan, and round-trip save/load.
package benchmarks

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/kjmoran/ferrodb/internal/driver"
	_ "modernc.org/sqlite"
)

func tmpDir(b *testing.B) string {
	b.Helper()
	dir, err := os.MkdirTemp("", "ferrodb_bench_*")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type backendEntry struct {
	name string
	open func(b *testing.B) backendOps
}

type backendOps struct {
	save  func(name string, nRows int)
	load  func(name string) int
	close func()
}

func backends() []backendEntry {
	return []backendEntry{
		{"ferrodb-Memory", openFerrodbMemory},
		{"ferrodb-Disk", openFerrodbDisk},
		{"SQLite-modernc", openSQLite},
	}
}

func openFerrodb(b *testing.B, dsn string) backendOps {
	b.Helper()
	db, err := sql.Open("ferrodb", dsn)
	if err != nil {
		b.Fatal(err)
	}
	return sqlBackend(b, db)
}

func openFerrodbMemory(b *testing.B) backendOps {
	return openFerrodb(b, "mem://")
}

func openFerrodbDisk(b *testing.B) backendOps {
	dir := tmpDir(b)
	return openFerrodb(b, "file:"+filepath.Join(dir, "bench.db"))
}

func openSQLite(b *testing.B) backendOps {
	b.Helper()
	dir := tmpDir(b)
	db, err := sql.Open("sqlite", filepath.Join(dir, "bench.sqlite3"))
	if err != nil {
		b.Fatal(err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")
	return sqlBackend(b, db)
}

// sqlBackend builds save/load/close against a plain database/sql handle,
// shared between ferrodb and the SQLite reference so both are driven
// through the exact same statements.
func sqlBackend(b *testing.B, db *sql.DB) backendOps {
	b.Helper()
	return backendOps{
		save: func(name string, nRows int) {
			if _, err := db.Exec(fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s (id INTEGER, name TEXT, score REAL)", name)); err != nil {
				b.Fatal(err)
			}
			if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s", name)); err != nil {
				b.Fatal(err)
			}
			tx, err := db.Begin()
			if err != nil {
				b.Fatal(err)
			}
			stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (?,?,?)", name))
			if err != nil {
				b.Fatal(err)
			}
			for i := 0; i < nRows; i++ {
				if _, err := stmt.Exec(int64(i), fmt.Sprintf("user_%d", i), float64(i)*1.1); err != nil {
					b.Fatal(err)
				}
			}
			stmt.Close()
			if err := tx.Commit(); err != nil {
				b.Fatal(err)
			}
		},
		load: func(name string) int {
			rows, err := db.Query(fmt.Sprintf("SELECT id, name, score FROM %s", name))
			if err != nil {
				return 0
			}
			defer rows.Close()
			count := 0
			var id int64
			var nm string
			var sc float64
			for rows.Next() {
				rows.Scan(&id, &nm, &sc)
				count++
			}
			return count
		},
		close: func() { db.Close() },
	}
}

func BenchmarkBulkInsert(b *testing.B) {
	rowCounts := []int{10, 100, 1000}
	for _, rc := range rowCounts {
		for _, be := range backends() {
			b.Run(fmt.Sprintf("%s/rows=%d", be.name, rc), func(b *testing.B) {
				ops := be.open(b)
				defer ops.close()
				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					ops.save("bench", rc)
				}
			})
		}
	}
}

func BenchmarkFullScan(b *testing.B) {
	rowCounts := []int{10, 100, 1000}
	for _, rc := range rowCounts {
		for _, be := range backends() {
			b.Run(fmt.Sprintf("%s/rows=%d", be.name, rc), func(b *testing.B) {
				ops := be.open(b)
				defer ops.close()
				ops.save("scan_target", rc)
				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if n := ops.load("scan_target"); n != rc {
						b.Fatalf("expected %d rows, got %d", rc, n)
					}
				}
			})
		}
	}
}

func BenchmarkRoundTrip(b *testing.B) {
	for _, be := range backends() {
		b.Run(be.name, func(b *testing.B) {
			ops := be.open(b)
			defer ops.close()
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				ops.save("rt", 100)
				if n := ops.load("rt"); n != 100 {
					b.Fatalf("expected 100 rows, got %d", n)
				}
			}
		})
	}
}

func BenchmarkSingleInsert(b *testing.B) {
	for _, be := range backends() {
		b.Run(be.name, func(b *testing.B) {
			ops := be.open(b)
			defer ops.close()
			ops.save("single", 1)
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				ops.save("single", 1)
			}
		})
	}
}
