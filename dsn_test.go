package ferrodb

import (
	"testing"

	"github.com/kjmoran/ferrodb/internal/pager"
)

func TestParseDSNMemoryForms(t *testing.T) {
	for _, dsn := range []string{"", ":memory:", "mem://"} {
		o, err := parseDSN(dsn)
		if err != nil {
			t.Fatalf("parseDSN(%q): %v", dsn, err)
		}
		if o.path != ":memory:" {
			t.Fatalf("parseDSN(%q): expected in-memory path, got %q", dsn, o.path)
		}
	}
}

func TestParseDSNFilePath(t *testing.T) {
	o, err := parseDSN("file:./test.db?page_size=8192")
	if err != nil {
		t.Fatalf("parseDSN: %v", err)
	}
	if o.path == ":memory:" {
		t.Fatalf("expected a file path, got in-memory")
	}
	if o.pageSize != 8192 {
		t.Fatalf("expected page_size=8192, got %d", o.pageSize)
	}
}

func TestParseDSNFileRequiresPath(t *testing.T) {
	if _, err := parseDSN("file:"); err == nil {
		t.Fatalf("expected an error for a missing file path")
	}
}

func TestParseDSNJournalModeAndSynchronous(t *testing.T) {
	o, err := parseDSN("mem://?journal_mode=WAL&synchronous=full&foreign_keys=on")
	if err != nil {
		t.Fatalf("parseDSN: %v", err)
	}
	if o.journalMode != pager.JournalWAL {
		t.Fatalf("expected WAL journal mode, got %v", o.journalMode)
	}
	if o.synchronous != 2 {
		t.Fatalf("expected synchronous=2 (full), got %d", o.synchronous)
	}
	if !o.foreignKeys {
		t.Fatalf("expected foreign_keys=true")
	}
}

func TestParseDSNInvalidOption(t *testing.T) {
	if _, err := parseDSN("mem://?page_size=notanumber"); err == nil {
		t.Fatalf("expected an error for a non-numeric page_size")
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "on", "TRUE"} {
		if !truthy(v) {
			t.Fatalf("expected %q to be truthy", v)
		}
	}
	for _, v := range []string{"0", "false", "no", "off", ""} {
		if truthy(v) {
			t.Fatalf("expected %q to be falsy", v)
		}
	}
}
