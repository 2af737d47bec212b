package sqlstore

import (
	"strings"
	"testing"
)

func TestPlaceholders(t *testing.T) {
	if got := placeholders(2, 3); got != "(?,?,?),(?,?,?)" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := placeholders(1, 1); got != "(?)" {
		t.Fatalf("unexpected placeholders %q", got)
	}
}

func TestDialectFor(t *testing.T) {
	d, err := dialectFor("PostgreSQL")
	if err != nil || d.driverName != "pgx" {
		t.Fatalf("expected pgx dialect, got %q (%v)", d.driverName, err)
	}
	if _, err := dialectFor("sqlite"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestMySQLDSNIsNormalized(t *testing.T) {
	d, err := dialectFor(DriverMySQL)
	if err != nil {
		t.Fatalf("mysql dialect: %v", err)
	}
	dsn, err := d.normalizeDSN("stock:secret@tcp(127.0.0.1:3306)/stockscan")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, want := range []string{"parseTime=true", "clientFoundRows=true"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected %s in %q", want, dsn)
		}
	}
}

func TestProductFilterLowercasesPattern(t *testing.T) {
	clause, args := productFilter("p", "  CaFe ")
	if !strings.Contains(clause, "LOWER(p.name)") {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 3 || args[0] != "%cafe%" {
		t.Fatalf("unexpected args %#v", args)
	}
	if clause, _ := productFilter("p", " "); clause != "" {
		t.Fatalf("expected empty clause for blank query")
	}
}

func TestRecentScanOrderFollowsScanIDs(t *testing.T) {
	legacy := &Store{}
	if got := legacy.recentScanOrder(); strings.Contains(got, "s.id") {
		t.Fatalf("expected no scans.id reference on legacy tables, got %q", got)
	}
	current := &Store{scanIDs: true}
	if got := current.recentScanOrder(); got != "s.scanned_at DESC, s.id DESC" {
		t.Fatalf("unexpected order %q", got)
	}
}
