package store

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func newRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func appliedVersions(t *testing.T, db *sql.DB) []int {
	t.Helper()
	rows, err := db.Query(`SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			t.Fatal(err)
		}
		versions = append(versions, v)
	}
	return versions
}

func TestRunMigrations_FreshDatabase(t *testing.T) {
	db := newRawDB(t)
	if err := RunMigrations(db); err != nil {
		t.Fatal(err)
	}

	versions := appliedVersions(t, db)
	if len(versions) != 5 {
		t.Fatalf("expected 5 applied migrations, got %v", versions)
	}
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("expected versions 1..5, got %v", versions)
		}
	}

	for _, table := range []string{"employees", "products", "returns", "return_receivers", "activity_logs", "settings", "sync_outbox"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := newRawDB(t)
	if err := RunMigrations(db); err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second run should be a no-op: %v", err)
	}
	if got := appliedVersions(t, db); len(got) != 5 {
		t.Fatalf("expected ledger unchanged, got %v", got)
	}
}

func TestApply_OnlyPendingScriptsRun(t *testing.T) {
	db := newRawDB(t)
	ms := []Migration{
		{Version: 1, Name: "001_first.sql", SQL: `CREATE TABLE first (id TEXT)`},
		{Version: 2, Name: "002_second.sql", SQL: `CREATE TABLE second (id TEXT)`},
	}

	if err := Apply(db, ms[:1]); err != nil {
		t.Fatal(err)
	}
	if got := appliedVersions(t, db); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only version 1 applied, got %v", got)
	}

	// Re-applying the full set must skip version 1.
	if err := Apply(db, ms); err != nil {
		t.Fatal(err)
	}
	if got := appliedVersions(t, db); len(got) != 2 {
		t.Fatalf("expected versions 1 and 2 applied, got %v", got)
	}
}

func TestApply_FailureKeepsEarlierScripts(t *testing.T) {
	db := newRawDB(t)
	ms := []Migration{
		{Version: 1, Name: "001_good.sql", SQL: `CREATE TABLE good (id TEXT)`},
		{Version: 2, Name: "002_bad.sql", SQL: `CREATE BOGUS SYNTAX`},
	}

	if err := Apply(db, ms); err == nil {
		t.Fatal("expected error from malformed script")
	}

	// Version 1 committed on its own; the failure must not roll it back.
	if got := appliedVersions(t, db); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected version 1 to survive, got %v", got)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='good'`).Scan(&name); err != nil {
		t.Errorf("table from committed script missing: %v", err)
	}
}

func TestLoadMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("-- ten")},
		"002_second.sql": {Data: []byte("-- two")},
		"001_first.sql":  {Data: []byte("-- one")},
		"README.md":      {Data: []byte("not a migration")},
		"notes.txt":      {Data: []byte("ignored")},
	}

	ms, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(ms))
	}
	for i, want := range []int{1, 2, 10} {
		if ms[i].Version != want {
			t.Errorf("position %d: expected version %d, got %d", i, want, ms[i].Version)
		}
	}
}
