package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"users", "devbenches", "operation_log"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != SchemaVersion() {
		t.Fatalf("user_version = %d, want %d", version, SchemaVersion())
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	_ = db.Close()

	db, err = OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = db.Close()
}

func TestDevbenchNameUniquePerOwner(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mustExec := func(q string, args ...any) error {
		_, err := db.Exec(q, args...)
		return err
	}
	for _, u := range []string{"alice", "bob"} {
		if err := mustExec(`INSERT INTO users(id, password_hash, created_at) VALUES(?, 'x', 'now');`, u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	insert := `INSERT INTO devbenches(id, owner_id, requested_name, state, created_at, updated_at) VALUES(?, ?, ?, 'Creating', 'now', 'now');`
	if err := mustExec(insert, "1", "alice", "vm"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := mustExec(insert, "2", "bob", "vm"); err != nil {
		t.Fatalf("same name, other owner: %v", err)
	}
	if err := mustExec(insert, "3", "alice", "vm"); err == nil {
		t.Fatal("expected unique violation for duplicate name")
	}
}
