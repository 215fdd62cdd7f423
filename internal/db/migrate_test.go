// Package db tests for schema migrations.
package db

import (
	"testing"
	"testing/fstest"
)

func openRaw(t *testing.T) *DB {
	t.Helper()
	db, err := OpenPath(":memory:")
	if err != nil {
		t.Fatalf("OpenPath() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNewMigrator tests Migrator construction.
func TestNewMigrator(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{}

	m := NewMigrator(db.DB, fsys)
	if m == nil {
		t.Fatal("NewMigrator() returned nil")
	}
	if m.db != db.DB {
		t.Error("Migrator.db not set correctly")
	}
}

// TestMigratorEmbeddedUp tests applying the embedded migrations.
func TestMigratorEmbeddedUp(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db.DB, Migrations())

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("fresh database version = %d, want 0", version)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	version, _ = m.CurrentVersion()
	if version != 2 {
		t.Errorf("version after Up = %d, want 2", version)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %d, want 2", len(applied))
	}
	if applied[0].Description != "operation_log" || applied[1].Description != "snapshot_cache" {
		t.Errorf("unexpected descriptions: %q, %q", applied[0].Description, applied[1].Description)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(applied[0].Checksum))
	}

	// Idempotent
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}
}

// TestMigratorOrdering tests that versions apply numerically, not lexically.
func TestMigratorOrdering(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{
		"V10__later.up.sql": {Data: []byte("ALTER TABLE things ADD COLUMN extra TEXT;")},
		"V2__things.up.sql": {Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);")},
		"README.md":         {Data: []byte("ignored")},
		"bogus.up.sql":      {Data: []byte("ignored")},
	}

	m := NewMigrator(db.DB, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	version, _ := m.CurrentVersion()
	if version != 10 {
		t.Errorf("version = %d, want 10", version)
	}
}

// TestMigratorModifiedChecksum tests that editing an applied migration is rejected.
func TestMigratorModifiedChecksum(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{
		"V1__things.up.sql": {Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);")},
	}

	m := NewMigrator(db.DB, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	fsys["V1__things.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE things (id INTEGER);")}
	if err := m.Up(); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

// TestMigratorFailedMigrationRollsBack tests that a broken migration leaves no record.
func TestMigratorFailedMigrationRollsBack(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{
		"V1__broken.up.sql": {Data: []byte("CREATE TABLE ok (id TEXT); THIS IS NOT SQL;")},
	}

	m := NewMigrator(db.DB, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err == nil {
		t.Fatal("expected Up() to fail")
	}
	version, _ := m.CurrentVersion()
	if version != 0 {
		t.Errorf("version = %d, want 0 after failed migration", version)
	}
}

// TestMigratorDown tests rolling back the latest migration.
func TestMigratorDown(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db.DB, Migrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	version, _ := m.CurrentVersion()
	if version != 1 {
		t.Errorf("version after Down = %d, want 1", version)
	}

	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='cached_posts'").Scan(&name)
	if err == nil {
		t.Error("cached_posts should be dropped after rollback")
	}

	if err := m.Down(); err != nil {
		t.Fatalf("second Down() failed: %v", err)
	}
	if err := m.Down(); err == nil {
		t.Error("expected error when nothing to roll back")
	}
}
