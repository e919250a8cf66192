package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/hasslink/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
		"20260101_000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"20260102_000000_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);")},
		"README.md":                        {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("migrations not applied")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Idempotent.
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	delete(fsys, "20260102_000000_gadgets.up.sql")

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets still exists after MigrateDown")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260102_000000_gadgets.up.sql": {Data: []byte("CREATE TABLE gadgets (id INTEGER);")},
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err == nil {
		t.Error("MigrateDown() without down SQL error = nil")
	}
}

func TestMigrateFailureStopsBatch(t *testing.T) {
	db := openTestDB(t)

	fsys := fstest.MapFS{
		"20260101_000000_good.up.sql":  {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_bad.up.sql":   {Data: []byte("CREATE TABLE oops (")},
		"20260103_000000_later.up.sql": {Data: []byte("CREATE TABLE later (id INTEGER);")},
	}
	if err := db.Migrate(context.Background(), fsys); err == nil {
		t.Fatal("Migrate() with broken SQL error = nil")
	}
	if !tableExists(t, db, "good") {
		t.Error("earlier migration rolled back")
	}
	if tableExists(t, db, "later") {
		t.Error("later migration applied after failure")
	}
}

func TestMigrateNilFS(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v", err)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}
	for _, table := range []string{"event_journal", "service_calls"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	for iterN := 0; iterN < 2; iterN++ {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown(embedded) error = %v", err)
		}
	}
	if tableExists(t, db, "event_journal") {
		t.Error("event_journal survived rollback")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		up       bool
		ok       bool
	}{
		{"20260301_090000_event_journal.up.sql", "20260301_090000", "event_journal", true, true},
		{"20260301_090000_event_journal.down.sql", "20260301_090000", "event_journal", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "20260301_090000", true, true},
		{"20260301_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"2026_09_x.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v, %v; want %q, %q, %v, %v",
					tt.filename, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}
