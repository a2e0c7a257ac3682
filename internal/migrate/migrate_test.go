package migrate_test

import (
	"testing"

	"regline/internal/db"
	"regline/internal/migrate"
)

func TestMigrateCreatesSchemaAndIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version < 1 {
		t.Fatalf("schema version = %d, want >= 1", version)
	}

	for _, table := range []string{"projects", "project_updates", "deliverables", "dependencies"} {
		var n int
		if err := conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("table %s missing after migrate", table)
		}
	}

	// re-running on an up-to-date store is a no-op
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var after int
	if err := conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&after); err != nil {
		t.Fatal(err)
	}
	if after != version {
		t.Fatalf("version changed on re-run: %d -> %d", version, after)
	}
}
