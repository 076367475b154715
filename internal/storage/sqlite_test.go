package storage

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("versions not strictly ascending: %v", versions)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Opening again must not re-apply anything.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Fatalf("migration count changed on reopen: %v vs %v", v1, v2)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Errorf("migration versions changed on reopen: %v vs %v", v1, v2)
		}
	}
}

func TestSchemaObjectsExist(t *testing.T) {
	s := openTestStore(t)

	tables := []string{"documents", "content_nodes", "content_nodes_fts", "jobs"}
	for _, name := range tables {
		var count int
		err := s.DB().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, name,
		).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %s: %v", name, err)
		}
		if count == 0 {
			t.Errorf("expected table %s to exist", name)
		}
	}

	indexes := []string{
		"idx_content_nodes_thread",
		"idx_content_nodes_level",
		"idx_jobs_status_run_after",
	}
	for _, name := range indexes {
		var count int
		err := s.DB().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name,
		).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %s: %v", name, err)
		}
		if count == 0 {
			t.Errorf("expected index %s to exist", name)
		}
	}
}
