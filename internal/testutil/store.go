// Package testutil holds helpers shared by store-backed tests.
package testutil

import (
	"context"
	"testing"

	"playbook/api/internal/store"
)

// NewTestStore returns a migrated store on a private in-memory SQLite
// database that is closed when the test ends.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	s := store.New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedExtraction inserts a private extraction owned by ownerID.
func SeedExtraction(t *testing.T, s *store.Store, id, ownerID string) store.Extraction {
	t.Helper()

	item := store.Extraction{ID: id, OwnerID: ownerID, Title: "Playbook " + id, Visibility: store.VisibilityPrivate}
	if err := s.InsertExtraction(context.Background(), item); err != nil {
		t.Fatalf("seed extraction %s: %v", id, err)
	}
	got, err := s.GetExtraction(context.Background(), id)
	if err != nil {
		t.Fatalf("reload extraction %s: %v", id, err)
	}
	return got
}
