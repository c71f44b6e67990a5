// Package testutil provides test utilities shared across packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/service"
	"github.com/Veraticus/settle-the-score/internal/storage"
)

// TestDB represents a migrated in-memory test database.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a new in-memory database with migrations applied and
// cleanup registered.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SeedParticipants saves a participant list or fails the test.
func (db *TestDB) SeedParticipants(participants ...model.ParticipantID) {
	db.t.Helper()
	if err := db.Storage.SaveParticipants(context.Background(), participants); err != nil {
		db.t.Fatalf("failed to seed participants: %v", err)
	}
}

// SeedTransactions saves transactions or fails the test.
func (db *TestDB) SeedTransactions(transactions ...model.Transaction) {
	db.t.Helper()
	if err := db.Storage.SaveTransactions(context.Background(), transactions); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}
}
