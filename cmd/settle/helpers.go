package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Veraticus/settle-the-score/internal/engine"
	"github.com/Veraticus/settle-the-score/internal/storage"
)

// databasePath resolves the configured database location.
func databasePath() (string, error) {
	if path := viper.GetString("database.path"); path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "settle", "settle.db"), nil
}

// openEngine opens storage, runs migrations, and builds the account engine.
// The returned cleanup must be called when the command finishes.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	path, err := databasePath()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	eng, err := engine.New(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() { _ = store.Close() }
	return eng, cleanup, nil
}
