// Package testutil provides shared test infrastructure for integration
// tests that need a real sqlite-backed storage.DB.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartDB()
//	    defer tc.Cleanup()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cortexgate/cortex/internal/storage"
	"github.com/cortexgate/cortex/migrations"
)

// TestDatabase wraps a temp-directory sqlite file used by a single test run.
type TestDatabase struct {
	dir  string
	Path string
}

// MustStartDB allocates a fresh temp-file sqlite database. Calls os.Exit(1)
// on failure (suitable for TestMain).
func MustStartDB() *TestDatabase {
	dir, err := os.MkdirTemp("", "cortex-test-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	return &TestDatabase{dir: dir, Path: filepath.Join(dir, "trust.db")}
}

// NewTestDB opens a storage.DB against this temp file and runs all migrations.
func (td *TestDatabase) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, td.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: open db: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	if _, err := db.VerifyBootstrap(ctx, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("testutil: bootstrap trust scores: %w", err)
	}
	return db, nil
}

// Cleanup removes the temp directory and its database file.
func (td *TestDatabase) Cleanup() {
	_ = os.RemoveAll(td.dir)
}

// TestLogger returns a logger configured for quiet test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
