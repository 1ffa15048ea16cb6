package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/device/domain/repositories"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "device.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PutGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, repositories.KeyClientID); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, repositories.KeyClientID, "first"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, repositories.KeyClientID, "second"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	got, err := store.Get(ctx, repositories.KeyClientID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "second" {
		t.Errorf("Expected second, got %q", got)
	}

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	store, err := Open(ctx, path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Put(ctx, repositories.KeyFirmwareVersion, "1.2.0"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.Close()

	store, err = Open(ctx, path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	got, err := store.Get(ctx, repositories.KeyFirmwareVersion)
	if err != nil || got != "1.2.0" {
		t.Errorf("Expected 1.2.0, got %q (%v)", got, err)
	}
}

func TestOpen_Failure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A path below a regular file cannot be created.
	if _, err := Open(context.Background(), filepath.Join(blocker, "device.db"), zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for an unusable path")
	}
}

func TestSQLiteStore_ClosedPing(t *testing.T) {
	store := openTestStore(t)
	store.Close()

	if err := store.Ping(context.Background()); err == nil {
		t.Error("Expected ping to fail after close")
	}
}
