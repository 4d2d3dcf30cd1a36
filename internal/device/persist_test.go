package device

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileRepository_LoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	repo := NewFileRepository(path)

	devices, err := repo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Load() = %d devices, want 0", len(devices))
	}

	// A missing file is created empty so the next startup finds it.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to be created: %v", err)
	}
}

func TestFileRepository_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	repo := NewFileRepository(path)
	if _, err := repo.Load(); !errors.Is(err, ErrPersistence) {
		t.Errorf("Load() error = %v, want ErrPersistence", err)
	}
}

func TestFileRepository_SaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	repo := NewFileRepository(path)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	devices := []*Device{
		{ID: "id-1", Key: "key-1", Identifier: "ident-1", CreatedAt: time.Now().UTC()},
		{ID: "id-2", Key: "key-2", Identifier: "ident-2", Expiry: &expiry, ConnectionID: "conn-9"},
	}

	if err := repo.Save(devices); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := repo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() = %d devices, want 2", len(loaded))
	}
	if loaded[0].ID != "id-1" || loaded[1].ID != "id-2" {
		t.Errorf("order not preserved: %s, %s", loaded[0].ID, loaded[1].ID)
	}
	if loaded[1].Expiry == nil || !loaded[1].Expiry.Equal(expiry) {
		t.Errorf("Expiry = %v, want %v", loaded[1].Expiry, expiry)
	}
	// Connection references are never persisted.
	if loaded[1].ConnectionID != "" {
		t.Errorf("ConnectionID = %q, want empty at rest", loaded[1].ConnectionID)
	}
}

func TestFileRepository_PersistedDocumentHasNoConnectionRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	repo := NewFileRepository(path)

	if err := repo.Save([]*Device{{ID: "id-1", Key: "k", Identifier: "i", ConnectionID: "conn-1"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("persisted document is not valid JSON: %v", err)
	}
	for field := range raw[0] {
		if field == "ConnectionID" || field == "connection_id" {
			t.Errorf("persisted document contains connection reference field %q", field)
		}
	}
}

func TestFlusher_FlushIfDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	repo := NewFileRepository(path)
	store := NewStore()
	flusher := NewFlusher(store, repo, time.Second)

	// Nothing dirty: no file write.
	flusher.FlushIfDirty()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("FlushIfDirty() wrote despite clean store")
	}

	if _, err := store.Create("flush-key", nil); err != nil {
		t.Fatal(err)
	}
	flusher.FlushIfDirty()

	if store.Dirty() {
		t.Error("Dirty() = true after successful flush, want false")
	}
	loaded, err := repo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].Key != "flush-key" {
		t.Errorf("flushed document = %+v, want one device with key flush-key", loaded)
	}
}

func TestFlusher_FailedFlushRetriesNextTick(t *testing.T) {
	// Point the repository at a path whose parent is a file, so MkdirAll fails.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	repo := NewFileRepository(filepath.Join(blocker, "devices.json"))
	store := NewStore()
	flusher := NewFlusher(store, repo, time.Second)

	if _, err := store.Create("k", nil); err != nil {
		t.Fatal(err)
	}
	flusher.FlushIfDirty()

	if !store.Dirty() {
		t.Error("Dirty() = false after failed flush, want true (retry next tick)")
	}
}

func TestFlusher_ShutdownFlushClearsBindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	repo := NewFileRepository(path)
	store := NewStore()

	d, _ := store.Create("k", nil)
	if err := store.Bind(d.Identifier, "conn-1"); err != nil {
		t.Fatal(err)
	}

	flusher := NewFlusher(store, repo, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	loaded, err := repo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Load() = %d devices, want 1", len(loaded))
	}
	if loaded[0].ConnectionID != "" {
		t.Errorf("ConnectionID = %q after shutdown flush, want empty", loaded[0].ConnectionID)
	}
}
