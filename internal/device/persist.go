package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File permissions for the persisted device list.
const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// FileRepository persists the device list as a single JSON document: a flat
// ordered array of records, read in full at startup and rewritten in full on
// each flush. Connection references are never serialized.
type FileRepository struct {
	path string
}

// NewFileRepository creates a repository backed by the given file path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Path returns the filesystem path of the device list document.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the full device list from disk.
//
// A missing file is treated as an empty store and the file is created empty.
// Any other read or parse failure is a startup-time fault and is surfaced,
// never silently swallowed.
func (r *FileRepository) Load() ([]*Device, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		if saveErr := r.Save(nil); saveErr != nil {
			return nil, saveErr
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrPersistence, r.path, err)
	}

	var devices []*Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrPersistence, r.path, err)
	}
	return devices, nil
}

// Save rewrites the full device list document atomically (temp file +
// rename), so a crash mid-write never leaves a truncated document behind.
func (r *FileRepository) Save(devices []*Device) error {
	if devices == nil {
		devices = []*Device{}
	}

	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding device list: %w", ErrPersistence, err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()         //nolint:errcheck // Best effort cleanup on error path
		os.Remove(tmpName)  //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: writing temp file: %w", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: closing temp file: %w", ErrPersistence, err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: replacing %s: %w", ErrPersistence, r.path, err)
	}

	// Owner read/write only; the document holds device secrets.
	_ = os.Chmod(r.path, filePermissions) //nolint:errcheck // Best effort

	return nil
}

// Flusher periodically writes the store's snapshot to the repository when
// the dirty flag is set. Flush failures are logged and retried on the next
// tick; data loss on crash is bounded to one flush interval.
type Flusher struct {
	store    *Store
	repo     *FileRepository
	interval time.Duration
	logger   Logger
}

// NewFlusher creates a flusher for the given store and repository.
func NewFlusher(store *Store, repo *FileRepository, interval time.Duration) *Flusher {
	return &Flusher{
		store:    store,
		repo:     repo,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the flusher.
func (f *Flusher) SetLogger(logger Logger) {
	f.logger = logger
}

// Run blocks, flushing on every tick while dirty, until ctx is cancelled.
// On shutdown it clears all connection references and performs one final
// best-effort synchronous flush.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.FlushIfDirty()
		case <-ctx.Done():
			f.store.ClearBindings()
			if err := f.Flush(); err != nil {
				f.logger.Error("final device list flush failed", "error", err)
			}
			return
		}
	}
}

// FlushIfDirty writes the device list iff the dirty flag is set.
//
// The flag is cleared before the snapshot is taken, so a mutation racing
// with the write re-arms the flag and is picked up on the next tick.
func (f *Flusher) FlushIfDirty() {
	if !f.store.Dirty() {
		return
	}
	f.store.ClearDirty()

	if err := f.repo.Save(f.store.Snapshot()); err != nil {
		f.store.MarkDirty()
		f.logger.Error("device list flush failed, will retry", "error", err)
		return
	}
	f.logger.Debug("device list flushed", "count", f.store.Count())
}

// Flush unconditionally writes the current snapshot and clears the flag.
func (f *Flusher) Flush() error {
	f.store.ClearDirty()
	if err := f.repo.Save(f.store.Snapshot()); err != nil {
		f.store.MarkDirty()
		return err
	}
	return nil
}
