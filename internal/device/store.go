package device

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store owns the canonical device list and two lookup indices (by secret key
// and by public identifier). The two indices plus the backing list are the
// single source of truth; every other component reads and mutates devices
// only through these operations.
//
// Mutations set a dirty flag instead of writing to disk; the Flusher drains
// the flag on a timer. None of the operations block.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	byKey   map[string]*Device
	byIdent map[string]*Device
	list    []*Device // insertion-ordered backing list, flushed as-is
	dirty   bool
	logger  Logger
}

// NewStore creates an empty device store.
func NewStore() *Store {
	return &Store{
		byKey:   make(map[string]*Device),
		byIdent: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load replaces the store contents with the given records. Used once at
// startup with the list read from disk; connection references are dropped
// because connections are not restartable across process restarts.
func (s *Store) Load(devices []*Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey = make(map[string]*Device, len(devices))
	s.byIdent = make(map[string]*Device, len(devices))
	s.list = make([]*Device, 0, len(devices))

	for _, d := range devices {
		cpy := d.Copy()
		cpy.ConnectionID = ""
		s.byKey[cpy.Key] = cpy
		s.byIdent[cpy.Identifier] = cpy
		s.list = append(s.list, cpy)
	}
	s.dirty = false

	s.logger.Info("device store loaded", "count", len(devices))
}

// Create registers a new device for the given key.
//
// Returns ErrMissingKey for an empty key and ErrDuplicateKey if the key is
// already registered; no mutation is performed in either case. On success a
// fresh ID and identifier are allocated, the record is inserted into both
// indices and the backing list, and the store is marked dirty.
func (s *Store) Create(key string, expiry *time.Time) (*Device, error) {
	if key == "" {
		return nil, ErrMissingKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[key]; exists {
		return nil, ErrDuplicateKey
	}

	d := &Device{
		ID:         GenerateID(),
		Key:        key,
		Identifier: GenerateIdentifier(),
		CreatedAt:  time.Now().UTC(),
	}
	if expiry != nil {
		e := *expiry
		d.Expiry = &e
	}

	s.byKey[d.Key] = d
	s.byIdent[d.Identifier] = d
	s.list = append(s.list, d)
	s.dirty = true

	s.logger.Info("device created", "id", d.ID, "identifier", d.Identifier)
	return d.Copy(), nil
}

// Delete removes the device registered under key from both indices and the
// backing list, marks the store dirty, and returns the removed record so the
// caller can sever any bound connection with a reason code.
//
// Returns ErrNotFound if the key is unknown.
func (s *Store) Delete(key string) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.byKey[key]
	if !exists {
		return nil, ErrNotFound
	}

	delete(s.byKey, d.Key)
	delete(s.byIdent, d.Identifier)
	for i, cur := range s.list {
		if cur == d {
			s.list = append(s.list[:i], s.list[i+1:]...)
			break
		}
	}
	s.dirty = true

	s.logger.Info("device deleted", "id", d.ID, "identifier", d.Identifier)
	return d.Copy(), nil
}

// LookupByKey returns the device registered under key, or ErrNotFound.
// Pure read, no side effects.
func (s *Store) LookupByKey(key string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Copy(), nil
}

// LookupByIdentifier returns the device with the given public identifier,
// or ErrNotFound. Pure read, no side effects.
func (s *Store) LookupByIdentifier(identifier string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byIdent[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Copy(), nil
}

// Bind associates a live connection handle with the device. A new binding
// supersedes any stale reference left over from an ungraceful disconnect;
// the superseded connection is not closed here. Marks the store dirty.
//
// Returns ErrNotFound if the identifier is unknown.
func (s *Store) Bind(identifier, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byIdent[identifier]
	if !ok {
		return ErrNotFound
	}

	if d.ConnectionID != "" && d.ConnectionID != connID {
		s.logger.Debug("superseding stale connection binding",
			"identifier", identifier,
			"old_connection", d.ConnectionID,
			"new_connection", connID,
		)
	}
	d.ConnectionID = connID
	s.dirty = true
	return nil
}

// Unbind clears the device's connection reference, but only if it still
// points at connID. An out-of-order stale clear from an old connection's
// teardown must not erase a newer binding. Marks the store dirty when a
// clear actually happens.
func (s *Store) Unbind(identifier, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byIdent[identifier]
	if !ok {
		return
	}
	if d.ConnectionID != connID {
		return
	}
	d.ConnectionID = ""
	s.dirty = true
}

// ClearBindings zeroes every connection reference. Called before the final
// shutdown flush so persisted state never contains a connection reference.
func (s *Store) ClearBindings() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.list {
		d.ConnectionID = ""
	}
}

// Snapshot returns an ordered copy of the backing list for flushing.
func (s *Store) Snapshot() []*Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*Device, 0, len(s.list))
	for _, d := range s.list {
		devices = append(devices, d.Copy())
	}
	return devices
}

// Count returns the number of registered devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Dirty reports whether in-memory state has diverged from durable storage
// since the last flush.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// ClearDirty resets the dirty flag after a successful flush.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// MarkDirty re-arms the dirty flag. Used by the Flusher when a flush fails
// so the write is retried on the next tick.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}
