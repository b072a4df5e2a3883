package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Storage is the key-value persistence primitive consumed by the pipeline.
// Load returns nil without error for a missing key. Implementations that
// cannot persist should return errors; the pipeline swallows them and keeps
// functioning in-memory only.
type Storage interface {
	Load(key string) ([]byte, error)
	Store(key string, value []byte) error
	Delete(key string) error
}

// NoopStorage discards everything. It is the fallback when no durable
// capability is available.
type NoopStorage struct{}

func (NoopStorage) Load(string) ([]byte, error)  { return nil, nil }
func (NoopStorage) Store(string, []byte) error   { return nil }
func (NoopStorage) Delete(string) error          { return nil }

// MemoryStorage is a process-scoped store. It backs session-scoped state,
// where a Go process lifetime equals one session.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStorage) Store(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStorage persists each key as one JSON file under a directory, so state
// survives process restarts.
type FileStorage struct {
	mu  sync.Mutex
	dir string
}

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// NewFileStorage creates the backing directory if needed
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is empty")
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return filepath.Join(f.dir, b.String()+".json")
}

func (f *FileStorage) Load(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return data, nil
}

func (f *FileStorage) Store(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.WriteFile(f.path(key), value, filePermissions); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (f *FileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// durableQueueKey is the storage key holding the serialized backlog.
const durableQueueKey = "telemetry.events"

// durableQueue is the persisted backlog of events not yet confirmed
// delivered. It keeps an in-memory view and mirrors every mutation to
// storage. All operations are best-effort: persistence failures are logged
// and swallowed so the pipeline keeps working in-memory only.
type durableQueue struct {
	mu       sync.Mutex
	storage  Storage
	logger   *zap.Logger
	capacity int
	events   []Event
}

// newDurableQueue restores any backlog left by a previous session.
func newDurableQueue(storage Storage, capacity int, logger *zap.Logger) *durableQueue {
	q := &durableQueue{
		storage:  storage,
		logger:   logger,
		capacity: capacity,
	}
	q.restore()
	return q
}

func (q *durableQueue) restore() {
	data, err := q.storage.Load(durableQueueKey)
	if err != nil {
		q.logger.Warn("Failed to load persisted events", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		q.logger.Warn("Discarding corrupt persisted events", zap.Error(err))
		if err := q.storage.Delete(durableQueueKey); err != nil {
			q.logger.Debug("Failed to delete corrupt persisted events", zap.Error(err))
		}
		return
	}
	if len(events) > q.capacity {
		events = events[len(events)-q.capacity:]
	}
	q.events = events
}

// persistLocked writes the current contents to storage. Callers hold q.mu.
func (q *durableQueue) persistLocked() {
	data, err := json.Marshal(q.events)
	if err != nil {
		q.logger.Warn("Failed to serialize persisted events", zap.Error(err))
		return
	}
	if err := q.storage.Store(durableQueueKey, data); err != nil {
		q.logger.Warn("Failed to persist events", zap.Error(err), zap.Int("count", len(q.events)))
	}
}

// trimLocked enforces the capacity bound, dropping oldest entries first.
// Returns the number of evicted events.
func (q *durableQueue) trimLocked() int {
	if q.capacity <= 0 || len(q.events) <= q.capacity {
		return 0
	}
	evicted := len(q.events) - q.capacity
	q.events = q.events[evicted:]
	return evicted
}

// Append adds one event, evicting oldest entries beyond capacity.
func (q *durableQueue) Append(event Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, event)
	if n := q.trimLocked(); n > 0 {
		q.logger.Debug("Durable queue at capacity, evicted oldest events", zap.Int("count", n))
	}
	q.persistLocked()
}

// DrainAll returns and clears all stored events.
func (q *durableQueue) DrainAll() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	q.persistLocked()
	return out
}

// Replace overwrites the stored contents, trimming to capacity.
func (q *durableQueue) Replace(events []Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = events
	q.trimLocked()
	q.persistLocked()
}

// Requeue re-inserts a failed batch at the front, preserving its recency
// ordering against events produced after it. Over capacity the re-inserted
// events are the oldest and go first.
func (q *durableQueue) Requeue(batch []Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]Event, 0, len(batch)+len(q.events))
	merged = append(merged, batch...)
	merged = append(merged, q.events...)
	q.events = merged
	if n := q.trimLocked(); n > 0 {
		q.logger.Debug("Durable queue overflow on requeue, evicted oldest events", zap.Int("count", n))
	}
	q.persistLocked()
}

// Len returns the number of persisted events.
func (q *durableQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clear drops all persisted events.
func (q *durableQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = nil
	if err := q.storage.Delete(durableQueueKey); err != nil {
		q.logger.Debug("Failed to clear persisted events", zap.Error(err))
	}
}
