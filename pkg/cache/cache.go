// Package cache provides the two-tier response cache used by the transport.
//
// Entries live in an in-process map and are written through to a
// storage.Store so they survive restarts. Expiry is checked lazily on read
// and by a periodic sweep. Storage and serialization failures are logged
// and never returned: a failed cache operation behaves like a miss.
package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/txn2/academy-client/pkg/storage"
)

const (
	// DefaultPrefix namespaces cache keys inside the shared store.
	DefaultPrefix = "api_cache_"

	// DefaultTTL applies when Set is called without a TTL.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds the in-process map.
	DefaultMaxEntries = 100

	// DefaultCleanupInterval is the sweep period used by the client.
	DefaultCleanupInterval = time.Minute
)

// Config configures a Manager.
type Config struct {
	Prefix     string
	DefaultTTL time.Duration
	MaxEntries int
	Disabled   bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger that receives swallowed errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager is a TTL cache with a memory tier backed by a storage.Store.
type Manager struct {
	store      storage.Store
	logger     *slog.Logger
	now        func() time.Time
	prefix     string
	defaultTTL time.Duration
	maxEntries int

	mu          sync.Mutex
	entries     map[string]Entry
	enabled     bool
	hits        int
	misses      int
	evictions   int
	expirations int
	seq         uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a cache manager over store.
func New(store storage.Store, cfg Config, opts ...Option) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	m := &Manager{
		store:      store,
		logger:     slog.Default(),
		now:        time.Now,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
		maxEntries: cfg.MaxEntries,
		entries:    make(map[string]Entry),
		enabled:    !cfg.Disabled,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get decodes the cached value for key into dst. It returns false on a
// miss, on expiry, on any failure, or while the cache is disabled.
func (m *Manager) Get(ctx context.Context, key string, dst any) bool {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	entry, ok := m.entries[key]
	if ok && !entry.Valid(now) {
		delete(m.entries, key)
		m.expirations++
		m.misses++
		m.mu.Unlock()
		m.removeStored(ctx, key)
		return false
	}
	m.mu.Unlock()

	if !ok {
		var found bool
		entry, found = m.load(ctx, key, now)
		if !found {
			m.countMiss()
			return false
		}
	}

	if err := json.Unmarshal(entry.Data, dst); err != nil {
		m.report(&Error{Op: "decode", Key: key, Err: err})
		m.countMiss()
		return false
	}

	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	return true
}

// load reads key from the store and repopulates the memory tier when the
// stored entry is still valid.
func (m *Manager) load(ctx context.Context, key string, now time.Time) (Entry, bool) {
	raw, found, err := m.store.Get(ctx, m.prefix+key)
	if err != nil {
		m.report(&Error{Op: "load", Key: key, Err: err})
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		m.report(&Error{Op: "parse", Key: key, Err: err})
		m.removeStored(ctx, key)
		return Entry{}, false
	}
	if !entry.Valid(now) {
		m.mu.Lock()
		m.expirations++
		m.mu.Unlock()
		m.removeStored(ctx, key)
		return Entry{}, false
	}

	entry.Key = key
	m.mu.Lock()
	m.insertLocked(entry)
	evicted := m.evictLocked()
	m.mu.Unlock()
	m.removeStored(ctx, evicted...)

	return entry, true
}

// Set stores data under key with the default TTL.
func (m *Manager) Set(ctx context.Context, key string, data any) {
	m.SetWithTTL(ctx, key, data, m.defaultTTL)
}

// SetWithTTL stores data under key. A ttl of zero stores an entry that is
// already expired.
func (m *Manager) SetWithTTL(ctx context.Context, key string, data any, ttl time.Duration) {
	if !m.Enabled() {
		return
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		m.report(&Error{Op: "encode", Key: key, Err: err})
		return
	}

	m.mu.Lock()
	entry := newEntry(key, encoded, m.now(), ttl)
	m.insertLocked(entry)
	evicted := m.evictLocked()
	m.mu.Unlock()

	m.persist(ctx, entry)
	m.removeStored(ctx, evicted...)
}

func (m *Manager) insertLocked(e Entry) {
	m.seq++
	e.seq = m.seq
	m.entries[e.Key] = e
}

// evictLocked trims the memory tier to maxEntries by removing the entries
// with the oldest timestamps. Ties go to the earliest inserted entry. It
// returns the removed keys.
func (m *Manager) evictLocked() []string {
	over := len(m.entries) - m.maxEntries
	if over <= 0 {
		return nil
	}

	ordered := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, func(a, b Entry) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	evicted := make([]string, 0, over)
	for _, e := range ordered[:over] {
		delete(m.entries, e.Key)
		evicted = append(evicted, e.Key)
	}
	m.evictions += over
	return evicted
}

// Remove deletes key from both tiers.
func (m *Manager) Remove(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	m.removeStored(ctx, key)
}

// Clear deletes every entry under the prefix from both tiers. It works
// while the cache is disabled.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()

	keys, err := m.storedKeys(ctx)
	if err != nil {
		m.report(&Error{Op: "clear", Err: err})
		return
	}
	m.removeStored(ctx, keys...)
}

// InvalidatePattern removes every entry whose key matches pattern. The
// pattern is tested against both the raw key and the namespaced store key.
// It returns the number of entries removed. Only an invalid pattern is
// reported as an error.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compiling invalidation pattern: %w", err)
	}

	matches := func(key string) bool {
		return re.MatchString(key) || re.MatchString(m.prefix+key)
	}

	removed := make(map[string]struct{})

	m.mu.Lock()
	for key := range m.entries {
		if matches(key) {
			delete(m.entries, key)
			removed[key] = struct{}{}
		}
	}
	m.mu.Unlock()

	stored, err := m.storedKeys(ctx)
	if err != nil {
		m.report(&Error{Op: "invalidate", Key: pattern, Err: err})
	}
	for _, key := range stored {
		if matches(key) {
			removed[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(removed))
	for key := range removed {
		keys = append(keys, key)
	}
	m.removeStored(ctx, keys...)

	m.logger.Debug("cache: invalidated", "pattern", pattern, "removed", len(keys))
	return len(keys), nil
}

// Cleanup removes expired entries found in the memory tier from both tiers.
// It does nothing while the cache is disabled.
func (m *Manager) Cleanup(ctx context.Context) int {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return 0
	}
	now := m.now()
	var expired []string
	for key, e := range m.entries {
		if !e.Valid(now) {
			delete(m.entries, key)
			expired = append(expired, key)
		}
	}
	m.expirations += len(expired)
	m.mu.Unlock()

	m.removeStored(ctx, expired...)
	return len(expired)
}

// Stats returns a snapshot of the cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Entries:     len(m.entries),
		MaxEntries:  m.maxEntries,
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		Expirations: m.expirations,
		Enabled:     m.enabled,
	}
}

// Enable turns the cache on.
func (m *Manager) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

// Disable turns the cache off. Persisted entries are left in place.
func (m *Manager) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Enabled reports whether the cache is on.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// StartCleanupRoutine starts a background goroutine that periodically
// sweeps expired entries. The goroutine is stopped when Close is called.
func (m *Manager) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Cleanup(ctx); n > 0 {
					m.logger.Debug("cache: swept expired entries", "count", n)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}
	return nil
}

func (m *Manager) countMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *Manager) persist(ctx context.Context, entry Entry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		m.report(&Error{Op: "encode", Key: entry.Key, Err: err})
		return
	}
	if err := m.store.Set(ctx, m.prefix+entry.Key, raw); err != nil {
		m.report(&Error{Op: "persist", Key: entry.Key, Err: err})
	}
}

func (m *Manager) removeStored(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := m.store.Remove(ctx, m.prefix+key); err != nil {
			m.report(&Error{Op: "remove", Key: key, Err: err})
		}
	}
}

// storedKeys lists raw keys under the prefix.
func (m *Manager) storedKeys(ctx context.Context) ([]string, error) {
	all, err := m.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if raw, ok := strings.CutPrefix(k, m.prefix); ok {
			keys = append(keys, raw)
		}
	}
	return keys, nil
}

func (m *Manager) report(err *Error) {
	m.logger.Warn("cache: operation failed", "op", err.Op, "key", err.Key, "error", err.Err)
}
