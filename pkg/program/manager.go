package program

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/txn2/academy-client/pkg/storage"
)

// StorageKey is the store key holding the persisted context.
const StorageKey = "program_context"

// Listener is notified after every change. ok is false once the context
// has been cleared. Listeners run while the change is being committed and
// must not mutate the manager.
type Listener func(c Context, ok bool)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager holds exactly one current program context and persists it on
// every mutation. In-memory state is updated even if persisting fails.
// Mutations are serialized, so the persisted context always matches the
// last one applied in memory.
type Manager struct {
	store  storage.Store
	logger *slog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	current *Context

	subMu     sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New creates a manager and restores the persisted context. A missing or
// unreadable context means no context.
func New(ctx context.Context, store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		logger:    slog.Default(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.load(ctx)
	return m
}

func (m *Manager) load(ctx context.Context) {
	raw, found, err := m.store.Get(ctx, StorageKey)
	if err != nil {
		m.logger.Warn("program: failed to load context", "error", err)
		return
	}
	if !found {
		return
	}

	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		m.logger.Warn("program: failed to parse persisted context", "error", err)
		return
	}
	if c.ProgramID == "" {
		return
	}
	m.current = &c
}

// SetContext replaces the current context.
func (m *Manager) SetContext(ctx context.Context, c Context) error {
	c = c.Clone()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	m.current = &c
	m.mu.Unlock()

	return m.commit(ctx, c)
}

// SwitchContext changes the program while keeping the existing role and
// permissions. Without a current context it behaves like SetContext.
func (m *Manager) SwitchContext(ctx context.Context, programID, programName string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	next := Context{ProgramID: programID, ProgramName: programName}
	if m.current != nil {
		next.UserRole = m.current.UserRole
		next.Permissions = slices.Clone(m.current.Permissions)
	}
	m.current = &next
	m.mu.Unlock()

	return m.commit(ctx, next.Clone())
}

// UpdateContext merges u into the current context. It does nothing when no
// context is set.
func (m *Manager) UpdateContext(ctx context.Context, u Update) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil
	}
	u.apply(m.current)
	c := m.current.Clone()
	m.mu.Unlock()

	return m.commit(ctx, c)
}

// ClearContext drops the current context and its persisted copy.
func (m *Manager) ClearContext(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	m.notify(Context{}, false)
	if err := m.store.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("removing program context: %w", err)
	}
	return nil
}

// Current returns a copy of the current context.
func (m *Manager) Current() (Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return Context{}, false
	}
	return m.current.Clone(), true
}

// ProgramID returns the current program ID, or "" when none is set.
func (m *Manager) ProgramID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return ""
	}
	return m.current.ProgramID
}

// HasPermission reports whether the current context grants permission.
func (m *Manager) HasPermission(permission string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return false
	}
	return slices.Contains(m.current.Permissions, permission)
}

// CanAccessProgram applies CanAccess.
func (*Manager) CanAccessProgram(programID string, role Role, assignments []Assignment) bool {
	return CanAccess(role, programID, assignments)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.listeners, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) commit(ctx context.Context, c Context) error {
	m.notify(c, true)

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding program context: %w", err)
	}
	if err := m.store.Set(ctx, StorageKey, raw); err != nil {
		return fmt.Errorf("persisting program context: %w", err)
	}
	return nil
}

func (m *Manager) notify(c Context, ok bool) {
	m.subMu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(c.Clone(), ok)
	}
}
