package cachecompress

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Manager holds named stores and hands out compressed repositories for them.
// Each call to Store returns a fresh Repository, so instance overrides never
// carry over between callers. Repositories over the same store share their
// Pull locks.
type Manager struct {
	mu          sync.RWMutex
	stores      map[string]managedStore
	defaultName string
	opts        []RepositoryOption
}

type managedStore struct {
	store Store
	locks *keyLocks
}

// NewManager returns a manager whose default store is defaultName.
// opts apply to every repository it builds.
func NewManager(defaultName string, opts ...RepositoryOption) *Manager {
	return &Manager{
		stores:      make(map[string]managedStore),
		defaultName: defaultName,
		opts:        opts,
	}
}

// Register adds or replaces the store called name.
func (m *Manager) Register(name string, store Store) error {
	if store == nil {
		return fmt.Errorf("%w: %q", ErrNilStore, name)
	}
	m.mu.Lock()
	m.stores[name] = managedStore{store: store, locks: m.locksFor(store)}
	m.mu.Unlock()
	return nil
}

// locksFor reuses the locks of a store already registered under another name.
// Callers hold m.mu.
func (m *Manager) locksFor(store Store) *keyLocks {
	t := reflect.TypeOf(store)
	if t.Comparable() {
		for _, entry := range m.stores {
			if reflect.TypeOf(entry.store) == t && entry.store == store {
				return entry.locks
			}
		}
	}
	return newKeyLocks()
}

// RegisterConfig builds a store from cfg and registers it as name.
func (m *Manager) RegisterConfig(ctx context.Context, name string, cfg StoreConfig) error {
	store, err := NewStore(ctx, cfg)
	if err != nil {
		return err
	}
	return m.Register(name, store)
}

// Store returns a repository for the named store; "" selects the default.
func (m *Manager) Store(name string) (*Repository, error) {
	if name == "" {
		name = m.defaultName
	}
	m.mu.RLock()
	entry, ok := m.stores[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	opts := append(append(make([]RepositoryOption, 0, len(m.opts)+1), m.opts...), withKeyLocks(entry.locks))
	return NewRepository(entry.store, opts...), nil
}

// Default is Store("").
func (m *Manager) Default() (*Repository, error) { return m.Store("") }

// Names lists registered store names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
