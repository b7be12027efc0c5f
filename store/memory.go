package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/warden"
)

// MemoryCatalog keeps plugin records in process memory. Used by tests
// and by hosts that do not need the catalog to survive restarts.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[string]*warden.PluginRecord
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{records: make(map[string]*warden.PluginRecord)}
}

// Create implements warden.Catalog.
func (m *MemoryCatalog) Create(_ context.Context, rec *warden.PluginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := rec.ID()
	if _, ok := m.records[id]; ok {
		return warden.ErrAlreadyInstalled
	}

	now := time.Now()
	clone := rec.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.records[id] = clone
	return nil
}

// Update implements warden.Catalog.
func (m *MemoryCatalog) Update(_ context.Context, rec *warden.PluginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := rec.ID()
	existing, ok := m.records[id]
	if !ok {
		return warden.ErrPluginNotFound
	}

	clone := rec.Clone()
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.records[id] = clone
	return nil
}

// Get implements warden.Catalog.
func (m *MemoryCatalog) Get(_ context.Context, id string) (*warden.PluginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, warden.ErrPluginNotFound
	}
	return rec.Clone(), nil
}

// Delete implements warden.Catalog.
func (m *MemoryCatalog) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return warden.ErrPluginNotFound
	}
	delete(m.records, id)
	return nil
}

// List implements warden.Catalog.
func (m *MemoryCatalog) List(_ context.Context) ([]*warden.PluginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*warden.PluginRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// Close implements warden.Catalog. No-op for memory.
func (m *MemoryCatalog) Close() error {
	return nil
}

var _ warden.Catalog = (*MemoryCatalog)(nil)

// kvEntry is one stored value with optional expiry.
type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryKV is an in-memory namespaced key-value store with lazy expiry.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]map[string]kvEntry
}

// NewMemoryKV creates an empty in-memory key-value store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string]kvEntry)}
}

// Get implements warden.KV.
func (m *MemoryKV) Get(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.data[namespace]
	if !ok {
		return "", false, nil
	}
	entry, ok := ns[key]
	if !ok || entry.expired(time.Now()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set implements warden.KV.
func (m *MemoryKV) Set(_ context.Context, namespace, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]kvEntry)
		m.data[namespace] = ns
	}

	entry := kvEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	ns[key] = entry
	return nil
}

// Delete implements warden.KV.
func (m *MemoryKV) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ns, ok := m.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

// Keys implements warden.KV.
func (m *MemoryKV) Keys(_ context.Context, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.data[namespace]
	if !ok {
		return nil, nil
	}

	now := time.Now()
	keys := make([]string, 0, len(ns))
	for k, entry := range ns {
		if entry.expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearNamespace implements warden.KV.
func (m *MemoryKV) ClearNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, namespace)
	return nil
}

// Close implements warden.KV. No-op for memory.
func (m *MemoryKV) Close() error {
	return nil
}

var _ warden.KV = (*MemoryKV)(nil)
