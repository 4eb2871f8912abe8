package fees

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/rekberpay/internal/txn"
)

// MemoryStore keeps fee configs in memory for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*Config // by name
}

// NewMemoryStore creates an empty in-memory fee store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]*Config)}
}

func (m *MemoryStore) List(_ context.Context) ([]*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(*Config) bool { return true }), nil
}

func (m *MemoryStore) Active(_ context.Context, currency string) ([]*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(c *Config) bool { return c.IsActive && c.Currency == currency }), nil
}

func (m *MemoryStore) GetByName(_ context.Context, name string) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[name]
	if !ok {
		return nil, ErrConfigNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, c *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.configs[c.Name]
	cp := *c
	m.configs[c.Name] = &cp
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.configs[c.Name] = prev
		} else {
			delete(m.configs, c.Name)
		}
	})
	return nil
}

// sorted returns copies of matching configs ordered by name. Caller holds m.mu.
func (m *MemoryStore) sorted(keep func(*Config) bool) []*Config {
	var out []*Config
	for _, c := range m.configs {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
