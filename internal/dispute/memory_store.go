package dispute

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/rekberpay/internal/txn"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
	byEscrow map[string]string
	messages map[string][]*Message
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		byEscrow: make(map[string]string),
		messages: make(map[string][]*Message),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEscrow[d.EscrowID]; ok {
		return ErrDisputeExists
	}
	m.disputes[d.ID] = d.clone()
	m.byEscrow[d.EscrowID] = d.ID
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.disputes, d.ID)
		delete(m.byEscrow, d.EscrowID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return d.clone(), nil
}

func (m *MemoryStore) GetForUpdate(ctx context.Context, id string) (*Dispute, error) {
	return m.Get(ctx, id)
}

func (m *MemoryStore) GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error) {
	m.mu.RLock()
	id, ok := m.byEscrow[escrowID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.disputes[d.ID]
	if !ok {
		return ErrDisputeNotFound
	}
	m.disputes[d.ID] = d.clone()
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		m.disputes[d.ID] = old
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) List(ctx context.Context, status Status, limit, offset int) ([]*Dispute, error) {
	m.mu.RLock()
	var all []*Dispute
	for _, d := range m.disputes {
		if status == "" || d.Status == status {
			all = append(all, d.clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*Dispute{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[msg.DisputeID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *msg
	m.messages[msg.DisputeID] = append(m.messages[msg.DisputeID], &cp)
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		thread := m.messages[msg.DisputeID]
		m.messages[msg.DisputeID] = thread[:len(thread)-1]
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.messages[disputeID]
	result := make([]*Message, len(thread))
	for i, msg := range thread {
		cp := *msg
		result[i] = &cp
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
