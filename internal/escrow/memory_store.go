package escrow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/rekberpay/internal/txn"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
// Row locking is provided by txn.MemoryRunner, which serializes units of work.
type MemoryStore struct {
	escrows map[string]*Escrow
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.escrows[e.ID] = e.clone()
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.escrows, e.ID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return e.clone(), nil
}

func (m *MemoryStore) GetForUpdate(ctx context.Context, id string) (*Escrow, error) {
	return m.Get(ctx, id)
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.escrows[e.ID]
	if !ok {
		return ErrEscrowNotFound
	}
	m.escrows[e.ID] = e.clone()
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		m.escrows[e.ID] = old
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, userID int64, role PartyRole, limit, offset int) ([]*Escrow, error) {
	return m.list(limit, offset, func(e *Escrow) bool {
		if role == RoleSeller {
			return e.SellerID == userID
		}
		return e.BuyerID == userID
	}), nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Escrow, error) {
	return m.list(limit, offset, func(*Escrow) bool { return true }), nil
}

func (m *MemoryStore) ListUnpaidExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, e := range m.escrows {
		if e.Status != StatusCreated && e.Status != StatusPendingPayment {
			continue
		}
		if e.ExpiresAt == nil || !e.ExpiresAt.Before(before) {
			continue
		}
		result = append(result, e.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(*result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &Stats{}
	for _, e := range m.escrows {
		st.TotalEscrows++
		st.TotalVolume += e.Amount
		switch e.Status {
		case StatusCompleted:
			st.CompletedCount++
		case StatusDisputed:
			st.DisputedCount++
		}
	}
	if st.TotalEscrows > 0 {
		st.AverageAmount = st.TotalVolume / st.TotalEscrows
	}
	return st, nil
}

// list returns matching escrows newest first.
func (m *MemoryStore) list(limit, offset int, match func(*Escrow) bool) []*Escrow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Escrow
	for _, e := range m.escrows {
		if match(e) {
			all = append(all, e.clone())
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*Escrow{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

var _ Store = (*MemoryStore)(nil)
