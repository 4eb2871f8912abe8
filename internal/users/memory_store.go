package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/txn"
)

// MemoryStore keeps users, KYC submissions, blacklist entries and payment
// methods in memory for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	users     map[int64]*User
	byOpenID  map[string]int64
	kyc       map[string]*KYCSubmission
	blacklist map[string]*BlacklistEntry
	methods   map[string]*PaymentMethod
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*User),
		byOpenID:  make(map[string]int64),
		kyc:       make(map[string]*KYCSubmission),
		blacklist: make(map[string]*BlacklistEntry),
		methods:   make(map[string]*PaymentMethod),
	}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byOpenID[u.OpenID]; ok {
		return ErrUserExists
	}
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = cloneUser(u)
	m.byOpenID[u.OpenID] = u.ID
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.users, u.ID)
		delete(m.byOpenID, u.OpenID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) GetByOpenID(ctx context.Context, openID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOpenID[openID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *MemoryStore) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.users[u.ID]
	if !ok {
		return identity.ErrUserNotFound
	}
	m.users[u.ID] = cloneUser(u)
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		m.users[u.ID] = old
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*User, error) {
	m.mu.RLock()
	all := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, cloneUser(u))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return window(all, limit, offset), nil
}

func (m *MemoryStore) CreateKYC(ctx context.Context, k *KYCSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *k
	m.kyc[k.ID] = &cp
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.kyc, k.ID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) HasPendingKYC(_ context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.kyc {
		if k.UserID == userID && k.Status == KYCPending {
			return true, nil
		}
	}
	return false, nil
}

// BlacklistStore returns a view of m implementing BlacklistStore.
func (m *MemoryStore) BlacklistStore() BlacklistStore { return (*memoryBlacklist)(m) }

// PaymentMethodStore returns a view of m implementing PaymentMethodStore.
func (m *MemoryStore) PaymentMethodStore() PaymentMethodStore { return (*memoryMethods)(m) }

type memoryBlacklist MemoryStore

func (b *memoryBlacklist) Add(ctx context.Context, e *BlacklistEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *e
	b.blacklist[e.ID] = &cp
	txn.OnRollback(ctx, func() {
		b.mu.Lock()
		delete(b.blacklist, e.ID)
		b.mu.Unlock()
	})
	return nil
}

func (b *memoryBlacklist) Get(ctx context.Context, id string) (*BlacklistEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.blacklist[id]
	if !ok {
		return nil, ErrBlacklistNotFound
	}
	cp := *e
	return &cp, nil
}

func (b *memoryBlacklist) Deactivate(ctx context.Context, id string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.blacklist[id]
	if !ok {
		return ErrBlacklistNotFound
	}
	old := *e
	e.IsActive = false
	e.UpdatedAt = at
	txn.OnRollback(ctx, func() {
		b.mu.Lock()
		*b.blacklist[id] = old
		b.mu.Unlock()
	})
	return nil
}

func (b *memoryBlacklist) List(ctx context.Context, limit, offset int) ([]*BlacklistEntry, error) {
	b.mu.RLock()
	all := make([]*BlacklistEntry, 0, len(b.blacklist))
	for _, e := range b.blacklist {
		cp := *e
		all = append(all, &cp)
	}
	b.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return window(all, limit, offset), nil
}

func (b *memoryBlacklist) Match(ctx context.Context, lookups []Lookup, now time.Time) (*BlacklistEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, l := range lookups {
		for _, e := range b.blacklist {
			if e.Type == l.Type && e.Value == l.Value && e.ActiveAt(now) {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, nil
}

type memoryMethods MemoryStore

func (p *memoryMethods) Create(ctx context.Context, pm *PaymentMethod) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *pm
	p.methods[pm.ID] = &cp
	txn.OnRollback(ctx, func() {
		p.mu.Lock()
		delete(p.methods, pm.ID)
		p.mu.Unlock()
	})
	return nil
}

func (p *memoryMethods) ListByUser(ctx context.Context, userID int64) ([]*PaymentMethod, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := []*PaymentMethod{}
	for _, pm := range p.methods {
		if pm.UserID == userID {
			cp := *pm
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].IsDefault != result[j].IsDefault {
			return result[i].IsDefault
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func cloneUser(u *User) *User {
	cp := *u
	if u.KYCVerifiedAt != nil {
		t := *u.KYCVerifiedAt
		cp.KYCVerifiedAt = &t
	}
	if u.FrozenAt != nil {
		t := *u.FrozenAt
		cp.FrozenAt = &t
	}
	return &cp
}

func window[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

var (
	_ Store              = (*MemoryStore)(nil)
	_ BlacklistStore     = (*memoryBlacklist)(nil)
	_ PaymentMethodStore = (*memoryMethods)(nil)
)
