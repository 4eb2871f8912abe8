package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/rekberpay/internal/txn"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	wallets      map[string]*Wallet         // escrowID -> wallet
	transactions map[string][]*Transaction // escrowID -> txns, oldest first
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]*Wallet),
		transactions: make(map[string][]*Transaction),
	}
}

func (m *MemoryStore) CreateWallet(ctx context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.EscrowID]; ok {
		return ErrWalletExists
	}
	cp := *w
	m.wallets[w.EscrowID] = &cp

	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.wallets, w.EscrowID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) GetWallet(ctx context.Context, escrowID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[escrowID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) UpdateWallet(ctx context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.wallets[w.EscrowID]
	if !ok {
		return ErrWalletNotFound
	}
	cp := *w
	m.wallets[w.EscrowID] = &cp

	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		m.wallets[w.EscrowID] = old
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) ListWallets(ctx context.Context, limit, offset int) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		cp := *w
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].EscrowID < all[j].EscrowID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*Wallet{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) InsertTransaction(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyTransaction(tx)
	m.transactions[tx.EscrowID] = append(m.transactions[tx.EscrowID], cp)

	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.transactions[tx.EscrowID]
		for i, t := range list {
			if t.ID == tx.ID {
				m.transactions[tx.EscrowID] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, escrowID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.transactions[escrowID]
	result := make([]*Transaction, 0, len(list))
	for _, t := range list {
		result = append(result, copyTransaction(t))
	}
	return result, nil
}

func copyTransaction(t *Transaction) *Transaction {
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
