package review

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/rekberpay/internal/txn"
)

// MemoryStore keeps reviews in memory for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	reviews map[string]*Review
}

// NewMemoryStore creates an empty in-memory review store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reviews: make(map[string]*Review)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reviews {
		if existing.EscrowID == r.EscrowID && existing.ReviewerID == r.ReviewerID {
			return ErrReviewExists
		}
	}
	cp := *r
	m.reviews[r.ID] = &cp
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.reviews, r.ID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) ListForUser(_ context.Context, revieweeID int64, limit, offset int) ([]*Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Review
	for _, r := range m.reviews {
		if r.RevieweeID == revieweeID && r.IsPublic {
			cp := *r
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if offset >= len(all) {
		return []*Review{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) Summary(_ context.Context, revieweeID int64) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{UserID: revieweeID}
	total := 0
	for _, r := range m.reviews {
		if r.RevieweeID == revieweeID && r.IsPublic {
			s.Count++
			total += r.Rating
		}
	}
	if s.Count > 0 {
		s.AverageRating = float64(total) / float64(s.Count)
	}
	return s, nil
}
