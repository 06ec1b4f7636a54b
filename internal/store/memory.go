package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-arena/internal/domain"
)

// MemoryStore is a process-local Store used when no REDIS_URL is configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.Snapshot
	byUser map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]domain.Snapshot),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[snap.ID]; ok {
		if len(cur.MovesUCI) > len(snap.MovesUCI) || (cur.Status.Terminal() && !snap.Status.Terminal()) {
			return ErrStaleSnapshot
		}
	}
	m.byID[snap.ID] = snap.Clone()
	for _, p := range []domain.Participant{snap.White, snap.Black} {
		if p.IsBot() || strings.TrimSpace(p.ID) == "" {
			continue
		}
		set, ok := m.byUser[p.ID]
		if !ok {
			set = make(map[string]struct{})
			m.byUser[p.ID] = set
		}
		set[snap.ID] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	out := snap.Clone()
	return &out, nil
}

func (m *MemoryStore) GamesByUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		ids = append(ids, id)
	}
	return sortedIDs(ids), nil
}

func (m *MemoryStore) ActiveIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, snap := range m.byID {
		if snap.Status == domain.StatusActive {
			ids = append(ids, id)
		}
	}
	return sortedIDs(ids), nil
}

func sortedIDs(ids []string) []string {
	sort.Strings(ids)
	return ids
}
