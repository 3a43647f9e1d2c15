package runs

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps runs in process. Used when no ledger database is
// configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]*Run)}
}

func (m *MemoryRepository) Create(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRepository) List(_ context.Context, limit, offset int) ([]*Run, int, error) {
	all := m.sorted(func(*Run) bool { return true })
	total := len(all)
	if offset >= total {
		return []*Run{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryRepository) ListByDocument(_ context.Context, documentID string) ([]*Run, error) {
	return m.sorted(func(r *Run) bool { return r.DocumentID == documentID }), nil
}

func (m *MemoryRepository) sorted(keep func(*Run) bool) []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
