package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRuns is a process-local RunRepository.
type MemoryRuns struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

var _ RunRepository = (*MemoryRuns)(nil)

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: make(map[string]*Run)}
}

func (m *MemoryRuns) Save(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *run
	c.tags = run.Tags()
	m.runs[run.ID()] = &c
	return nil
}

func (m *MemoryRuns) FindByID(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, &RunNotFoundError{ID: id}
	}
	c := *r
	return &c, nil
}

func (m *MemoryRuns) List(_ context.Context, filter RunFilter) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Run
	for _, r := range m.runs {
		if filter.ChainID != 0 && r.ChainID() != filter.ChainID {
			continue
		}
		if filter.State != "" && r.State() != filter.State {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt().Equal(out[j].StartedAt()) {
			return out[i].StartedAt().After(out[j].StartedAt())
		}
		return out[i].ID() > out[j].ID()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
