package registry

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local Registry used for dry runs and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{records: make(map[Key]*Record)}
}

func (m *Memory) Get(_ context.Context, name string, chainID uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[Key{Name: name, ChainID: chainID}]
	if !ok {
		return nil, &RecordNotFoundError{Name: name, ChainID: chainID}
	}
	return r.Clone(), nil
}

func (m *Memory) Put(_ context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Key()] = record.Clone()
	return nil
}

func (m *Memory) List(_ context.Context, chainID uint64) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for k, r := range m.records {
		if k.ChainID == chainID {
			out = append(out, r.Clone())
		}
	}
	SortByDeployment(out)
	return out, nil
}

// SortByDeployment orders records by deployment time, then name.
func SortByDeployment(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].DeployedAt.Equal(records[j].DeployedAt) {
			return records[i].DeployedAt.Before(records[j].DeployedAt)
		}
		return records[i].Name < records[j].Name
	})
}
