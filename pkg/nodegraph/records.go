package nodegraph

import (
	"context"
	"sync"
)

// ActiveRecordLayer is the pseudo-layer served from a RecordSource instead of
// the graph service. Its data is not revisioned.
const ActiveRecordLayer = "active_record"

// RecordSource looks up relational records for nodes of one type by number.
// Numbers without a record are simply absent from the result.
type RecordSource interface {
	FindRecords(ctx context.Context, nodeType string, numbers []int64) (map[int64]map[string]any, error)
}

// MemoryRecords is an in-process RecordSource.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]map[int64]map[string]any
}

// NewMemoryRecords returns an empty store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]map[int64]map[string]any)}
}

// Put stores a copy of fields as the record for nodeType and number.
func (m *MemoryRecords) Put(nodeType string, number int64, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[nodeType] == nil {
		m.records[nodeType] = make(map[int64]map[string]any)
	}
	m.records[nodeType][number] = deepCopyMap(fields)
}

// FindRecords implements RecordSource.
func (m *MemoryRecords) FindRecords(_ context.Context, nodeType string, numbers []int64) (map[int64]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]map[string]any, len(numbers))
	for _, n := range numbers {
		if rec, ok := m.records[nodeType][n]; ok {
			out[n] = deepCopyMap(rec)
		}
	}
	return out, nil
}
