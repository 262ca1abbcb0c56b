package triage

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryHistory keeps patient records in process memory. Suitable for
// development and tests.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []*PatientRecord
}

// NewMemoryHistory returns an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (m *MemoryHistory) Create(_ context.Context, r *PatientRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

// List returns records newest first.
func (m *MemoryHistory) List(_ context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return page(m.records, nil, limit, offset)
}

func (m *MemoryHistory) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]*PatientRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return page(m.records, func(r *PatientRecord) bool { return r.SessionID == sessionID }, limit, offset)
}

func page(records []*PatientRecord, keep func(*PatientRecord) bool, limit, offset int) ([]*PatientRecord, int, error) {
	var matched []*PatientRecord
	for i := len(records) - 1; i >= 0; i-- {
		if keep == nil || keep(records[i]) {
			matched = append(matched, records[i])
		}
	}
	total := len(matched)
	if offset >= total {
		return []*PatientRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]*PatientRecord, 0, end-offset)
	for _, r := range matched[offset:end] {
		cp := *r
		out = append(out, &cp)
	}
	return out, total, nil
}

// MemoryCapacityStore holds the capacity table in memory.
type MemoryCapacityStore struct {
	mu   sync.Mutex
	caps map[string]int
}

func NewMemoryCapacityStore(initial map[string]int) *MemoryCapacityStore {
	return &MemoryCapacityStore{caps: maps.Clone(initial)}
}

func (s *MemoryCapacityStore) Load(_ context.Context) (map[string]int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caps == nil {
		return nil, false, nil
	}
	return maps.Clone(s.caps), true, nil
}

func (s *MemoryCapacityStore) Save(_ context.Context, caps map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = maps.Clone(caps)
	return nil
}
