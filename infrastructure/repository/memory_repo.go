package repository

import (
	"context"
	"sync"

	"flowpilot-go/domain/generation"
)

// MemoryHistoryRepository keeps the most recent records in memory. It is used when
// MongoDB is disabled.
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	records  []*generation.Record
	capacity int
}

// NewMemoryHistoryRepository creates a repository holding at most capacity records.
func NewMemoryHistoryRepository(capacity int) *MemoryHistoryRepository {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryHistoryRepository{capacity: capacity}
}

// Insert stores a copy of rec, evicting the oldest record when full.
func (r *MemoryHistoryRepository) Insert(_ context.Context, rec *generation.Record) error {
	cp := *rec
	cp.Identities = append([]string(nil), rec.Identities...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, &cp)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
	return nil
}

// FindRecent returns up to limit records, newest first.
func (r *MemoryHistoryRepository) FindRecent(_ context.Context, limit int) ([]*generation.Record, error) {
	return r.collect(limit, func(*generation.Record) bool { return true }), nil
}

// FindByPrompt returns up to limit records for prompt, newest first.
func (r *MemoryHistoryRepository) FindByPrompt(_ context.Context, prompt string, limit int) ([]*generation.Record, error) {
	return r.collect(limit, func(rec *generation.Record) bool { return rec.Prompt == prompt }), nil
}

func (r *MemoryHistoryRepository) collect(limit int, keep func(*generation.Record) bool) []*generation.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*generation.Record
	for i := len(r.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(r.records[i]) {
			cp := *r.records[i]
			out = append(out, &cp)
		}
	}
	return out
}

// Ensure MemoryHistoryRepository implements generation.Repository
var _ generation.Repository = (*MemoryHistoryRepository)(nil)
