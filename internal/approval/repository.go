package approval

import (
	"context"
	"sort"
	"sync"
)

// Repository persists approvals. Save inserts when Version is 1 and otherwise
// updates only if the stored version is Version-1, returning ErrVersionConflict
// when another writer got there first.
type Repository interface {
	Save(ctx context.Context, a *Approval) error
	Load(ctx context.Context, id string) (*Approval, error)
	List(ctx context.Context, filter ListFilter) ([]*Approval, error)
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	State          State
	ConversationID string
	Limit          int
}

func (f ListFilter) match(a *Approval) bool {
	if f.State != "" && a.State != f.State {
		return false
	}
	if f.ConversationID != "" && a.ConversationID != f.ConversationID {
		return false
	}
	return true
}

// MemoryRepository keeps approvals in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Approval
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[string]*Approval{}}
}

func (r *MemoryRepository) Save(_ context.Context, a *Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[a.ID]
	switch {
	case a.Version <= 1 && ok:
		return ErrVersionConflict
	case a.Version > 1 && !ok:
		return ErrNotFound
	case a.Version > 1 && existing.Version != a.Version-1:
		return ErrVersionConflict
	}
	r.items[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) Load(_ context.Context, id string) (*Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Approval, error) {
	r.mu.RLock()
	out := []*Approval{}
	for _, a := range r.items {
		if filter.match(a) {
			out = append(out, a.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
