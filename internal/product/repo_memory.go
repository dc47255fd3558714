package product

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo backs product-service when STORE_DRIVER=memory and in tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[string]Product
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]Product)}
}

func (r *MemoryRepo) Create(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.items[p.ID] = *p
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepo) Update(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	r.items[p.ID] = *p
	return nil
}
