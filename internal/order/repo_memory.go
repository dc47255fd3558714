package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps orders in process with the same uniqueness rules as the
// database-backed repositories.
type MemoryRepo struct {
	mu       sync.RWMutex
	byID     map[string]*Order
	byNumber map[string]string
	byIdem   map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:     make(map[string]*Order),
		byNumber: make(map[string]string),
		byIdem:   make(map[string]string),
	}
}

func idemKey(userID, key string) string { return userID + "\x00" + key }

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	if c := o.DeliveryAddress.Coordinates; c != nil {
		cc := *c
		cp.DeliveryAddress.Coordinates = &cc
	}
	return &cp
}

func (r *MemoryRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byNumber[o.OrderNumber]; dup {
		return ErrDuplicateOrderNumber
	}
	if o.IdempotencyKey != "" {
		if _, dup := r.byIdem[idemKey(o.UserID, o.IdempotencyKey)]; dup {
			return ErrDuplicateIdempotencyKey
		}
		r.byIdem[idemKey(o.UserID, o.IdempotencyKey)] = o.ID
	}
	r.byNumber[o.OrderNumber] = o.ID
	r.byID[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	r.mu.RLock()
	id, ok := r.byIdem[idemKey(userID, key)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]Order, error) {
	limit, offset = clampPage(limit, offset)
	r.mu.RLock()
	all := make([]Order, 0)
	for _, o := range r.byID {
		if o.UserID == userID {
			all = append(all, *cloneOrder(o))
		}
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].OrderNumber > all[j].OrderNumber
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []Order{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id string, from, to Status) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != from {
		return nil, ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}
