// Package cart holds the client-side shopping cart: lines keyed by
// (product, merchant), persisted after every mutation.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StorageKey is the fixed key the cart is stored under.
const StorageKey = "cart"

var ErrInvalidQuantity = errors.New("quantity must be positive")

type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Unit  string          `json:"unit,omitempty"`
}

type Merchant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Line struct {
	Product  Product   `json:"product"`
	Merchant Merchant  `json:"merchant"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"addedAt"`
}

// Group is the slice of the cart belonging to one merchant.
type Group struct {
	Merchant Merchant
	Lines    []Line
}

type Store struct {
	mu      sync.Mutex
	lines   []Line
	storage Storage
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// NewStore loads the persisted cart. Missing or unreadable data starts an
// empty cart.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		now:     func() time.Time { return time.Now().UTC() },
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.lines = s.load()
	return s
}

func (s *Store) load() []Line {
	raw, err := s.storage.Read(StorageKey)
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			s.log.Warn("cart storage unreadable, starting empty", zap.Error(err))
		}
		return nil
	}
	var lines []Line
	if err := json.Unmarshal(raw, &lines); err != nil {
		s.log.Warn("cart data corrupt, starting empty", zap.Error(err))
		return nil
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		k := lineKey(l.Product.ID, l.Merchant.ID)
		if l.Product.ID == "" || l.Merchant.ID == "" || l.Quantity < 1 || l.Product.Price.IsNegative() || seen[k] {
			s.log.Warn("cart data violates invariants, starting empty")
			return nil
		}
		seen[k] = true
	}
	return lines
}

func lineKey(productID, merchantID string) string { return productID + "\x00" + merchantID }

func (s *Store) find(productID, merchantID string) int {
	for i, l := range s.lines {
		if l.Product.ID == productID && l.Merchant.ID == merchantID {
			return i
		}
	}
	return -1
}

// persist must be called with mu held.
// commit writes next and only then makes it the in-memory cart, so a failed
// write leaves both sides unchanged.
func (s *Store) commit(next []Line) error {
	if len(next) == 0 {
		if err := s.storage.Delete(StorageKey); err != nil {
			return fmt.Errorf("persist cart: %w", err)
		}
		s.lines = nil
		return nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	if err := s.storage.Write(StorageKey, raw); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	s.lines = next
	return nil
}

// AddItem merges into the existing (product, merchant) line or appends a
// new one. qty 0 means one.
func (s *Store) AddItem(p Product, m Merchant, qty int) error {
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if p.ID == "" || m.ID == "" {
		return errors.New("product and merchant ids are required")
	}
	if p.Price.IsNegative() {
		return errors.New("price cannot be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]Line(nil), s.lines...)
	if i := s.find(p.ID, m.ID); i >= 0 {
		next[i].Quantity += qty
	} else {
		next = append(next, Line{Product: p, Merchant: m, Quantity: qty, AddedAt: s.now()})
	}
	return s.commit(next)
}

// RemoveItem is a no-op when the line does not exist.
func (s *Store) RemoveItem(productID, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(productID, merchantID)
	if i < 0 {
		return nil
	}
	next := append(append([]Line(nil), s.lines[:i]...), s.lines[i+1:]...)
	return s.commit(next)
}

// SetQuantity overwrites the quantity; qty <= 0 removes the line.
func (s *Store) SetQuantity(productID, merchantID string, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(productID, merchantID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(productID, merchantID)
	if i < 0 {
		return nil
	}
	next := append([]Line(nil), s.lines...)
	next[i].Quantity = qty
	return s.commit(next)
}

// Clear empties the cart. Called after a fully successful checkout and on
// logout.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(nil)
}

// RetainMerchants drops every line whose merchant is not in ids.
func (s *Store) RetainMerchants(ids []string) error {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var next []Line
	for _, l := range s.lines {
		if keep[l.Merchant.ID] {
			next = append(next, l)
		}
	}
	return s.commit(next)
}

func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.lines...)
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

// Total is Σ price × quantity over every line, before delivery fees.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Groups partitions the cart by merchant, in the order merchants were
// first added.
func (s *Store) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Group
	idx := make(map[string]int)
	for _, l := range s.lines {
		i, ok := idx[l.Merchant.ID]
		if !ok {
			i = len(out)
			idx[l.Merchant.ID] = i
			out = append(out, Group{Merchant: l.Merchant})
		}
		out[i].Lines = append(out[i].Lines, l)
	}
	return out
}
