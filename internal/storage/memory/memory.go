// Package memory implements every storage port in process memory. It backs
// the "memory" storage driver and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
)

// Store holds all marketplace state behind one lock so that order
// placement can see items and orders consistently.
type Store struct {
	mu       sync.RWMutex
	items    map[string]catalog.Item
	orders   map[string]order.Order
	accounts map[string]account.Account
	apikeys  map[string]auth.APIKeyInfo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		items:    make(map[string]catalog.Item),
		orders:   make(map[string]order.Order),
		accounts: make(map[string]account.Account),
		apikeys:  make(map[string]auth.APIKeyInfo),
	}
}

// Catalog returns the catalog repository view.
func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{s: s} }

// Orders returns the order store view.
func (s *Store) Orders() *OrderStore { return &OrderStore{s: s} }

// Accounts returns the account repository view.
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{s: s} }

// APIKeys returns the API key repository view.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{s: s} }

// Ping always succeeds; it satisfies the readiness check.
func (s *Store) Ping(context.Context) error { return nil }

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository.
type CatalogRepository struct {
	s *Store
}

func (r *CatalogRepository) Create(_ context.Context, it *catalog.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.items[it.ID] = *it
	return nil
}

func (r *CatalogRepository) Get(_ context.Context, id string) (*catalog.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	it, ok := r.s.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &it, nil
}

// Update runs fn under the store lock, which also guards order placement.
func (r *CatalogRepository) Update(_ context.Context, id string, fn func(*catalog.Item) error) (*catalog.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	if err := fn(&it); err != nil {
		return nil, err
	}
	r.s.items[id] = it
	return &it, nil
}

func (r *CatalogRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(r.s.items, id)
	return nil
}

func (r *CatalogRepository) List(_ context.Context, sellerID string) ([]catalog.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]catalog.Item, 0, len(r.s.items))
	for _, it := range r.s.items {
		if sellerID == "" || it.SellerID == sellerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var (
	_ order.Store            = (*OrderStore)(nil)
	_ report.OrderSummarizer = (*OrderStore)(nil)
)

// OrderStore implements order.Store. Transactions are serialised by the
// store lock and undone by restoring a snapshot.
type OrderStore struct {
	s *Store
}

type tx struct {
	s *Store
}

func (t tx) Item(_ context.Context, id string) (*catalog.Item, error) {
	it, ok := t.s.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &it, nil
}

func (t tx) DecrementStock(_ context.Context, id string, qty int) error {
	it, ok := t.s.items[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if it.Quantity < qty {
		return order.ErrStockUnavailable
	}
	it.Quantity -= qty
	t.s.items[id] = it
	return nil
}

func (t tx) CreateOrder(_ context.Context, o *order.Order) error {
	c := *o
	c.Lines = slices.Clone(o.Lines)
	t.s.orders[o.ID] = c
	return nil
}

// WithinTx runs fn holding the store lock. fn must only use the given Tx.
func (r *OrderStore) WithinTx(ctx context.Context, fn func(context.Context, order.Tx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	items := maps.Clone(r.s.items)
	orders := maps.Clone(r.s.orders)
	if err := fn(ctx, tx{s: r.s}); err != nil {
		r.s.items = items
		r.s.orders = orders
		return err
	}
	return nil
}

func (r *OrderStore) Get(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

func (r *OrderStore) List(_ context.Context, q order.Query) ([]order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]order.Order, 0)
	for _, o := range r.s.orders {
		if q.BuyerID != "" && o.BuyerID != q.BuyerID {
			continue
		}
		if q.SellerID != "" && o.SellerID != q.SellerID {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		o.Lines = slices.Clone(o.Lines)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *OrderStore) UpdateStatus(_ context.Context, id string, from, to order.Status, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrConflict
	}
	o.Status = to
	o.UpdatedAt = at
	r.s.orders[id] = o
	return nil
}

// Summarize implements report.OrderSummarizer.
func (r *OrderStore) Summarize(_ context.Context, sellerID string) (report.Summary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sum := report.Summary{ByStatus: make(map[order.Status]int)}
	for _, o := range r.s.orders {
		if sellerID != "" && o.SellerID != sellerID {
			continue
		}
		sum.Orders++
		sum.Sales = sum.Sales.Add(o.Total)
		sum.Commission = sum.Commission.Add(o.Commission)
		sum.ByStatus[o.Status]++
	}
	return sum, nil
}

var (
	_ account.Repository    = (*AccountRepository)(nil)
	_ report.AccountCounter = (*AccountRepository)(nil)
)

// AccountRepository implements account.Repository.
type AccountRepository struct {
	s *Store
}

func (r *AccountRepository) Upsert(_ context.Context, a account.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if prev, ok := r.s.accounts[a.ID]; ok {
		a.FirstSeen = prev.FirstSeen
	}
	r.s.accounts[a.ID] = a
	return nil
}

func (r *AccountRepository) ListByRole(_ context.Context, role auth.Role) ([]account.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]account.Account, 0)
	for _, a := range r.s.accounts {
		if a.Role == role {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *AccountRepository) CountByRole(context.Context) (map[auth.Role]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[auth.Role]int)
	for _, a := range r.s.accounts {
		counts[a.Role]++
	}
	return counts, nil
}

var _ auth.APIKeyRepository = (*APIKeyRepository)(nil)

// APIKeyRepository implements auth.APIKeyRepository.
type APIKeyRepository struct {
	s *Store
}

// Put stores info keyed by its hash.
func (r *APIKeyRepository) Put(_ context.Context, info auth.APIKeyInfo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.apikeys[info.KeyHash] = info
	return nil
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	info, ok := r.s.apikeys[hash]
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return &info, nil
}
