package catalog

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/fault"
)

// --- Mock implementations ---

type mockRepo struct {
	mu        sync.Mutex
	items     map[string]Item
	listCalls int
	err       error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[string]Item)}
}

func (m *mockRepo) Create(_ context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items[it.ID] = *it
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (m *mockRepo) Update(_ context.Context, id string, fn func(*Item) error) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&it); err != nil {
		return nil, err
	}
	m.items[id] = it
	return &it, nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, sellerID string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []Item
	for _, it := range m.items {
		if sellerID == "" || it.SellerID == sellerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Helpers ---

var (
	seller = auth.Principal{ID: "s1", Name: "Green Pharmacy", Role: auth.RoleSeller}
	rival  = auth.Principal{ID: "s2", Name: "Red Pharmacy", Role: auth.RoleSeller}
	buyer  = auth.Principal{ID: "b1", Name: "Bob", Role: auth.RoleBuyer}
)

func newItem(name string) NewItem {
	return NewItem{
		Name:        name,
		Description: name + " tablets",
		Price:       decimal.RequireFromString("5.99"),
		Quantity:    10,
		Category:    "medicine",
	}
}

func ptr[T any](v T) *T { return &v }

// --- Tests ---

func TestCreate_RoundTrip(t *testing.T) {
	svc := NewService(newMockRepo(), 0, 0)
	ctx := context.Background()

	in := newItem("Paracetamol")
	in.Attributes = Attributes{PreparationMinutes: 5, Vegetarian: true, SpiceLevel: 2}

	created, err := svc.Create(ctx, seller, in)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Description, got.Description)
	assert.True(t, in.Price.Equal(got.Price))
	assert.Equal(t, in.Quantity, got.Quantity)
	assert.Equal(t, in.Category, got.Category)
	assert.Equal(t, in.Attributes, got.Attributes)
	assert.Equal(t, DefaultImage, got.Image)
	assert.Equal(t, seller.ID, got.SellerID)
	assert.Equal(t, seller.Name, got.StoreName)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewItem)
	}{
		{"blank name", func(in *NewItem) { in.Name = "  " }},
		{"blank description", func(in *NewItem) { in.Description = "" }},
		{"blank category", func(in *NewItem) { in.Category = "" }},
		{"negative price", func(in *NewItem) { in.Price = decimal.RequireFromString("-0.01") }},
		{"negative quantity", func(in *NewItem) { in.Quantity = -1 }},
		{"spice too hot", func(in *NewItem) { in.Attributes.SpiceLevel = 4 }},
		{"negative preparation", func(in *NewItem) { in.Attributes.PreparationMinutes = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			svc := NewService(repo, 0, 0)
			in := newItem("Aspirin")
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), seller, in)
			require.Error(t, err)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
			assert.Empty(t, repo.items)
		})
	}
}

func TestCreate_RequiresSeller(t *testing.T) {
	svc := NewService(newMockRepo(), 0, 0)

	_, err := svc.Create(context.Background(), buyer, newItem("Aspirin"))
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestUpdate_MergesOnlyProvidedFields(t *testing.T) {
	svc := NewService(newMockRepo(), 0, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, seller, newItem("Ibuprofen"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, seller, created.ID, ItemPatch{Quantity: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Quantity)
	assert.Equal(t, "Ibuprofen", updated.Name)
	assert.True(t, created.Price.Equal(updated.Price))

	updated, err = svc.Update(ctx, seller, created.ID, ItemPatch{
		Price: ptr(decimal.RequireFromString("7.50")),
		Name:  ptr("Ibuprofen 400"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen 400", updated.Name)
	assert.True(t, decimal.RequireFromString("7.50").Equal(updated.Price))
	assert.Equal(t, 0, updated.Quantity)
}

func TestUpdate_Errors(t *testing.T) {
	svc := NewService(newMockRepo(), 0, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, seller, newItem("Ibuprofen"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, seller, "missing", ItemPatch{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, rival, created.ID, ItemPatch{Quantity: ptr(99)})
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, fault.KindAuthorization, fault.KindOf(err))

	_, err = svc.Update(ctx, seller, created.ID, ItemPatch{Quantity: ptr(-3)})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Quantity)
}

func TestDelete(t *testing.T) {
	svc := NewService(newMockRepo(), 0, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, seller, newItem("Cetirizine"))
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, rival, created.ID), ErrNotOwner)
	require.NoError(t, svc.Delete(ctx, seller, created.ID))

	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, seller, created.ID), ErrNotFound)
}

func TestCreate_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("db write failed")
	svc := NewService(repo, 0, 0)

	_, err := svc.Create(context.Background(), seller, newItem("Aspirin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db write failed")
	assert.Equal(t, fault.KindUnknown, fault.KindOf(err))
}

func TestList_FiltersAndCaches(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 16, time.Minute)
	ctx := context.Background()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	_, err := svc.Create(ctx, seller, newItem("Paracetamol"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, rival, newItem("Paracetamol"))
	require.NoError(t, err)
	food := newItem("Paneer Tikka")
	food.Category = "food"
	_, err = svc.Create(ctx, seller, food)
	require.NoError(t, err)

	all, err := svc.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Paracetamol", all[0].Name)
	assert.Equal(t, "Paneer Tikka", all[2].Name)

	again, err := svc.List(ctx, Query{Criteria: Criteria{Category: "food"}})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, repo.listCalls, "second listing must be served from cache")

	mine, err := svc.List(ctx, Query{SellerID: seller.ID, Criteria: Criteria{Term: "PARA"}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, seller.ID, mine[0].SellerID)

	_, err = svc.Create(ctx, rival, newItem("Cough Syrup"))
	require.NoError(t, err)
	all, err = svc.List(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4, "writes must purge cached listings")
}
