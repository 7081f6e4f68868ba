package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/fault"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
)

var (
	seller = auth.Principal{ID: "s1", Name: "Green Pharmacy", Role: auth.RoleSeller}
	buyer  = auth.Principal{ID: "b1", Name: "Bob", Role: auth.RoleBuyer}
)

type services struct {
	store   *Store
	catalog *catalog.Service
	orders  *order.Service
}

func newServices(t *testing.T) services {
	t.Helper()
	store := New()
	items := catalog.NewService(store.Catalog(), 16, time.Minute)
	orders, err := order.NewService(store.Orders(),
		order.WithMeterProvider(metricnoop.NewMeterProvider()),
		order.WithTracerProvider(tracenoop.NewTracerProvider()),
		order.OnPlaced(func(context.Context, *order.Order) { items.InvalidateListings() }),
	)
	require.NoError(t, err)
	return services{store: store, catalog: items, orders: orders}
}

func (s services) addItem(t *testing.T, price string, qty int) *catalog.Item {
	t.Helper()
	it, err := s.catalog.Create(context.Background(), seller, catalog.NewItem{
		Name:        "Paracetamol",
		Description: "Fever relief",
		Price:       decimal.RequireFromString(price),
		Quantity:    qty,
		Category:    "medicine",
	})
	require.NoError(t, err)
	return it
}

func place(svc *order.Service, itemID string, qty int) (*order.Order, error) {
	return svc.PlaceOrder(context.Background(), order.PlaceOrderRequest{
		BuyerID:         buyer.ID,
		SellerID:        seller.ID,
		Lines:           []order.LineRequest{{ItemID: itemID, Quantity: qty}},
		PaymentMethod:   "cash",
		DeliveryAddress: "12 Market Road",
	})
}

func TestPlaceOrder_Scenario(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	it := s.addItem(t, "5.99", 10)

	// Warm the listing cache so the purge after placement is observable.
	listed, err := s.catalog.List(ctx, catalog.Query{})
	require.NoError(t, err)
	require.Equal(t, 10, listed[0].Quantity)

	o, err := place(s.orders, it.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "17.97", o.Subtotal.StringFixed(2))
	assert.Equal(t, "47.97", o.Total.StringFixed(2))

	listed, err = s.catalog.List(ctx, catalog.Query{})
	require.NoError(t, err)
	assert.Equal(t, 7, listed[0].Quantity)

	_, err = place(s.orders, it.ID, 11)
	assert.Equal(t, fault.KindInsufficientStock, fault.KindOf(err))
	got, err := s.catalog.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)
}

func TestMultiLineFailureLeavesStockUntouched(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	a := s.addItem(t, "1.00", 5)
	b := s.addItem(t, "2.00", 1)

	_, err := s.orders.PlaceOrder(ctx, order.PlaceOrderRequest{
		BuyerID:  buyer.ID,
		SellerID: seller.ID,
		Lines: []order.LineRequest{
			{ItemID: a.ID, Quantity: 5},
			{ItemID: b.ID, Quantity: 1},
			{ItemID: "missing", Quantity: 1},
		},
		PaymentMethod:   "upi",
		DeliveryAddress: "12 Market Road",
	})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	for id, want := range map[string]int{a.ID: 5, b.ID: 1} {
		got, err := s.catalog.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Quantity)
	}
	orders, err := s.store.Orders().List(ctx, order.Query{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// Random interleavings of placements and restocks never drive stock
// negative and every unit is accounted for.
func TestStockNeverNegative(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	it := s.addItem(t, "3.50", 20)

	var (
		mu       sync.Mutex
		sold     int
		restocks int
		wg       sync.WaitGroup
	)
	for w := range 8 {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, 42))
			for range 50 {
				if rng.IntN(4) == 0 {
					n := rng.IntN(3) + 1
					if err := s.restock(ctx, it.ID, n); err != nil {
						t.Error(err)
						return
					}
					mu.Lock()
					restocks += n
					mu.Unlock()
					continue
				}
				qty := rng.IntN(5) + 1
				_, err := place(s.orders, it.ID, qty)
				switch fault.KindOf(err) {
				case fault.KindUnknown:
					if err != nil {
						t.Error(err)
						return
					}
					mu.Lock()
					sold += qty
					mu.Unlock()
				case fault.KindInsufficientStock:
				default:
					t.Error(err)
					return
				}

				cur, err := s.store.Catalog().Get(ctx, it.ID)
				if err != nil {
					t.Error(err)
					return
				}
				if cur.Quantity < 0 {
					t.Errorf("negative stock %d", cur.Quantity)
					return
				}
			}
		}(uint64(w))
	}
	wg.Wait()

	final, err := s.store.Catalog().Get(ctx, it.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, final.Quantity, 0)
	assert.Equal(t, 20+restocks-sold, final.Quantity)
}

// restock adds n units inside a store transaction, as a seller update racing
// with placements would.
func (s services) restock(ctx context.Context, id string, n int) error {
	return s.store.Orders().WithinTx(ctx, func(ctx context.Context, _ order.Tx) error {
		it := s.store.items[id]
		it.Quantity += n
		s.store.items[id] = it
		return nil
	})
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	it := s.addItem(t, "1.00", 5)
	o, err := place(s.orders, it.ID, 1)
	require.NoError(t, err)

	store := s.store.Orders()
	now := time.Now().UTC()
	require.NoError(t, store.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusAccepted, now))
	require.ErrorIs(t, store.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled, now), order.ErrConflict)
	require.ErrorIs(t, store.UpdateStatus(ctx, "missing", order.StatusPending, order.StatusCancelled, now), order.ErrNotFound)

	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAccepted, got.Status)
}

func TestReports(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	it := s.addItem(t, "10.00", 10)

	_, err := place(s.orders, it.ID, 2)
	require.NoError(t, err)
	o, err := place(s.orders, it.ID, 1)
	require.NoError(t, err)
	_, err = s.orders.Transition(ctx, seller, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	dir := account.NewDirectory(s.store.Accounts(), 8, time.Minute)
	require.NoError(t, dir.Record(ctx, seller))
	require.NoError(t, dir.Record(ctx, buyer))
	require.NoError(t, dir.Record(ctx, auth.Principal{ID: "b2", Role: auth.RoleBuyer}))

	reports := report.NewService(s.store.Orders(), s.store.Accounts())
	stats, err := reports.Admin(ctx, auth.Principal{ID: "root", Role: auth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.Sellers)
	assert.Equal(t, 2, stats.Orders)
	assert.Equal(t, "90.00", stats.Sales.StringFixed(2))
	assert.Equal(t, "3.00", stats.Commission.StringFixed(2))
	assert.Equal(t, 1, stats.ByStatus[order.StatusCancelled])

	sellerStats, err := reports.Seller(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, 1, sellerStats.Pending)

	sellers, err := dir.Sellers(ctx, auth.Principal{ID: "root", Role: auth.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, sellers, 1)
	assert.Equal(t, "Green Pharmacy", sellers[0].Name)
}

func TestAccountsKeepFirstSeen(t *testing.T) {
	repo := New().Accounts()
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(24 * time.Hour)

	require.NoError(t, repo.Upsert(ctx, account.Account{ID: "b1", Role: auth.RoleBuyer, FirstSeen: first, LastSeen: first}))
	require.NoError(t, repo.Upsert(ctx, account.Account{ID: "b1", Role: auth.RoleBuyer, FirstSeen: later, LastSeen: later}))

	list, err := repo.ListByRole(ctx, auth.RoleBuyer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first, list[0].FirstSeen)
	assert.Equal(t, later, list[0].LastSeen)
}

// sellingRepo sells units of an item right after any plain read of it, the
// way a checkout landing between a seller's read and write would.
type sellingRepo struct {
	catalog.Repository
	sell func(id string)
}

func (r sellingRepo) Get(ctx context.Context, id string) (*catalog.Item, error) {
	it, err := r.Repository.Get(ctx, id)
	if err == nil {
		r.sell(id)
	}
	return it, err
}

func TestCatalogUpdate_KeepsStockSoldMeanwhile(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	it := s.addItem(t, "5.99", 10)

	var once sync.Once
	sell := func(id string) {
		once.Do(func() {
			_, err := place(s.orders, id, 3)
			require.NoError(t, err)
		})
	}
	items := catalog.NewService(sellingRepo{Repository: s.store.Catalog(), sell: sell}, 0, 0)

	name := "Paracetamol 500"
	updated, err := items.Update(ctx, seller, it.ID, catalog.ItemPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	// The sale happens exactly once, during the update if it reads the item
	// outside the store lock, otherwise here.
	sell(it.ID)

	got, err := s.store.Catalog().Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)
	assert.Equal(t, name, got.Name)
}

func TestCatalogUpdate_RacingPlacements(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	it := s.addItem(t, "1.00", 50)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for w := range 8 {
		wg.Go(func() {
			for i := range 10 {
				if w%2 == 0 {
					name := "Paracetamol " + string(rune('A'+i))
					if _, err := s.catalog.Update(ctx, seller, it.ID, catalog.ItemPatch{Name: &name}); err != nil {
						t.Error(err)
					}
					continue
				}
				if _, err := place(s.orders, it.ID, 1); err == nil {
					mu.Lock()
					sold++
					mu.Unlock()
				}
			}
		})
	}
	wg.Wait()

	got, err := s.store.Catalog().Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, sold)
	assert.Equal(t, 50-sold, got.Quantity)
}
