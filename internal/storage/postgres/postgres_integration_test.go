//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/fault"
	"github.com/xenking/caremeds/internal/domain/order"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "caremeds",
				"POSTGRES_PASSWORD": "caremeds",
				"POSTGRES_DB":       "caremeds",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://caremeds:caremeds@%s:%s/caremeds?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

var (
	seller = auth.Principal{ID: "s1", Name: "Green Pharmacy", Role: auth.RoleSeller}
	buyer  = auth.Principal{ID: "b1", Name: "Bob", Role: auth.RoleBuyer}
)

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	items := catalog.NewService(NewCatalogRepository(pool), 0, 0)
	orders, err := order.NewService(NewOrderStore(pool),
		order.WithMeterProvider(metricnoop.NewMeterProvider()),
		order.WithTracerProvider(tracenoop.NewTracerProvider()),
	)
	require.NoError(t, err)

	it, err := items.Create(ctx, seller, catalog.NewItem{
		Name:        "Paracetamol",
		Description: "Fever relief",
		Price:       decimal.RequireFromString("5.99"),
		Quantity:    10,
		Category:    "medicine",
		Attributes:  catalog.Attributes{PreparationMinutes: 3, SpiceLevel: 1},
	})
	require.NoError(t, err)

	t.Run("CatalogRoundTrip", func(t *testing.T) {
		got, err := items.Get(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, it.Name, got.Name)
		assert.True(t, it.Price.Equal(got.Price))
		assert.Equal(t, it.Attributes, got.Attributes)
		assert.Equal(t, catalog.DefaultImage, got.Image)

		_, err = items.Get(ctx, uuid.NewString())
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})

	place := func(qty int) (*order.Order, error) {
		return orders.PlaceOrder(ctx, order.PlaceOrderRequest{
			BuyerID:         buyer.ID,
			SellerID:        seller.ID,
			Lines:           []order.LineRequest{{ItemID: it.ID, Quantity: qty}},
			PaymentMethod:   "cash",
			DeliveryAddress: "12 Market Road",
		})
	}

	var placed *order.Order
	t.Run("PlaceOrder", func(t *testing.T) {
		placed, err = place(3)
		require.NoError(t, err)
		assert.Equal(t, "47.97", placed.Total.StringFixed(2))

		got, err := orders.Get(ctx, buyer, placed.ID)
		require.NoError(t, err)
		require.Len(t, got.Lines, 1)
		assert.True(t, decimal.RequireFromString("5.99").Equal(got.Lines[0].Price))
		assert.True(t, placed.Commission.Equal(got.Commission))

		stock, err := items.Get(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, stock.Quantity)

		_, err = place(8)
		assert.Equal(t, fault.KindInsufficientStock, fault.KindOf(err))
		stock, err = items.Get(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, stock.Quantity)
	})

	t.Run("ConcurrentPlacementsDoNotOversell", func(t *testing.T) {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := place(1); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		stock, err := items.Get(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, ok)
		assert.Equal(t, 0, stock.Quantity)
	})

	t.Run("Transition", func(t *testing.T) {
		store := NewOrderStore(pool)
		now := time.Now().UTC()
		require.NoError(t, store.UpdateStatus(ctx, placed.ID, order.StatusPending, order.StatusAccepted, now))
		require.ErrorIs(t, store.UpdateStatus(ctx, placed.ID, order.StatusPending, order.StatusCancelled, now), order.ErrConflict)
		require.ErrorIs(t, store.UpdateStatus(ctx, uuid.NewString(), order.StatusPending, order.StatusCancelled, now), order.ErrNotFound)

		accepted, err := store.List(ctx, order.Query{SellerID: seller.ID, Status: order.StatusAccepted})
		require.NoError(t, err)
		require.Len(t, accepted, 1)
		assert.Equal(t, placed.ID, accepted[0].ID)
	})

	t.Run("Reports", func(t *testing.T) {
		accounts := NewAccountRepository(pool)
		dir := account.NewDirectory(accounts, 8, time.Minute)
		require.NoError(t, dir.Record(ctx, seller))
		require.NoError(t, dir.Record(ctx, buyer))

		counts, err := accounts.CountByRole(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[auth.RoleSeller])
		assert.Equal(t, 1, counts[auth.RoleBuyer])

		sum, err := NewOrderStore(pool).Summarize(ctx, seller.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, sum.Orders)
		assert.Equal(t, 1, sum.ByStatus[order.StatusAccepted])
		assert.Equal(t, 7, sum.ByStatus[order.StatusPending])
	})

	t.Run("APIKeys", func(t *testing.T) {
		keys := NewAPIKeyRepository(pool)
		info := auth.APIKeyInfo{ID: "k1", KeyHash: "abcd", Name: "pos", Principal: seller}
		require.NoError(t, keys.Put(ctx, info))

		got, err := keys.FindByHash(ctx, "abcd")
		require.NoError(t, err)
		assert.Equal(t, info, *got)

		_, err = keys.FindByHash(ctx, "missing")
		require.Error(t, err)
	})

	t.Run("UpdateRacingPlacements", func(t *testing.T) {
		stocked, err := items.Create(ctx, seller, catalog.NewItem{
			Name:        "Ibuprofen",
			Description: "Pain relief",
			Price:       decimal.RequireFromString("2.50"),
			Quantity:    20,
			Category:    "medicine",
		})
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			sold int
		)
		for i := range 20 {
			wg.Go(func() {
				if i%2 == 0 {
					name := fmt.Sprintf("Ibuprofen %d", i)
					if _, err := items.Update(ctx, seller, stocked.ID, catalog.ItemPatch{Name: &name}); err != nil {
						t.Error(err)
					}
					return
				}
				_, err := orders.PlaceOrder(ctx, order.PlaceOrderRequest{
					BuyerID:         buyer.ID,
					SellerID:        seller.ID,
					Lines:           []order.LineRequest{{ItemID: stocked.ID, Quantity: 1}},
					PaymentMethod:   "cash",
					DeliveryAddress: "12 Market Road",
				})
				if err == nil {
					mu.Lock()
					sold++
					mu.Unlock()
				}
			})
		}
		wg.Wait()

		got, err := items.Get(ctx, stocked.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, sold)
		assert.Equal(t, 20-sold, got.Quantity)
	})
}
