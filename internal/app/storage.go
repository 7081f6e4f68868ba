package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
	"github.com/xenking/caremeds/internal/storage/memory"
	"github.com/xenking/caremeds/internal/storage/postgres"
	"github.com/xenking/caremeds/internal/storage/sqlite"
	"github.com/xenking/caremeds/pkg/health"
)

type orderStore interface {
	order.Store
	report.OrderSummarizer
}

type accountStore interface {
	account.Repository
	report.AccountCounter
}

// storage bundles the repositories of one backend.
type storage struct {
	catalog  catalog.Repository
	orders   orderStore
	accounts accountStore
	apikeys  auth.APIKeyRepository
	pinger   health.Pinger
	close    func()
}

func openStorage(ctx context.Context, cfg StorageConfig) (*storage, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &storage{
			catalog:  postgres.NewCatalogRepository(pool),
			orders:   postgres.NewOrderStore(pool),
			accounts: postgres.NewAccountRepository(pool),
			apikeys:  postgres.NewAPIKeyRepository(pool),
			pinger:   pool,
			close:    pool.Close,
		}, nil
	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		return &storage{
			catalog:  db.Catalog(),
			orders:   db.Orders(),
			accounts: db.Accounts(),
			apikeys:  db.APIKeys(),
			pinger:   db,
			close:    func() { _ = db.Close() },
		}, nil
	case DriverMemory:
		s := memory.New()
		return &storage{
			catalog:  s.Catalog(),
			orders:   s.Orders(),
			accounts: s.Accounts(),
			apikeys:  s.APIKeys(),
			pinger:   s,
			close:    func() {},
		}, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
