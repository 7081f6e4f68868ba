package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/security"
	"github.com/xenking/caremeds/internal/storage/postgres"
)

// sellerJSON is one seller of the seed file with its catalog.
type sellerJSON struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	APIKey string     `json:"apiKey"`
	Items  []itemJSON `json:"items"`
}

type itemJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Attributes  struct {
		PreparationMinutes int  `json:"preparationMinutes"`
		Vegetarian         bool `json:"vegetarian"`
		SpiceLevel         int  `json:"spiceLevel"`
	} `json:"attributes"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		adminKey     string
		apiKeyPepper string
		workers      int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to the catalog seed (.json or .json.gz)")
	flag.StringVar(&adminKey, "admin-api-key", "", "admin API key to seed (or CAREMEDS_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CAREMEDS_AUTH_API_KEY_PEPPER env)")
	flag.IntVar(&workers, "workers", 4, "sellers seeded concurrently")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("CAREMEDS_SEED_ADMIN_KEY")
	}
	if adminKey == "" {
		slog.Error("admin API key is required: set --admin-api-key or CAREMEDS_SEED_ADMIN_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CAREMEDS_AUTH_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s := seeder{pepper: []byte(apiKeyPepper), workers: workers, now: time.Now().UTC()}
	if err := s.run(ctx, databaseURL, catalogFile, adminKey); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

type seeder struct {
	pepper  []byte
	workers int
	now     time.Time

	items   *postgres.CatalogRepository
	apikeys *postgres.APIKeyRepository
}

func (s *seeder) run(ctx context.Context, databaseURL, catalogFile, adminKey string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s.bind(pool)

	sellers, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	if err := s.seedAPIKey(ctx, "admin", adminKey, auth.Principal{
		ID:   "admin",
		Name: "Administrator",
		Role: auth.RoleAdmin,
	}); err != nil {
		return errors.Wrap(err, "seed admin api key")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, seller := range sellers {
		g.Go(func() error {
			return s.seedSeller(gctx, seller)
		})
	}
	return g.Wait()
}

func (s *seeder) bind(pool *pgxpool.Pool) {
	s.items = postgres.NewCatalogRepository(pool)
	s.apikeys = postgres.NewAPIKeyRepository(pool)
}

// readCatalog decodes the seed file, transparently decompressing .gz files.
func readCatalog(path string) ([]sellerJSON, error) {
	slog.Info("reading catalog file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var sellers []sellerJSON
	if err := json.NewDecoder(r).Decode(&sellers); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	return sellers, nil
}

func (s *seeder) seedSeller(ctx context.Context, seller sellerJSON) error {
	p := auth.Principal{ID: seller.ID, Name: seller.Name, Role: auth.RoleSeller}
	if seller.APIKey != "" {
		if err := s.seedAPIKey(ctx, seller.ID, seller.APIKey, p); err != nil {
			return errors.Wrapf(err, "seed api key of %s", seller.ID)
		}
	}

	slog.Info("upserting catalog",
		slog.String("seller", seller.ID),
		slog.Int("count", len(seller.Items)),
	)
	for _, in := range seller.Items {
		it := catalog.Item{
			ID:          in.ID,
			SellerID:    seller.ID,
			StoreName:   seller.Name,
			Name:        in.Name,
			Description: in.Description,
			Price:       in.Price.Round(2),
			Quantity:    in.Quantity,
			Category:    in.Category,
			Image:       in.Image,
			Attributes: catalog.Attributes{
				PreparationMinutes: in.Attributes.PreparationMinutes,
				Vegetarian:         in.Attributes.Vegetarian,
				SpiceLevel:         in.Attributes.SpiceLevel,
			},
			CreatedAt: s.now,
			UpdatedAt: s.now,
		}
		if it.Image == "" {
			it.Image = catalog.DefaultImage
		}
		if err := it.Validate(); err != nil {
			return errors.Wrapf(err, "item %s", in.ID)
		}
		if err := s.upsertItem(ctx, &it); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) upsertItem(ctx context.Context, it *catalog.Item) error {
	_, err := s.items.Get(ctx, it.ID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		if err := s.items.Create(ctx, it); err != nil {
			return errors.Wrapf(err, "create item %s", it.ID)
		}
	case err != nil:
		return errors.Wrapf(err, "get item %s", it.ID)
	default:
		replace := func(cur *catalog.Item) error {
			created := cur.CreatedAt
			*cur = *it
			cur.CreatedAt = created
			return nil
		}
		if _, err := s.items.Update(ctx, it.ID, replace); err != nil {
			return errors.Wrapf(err, "update item %s", it.ID)
		}
	}
	slog.Debug("upserted item", slog.String("id", it.ID), slog.String("name", it.Name))
	return nil
}

func (s *seeder) seedAPIKey(ctx context.Context, id, key string, p auth.Principal) error {
	if err := s.apikeys.Put(ctx, auth.APIKeyInfo{
		ID:        id,
		KeyHash:   security.HashAPIKey(s.pepper, key),
		Name:      p.Name,
		Principal: p,
	}); err != nil {
		return errors.Wrapf(err, "upsert api key %s", id)
	}

	slog.Info("upserted API key",
		slog.String("id", id),
		slog.String("principal", p.ID),
		slog.String("role", p.Role.String()),
	)
	return nil
}
