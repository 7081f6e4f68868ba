package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/caremeds/internal/domain/catalog"
)

const (
	itemColumns = `id, seller_id, store_name, name, description, price, quantity, category, image,
		preparation_minutes, vegetarian, spice_level, created_at, updated_at`

	createItemSQL = `INSERT INTO catalog_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getItemSQL = `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = $1`

	updateItemSQL = `UPDATE catalog_items SET name = $2, description = $3, price = $4, quantity = $5,
		category = $6, image = $7, preparation_minutes = $8, vegetarian = $9, spice_level = $10,
		updated_at = $11
		WHERE id = $1`

	deleteItemSQL = `DELETE FROM catalog_items WHERE id = $1`

	listItemsSQL = `SELECT ` + itemColumns + ` FROM catalog_items
		WHERE $1 = '' OR seller_id = $1
		ORDER BY created_at, id`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Create inserts a new item.
func (r *CatalogRepository) Create(ctx context.Context, it *catalog.Item) error {
	_, err := r.pool.Exec(ctx, createItemSQL,
		it.ID, it.SellerID, it.StoreName, it.Name, it.Description, it.Price, it.Quantity,
		it.Category, it.Image, it.Attributes.PreparationMinutes, it.Attributes.Vegetarian,
		it.Attributes.SpiceLevel, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating item %q: %w", it.ID, err)
	}
	return nil
}

// Get returns a single item by its identifier.
func (r *CatalogRepository) Get(ctx context.Context, id string) (*catalog.Item, error) {
	return getItem(ctx, r.pool, getItemSQL, id)
}

// Update locks the item row for the transaction, applies fn and writes the
// mutable fields back. Order placement waits on the same row lock.
func (r *CatalogRepository) Update(ctx context.Context, id string, fn func(*catalog.Item) error) (*catalog.Item, error) {
	var it *catalog.Item
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := getItem(ctx, tx, lockItemSQL, id)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, updateItemSQL,
			cur.ID, cur.Name, cur.Description, cur.Price, cur.Quantity, cur.Category, cur.Image,
			cur.Attributes.PreparationMinutes, cur.Attributes.Vegetarian, cur.Attributes.SpiceLevel,
			cur.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating item %q: %w", id, err)
		}
		it = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Delete removes an item.
func (r *CatalogRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteItemSQL, id)
	if err != nil {
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// List returns items ordered by creation time.
func (r *CatalogRepository) List(ctx context.Context, sellerID string) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listItemsSQL, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getItem(ctx context.Context, q querier, sql, id string) (*catalog.Item, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}

	it, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}
	return &it, nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var it catalog.Item
	err := row.Scan(
		&it.ID, &it.SellerID, &it.StoreName, &it.Name, &it.Description, &it.Price,
		&it.Quantity, &it.Category, &it.Image, &it.Attributes.PreparationMinutes,
		&it.Attributes.Vegetarian, &it.Attributes.SpiceLevel, &it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}
