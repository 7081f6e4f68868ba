package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/caremeds/internal/domain/catalog"
)

const (
	itemColumns = `id, seller_id, store_name, name, description, price, quantity, category, image,
		preparation_minutes, vegetarian, spice_level, created_at, updated_at`

	createItemSQL = `INSERT INTO catalog_items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getItemSQL = `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = ?`

	updateItemSQL = `UPDATE catalog_items SET name = ?, description = ?, price = ?, quantity = ?,
		category = ?, image = ?, preparation_minutes = ?, vegetarian = ?, spice_level = ?,
		updated_at = ?
		WHERE id = ?`

	deleteItemSQL = `DELETE FROM catalog_items WHERE id = ?`

	listItemsSQL = `SELECT ` + itemColumns + ` FROM catalog_items
		WHERE ?1 = '' OR seller_id = ?1
		ORDER BY created_at, id`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by SQLite.
type CatalogRepository struct {
	db *sql.DB
}

func (r *CatalogRepository) Create(ctx context.Context, it *catalog.Item) error {
	_, err := r.db.ExecContext(ctx, createItemSQL,
		it.ID, it.SellerID, it.StoreName, it.Name, it.Description, it.Price.String(), it.Quantity,
		it.Category, it.Image, it.Attributes.PreparationMinutes, it.Attributes.Vegetarian,
		it.Attributes.SpiceLevel, toUnix(it.CreatedAt), toUnix(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating item %q: %w", it.ID, err)
	}
	return nil
}

func (r *CatalogRepository) Get(ctx context.Context, id string) (*catalog.Item, error) {
	return getItem(ctx, r.db, id)
}

// Update reads, modifies and writes the item in one transaction. The single
// connection keeps order placement out until it commits.
func (r *CatalogRepository) Update(ctx context.Context, id string, fn func(*catalog.Item) error) (*catalog.Item, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	it, err := getItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(it); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, updateItemSQL,
		it.Name, it.Description, it.Price.String(), it.Quantity, it.Category, it.Image,
		it.Attributes.PreparationMinutes, it.Attributes.Vegetarian, it.Attributes.SpiceLevel,
		toUnix(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating item %q: %w", id, err)
	}
	if err := requireOneRow(res, catalog.ErrNotFound); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return it, nil
}

func (r *CatalogRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, deleteItemSQL, id)
	if err != nil {
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	return requireOneRow(res, catalog.ErrNotFound)
}

func (r *CatalogRepository) List(ctx context.Context, sellerID string) ([]catalog.Item, error) {
	rows, err := r.db.QueryContext(ctx, listItemsSQL, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := make([]catalog.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

func getItem(ctx context.Context, q execQuerier, id string) (*catalog.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx, getItemSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}
	return &it, nil
}

func scanItem(row scanner) (catalog.Item, error) {
	var (
		it               catalog.Item
		created, updated int64
	)
	err := row.Scan(
		&it.ID, &it.SellerID, &it.StoreName, &it.Name, &it.Description, &it.Price,
		&it.Quantity, &it.Category, &it.Image, &it.Attributes.PreparationMinutes,
		&it.Attributes.Vegetarian, &it.Attributes.SpiceLevel, &created, &updated,
	)
	it.CreatedAt = fromUnix(created)
	it.UpdatedAt = fromUnix(updated)
	return it, err
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
