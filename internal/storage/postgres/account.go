package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/report"
)

const (
	upsertAccountSQL = `INSERT INTO accounts (id, name, role, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, role = EXCLUDED.role, last_seen = EXCLUDED.last_seen`

	listAccountsByRoleSQL = `SELECT id, name, role, first_seen, last_seen
		FROM accounts WHERE role = $1 ORDER BY id`

	countAccountsSQL = `SELECT role, COUNT(*) FROM accounts GROUP BY role`
)

var (
	_ account.Repository    = (*AccountRepository)(nil)
	_ report.AccountCounter = (*AccountRepository)(nil)
)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Upsert records an account, keeping its original first_seen.
func (r *AccountRepository) Upsert(ctx context.Context, a account.Account) error {
	_, err := r.pool.Exec(ctx, upsertAccountSQL, a.ID, a.Name, a.Role.String(), a.FirstSeen, a.LastSeen)
	if err != nil {
		return fmt.Errorf("upserting account %q: %w", a.ID, err)
	}
	return nil
}

// ListByRole returns the accounts holding role.
func (r *AccountRepository) ListByRole(ctx context.Context, role auth.Role) ([]account.Account, error) {
	rows, err := r.pool.Query(ctx, listAccountsByRoleSQL, role.String())
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (account.Account, error) {
		var (
			a    account.Account
			role string
		)
		if err := row.Scan(&a.ID, &a.Name, &role, &a.FirstSeen, &a.LastSeen); err != nil {
			return a, err
		}
		parsed, err := auth.ParseRole(role)
		if err != nil {
			return a, fmt.Errorf("account %q: %w", a.ID, err)
		}
		a.Role = parsed
		return a, nil
	})
}

// CountByRole implements report.AccountCounter. Rows with unknown roles are
// ignored.
func (r *AccountRepository) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	rows, err := r.pool.Query(ctx, countAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("counting accounts: %w", err)
	}
	defer rows.Close()

	counts := make(map[auth.Role]int)
	for rows.Next() {
		var (
			role  string
			count int
		)
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("scanning account count: %w", err)
		}
		if parsed, err := auth.ParseRole(role); err == nil {
			counts[parsed] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting accounts: %w", err)
	}
	return counts, nil
}
