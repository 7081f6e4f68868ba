package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/report"
)

const (
	upsertAccountSQL = `INSERT INTO accounts (id, name, role, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, role = excluded.role, last_seen = excluded.last_seen`

	listAccountsByRoleSQL = `SELECT id, name, role, first_seen, last_seen
		FROM accounts WHERE role = ? ORDER BY id`

	countAccountsSQL = `SELECT role, COUNT(*) FROM accounts GROUP BY role`

	getAPIKeyByHashSQL = `SELECT id, key_hash, name, principal_id, principal_name, role
		FROM api_keys WHERE key_hash = ? AND active = 1`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, principal_id, principal_name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET key_hash = excluded.key_hash, name = excluded.name,
		    principal_id = excluded.principal_id, principal_name = excluded.principal_name,
		    role = excluded.role, active = 1`
)

var (
	_ account.Repository    = (*AccountRepository)(nil)
	_ report.AccountCounter = (*AccountRepository)(nil)
	_ auth.APIKeyRepository = (*APIKeyRepository)(nil)
)

// AccountRepository implements account.Repository backed by SQLite.
type AccountRepository struct {
	db *sql.DB
}

func (r *AccountRepository) Upsert(ctx context.Context, a account.Account) error {
	_, err := r.db.ExecContext(ctx, upsertAccountSQL,
		a.ID, a.Name, a.Role.String(), toUnix(a.FirstSeen), toUnix(a.LastSeen))
	if err != nil {
		return fmt.Errorf("upserting account %q: %w", a.ID, err)
	}
	return nil
}

func (r *AccountRepository) ListByRole(ctx context.Context, role auth.Role) ([]account.Account, error) {
	rows, err := r.db.QueryContext(ctx, listAccountsByRoleSQL, role.String())
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	out := make([]account.Account, 0)
	for rows.Next() {
		var (
			a           account.Account
			roleName    string
			first, last int64
		)
		if err := rows.Scan(&a.ID, &a.Name, &roleName, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		if a.Role, err = auth.ParseRole(roleName); err != nil {
			return nil, fmt.Errorf("account %q: %w", a.ID, err)
		}
		a.FirstSeen = fromUnix(first)
		a.LastSeen = fromUnix(last)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return out, nil
}

func (r *AccountRepository) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	rows, err := r.db.QueryContext(ctx, countAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("counting accounts: %w", err)
	}
	defer rows.Close()

	counts := make(map[auth.Role]int)
	for rows.Next() {
		var (
			roleName string
			count    int
		)
		if err := rows.Scan(&roleName, &count); err != nil {
			return nil, fmt.Errorf("scanning account count: %w", err)
		}
		if role, err := auth.ParseRole(roleName); err == nil {
			counts[role] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting accounts: %w", err)
	}
	return counts, nil
}

// APIKeyRepository implements auth.APIKeyRepository backed by SQLite.
type APIKeyRepository struct {
	db *sql.DB
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		info     auth.APIKeyInfo
		roleName string
	)
	err := r.db.QueryRowContext(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name, &info.Principal.ID, &info.Principal.Name, &roleName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", err)
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	if info.Principal.Role, err = auth.ParseRole(roleName); err != nil {
		return nil, fmt.Errorf("api key %q: %w", info.ID, err)
	}
	return &info, nil
}

// Put creates or replaces an API key.
func (r *APIKeyRepository) Put(ctx context.Context, info auth.APIKeyInfo) error {
	_, err := r.db.ExecContext(ctx, upsertAPIKeySQL,
		info.ID, info.KeyHash, info.Name, info.Principal.ID, info.Principal.Name,
		info.Principal.Role.String(), toUnix(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storing api key %q: %w", info.ID, err)
	}
	return nil
}
