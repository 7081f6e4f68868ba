// Package account keeps a directory of principals seen by the API.
//
// Credentials are issued elsewhere; the directory only remembers who has
// authenticated so that reporting can count buyers and sellers.
package account

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xenking/caremeds/internal/domain/auth"
)

// Account is a principal recorded by the directory.
type Account struct {
	ID        string
	Name      string
	Role      auth.Role
	FirstSeen time.Time
	LastSeen  time.Time
}

// Repository persists accounts.
type Repository interface {
	// Upsert inserts a or refreshes its name, role and LastSeen.
	Upsert(ctx context.Context, a Account) error
	ListByRole(ctx context.Context, role auth.Role) ([]Account, error)
	CountByRole(ctx context.Context) (map[auth.Role]int, error)
}

// Directory records authenticated principals.
type Directory struct {
	repo Repository
	seen *expirable.LRU[string, auth.Principal]
	now  func() time.Time
}

// NewDirectory creates a Directory. Principals are written at most once per
// refresh interval while they stay in the in-process cache.
func NewDirectory(repo Repository, cacheSize int, refresh time.Duration) *Directory {
	return &Directory{
		repo: repo,
		seen: expirable.NewLRU[string, auth.Principal](cacheSize, nil, refresh),
		now:  time.Now,
	}
}

// Record notes that p made a request.
func (d *Directory) Record(ctx context.Context, p auth.Principal) error {
	if prev, ok := d.seen.Get(p.ID); ok && prev == p {
		return nil
	}
	now := d.now().UTC()
	err := d.repo.Upsert(ctx, Account{
		ID:        p.ID,
		Name:      p.Name,
		Role:      p.Role,
		FirstSeen: now,
		LastSeen:  now,
	})
	if err != nil {
		return errors.Wrap(err, "upsert account")
	}
	d.seen.Add(p.ID, p)
	return nil
}

// Sellers lists every seller recorded so far.
func (d *Directory) Sellers(ctx context.Context, actor auth.Principal) ([]Account, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}
	return d.repo.ListByRole(ctx, auth.RoleSeller)
}
