// Package report aggregates marketplace statistics.
package report

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/order"
)

// Summary aggregates the orders of one seller or of the whole platform.
type Summary struct {
	Orders     int
	Sales      decimal.Decimal
	Commission decimal.Decimal
	ByStatus   map[order.Status]int
}

// OrderSummarizer computes order aggregates. An empty sellerID covers every
// seller.
type OrderSummarizer interface {
	Summarize(ctx context.Context, sellerID string) (Summary, error)
}

// AccountCounter counts recorded accounts per role.
type AccountCounter interface {
	CountByRole(ctx context.Context) (map[auth.Role]int, error)
}

// AdminStats are the platform-wide statistics.
type AdminStats struct {
	Users   int
	Sellers int
	Summary
}

// SellerStats are the statistics of one seller.
type SellerStats struct {
	Pending int
	Summary
}

// Service computes statistics for admins and sellers.
type Service struct {
	orders   OrderSummarizer
	accounts AccountCounter
}

// NewService creates a report Service.
func NewService(orders OrderSummarizer, accounts AccountCounter) *Service {
	return &Service{orders: orders, accounts: accounts}
}

// Admin returns platform statistics.
func (s *Service) Admin(ctx context.Context, actor auth.Principal) (*AdminStats, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var (
		stats  AdminStats
		counts map[auth.Role]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := s.orders.Summarize(gctx, "")
		if err != nil {
			return errors.Wrap(err, "summarize orders")
		}
		stats.Summary = sum
		return nil
	})
	g.Go(func() error {
		c, err := s.accounts.CountByRole(gctx)
		if err != nil {
			return errors.Wrap(err, "count accounts")
		}
		counts = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Users = counts[auth.RoleBuyer]
	stats.Sellers = counts[auth.RoleSeller]
	return &stats, nil
}

// Seller returns the acting seller's statistics.
func (s *Service) Seller(ctx context.Context, actor auth.Principal) (*SellerStats, error) {
	if err := actor.Require(auth.RoleSeller); err != nil {
		return nil, err
	}
	sum, err := s.orders.Summarize(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrap(err, "summarize orders")
	}
	return &SellerStats{
		Pending: sum.ByStatus[order.StatusPending],
		Summary: sum,
	}, nil
}
