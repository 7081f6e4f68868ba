package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xenking/caremeds/internal/domain/report"
)

// AdminStats are the platform-wide statistics.
type AdminStats struct {
	Users      int            `json:"users" doc:"Buyers seen by the service"`
	Sellers    int            `json:"sellers"`
	Orders     int            `json:"orders"`
	Sales      float64        `json:"sales" doc:"Sum of order totals"`
	Commission float64        `json:"commission"`
	ByStatus   map[string]int `json:"byStatus"`
}

// SellerStats are the statistics of the acting seller.
type SellerStats struct {
	Orders     int            `json:"orders"`
	Pending    int            `json:"pending"`
	Sales      float64        `json:"sales"`
	Commission float64        `json:"commission"`
	ByStatus   map[string]int `json:"byStatus"`
}

// Account is a principal recorded by the service.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

type (
	adminStatsOutput struct {
		Body AdminStats
	}
	sellerStatsOutput struct {
		Body SellerStats
	}
	accountsOutput struct {
		Body []Account
	}
)

func (h *Handler) registerStats(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "adminStats",
		Summary:     "Platform statistics",
		Method:      http.MethodGet,
		Path:        "/api/admin/stats",
		Tags:        []string{tagStats},
		Security:    authenticated,
	}, h.AdminStats)

	huma.Register(api, huma.Operation{
		OperationID: "adminSellers",
		Summary:     "List known sellers",
		Method:      http.MethodGet,
		Path:        "/api/admin/sellers",
		Tags:        []string{tagStats},
		Security:    authenticated,
	}, h.AdminSellers)

	huma.Register(api, huma.Operation{
		OperationID: "sellerStats",
		Summary:     "Statistics of the acting seller",
		Method:      http.MethodGet,
		Path:        "/api/seller/stats",
		Tags:        []string{tagStats},
		Security:    authenticated,
	}, h.SellerStats)
}

// AdminStats handles GET /api/admin/stats.
func (h *Handler) AdminStats(ctx context.Context, _ *struct{}) (*adminStatsOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	s, err := h.reports.Admin(ctx, actor)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &adminStatsOutput{Body: AdminStats{
		Users:      s.Users,
		Sellers:    s.Sellers,
		Orders:     s.Orders,
		Sales:      s.Sales.InexactFloat64(),
		Commission: s.Commission.InexactFloat64(),
		ByStatus:   byStatus(s.Summary),
	}}, nil
}

// SellerStats handles GET /api/seller/stats.
func (h *Handler) SellerStats(ctx context.Context, _ *struct{}) (*sellerStatsOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	s, err := h.reports.Seller(ctx, actor)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &sellerStatsOutput{Body: SellerStats{
		Orders:     s.Orders,
		Pending:    s.Pending,
		Sales:      s.Sales.InexactFloat64(),
		Commission: s.Commission.InexactFloat64(),
		ByStatus:   byStatus(s.Summary),
	}}, nil
}

// AdminSellers handles GET /api/admin/sellers.
func (h *Handler) AdminSellers(ctx context.Context, _ *struct{}) (*accountsOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	sellers, err := h.accounts.Sellers(ctx, actor)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := &accountsOutput{Body: make([]Account, len(sellers))}
	for i, a := range sellers {
		out.Body[i] = Account{
			ID:        a.ID,
			Name:      a.Name,
			Role:      a.Role.String(),
			FirstSeen: a.FirstSeen,
			LastSeen:  a.LastSeen,
		}
	}
	return out, nil
}

func byStatus(s report.Summary) map[string]int {
	m := make(map[string]int, len(s.ByStatus))
	for st, n := range s.ByStatus {
		m[string(st)] = n
	}
	return m
}
