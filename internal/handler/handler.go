// Package handler exposes the marketplace over HTTP as huma operations
// served by a chi router.
package handler

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
)

const (
	tagCatalog = "Catalog"
	tagOrders  = "Orders"
	tagStats   = "Stats"
)

// Security requirement shared by every authenticated operation: either a
// bearer token or an API key.
var authenticated = []map[string][]string{
	{"bearer": {}},
	{"apiKey": {}},
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in catalog
	// responses. When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler registers the marketplace operations, delegating business logic
// to the domain services.
type Handler struct {
	catalog      *catalog.Service
	orders       *order.Service
	reports      *report.Service
	accounts     *account.Directory
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	items *catalog.Service,
	orders *order.Service,
	reports *report.Service,
	accounts *account.Directory,
) *Handler {
	return &Handler{
		catalog:      items,
		orders:       orders,
		reports:      reports,
		accounts:     accounts,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// NewAPI creates the huma API on router. The OpenAPI document is served at
// /openapi.json and the reference docs at /docs.
func NewAPI(router chi.Router, title, version string, authn *Authentication) huma.API {
	config := huma.DefaultConfig(title, version)
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
		"apiKey": {
			Type: "apiKey",
			In:   "header",
			Name: APIKeyHeader,
		},
	}

	api := humachi.New(router, config)
	api.UseMiddleware(authn.Middleware(api))
	return api
}

// Register adds every operation to api.
func (h *Handler) Register(api huma.API) {
	h.registerCatalog(api)
	h.registerOrders(api)
	h.registerStats(api)
}

func (h *Handler) imageURL(image string) string {
	if h.imageBaseURL == "" || strings.Contains(image, "://") {
		return image
	}
	return h.imageBaseURL + image
}
