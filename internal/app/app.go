package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/caremeds/internal/domain/account"
	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
	"github.com/xenking/caremeds/internal/handler"
	"github.com/xenking/caremeds/internal/security"
	"github.com/xenking/caremeds/internal/storage/redis"
	"github.com/xenking/caremeds/pkg/health"
	"github.com/xenking/caremeds/pkg/httpmiddleware"
)

const (
	serviceName = "caremeds-api"
	apiVersion  = "1.0.0"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	srv, err := newServer(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	healthSvc := srv.health
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// server is the assembled HTTP stack and the resources it owns.
type server struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) (_ *server, rerr error) {
	srv := &server{health: health.New()}
	defer func() {
		if rerr != nil {
			srv.close()
		}
	}()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	srv.closers = append(srv.closers, store.close)

	// Health check service.
	healthSvc := srv.health
	healthSvc.AddReadinessCheck("storage", 5*time.Second, health.PingCheck(cfg.Storage.Driver, store.pinger))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	rate, fee, err := cfg.Order.Pricing()
	if err != nil {
		return nil, err
	}

	// Domain services.
	items := catalog.NewService(store.catalog, cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL)
	orderOpts := []order.Option{
		order.WithCommissionRate(rate),
		order.WithDeliveryFee(fee),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
		order.OnPlaced(func(context.Context, *order.Order) { items.InvalidateListings() }),
	}
	if cfg.Redis.URL != "" {
		client, err := redis.NewClient(cfg.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "create redis client")
		}
		srv.closers = append(srv.closers, func() { _ = client.Close() })

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		orderOpts = append(orderOpts,
			order.WithIdempotencyGuard(redis.NewIdempotencyGuard(client, cfg.Redis.IdempotencyTTL)),
		)
	} else {
		lg.Info("Redis URL not set, idempotency keys are ignored")
	}
	orders, err := order.NewService(store.orders, orderOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	directory := account.NewDirectory(store.accounts, cfg.Accounts.CacheSize, cfg.Accounts.Refresh)
	reports := report.NewService(store.orders, store.accounts)

	// Authentication: bearer tokens from the identity service, API keys for
	// integrations.
	var tokens auth.Authenticator
	if cfg.Auth.TokenSecret != "" {
		tokens = security.NewTokenVerifier([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenIssuer)
	} else {
		lg.Warn("Token secret not set, bearer tokens are rejected")
	}
	authn := handler.NewAuthentication(
		tokens,
		security.NewAPIKeyAuthenticator(store.apikeys, []byte(cfg.Auth.APIKeyPepper)),
		directory,
	)

	// Router: health endpoints + API operations on one server.
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	api := handler.NewAPI(router, serviceName, apiVersion, authn)
	handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL},
		items,
		orders,
		reports,
		directory,
	).Register(api)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	srv.handler = httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, "Idempotency-Key"},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		authn.Resolve,
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.PrincipalKey(handler.PrincipalID),
			Exempt:  httpmiddleware.ExemptPaths("/livez", "/readyz"),
		}),
		httpmiddleware.Instrument(serviceName, routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return srv, nil
}
