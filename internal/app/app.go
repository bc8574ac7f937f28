// Package app wires the coupon API together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/couponengine/coupon-engine/internal/domain/auth"
	"github.com/couponengine/coupon-engine/internal/domain/coupon"
	"github.com/couponengine/coupon-engine/internal/domain/redemption"
	"github.com/couponengine/coupon-engine/internal/handler"
	"github.com/couponengine/coupon-engine/internal/storage/postgres"
	"github.com/couponengine/coupon-engine/internal/storage/redis"
	"github.com/couponengine/coupon-engine/pkg/health"
	"github.com/couponengine/coupon-engine/pkg/httpmiddleware"
)

// Server is the wired coupon API: the HTTP handler plus the resources it
// holds open.
type Server struct {
	Handler http.Handler
	Health  *health.Health

	closers []func()
}

// Close stops health checks and releases every connection Build opened.
func (s *Server) Close() {
	s.Health.Stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build creates all dependencies and the HTTP handler. Health checks are
// started and readiness is set once Build returns.
func Build(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (_ *Server, rerr error) {
	s := &Server{Health: health.New()}
	defer func() {
		if rerr != nil {
			for i := len(s.closers) - 1; i >= 0; i-- {
				s.closers[i]()
			}
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	s.Health.Register(health.Readiness, health.Check{
		Name: "postgres", Timeout: 5 * time.Second, Run: health.PingCheck(pool),
	})
	s.Health.Register(health.Liveness, health.Check{
		Name: "goroutines", Timeout: time.Second, Run: health.GoroutineCountCheck(10000),
	})

	// Repositories.
	couponRepo := postgres.NewCouponRepository(pool)
	redemptionRepo := postgres.NewRedemptionRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	redemptionOpts := []redemption.Option{
		redemption.WithTracerProvider(tp),
		redemption.WithMeterProvider(mp),
	}
	var rateCounter httpmiddleware.WindowCounter = httpmiddleware.NewMemoryCounter()

	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = rdb.Close() })

		locker := redis.NewLocker(rdb, cfg.Redis.LockTTL, cfg.Redis.LockWait)
		if err := locker.Ping(ctx); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		s.Health.Register(health.Readiness, health.Check{
			Name: "redis", Timeout: 2 * time.Second, Run: health.PingCheck(locker),
		})
		redemptionOpts = append(redemptionOpts, redemption.WithLocker(locker))
		rateCounter = redis.NewWindowCounter(rdb)
		lg.Info("Coupon usage lock enabled", zap.String("redis", cfg.Redis.Addr))
	} else {
		lg.Warn("Coupon usage lock disabled; concurrent blocks may exceed MAX_USES caps")
	}

	// Domain services.
	catalog := coupon.NewCatalog(couponRepo)
	filter := coupon.NewFilter(couponRepo, tp.Tracer("coupon"))
	redemptions, err := redemption.NewService(couponRepo, redemptionRepo, redemptionOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create redemption service")
	}
	authn := auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.Handle("GET /livez", s.Health.Handler(health.Liveness))
	mux.Handle("GET /readyz", s.Health.Handler(health.Readiness))
	handler.New(catalog, filter, redemptions, authn).Register(mux)

	s.Handler = httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("coupon-api", tp, mp),
		httpmiddleware.LogRequests(),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}, rateCounter),
	)

	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Health.Start(ctx, interval)
	s.Health.SetReady(true)
	return s, nil
}

// Run builds the server, starts listening, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := Build(ctx, zctx.From(ctx), cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
