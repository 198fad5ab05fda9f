package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/domain/checkout"
	"github.com/xenking/threadline/internal/domain/referral"
	"github.com/xenking/threadline/internal/domain/settlement"
	"github.com/xenking/threadline/internal/handler"
	"github.com/xenking/threadline/internal/payment"
	"github.com/xenking/threadline/internal/storage/postgres"
	"github.com/xenking/threadline/internal/sweep"
	"github.com/xenking/threadline/pkg/health"
	"github.com/xenking/threadline/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the maturation
// sweep, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	accountRepo := postgres.NewAccountRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	commissionRepo := postgres.NewCommissionRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	referrals := referral.NewResolver(accountRepo)
	if err := referrals.Warm(ctx); err != nil {
		return errors.Wrap(err, "warm referral filter")
	}

	gateway := payment.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.Timeout, m.TracerProvider())
	paymentVerifier := payment.NewVerifier([]byte(cfg.Gateway.SignatureSecret))
	settler := settlement.NewSettler(accountRepo, commissionRepo, lg.Named("settlement"))

	service := checkout.NewService(
		accountRepo,
		catalogRepo,
		addressRepo,
		orderRepo,
		commissionRepo,
		referrals,
		gateway,
		paymentVerifier,
		settler,
		cfg.Gateway.Currency,
		lg.Named("checkout"),
	)

	// Maturation sweep.
	sweeper, err := sweep.New(accountRepo, sweep.Config{
		Interval:      cfg.Sweep.Interval,
		HoldingPeriod: cfg.Sweep.HoldingPeriod,
		Parallelism:   cfg.Sweep.Parallelism,
	}, lg.Named("sweep"), m.MeterProvider().Meter("threadline"))
	if err != nil {
		return errors.Wrap(err, "create sweeper")
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("sweeper stopped", zap.Error(err))
		}
	}()

	// HTTP handlers.
	authVerifier := auth.NewVerifier(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(service, referrals, accountRepo, catalogRepo, addressRepo, authVerifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	var api http.Handler = otelhttp.NewHandler(mux, "threadline-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(api,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

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
