package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qstarmachine/billing/internal/cache"
	"github.com/qstarmachine/billing/internal/config"
	"github.com/qstarmachine/billing/internal/handler"
	appMiddleware "github.com/qstarmachine/billing/internal/middleware"
	"github.com/qstarmachine/billing/internal/metrics"
	"github.com/qstarmachine/billing/internal/pricing"
	"github.com/qstarmachine/billing/internal/repository"
	"github.com/qstarmachine/billing/internal/service"
	"github.com/qstarmachine/billing/pkg/payment"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer db.Close()

	if err := repository.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	slog.Info("database connected and migrated")

	var rdb *cache.Redis
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	} else {
		slog.Warn("REDIS_URL not set; idempotent replay of payment requests is disabled")
	}

	registry, err := pricing.LoadFile(cfg.PricingFile)
	if err != nil {
		return err
	}

	gateway := newGateway(cfg)
	slog.Info("payment gateway configured", "gateway", gateway.Name())

	m := metrics.NewDefault()
	router, sweeper, err := buildRouter(ctx, cfg, db, rdb, registry, gateway, m)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.GatewayTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("billing API listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if sweeper != nil {
		g.Go(func() error { return sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newGateway(cfg *config.Config) payment.Gateway {
	if cfg.PaymentGateway == "mock" {
		return payment.NewMockGateway()
	}
	return payment.NewZibalGateway(payment.ZibalConfig{
		Merchant: cfg.ZibalMerchant,
		BaseURL:  cfg.ZibalBaseURL,
		Timeout:  cfg.GatewayTimeout,
	})
}

func buildRouter(
	ctx context.Context,
	cfg *config.Config,
	db *pgxpool.Pool,
	rdb *cache.Redis,
	registry *pricing.Registry,
	gateway payment.Gateway,
	m *metrics.Metrics,
) (http.Handler, *service.PendingSweeper, error) {
	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	entitlementRepo := repository.NewEntitlementRepository(db)

	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, userRepo, entitlementRepo)
	if err := authSvc.SeedAdmin(ctx); err != nil {
		return nil, nil, fmt.Errorf("admin seed error: %w", err)
	}

	planSvc := service.NewPlanService(planRepo)
	entitlementSvc := service.NewEntitlementService(entitlementRepo, planSvc, registry, m)
	paymentSvc := service.NewPaymentService(paymentRepo, entitlementRepo, planSvc, gateway, service.PaymentConfig{
		CallbackURL:     cfg.CallbackURL(),
		PriceMultiplier: cfg.PriceMultiplier,
	}, m)
	// The mock gateway confirms every session, so sweeping would settle unpaid payments.
	var sweeper *service.PendingSweeper
	if cfg.SweepInterval > 0 && gateway.Name() != "mock" {
		sweeper = service.NewPendingSweeper(paymentRepo, paymentSvc, service.SweeperConfig{Interval: cfg.SweepInterval})
	}
	statsSvc := service.NewStatsService(userRepo, planRepo, paymentRepo, entitlementRepo)

	checks := map[string]handler.Pinger{"database": db}
	if rdb != nil {
		checks["redis"] = rdb
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(authSvc)
	plansHandler := handler.NewPlansHandler(planSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, cfg.FrontendURL)
	balanceHandler := handler.NewBalanceHandler(entitlementSvc)
	adminHandler := handler.NewAdminHandler(statsSvc)
	healthHandler := handler.NewHealthHandler(checks)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appMiddleware.IdempotencyKeyHeader},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appMiddleware.NewRateLimiter(ctx, 20, 40).Middleware())

	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/api/plans", plansHandler.List)
	r.Get("/api/payment/callback", paymentHandler.Callback)

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.NewRateLimiter(ctx, 1, 5).Middleware())
		r.Post("/api/auth/login", authHandler.Login)
		r.Post("/api/auth/register", authHandler.Register)
	})

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)

		r.Get("/api/balance", balanceHandler.Get)
		r.Post("/api/balance/check", balanceHandler.Check)
		r.Get("/api/balance/transactions", balanceHandler.Transactions)

		r.Group(func(r chi.Router) {
			if rdb != nil {
				r.Use(appMiddleware.Idempotency(rdb))
			}
			r.Post("/api/payment/new", paymentHandler.New)
		})

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/stats", adminHandler.GetStats)

			r.Get("/api/users", userHandler.List)
			r.Post("/api/users", userHandler.Create)
			r.Get("/api/users/{id}", userHandler.Get)
			r.Put("/api/users/{id}", userHandler.Update)
			r.Delete("/api/users/{id}", userHandler.Delete)

			r.Get("/api/subscriptions", plansHandler.ListAll)
			r.Post("/api/subscriptions", plansHandler.Create)
			r.Get("/api/subscriptions/{id}", plansHandler.Get)
			r.Put("/api/subscriptions/{id}", plansHandler.Update)
			r.Delete("/api/subscriptions/{id}", plansHandler.Delete)

			r.Get("/api/payment", paymentHandler.List)
			r.Get("/api/payment/get_all_payment", paymentHandler.List)
			r.Get("/api/payment/{id}", paymentHandler.Get)
			r.Put("/api/payment/{id}", paymentHandler.Update)
			r.Delete("/api/payment/{id}", paymentHandler.Delete)
		})
	})

	return r, sweeper, nil
}
