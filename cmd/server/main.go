package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"railgate/internal/audit"
	"railgate/internal/intent/models"
	"railgate/internal/intent/store"
	memorystore "railgate/internal/intent/store/memory"
	postgresstore "railgate/internal/intent/store/postgres"
	"railgate/internal/platform/config"
	"railgate/internal/platform/httpserver"
	"railgate/internal/platform/logger"
	"railgate/internal/platform/middleware"
	platformredis "railgate/internal/platform/redis"
	"railgate/internal/rails"
	"railgate/internal/rails/mpesa"
	"railgate/internal/rails/tron"
	"railgate/internal/reconcile"
	"railgate/internal/reconcile/handler"
	"railgate/internal/reconcile/metrics"
	"railgate/pkg/platform/circuit"
)

// main wires dependencies and owns process lifecycle. Business logic lives in
// the internal packages; everything here is composition.
func main() {
	if err := run(); err != nil {
		slog.Error("railgate exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	intentStore, closeStore, err := buildIntentStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("intent store: %w", err)
	}
	defer closeStore()

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	adapters := []rails.Adapter{
		rails.WithBreaker(mpesa.New(cfg.Mpesa, httpClient), circuit.New("mpesa"), log),
		rails.WithBreaker(tron.New(cfg.Tron, httpClient), circuit.New("tron"), log),
	}
	policies := reconcile.Policies{
		models.RailMpesa: {MatchingWindow: cfg.Mpesa.MatchingWindow, Tolerance: decimal.Zero},
		models.RailTron:  {MatchingWindow: cfg.Tron.MatchingWindow, Tolerance: cfg.Tron.Tolerance},
	}

	auditStore := audit.NewInMemoryStore()
	auditPublisher := audit.NewBufferedPublisher(256)
	auditWorker := audit.NewWorker(auditStore, auditPublisher.Events())

	opts := []reconcile.Option{
		reconcile.WithLogger(log),
		reconcile.WithMetrics(metrics.New()),
		reconcile.WithAuditPublisher(auditPublisher),
	}
	if redisClient != nil {
		claimTTL := maxWindow(cfg.Mpesa.MatchingWindow, cfg.Tron.MatchingWindow) * 2
		opts = append(opts, reconcile.WithClaimStore(reconcile.NewRedisClaims(redisClient, claimTTL)))
		log.Info("using redis evidence claims", "ttl", claimTTL.String())
	}
	svc := reconcile.New(intentStore, adapters, policies, reconcile.FixedRate(cfg.USDToKES), opts...)

	h := handler.New(svc, auditStore, log, handler.Config{
		LedgerReceivingAddress: cfg.Tron.ReceivingAddress,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.ContentTypeJSON)
	h.Register(r)
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(middleware.RequireAdminToken(cfg.AdminToken, log))
		h.RegisterAdmin(ar)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(redisClient))

	poller := reconcile.NewPoller(svc, []models.Rail{models.RailMpesa, models.RailTron}, cfg.PollInterval, log)
	go poller.Run(ctx)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	srv := httpserver.New(cfg.Addr, r)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("railgate listening", "addr", cfg.Addr, "poll_interval", cfg.PollInterval.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("railgate stopped")
	return nil
}

// buildIntentStore selects Postgres when a DSN is configured and falls back
// to the in-memory store for local development.
func buildIntentStore(ctx context.Context, cfg config.Server, log *slog.Logger) (store.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Info("using in-memory intent store")
		return memorystore.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := postgresstore.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("using postgres intent store")
	return postgresstore.New(db), func() { db.Close() }, nil
}

func healthHandler(redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintln(w, "redis unhealthy")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}
}

func maxWindow(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
