package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	analyticspostgres "windgen-cloud/internal/analytics/infrastructure/postgres"
	masterpostgres "windgen-cloud/internal/masterdata/infrastructure/postgres"
	"windgen-cloud/internal/migrations"
	"windgen-cloud/internal/observability/metrics"
	reconcileapp "windgen-cloud/internal/reconcile/application"
	reconcilehttp "windgen-cloud/internal/reconcile/interfaces/http"
	"windgen-cloud/internal/reconcile/notify"
	telemetryapp "windgen-cloud/internal/telemetry/application"
	telemetrypostgres "windgen-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "windgen-cloud/internal/telemetry/interfaces/http"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := reconcileapp.LoadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}
	if err := migrations.Up(db); err != nil {
		logger.Fatalf("migrations error: %v", err)
	}

	metrics.Init(db, logger)

	precedence, err := cfg.ParsedPrecedence()
	if err != nil {
		logger.Fatalf("precedence error: %v", err)
	}
	rawRepo := telemetrypostgres.NewRawRepository(db, telemetrypostgres.WithPrecedence(precedence))
	canonicalRepo := analyticspostgres.NewCanonicalRepository(db, analyticspostgres.WithMaxCapacityFactor(cfg.MaxCapacityFactor))
	directory := masterpostgres.NewUnitDirectoryRepository(db)

	ingestService, err := telemetryapp.NewIngestService(rawRepo,
		telemetryapp.WithBatchSize(cfg.BatchSize),
		telemetryapp.WithWorkers(cfg.Workers),
		telemetryapp.WithPrecedence(precedence),
		telemetryapp.WithUnitDirectory(directory),
		telemetryapp.WithTimezones(cfg.Timezones()),
		telemetryapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		logger.Fatalf("reconcile options error: %v", err)
	}
	opts = append(opts, reconcileapp.WithLogger(logger))
	reconcileService, err := reconcileapp.NewService(reconcileapp.NewStorage(rawRepo, canonicalRepo), directory, opts...)
	if err != nil {
		logger.Fatalf("reconcile service error: %v", err)
	}

	var schedOpts []reconcileapp.SchedulerOption
	if cfg.AlertWebhookURL != "" {
		schedOpts = append(schedOpts, reconcileapp.WithNotifier(notify.NewWebhookNotifier(cfg.AlertWebhookURL)))
	}
	scheduler := reconcileapp.NewScheduler(reconcileService, cfg.Schedule, logger, schedOpts...)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("reconcile scheduler error: %v", err)
	}
	defer scheduler.Stop()

	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	reconcileHandler, err := reconcilehttp.NewHandler(reconcileService, logger)
	if err != nil {
		logger.Fatalf("reconcile handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/raw", ingestHandler)
	mux.Handle("/api/v1/reconcile", reconcileHandler)
	mux.Handle("/api/v1/coverage", reconcileHandler)
	mux.Handle("/api/v1/canonical", reconcileHandler)
	mux.Handle("/api/v1/canonical/override", reconcileHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
