// Command server starts the EVAL-COSEP grading HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	ai "github.com/dlegrain/EVAL-COSEP/internal/adapter/ai"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/ai/real"
	httpserver "github.com/dlegrain/EVAL-COSEP/internal/adapter/httpserver"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/queue/redpanda"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/repo/postgres"
	"github.com/dlegrain/EVAL-COSEP/internal/app"
	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/internal/scoring"
	"github.com/dlegrain/EVAL-COSEP/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	catalog, err := config.LoadCatalog(cfg.ReferencePath, cfg.LegalRubricPath)
	if err != nil {
		slog.Error("catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("catalog loaded",
		slog.Int("references", len(catalog.References)),
		slog.Int("legal_questions", len(catalog.Legal.Questions)))

	ctx := context.Background()

	// Persistence is best-effort: without a database, scoring still works and
	// responses report the bookkeeping as unavailable.
	var (
		dbPinger     app.Pinger
		progressRepo domain.ProgressStore
		archiveRepo  domain.ArchiveStore
	)
	if strings.TrimSpace(cfg.DBURL) != "" {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db pool setup failed, running without persistence", slog.Any("error", err))
		} else {
			defer pool.Close()
			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				slog.Error("schema bootstrap failed", slog.Any("error", err))
			}
			dbPinger = pool
			progressRepo = postgres.NewProgressRepo(pool)
			archiveRepo = postgres.NewArchiveRepo(pool)
		}
	}

	var rdb *redis.Client
	var redisPinger app.RedisPinger
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL, oracle cache disabled", slog.Any("error", err))
		} else {
			rdb = redis.NewClient(opts)
			redisPinger = rdb
			defer func() { _ = rdb.Close() }()
		}
	}

	// Oracle stack, innermost first: HTTP client, circuit breaker, shared
	// quota, response cache. Cache hits never consume quota.
	var oracle domain.Oracle = ai.NewBreakerOracle(real.New(cfg), ai.NewCircuitBreaker("oracle", 5, 30*time.Second))
	if rdb != nil {
		oracle = ai.NewRateLimitedOracle(oracle, rdb, cfg.OracleModel, ai.BucketPerMinute(cfg.OracleRateLimitPerMin))
		oracle = ai.NewCache(oracle, rdb, cfg.OracleCacheTTL, cfg.OracleModel+"|"+cfg.OracleVisionModel)
	}
	if !cfg.OracleConfigured() {
		slog.Warn("ORACLE_API_KEY not set: collaboration uses the heuristic scorer, legal and canvas grading are unavailable")
	}

	var events domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := redpanda.NewPublisher(ctx, cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			slog.Error("event publisher setup failed, events disabled", slog.Any("error", err))
		} else {
			events = pub
			defer pub.Close()
		}
	}

	oracleOpts := scoring.OracleOptions{
		Timeout:            cfg.OracleTimeout,
		MaxTokens:          cfg.OracleMaxTokens,
		MaxTranscriptChars: cfg.MaxUserContentChars,
	}
	var comparator scoring.Comparator = scoring.LocalComparator{}
	if cfg.ExtractionStrategy == config.ExtractionOracle {
		comparator = scoring.NewBatchComparator(oracle, scoring.BatchOptions{
			BatchSize:           cfg.BatchSize,
			Parallelism:         cfg.BatchParallelism,
			Timeout:             cfg.OracleTimeout,
			MaxUserContentChars: cfg.MaxUserContentChars,
			MaxTokens:           cfg.OracleMaxTokens,
		})
	}

	progressSvc := usecase.NewProgressService(progressRepo)
	rec := usecase.Recorder{Archive: archiveRepo, Events: events}
	if progressRepo != nil {
		rec.Progress = &progressSvc
	}

	extractionSvc := usecase.NewExtractionService(catalog.References, comparator, rec)
	collaborationSvc := usecase.NewCollaborationService(oracle, oracleOpts, rec)
	legalSvc := usecase.NewLegalService(scoring.NewLegalGrader(oracle, catalog.Legal, oracleOpts), rec)
	canvasSvc := usecase.NewCanvasService(scoring.NewCanvasVerifier(oracle, oracleOpts), rec)

	dbCheck, redisCheck, oracleCheck := app.BuildReadinessChecks(dbPinger, redisPinger, oracle)

	srv := httpserver.NewServer(cfg, extractionSvc, collaborationSvc, legalSvc, canvasSvc, progressSvc, dbCheck, redisCheck, oracleCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.String("extraction_strategy", cfg.ExtractionStrategy))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
