package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"quantlab/internal/app"
	"quantlab/internal/cache"
	"quantlab/internal/config"
	"quantlab/internal/db"
	"quantlab/internal/handler"
	"quantlab/internal/job"
	"quantlab/internal/logger"
	"quantlab/internal/metrics"
	"quantlab/pkg/tracing"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	loadRunConfigFunc = config.LoadRunConfig
	connectPostgres   = db.Connect
	connectRedis      = cache.Connect
	initTracerFunc    = tracing.InitTracer
	registerer        = prometheus.DefaultRegisterer
	gatherer          = prometheus.DefaultGatherer
	newRouterFunc     = gin.New
	startJobFunc      = func(ctx context.Context, start func(context.Context)) { go start(ctx) }
	setupSignalNotify = signal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }

	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server exiting")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	rc, err := loadRunConfigFunc(cfg.RunConfigPath)
	if err != nil {
		return err
	}
	trainingCfg, err := rc.Training()
	if err != nil {
		return err
	}

	var infra app.Infra
	if cfg.DatabaseURL != "" {
		pool, err := connectPostgres(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, continuing with file registry only")
		} else {
			infra.Pool = pool
			defer closePool(pool)
		}
	}
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, model cache is process-local")
		} else {
			infra.Redis = client
			defer closeRedis(client)
		}
	}

	recorder := metrics.New(registerer)
	a, err := app.New(cfg, rc, infra, log, tracer, recorder)
	if err != nil {
		return err
	}

	trainingJob := job.NewMLTrainingJob(tracer, log, a.Batch, job.TrainingPlan{
		Instruments: rc.Universe(),
		Config:      trainingCfg,
		SummaryDir:  cfg.ModelDir,
	}, a.Models, cfg.MLTrainHourUTC)

	if cfg.MLEnabled {
		startJobFunc(ctx, trainingJob.Start)
		if a.Predictions != nil {
			inferJob := job.NewMLInferenceJob(tracer, log, a.Inference, time.Duration(cfg.MLInferPollSecs)*time.Second)
			startJobFunc(ctx, inferJob.Start)
		}
	}

	h := handler.New(tracer, a.Index, a.Inference, gatherer)
	h.SetMLTrainingRunner(trainingJob)
	if a.Predictions != nil {
		h.SetPredictionHistory(a.Predictions)
	}

	r := newRouterFunc()
	r.Use(gin.Recovery(), otelgin.Middleware("quantlab"))
	h.RegisterRoutes(r, cfg.APIKey)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	signalled := make(chan struct{})
	go func() {
		waitForSignalFunc(quit)
		close(signalled)
	}()

	select {
	case <-signalled:
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	log.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func closePool(pool *pgxpool.Pool) { pool.Close() }

func closeRedis(client *redis.Client) { _ = client.Close() }
