package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantlab/internal/app"
	"quantlab/internal/cache"
	"quantlab/internal/config"
	"quantlab/internal/db"
	"quantlab/internal/domain"
	"quantlab/internal/logger"
	"quantlab/internal/metrics"
	"quantlab/internal/ml/features"
	"quantlab/internal/ml/training"
	"quantlab/pkg/tracing"
)

type batchRunner interface {
	Run(ctx context.Context, instruments []string, cfg training.Config) (*training.Summary, error)
}

type predictor interface {
	Predict(ctx context.Context, instrument, family string, n int) ([]domain.Prediction, error)
}

type modelLister interface {
	List(ctx context.Context) ([]domain.ModelMetadata, time.Time, error)
}

type versionStore interface {
	ListActive(ctx context.Context) ([]domain.MLModelVersion, error)
	ActivateModel(ctx context.Context, modelKey string, version int) error
}

type candleWriter interface {
	UpsertCandles(ctx context.Context, candles []*domain.Candle) (int, error)
}

type tableLoader interface {
	Load(ctx context.Context, instrument string) (*features.Table, error)
}

// session is the wired component graph one command runs against.
// Versions and Candles stay nil without Postgres.
type session struct {
	Batch     batchRunner
	Predictor predictor
	Index     modelLister
	Versions  versionStore
	Candles   candleWriter
	CSV       tableLoader

	close func()
}

func (s *session) Close() {
	if s.close != nil {
		s.close()
	}
}

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	loadRunConfigFunc = config.LoadRunConfig
	connectPostgres   = db.Connect
	connectRedis      = cache.Connect
	initTracerFunc    = tracing.InitTracer
	newSessionFunc    = openSession
	notifyContext     = signal.NotifyContext
)

func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings {
		log.Debug().Msg(w)
	}

	ctx, stop := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(cfg, log, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// globalOptions are flags shared by every subcommand.
type globalOptions struct {
	configPath string
}

func newRootCmd(cfg *config.Config, log zerolog.Logger, out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "trainer",
		Short: "Batch training and signal inspection for quantlab models",
		Long: `trainer drives the quantlab model pipeline from the command line.

It trains one model family across an instrument universe, prints recent
signals from persisted models, lists the metadata index, loads CSV candles
into Postgres and switches the active model version.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML run config (default $QUANTLAB_RUN_CONFIG)")

	root.AddCommand(
		newTrainCmd(cfg, log, opts),
		newPredictCmd(cfg, log, opts),
		newModelsCmd(cfg, log, opts),
		newIngestCmd(cfg, log, opts),
		newActivateCmd(cfg, log, opts),
	)
	return root
}

// loadRunConfig reads the run config named by --config, falling back to
// the environment.
func loadRunConfig(cfg *config.Config, opts *globalOptions) (*config.RunConfig, error) {
	path := opts.configPath
	if path == "" {
		path = cfg.RunConfigPath
	}
	return loadRunConfigFunc(path)
}

// openSession connects the optional infrastructure and wires the app graph.
// Connection failures degrade to the file registry, as the server does.
func openSession(ctx context.Context, cfg *config.Config, rc *config.RunConfig, log zerolog.Logger) (*session, error) {
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	closers := []func(){func() { _ = tp.Shutdown(context.Background()) }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	infra, infraClosers := connectInfra(ctx, cfg, log)
	closers = append(closers, infraClosers...)

	a, err := app.New(cfg, rc, infra, log, tracer, metrics.Nop())
	if err != nil {
		closeAll()
		return nil, err
	}
	return newSessionFromApp(cfg, a, closeAll), nil
}

func connectInfra(ctx context.Context, cfg *config.Config, log zerolog.Logger) (app.Infra, []func()) {
	var (
		infra   app.Infra
		closers []func()
	)
	if cfg.DatabaseURL != "" {
		pool, err := connectPostgres(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, using file registry only")
		} else {
			infra.Pool = pool
			closers = append(closers, closePool(pool))
		}
	}
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, model cache is process-local")
		} else {
			infra.Redis = client
			closers = append(closers, closeRedis(client))
		}
	}
	return infra, closers
}

func newSessionFromApp(cfg *config.Config, a *app.App, closeFn func()) *session {
	s := &session{
		Batch:     a.Batch,
		Predictor: a.Inference,
		Index:     a.Index,
		CSV:       features.NewCSVSource(cfg.DataDir),
		close:     closeFn,
	}
	if a.Versions != nil {
		s.Versions = a.Versions
	}
	if a.Candles != nil {
		s.Candles = a.Candles
	}
	return s
}

func closePool(pool *pgxpool.Pool) func() { return pool.Close }

func closeRedis(client *redis.Client) func() { return func() { _ = client.Close() } }
