package training

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"quantlab/internal/domain"
)

const (
	DefaultWorkers  = 4
	MaxReasonLength = 100
)

type instrumentRunner interface {
	TrainInstrument(ctx context.Context, instrument string, cfg Config, runID string) (Outcome, error)
}

type batchRecorder interface {
	RecordInstrument(status string)
}

type BatchConfig struct {
	Workers int
	// InstrumentTimeout bounds each instrument's wall-clock time. Zero means
	// no bound.
	InstrumentTimeout time.Duration
}

// Batch fans instruments out over a bounded worker pool. One instrument's
// failure never stops the others.
type Batch struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	runner   instrumentRunner
	recorder batchRecorder
	cfg      BatchConfig
	newRunID func() string
}

func NewBatch(tracer trace.Tracer, log zerolog.Logger, runner instrumentRunner, recorder batchRecorder, cfg BatchConfig) *Batch {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Batch{
		tracer:   tracer,
		log:      log.With().Str("component", "batch").Logger(),
		runner:   runner,
		recorder: recorder,
		cfg:      cfg,
		newRunID: uuid.NewString,
	}
}

// Run trains every instrument and returns outcomes in input order. The only
// error is cancellation of ctx; instruments not started by then are
// reported as skipped.
func (b *Batch) Run(ctx context.Context, instruments []string, cfg Config) (*Summary, error) {
	ctx, span := b.tracer.Start(ctx, "training.batch")
	defer span.End()

	runID := b.newRunID()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("family", cfg.Family),
		attribute.Int("instruments", len(instruments)),
	)
	b.log.Info().
		Str("run_id", runID).
		Str("family", cfg.Family).
		Int("instruments", len(instruments)).
		Int("workers", b.cfg.Workers).
		Msg("batch started")

	outcomes := make([]Outcome, len(instruments))
	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	for i, inst := range instruments {
		g.Go(func() error {
			outcomes[i] = b.runOne(ctx, inst, cfg, runID)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(runID, cfg.Family, outcomes)
	b.log.Info().
		Str("run_id", runID).
		Int("success", summary.Success).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Msg("batch finished")
	return summary, ctx.Err()
}

func (b *Batch) runOne(ctx context.Context, instrument string, cfg Config, runID string) (out Outcome) {
	log := b.log.With().Str("instrument", instrument).Str("family", cfg.Family).Str("run_id", runID).Logger()
	out = Outcome{Instrument: instrument, Family: cfg.Family}

	defer func() {
		if b.recorder != nil {
			b.recorder.RecordInstrument(string(out.Status))
		}
	}()
	if err := ctx.Err(); err != nil {
		out.Status = StatusSkipped
		out.Reason = truncate(err.Error())
		return out
	}
	if b.cfg.InstrumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.InstrumentTimeout)
		defer cancel()
	}

	res, err := b.safeTrain(ctx, instrument, cfg, runID)
	switch {
	case err == nil:
		return res
	case skippable(err):
		out.Status = StatusSkipped
		out.Reason = truncate(err.Error())
		log.Warn().Err(err).Msg("instrument skipped")
	default:
		err = fmt.Errorf("%s: %w: %w", instrument, domain.ErrTrainingFailure, err)
		out.Status = StatusError
		out.Reason = truncate(err.Error())
		log.Error().Err(err).Msg("instrument failed")
	}
	return out
}

// safeTrain converts a panic in the instrument chain into an error.
func (b *Batch) safeTrain(ctx context.Context, instrument string, cfg Config, runID string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("instrument", instrument).Bytes("stack", debug.Stack()).Msg("panic in training")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.runner.TrainInstrument(ctx, instrument, cfg, runID)
}

func truncate(reason string) string {
	r := []rune(reason)
	if len(r) <= MaxReasonLength {
		return reason
	}
	return string(r[:MaxReasonLength])
}
