package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"quantlab/internal/domain"
	"quantlab/internal/ml/training"
)

type batchStub struct {
	started chan struct{}
	release chan struct{}
	got     []string
	err     error
}

func (b *batchStub) Run(_ context.Context, instruments []string, cfg training.Config) (*training.Summary, error) {
	b.got = instruments
	if b.started != nil {
		close(b.started)
		<-b.release
	}
	if b.err != nil {
		return nil, b.err
	}
	return training.Summarize("run-1", cfg.Family, []training.Outcome{
		{Instrument: instruments[0], Family: cfg.Family, Status: training.StatusSuccess,
			Metadata: &domain.ModelMetadata{Instrument: instruments[0], ModelFamily: cfg.Family, SharpeRatio: 1.1}},
	}), nil
}

type cacheStub struct{ cleared int }

func (c *cacheStub) Clear(context.Context) error {
	c.cleared++
	return nil
}

func newJob(batch BatchRunner, plan TrainingPlan, cache CacheInvalidator) *MLTrainingJob {
	return NewMLTrainingJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), batch, plan, cache, 3)
}

func TestNextRunUTC(t *testing.T) {
	now := time.Date(2024, 6, 1, 5, 30, 0, 0, time.UTC)
	if got := nextRunUTC(now, 6); !got.Equal(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected same-day run, got %s", got)
	}
	if got := nextRunUTC(now, 5); !got.Equal(time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected next-day run, got %s", got)
	}
}

func TestNewMLTrainingJobClampsHour(t *testing.T) {
	j := NewMLTrainingJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), nil, TrainingPlan{}, nil, 42)
	if j.trainHour != 0 {
		t.Fatalf("expected hour clamped to 0, got %d", j.trainHour)
	}
}

func TestRunTrainingWritesSummaryAndClearsCache(t *testing.T) {
	dir := t.TempDir()
	cache := &cacheStub{}
	batch := &batchStub{}
	j := newJob(batch, TrainingPlan{
		Instruments: []string{"AAPL"},
		Config:      training.Config{Family: "lgbm"},
		SummaryDir:  dir,
	}, cache)

	summary, err := j.RunTraining(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Success != 1 || len(batch.got) != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if cache.cleared != 1 {
		t.Fatalf("expected cache cleared once, got %d", cache.cleared)
	}
	if _, err := os.Stat(filepath.Join(dir, training.SummaryFileName)); err != nil {
		t.Fatalf("expected summary csv: %v", err)
	}
}

func TestRunTrainingRejectsConcurrentRun(t *testing.T) {
	batch := &batchStub{started: make(chan struct{}), release: make(chan struct{})}
	j := newJob(batch, TrainingPlan{Instruments: []string{"AAPL"}, Config: training.Config{Family: "lgbm"}}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := j.RunTraining(context.Background())
		done <- err
	}()
	<-batch.started

	if _, err := j.RunTraining(context.Background()); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("expected ErrTrainingInProgress, got %v", err)
	}
	close(batch.release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestRunTrainingPropagatesBatchError(t *testing.T) {
	cache := &cacheStub{}
	j := newJob(&batchStub{err: errors.New("no workers")}, TrainingPlan{Instruments: []string{"AAPL"}}, cache)
	if _, err := j.RunTraining(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if cache.cleared != 0 {
		t.Fatal("cache must not be cleared after a failed run")
	}
}

func TestStartReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := newJob(&batchStub{}, TrainingPlan{}, nil)
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
