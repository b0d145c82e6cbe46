package predictions

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
)

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists scored bars in ml_predictions, one row per model key
// and bar time.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

const upsertPrediction = `
INSERT INTO ml_predictions (
    instrument, model_key, bar_time,
    label, direction,
    prob_short, prob_neutral, prob_long,
    confidence, regime
) VALUES (
    $1, $2, $3,
    $4, $5,
    $6, $7, $8,
    $9, $10
)
ON CONFLICT (model_key, bar_time) DO UPDATE SET
    label = EXCLUDED.label,
    direction = EXCLUDED.direction,
    prob_short = EXCLUDED.prob_short,
    prob_neutral = EXCLUDED.prob_neutral,
    prob_long = EXCLUDED.prob_long,
    confidence = EXCLUDED.confidence,
    regime = EXCLUDED.regime`

// UpsertPredictions writes every prediction in one transaction.
func (r *Repository) UpsertPredictions(ctx context.Context, predictions []domain.Prediction) (int, error) {
	_, span := r.tracer.Start(ctx, "ml-predictions.upsert")
	defer span.End()

	if len(predictions) == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n, err := upsertAll(ctx, tx, predictions)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func upsertAll(ctx context.Context, db execer, predictions []domain.Prediction) (int, error) {
	n := 0
	for _, p := range predictions {
		if p.ModelKey == "" || p.Time.IsZero() {
			return n, errors.New("prediction needs a model key and bar time")
		}
		tag, err := db.Exec(ctx, upsertPrediction,
			p.Instrument,
			p.ModelKey,
			p.Time.UTC(),
			int16(p.Label),
			string(p.Direction),
			p.ProbShort,
			p.ProbNeutral,
			p.ProbLong,
			p.Confidence,
			nullString(p.Regime),
		)
		if err != nil {
			return n, err
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

func (r *Repository) ListRecent(ctx context.Context, instrument string, limit int) ([]domain.Prediction, error) {
	_, span := r.tracer.Start(ctx, "ml-predictions.list-recent")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT instrument, model_key, bar_time,
       label, direction,
       prob_short, prob_neutral, prob_long,
       confidence, regime
FROM ml_predictions
WHERE instrument = $1
ORDER BY bar_time DESC, model_key
LIMIT $2`, instrument, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Prediction, 0, limit)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(s scanner) (domain.Prediction, error) {
	var out domain.Prediction
	var label int16
	var direction string
	var regime pgtype.Text
	if err := s.Scan(
		&out.Instrument,
		&out.ModelKey,
		&out.Time,
		&label,
		&direction,
		&out.ProbShort,
		&out.ProbNeutral,
		&out.ProbLong,
		&out.Confidence,
		&regime,
	); err != nil {
		return out, err
	}
	out.Label = int(label)
	out.Direction = domain.SignalDirection(direction)
	out.Time = out.Time.UTC()
	if regime.Valid {
		out.Regime = regime.String
	}
	return out, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
