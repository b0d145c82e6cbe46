package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
)

const ArtifactFormat = "json/envelope-v1"

// ErrVersionNotFound is returned when activating a version that was never
// published.
var ErrVersionNotFound = errors.New("model version not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Promotion decides whether a just-published version replaces the active
// one. active is nil when the model key has none.
type Promotion func(active *domain.MLModelVersion) bool

const (
	versionColumns = `id, model_key, version, feature_spec_version,
       trained_from, trained_to, trained_at,
       hyperparams_json, metrics_json,
       artifact_format, artifact_blob,
       is_active, activated_at, created_at`

	// Metadata only; listing never needs the artifacts.
	versionSummaryColumns = `id, model_key, version, feature_spec_version,
       trained_from, trained_to, trained_at,
       hyperparams_json, metrics_json,
       artifact_format, ''::bytea,
       is_active, activated_at, created_at`

	lockKeySQL     = `SELECT pg_advisory_xact_lock(hashtext($1))`
	nextVersionSQL = `SELECT COALESCE(MAX(version), 0) + 1 FROM ml_model_versions WHERE model_key = $1`
	activeSQL      = `SELECT ` + versionColumns + `
FROM ml_model_versions
WHERE model_key = $1 AND is_active = TRUE
ORDER BY version DESC
LIMIT 1`
	insertVersionSQL = `
INSERT INTO ml_model_versions (
    model_key, version, feature_spec_version,
    trained_from, trained_to, trained_at,
    hyperparams_json, metrics_json,
    artifact_format, artifact_blob
) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7, $8, $9, $10)
RETURNING ` + versionColumns
	deactivateSQL = `UPDATE ml_model_versions SET is_active = FALSE, activated_at = NULL WHERE model_key = $1 AND is_active = TRUE`
	activateSQL   = `UPDATE ml_model_versions SET is_active = TRUE, activated_at = NOW() WHERE model_key = $1 AND version = $2 RETURNING activated_at`
)

// VersionRepository keeps every trained artifact as a numbered version in
// ml_model_versions. Versions of one model key are numbered 1, 2, ... and
// at most one of them is active.
type VersionRepository struct {
	pool   pool
	tracer trace.Tracer
}

func NewVersionRepository(pool pool, tracer trace.Tracer) *VersionRepository {
	return &VersionRepository{pool: pool, tracer: tracer}
}

// Publish numbers and stores a new version of model.ModelKey, then activates
// it when promote approves. Numbering, insert and activation share one
// transaction holding an advisory lock on the key, so concurrent trainers of
// the same model never collide on a version number. The Version, IsActive
// and ActivatedAt fields of model are ignored.
func (r *VersionRepository) Publish(ctx context.Context, model domain.MLModelVersion, promote Promotion) (*domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "model-versions.publish")
	defer span.End()

	if model.ModelKey == "" {
		return nil, fmt.Errorf("publish: empty model key: %w", domain.ErrPrecondition)
	}
	if len(model.ArtifactBlob) == 0 {
		return nil, fmt.Errorf("publish %s: no artifact: %w", model.ModelKey, domain.ErrPrecondition)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish %s: begin: %w", model.ModelKey, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockKeySQL, model.ModelKey); err != nil {
		return nil, fmt.Errorf("publish %s: lock: %w", model.ModelKey, err)
	}
	var version int
	if err := tx.QueryRow(ctx, nextVersionSQL, model.ModelKey).Scan(&version); err != nil {
		return nil, fmt.Errorf("publish %s: next version: %w", model.ModelKey, err)
	}
	active, err := queryOne(ctx, tx, activeSQL, model.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("publish %s: active version: %w", model.ModelKey, err)
	}

	inserted, err := scanVersion(tx.QueryRow(ctx, insertVersionSQL,
		model.ModelKey,
		version,
		model.FeatureSpecVersion,
		model.TrainedFrom.UTC(),
		model.TrainedTo.UTC(),
		nullIfZeroTime(model.TrainedAt),
		jsonOrEmpty(model.HyperparamsJSON),
		jsonOrEmpty(model.MetricsJSON),
		model.ArtifactFormat,
		model.ArtifactBlob,
	))
	if err != nil {
		return nil, fmt.Errorf("publish %s: insert v%d: %w", model.ModelKey, version, err)
	}

	if promote != nil && promote(active) {
		at, err := activate(ctx, tx, model.ModelKey, inserted.Version)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", model.ModelKey, err)
		}
		inserted.IsActive = true
		inserted.ActivatedAt = &at
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("publish %s: commit: %w", model.ModelKey, err)
	}
	return &inserted, nil
}

// GetActiveModel returns the active version of modelKey, or nil when none is
// active.
func (r *VersionRepository) GetActiveModel(ctx context.Context, modelKey string) (*domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "model-versions.get-active")
	defer span.End()
	return queryOne(ctx, r.pool, activeSQL, modelKey)
}

// ListActive returns the active version of every model key, without blobs.
func (r *VersionRepository) ListActive(ctx context.Context) ([]domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "model-versions.list-active")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT `+versionSummaryColumns+`
FROM ml_model_versions
WHERE is_active = TRUE
ORDER BY model_key`)
	if err != nil {
		return nil, fmt.Errorf("list active versions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MLModelVersion, error) {
		return scanVersion(row)
	})
}

// ActivateModel makes an already published version the active one, e.g. to
// roll back a promotion.
func (r *VersionRepository) ActivateModel(ctx context.Context, modelKey string, version int) error {
	ctx, span := r.tracer.Start(ctx, "model-versions.activate")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("activate %s v%d: begin: %w", modelKey, version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockKeySQL, modelKey); err != nil {
		return fmt.Errorf("activate %s v%d: lock: %w", modelKey, version, err)
	}
	if _, err := activate(ctx, tx, modelKey, version); err != nil {
		return fmt.Errorf("activate %s: %w", modelKey, err)
	}
	return tx.Commit(ctx)
}

func activate(ctx context.Context, q querier, modelKey string, version int) (time.Time, error) {
	if _, err := q.Exec(ctx, deactivateSQL, modelKey); err != nil {
		return time.Time{}, fmt.Errorf("deactivate: %w", err)
	}
	var at time.Time
	if err := q.QueryRow(ctx, activateSQL, modelKey, version).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, fmt.Errorf("v%d: %w", version, ErrVersionNotFound)
		}
		return time.Time{}, fmt.Errorf("activate v%d: %w", version, err)
	}
	return at.UTC(), nil
}

func queryOne(ctx context.Context, q querier, sql string, arg any) (*domain.MLModelVersion, error) {
	out, err := scanVersion(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func scanVersion(row pgx.Row) (domain.MLModelVersion, error) {
	var v domain.MLModelVersion
	if err := row.Scan(
		&v.ID, &v.ModelKey, &v.Version, &v.FeatureSpecVersion,
		&v.TrainedFrom, &v.TrainedTo, &v.TrainedAt,
		&v.HyperparamsJSON, &v.MetricsJSON,
		&v.ArtifactFormat, &v.ArtifactBlob,
		&v.IsActive, &v.ActivatedAt, &v.CreatedAt,
	); err != nil {
		return v, err
	}
	for _, t := range []*time.Time{&v.TrainedFrom, &v.TrainedTo, &v.TrainedAt, &v.CreatedAt, v.ActivatedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
	return v, nil
}

func jsonOrEmpty(v string) string {
	if v == "" {
		return "{}"
	}
	return v
}

func nullIfZeroTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}
