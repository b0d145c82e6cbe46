package registry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
)

type ActiveVersions interface {
	GetActiveModel(ctx context.Context, modelKey string) (*domain.MLModelVersion, error)
}

// Resolver picks the artifact to serve for a model key: the promoted
// version when a version registry is configured, else the latest file.
type Resolver struct {
	files    *FileStore
	versions ActiveVersions
	tracer   trace.Tracer
}

func NewResolver(files *FileStore, versions ActiveVersions, tracer trace.Tracer) *Resolver {
	return &Resolver{files: files, versions: versions, tracer: tracer}
}

func (r *Resolver) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, span := r.tracer.Start(ctx, "model-resolver.load")
	defer span.End()

	if r.versions != nil {
		v, err := r.versions.GetActiveModel(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("active version of %s: %w", key, err)
		}
		if v != nil && len(v.ArtifactBlob) > 0 {
			span.SetAttributes(attribute.String("source", "postgres"), attribute.Int("version", v.Version))
			return v.ArtifactBlob, nil
		}
	}
	if r.files == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrModelNotFound)
	}
	span.SetAttributes(attribute.String("source", "file"))
	return r.files.Load(ctx, key)
}
