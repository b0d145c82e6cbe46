package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
)

// FileStore keeps one artifact per model key under dir.
type FileStore struct {
	dir    string
	tracer trace.Tracer
}

func NewFileStore(dir string, tracer trace.Tracer) *FileStore {
	return &FileStore{dir: dir, tracer: tracer}
}

func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStore) Save(ctx context.Context, instrument, family string, blob []byte) (string, error) {
	_, span := s.tracer.Start(ctx, "model-store.save")
	defer span.End()

	path := s.Path(domain.ModelKey(instrument, family))
	if err := writeAtomic(path, blob); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "model-store.load")
	defer span.End()

	raw, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrModelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return raw, nil
}
