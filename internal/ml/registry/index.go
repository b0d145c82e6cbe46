package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
)

const IndexFileName = "metadata_index.json"

var ErrModelNotFound = errors.New("model not found")

type indexFile struct {
	Models      map[string]domain.ModelMetadata `json:"models"`
	LastUpdated time.Time                       `json:"last_updated"`
}

// Index is the metadata index shared by every instrument of a batch. All
// writes go through Upsert, which holds the lock across read-modify-write
// and replaces the file with a rename.
type Index struct {
	path   string
	tracer trace.Tracer
	now    func() time.Time
	mu     sync.Mutex
}

func NewIndex(dir string, tracer trace.Tracer) *Index {
	return &Index{path: filepath.Join(dir, IndexFileName), tracer: tracer, now: time.Now}
}

func (x *Index) Path() string { return x.path }

func (x *Index) Upsert(ctx context.Context, meta domain.ModelMetadata) error {
	_, span := x.tracer.Start(ctx, "model-index.upsert")
	defer span.End()

	if meta.Instrument == "" || meta.ModelFamily == "" {
		return errors.New("metadata needs instrument and model family")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	idx, err := x.read()
	if err != nil {
		return err
	}
	idx.Models[meta.Key()] = meta
	idx.LastUpdated = x.now().UTC()
	return x.write(idx)
}

func (x *Index) Get(ctx context.Context, key string) (domain.ModelMetadata, error) {
	_, span := x.tracer.Start(ctx, "model-index.get")
	defer span.End()

	x.mu.Lock()
	idx, err := x.read()
	x.mu.Unlock()
	if err != nil {
		return domain.ModelMetadata{}, err
	}
	meta, ok := idx.Models[key]
	if !ok {
		return domain.ModelMetadata{}, fmt.Errorf("%s: %w", key, ErrModelNotFound)
	}
	return meta, nil
}

// List returns every record ordered by key.
func (x *Index) List(ctx context.Context) ([]domain.ModelMetadata, time.Time, error) {
	_, span := x.tracer.Start(ctx, "model-index.list")
	defer span.End()

	x.mu.Lock()
	idx, err := x.read()
	x.mu.Unlock()
	if err != nil {
		return nil, time.Time{}, err
	}
	keys := make([]string, 0, len(idx.Models))
	for k := range idx.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.ModelMetadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, idx.Models[k])
	}
	return out, idx.LastUpdated, nil
}

func (x *Index) read() (indexFile, error) {
	idx := indexFile{Models: map[string]domain.ModelMetadata{}}
	raw, err := os.ReadFile(x.path)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return idx, fmt.Errorf("read model index: %w", err)
	}
	if err := json.Unmarshal(raw, &idx); err != nil {
		return idx, fmt.Errorf("decode model index %s: %w", x.path, err)
	}
	if idx.Models == nil {
		idx.Models = map[string]domain.ModelMetadata{}
	}
	return idx, nil
}

func (x *Index) write(idx indexFile) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model index: %w", err)
	}
	return writeAtomic(x.path, raw)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
