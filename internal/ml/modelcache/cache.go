package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quantlab/internal/ml/learner"
)

const (
	DefaultTTL = 30 * time.Minute
	keyPrefix  = "quantlab:model:"
)

// Remote is the slice of the redis client used as the shared artifact tier.
type Remote interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Fetch returns the raw artifact for a model key from durable storage.
type Fetch func(ctx context.Context, key string) ([]byte, error)

// Decode turns an artifact into a ready learner.
type Decode func(blob []byte) (learner.Learner, error)

type entry struct {
	model    learner.Learner
	loadedAt time.Time
}

// Cache holds decoded models in memory, backed by an optional redis tier
// that stores artifact bytes with a TTL. A zero TTL keeps entries until they
// are evicted.
type Cache struct {
	fetch  Fetch
	decode Decode
	remote Remote
	ttl    time.Duration
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type Options struct {
	Remote Remote
	TTL    time.Duration
}

func New(fetch Fetch, decode Decode, log zerolog.Logger, opts Options) *Cache {
	return &Cache{
		fetch:   fetch,
		decode:  decode,
		remote:  opts.Remote,
		ttl:     opts.TTL,
		log:     log.With().Str("component", "model-cache").Logger(),
		now:     time.Now,
		entries: map[string]entry{},
	}
}

func (c *Cache) Get(ctx context.Context, key string) (learner.Learner, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && !c.expired(e) {
		return e.model, nil
	}

	blob, err := c.artifact(ctx, key)
	if err != nil {
		return nil, err
	}
	model, err := c.decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = entry{model: model, loadedAt: c.now()}
	c.mu.Unlock()
	return model, nil
}

func (c *Cache) artifact(ctx context.Context, key string) ([]byte, error) {
	if c.remote != nil {
		blob, err := c.remote.Get(ctx, keyPrefix+key).Bytes()
		switch {
		case err == nil:
			return blob, nil
		case !errors.Is(err, redis.Nil):
			c.log.Warn().Err(err).Str("model_key", key).Msg("redis tier read failed, falling back to store")
		}
	}

	blob, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.remote != nil {
		if err := c.remote.Set(ctx, keyPrefix+key, blob, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("model_key", key).Msg("redis tier write failed")
		}
	}
	return blob, nil
}

func (c *Cache) expired(e entry) bool {
	return c.ttl > 0 && c.now().Sub(e.loadedAt) > c.ttl
}

// Evict drops key from both tiers so the next Get reloads the artifact.
func (c *Cache) Evict(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.remote == nil {
		return nil
	}
	return c.remote.Del(ctx, keyPrefix+key).Err()
}

// Clear empties the cache. Remote entries loaded by this process are
// removed too.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, keyPrefix+k)
	}
	c.entries = map[string]entry{}
	c.mu.Unlock()
	if c.remote == nil || len(keys) == 0 {
		return nil
	}
	return c.remote.Del(ctx, keys...).Err()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
