package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultAddr = "localhost:6379"
	ClientName  = "quantlab"

	dialTimeout = 5 * time.Second
	pingTimeout = 3 * time.Second
)

var (
	newRedisClient = redis.NewClient
	pingRedis      = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
)

// Options resolves REDIS_URL into client options. Plain host:port strings
// select DB 0; redis:// and rediss:// URLs carry their own DB, credentials
// and TLS setting.
func Options(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = DefaultAddr
	}
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = dialTimeout
	}
	if opts.ClientName == "" {
		opts.ClientName = ClientName
	}
	return opts, nil
}

// Connect opens the shared model-cache client and checks it answers PING
// within pingTimeout. The caller owns the returned client.
func Connect(ctx context.Context, addr string, log zerolog.Logger) (*redis.Client, error) {
	opts, err := Options(addr)
	if err != nil {
		return nil, err
	}
	client := newRedisClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pingRedis(pingCtx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Bool("tls", opts.TLSConfig != nil).
		Msg("connected to redis")
	return client, nil
}
