package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func stubPostgres(t *testing.T, pingErr error) **pgxpool.Config {
	t.Helper()
	origNew := newPool
	origPing := pingPool
	t.Cleanup(func() {
		newPool = origNew
		pingPool = origPing
	})

	var captured *pgxpool.Config
	newPool = func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
		captured = cfg
		return pgxpool.NewWithConfig(ctx, cfg)
	}
	pingPool = func(context.Context, *pgxpool.Pool) error { return pingErr }
	return &captured
}

func TestConnectParsesDSN(t *testing.T) {
	cfg := stubPostgres(t, nil)
	pool, err := Connect(context.Background(), "postgres://quant:pw@db.internal:5432/quantlab?pool_max_conns=4", zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if (*cfg).ConnConfig.Host != "db.internal" || (*cfg).ConnConfig.Database != "quantlab" {
		t.Fatalf("unexpected config: %+v", (*cfg).ConnConfig)
	}
	if (*cfg).MaxConns != 4 {
		t.Fatalf("expected dsn max conns to be kept, got %d", (*cfg).MaxConns)
	}
}

func TestConnectPingFailure(t *testing.T) {
	stubPostgres(t, errors.New("refused"))
	if _, err := Connect(context.Background(), "postgres://localhost:5432/quantlab", zerolog.Nop()); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestConnectRejectsEmptyAndInvalid(t *testing.T) {
	if _, err := Connect(context.Background(), " ", zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := Connect(context.Background(), "postgres://%zz", zerolog.Nop()); err == nil {
		t.Fatal("expected parse error")
	}
}
