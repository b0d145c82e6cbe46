package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantlab/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// upsertChunk bounds the number of statements queued in one pgx batch.
const upsertChunk = 1000

const upsertCandleSQL = `INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	 ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
	     open = EXCLUDED.open,
	     high = EXCLUDED.high,
	     low = EXCLUDED.low,
	     close = EXCLUDED.close,
	     volume = EXCLUDED.volume`

type PgxPool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type CandleRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewCandleRepository(pool PgxPool, tracer trace.Tracer) *CandleRepository {
	return &CandleRepository{pool: pool, tracer: tracer}
}

// UpsertCandles writes candles in chunks, replacing existing bars with the
// same (symbol, interval, open_time).
func (r *CandleRepository) UpsertCandles(ctx context.Context, candles []*domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	ctx, span := r.tracer.Start(ctx, "candle-repo.upsert-candles")
	defer span.End()
	span.SetAttributes(attribute.Int("candles", len(candles)))

	written := 0
	for start := 0; start < len(candles); start += upsertChunk {
		end := min(start+upsertChunk, len(candles))
		if err := r.sendChunk(ctx, candles[start:end]); err != nil {
			return written, fmt.Errorf("upsert candles %d-%d: %w", start, end, err)
		}
		written += end - start
	}
	return written, nil
}

func (r *CandleRepository) sendChunk(ctx context.Context, candles []*domain.Candle) error {
	batch := &pgx.Batch{}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
		batch.Queue(upsertCandleSQL,
			strings.ToUpper(c.Symbol), c.Interval, c.OpenTime.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetCandles returns the latest limit candles, newest first.
func (r *CandleRepository) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.get-candles")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol), attribute.String("interval", interval))

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, interval, open_time, open, high, low, close, volume
		 FROM candles
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY open_time DESC
		 LIMIT $3`,
		strings.ToUpper(symbol), interval, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectCandles(rows)
}

// GetCandlesInRange returns candles with open_time in [from, to], newest first.
func (r *CandleRepository) GetCandlesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.get-candles-in-range")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, interval, open_time, open, high, low, close, volume
		 FROM candles
		 WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time <= $4
		 ORDER BY open_time DESC`,
		strings.ToUpper(symbol), interval, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return collectCandles(rows)
}

// ListSymbols returns every symbol with at least one candle at interval.
func (r *CandleRepository) ListSymbols(ctx context.Context, interval string) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.list-symbols")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT symbol FROM candles WHERE interval = $1 ORDER BY symbol`,
		interval,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func collectCandles(rows pgx.Rows) ([]*domain.Candle, error) {
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		c := &domain.Candle{}
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
