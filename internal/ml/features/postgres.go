package features

import (
	"context"
	"fmt"

	"quantlab/internal/domain"
)

const defaultCandleLimit = 5000

type candleReader interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
}

// PostgresSource reads bars from the candles table.
type PostgresSource struct {
	repo     candleReader
	interval string
	limit    int
}

func NewPostgresSource(repo candleReader, interval string, limit int) *PostgresSource {
	if interval == "" {
		interval = "1d"
	}
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	return &PostgresSource{repo: repo, interval: interval, limit: limit}
}

func (s *PostgresSource) Load(ctx context.Context, instrument string) (*Table, error) {
	candles, err := s.repo.GetCandles(ctx, instrument, s.interval, s.limit)
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", instrument, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no %s candles for %s: %w", s.interval, instrument, domain.ErrDataUnavailable)
	}
	return FromCandles(instrument, candles), nil
}
