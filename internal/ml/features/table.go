package features

import (
	"context"
	"time"

	"quantlab/internal/domain"
)

// Table is the raw time-ordered bar history of one instrument plus any
// precomputed numeric feature columns the source provided.
type Table struct {
	Instrument string
	Times      []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
	ExtraNames []string
	// Extra is row-major: Extra[i] holds the ExtraNames values of bar i.
	Extra [][]float64
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Close)
}

// Source loads the bar history of one instrument. A missing or empty
// history is reported as domain.ErrDataUnavailable.
type Source interface {
	Load(ctx context.Context, instrument string) (*Table, error)
}

// FromCandles builds a table from candles in any order.
func FromCandles(instrument string, candles []*domain.Candle) *Table {
	normalized := normalizeCandles(candles)
	t := &Table{
		Instrument: instrument,
		Times:      make([]time.Time, len(normalized)),
		Open:       make([]float64, len(normalized)),
		High:       make([]float64, len(normalized)),
		Low:        make([]float64, len(normalized)),
		Close:      make([]float64, len(normalized)),
		Volume:     make([]float64, len(normalized)),
	}
	for i, c := range normalized {
		t.Times[i] = c.OpenTime.UTC()
		t.Open[i] = c.Open
		t.High[i] = c.High
		t.Low[i] = c.Low
		t.Close[i] = c.Close
		t.Volume[i] = c.Volume
	}
	return t
}

// Candles converts the table back into candles for the given interval.
func (t *Table) Candles(interval string) []*domain.Candle {
	out := make([]*domain.Candle, t.Len())
	for i := range out {
		out[i] = &domain.Candle{
			Symbol:   t.Instrument,
			Interval: interval,
			OpenTime: t.Times[i],
			Open:     t.Open[i],
			High:     t.High[i],
			Low:      t.Low[i],
			Close:    t.Close[i],
			Volume:   t.Volume[i],
		}
	}
	return out
}
