package domain

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Candle is one OHLCV bar of an instrument at a given interval.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// DefaultInstruments is the universe trained when no run config lists one.
var DefaultInstruments = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL",
	"META", "TSLA", "SPY", "QQQ", "IWM",
}

// SupportedIntervals are the bar intervals the candles table stores.
var SupportedIntervals = []string{"5m", "15m", "1h", "4h", "1d"}

func IsSupportedInterval(interval string) bool {
	return slices.Contains(SupportedIntervals, interval)
}

// Validate rejects bars that cannot be stored: missing keys, an unknown
// interval, non-finite prices, a high below the low, or negative volume.
// Errors wrap ErrPrecondition.
func (c *Candle) Validate() error {
	if c == nil {
		return fmt.Errorf("nil candle: %w", ErrPrecondition)
	}
	if c.Symbol == "" || c.OpenTime.IsZero() {
		return fmt.Errorf("candle missing symbol or open time: %w", ErrPrecondition)
	}
	if !IsSupportedInterval(c.Interval) {
		return fmt.Errorf("%s %s: unsupported interval %q: %w", c.Symbol, c.OpenTime.Format(time.RFC3339), c.Interval, ErrPrecondition)
	}
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s %s: non-finite value: %w", c.Symbol, c.OpenTime.Format(time.RFC3339), ErrPrecondition)
		}
	}
	if c.High < c.Low || c.Volume < 0 {
		return fmt.Errorf("%s %s: inconsistent bar: %w", c.Symbol, c.OpenTime.Format(time.RFC3339), ErrPrecondition)
	}
	return nil
}
