package features

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantlab/internal/domain"
	"quantlab/internal/ml/labels"
	"quantlab/internal/ml/regime"
)

func TestEngineComputeDeterministic(t *testing.T) {
	table := FromCandles("AAPL", makeCandles(80))
	engine := NewEngine()

	rowsA := engine.Compute(table)
	rowsB := engine.Compute(table)
	if len(rowsA) != table.Len() {
		t.Fatalf("expected one row per bar, got %d", len(rowsA))
	}
	if !math.IsNaN(rowsA[0][0]) {
		t.Fatalf("expected warm-up rows to be NaN, got %v", rowsA[0])
	}
	last := rowsA[len(rowsA)-1]
	if anyNaN(last...) {
		t.Fatalf("expected complete features on the last bar, got %v", last)
	}
	for j := range last {
		if last[j] != rowsB[len(rowsB)-1][j] {
			t.Fatalf("expected deterministic feature %s", BaseFeatureNames[j])
		}
	}
	if len(last) != len(BaseFeatureNames) {
		t.Fatalf("expected %d features, got %d", len(BaseFeatureNames), len(last))
	}
}

func TestFromCandlesSortsByTime(t *testing.T) {
	candles := makeCandles(5)
	candles[0], candles[4] = candles[4], candles[0]
	table := FromCandles("AAPL", candles)
	for i := 1; i < table.Len(); i++ {
		if !table.Times[i].After(table.Times[i-1]) {
			t.Fatalf("expected ascending times, got %v", table.Times)
		}
	}
	back := table.Candles("1d")
	if back[0].Symbol != "AAPL" || back[0].Interval != "1d" {
		t.Fatalf("unexpected candle %+v", back[0])
	}
}

func TestBuildDatasetWithRegimeFeatures(t *testing.T) {
	table := FromCandles("AAPL", makeCandles(400))
	cfg := BuildConfig{
		Labels:            labels.DefaultConfig(domain.LabelsMulticlass),
		Regime:            regime.DefaultConfig(),
		UseRegimeFeatures: true,
		MinRows:           50,
	}
	cfg.Labels.Horizon = 5
	ds, err := NewBuilder(nil).Build(table, cfg)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got, want := len(ds.FeatureNames), len(BaseFeatureNames)+len(regime.FeatureNames); got != want {
		t.Fatalf("expected %d features, got %d", want, got)
	}
	n := ds.Len()
	if len(ds.Y) != n || len(ds.ForwardReturns) != n || len(ds.Times) != n || len(ds.Regimes) != n || len(ds.Closes) != n {
		t.Fatal("dataset slices must share one length")
	}
	lastKept := ds.Times[n-1]
	if !lastKept.Before(table.Times[table.Len()-5]) {
		t.Fatalf("rows without a full horizon must be dropped, last kept %s", lastKept)
	}
	for i := range ds.X {
		if anyNaN(ds.X[i]...) {
			t.Fatalf("row %d has non-finite features", i)
		}
	}
}

func TestBuildInsufficientData(t *testing.T) {
	table := FromCandles("AAPL", makeCandles(60))
	cfg := BuildConfig{Labels: labels.DefaultConfig(domain.LabelsMulticlass), Regime: regime.DefaultConfig()}
	if _, err := NewBuilder(nil).Build(table, cfg); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
}

func TestLatestReturnsRecentCompleteRows(t *testing.T) {
	table := FromCandles("AAPL", makeCandles(120))
	m, times, err := NewBuilder(nil).Latest(table, BuildConfig{Regime: regime.DefaultConfig()}, 3)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if len(m.Rows) != 3 || len(times) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(m.Rows))
	}
	if !times[2].Equal(table.Times[table.Len()-1]) || !times[0].Before(times[2]) {
		t.Fatalf("expected time-ordered tail, got %v", times)
	}
}

func TestCSVSourceReadsExtraColumns(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume,momentum_5,sector\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 4; i >= 0; i-- {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		b.WriteString(day + ",100,101,99,100.5,1000,0.5,tech\n")
	}
	if err := os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	table, err := NewCSVSource(dir).Load(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if table.Len() != 5 {
		t.Fatalf("expected 5 rows, got %d", table.Len())
	}
	if !table.Times[0].Equal(start) {
		t.Fatalf("expected rows sorted by time, first=%s", table.Times[0])
	}
	if len(table.ExtraNames) != 1 || table.ExtraNames[0] != "momentum_5" {
		t.Fatalf("expected only numeric extra columns, got %v", table.ExtraNames)
	}
	if table.Extra[0][0] != 0.5 || table.Close[0] != 100.5 {
		t.Fatalf("unexpected values extra=%v close=%v", table.Extra[0], table.Close[0])
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	_, err := NewCSVSource(t.TempDir()).Load(context.Background(), "MSFT")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
}

func TestCSVSourceMissingColumn(t *testing.T) {
	_, err := ReadTable("MSFT", strings.NewReader("timestamp,close\n2024-01-01,1\n"))
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
}

type stubCandleReader struct {
	candles []*domain.Candle
	err     error
}

func (s stubCandleReader) GetCandles(context.Context, string, string, int) ([]*domain.Candle, error) {
	return s.candles, s.err
}

func TestPostgresSource(t *testing.T) {
	src := NewPostgresSource(stubCandleReader{candles: makeCandles(10)}, "", 0)
	table, err := src.Load(context.Background(), "AAPL")
	if err != nil || table.Len() != 10 {
		t.Fatalf("unexpected load result len=%d err=%v", table.Len(), err)
	}
	empty := NewPostgresSource(stubCandleReader{}, "1d", 10)
	if _, err := empty.Load(context.Background(), "AAPL"); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
}

func makeCandles(n int) []*domain.Candle {
	out := make([]*domain.Candle, 0, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= 1 + 0.01*math.Sin(float64(i)/5)
		out = append(out, &domain.Candle{
			Symbol:   "AAPL",
			Interval: "1d",
			OpenTime: start.AddDate(0, 0, i),
			Open:     price * 0.998,
			High:     price * 1.01,
			Low:      price * 0.99,
			Close:    price,
			Volume:   1000 + float64(i%7)*10,
		})
	}
	return out
}
