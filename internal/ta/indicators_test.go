package ta

import (
	"math"
	"testing"
)

func TestSMASeries(t *testing.T) {
	got := SMASeries([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Fatalf("expected warm-up NaN, got %v", got[:2])
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if math.Abs(got[i+2]-w) > 1e-12 {
			t.Fatalf("sma[%d]: expected %.2f, got %.4f", i+2, w, got[i+2])
		}
	}
}

func TestPctChangeAndDiff(t *testing.T) {
	pct := PctChangeSeries([]float64{100, 110, 121}, 1)
	if math.Abs(pct[1]-0.1) > 1e-12 || math.Abs(pct[2]-0.1) > 1e-12 {
		t.Fatalf("unexpected pct change %v", pct)
	}
	diff := DiffSeries([]float64{1, 4, 9}, 2)
	if diff[2] != 8 {
		t.Fatalf("expected diff 8, got %v", diff[2])
	}
}

func TestRollingStdUsesSampleDenominator(t *testing.T) {
	got := RollingStdSeries([]float64{1, 2, 3, 4}, 4)
	want := math.Sqrt(5.0 / 3.0)
	if math.Abs(got[3]-want) > 1e-12 {
		t.Fatalf("expected %.6f, got %.6f", want, got[3])
	}
}

func TestRSISimpleBounds(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(i + 1)
	}
	rsi := RSISimpleSeries(up, 14)
	if !math.IsNaN(rsi[20]) {
		t.Fatalf("a window without losses should give undefined RSI, got %.2f", rsi[20])
	}
	flat := make([]float64, 30)
	if !math.IsNaN(RSISimpleSeries(flat, 14)[20]) {
		t.Fatal("flat series should give undefined RSI")
	}
	down := make([]float64, 30)
	for i := range down {
		down[i] = float64(30 - i)
	}
	if got := RSISimpleSeries(down, 14)[20]; got != 0 {
		t.Fatalf("monotonic fall should give RSI 0, got %.2f", got)
	}
}

func TestRSISimpleRecoversAfterLossLeavesWindow(t *testing.T) {
	// One losing bar at index 5, gains of 1 elsewhere.
	closes := make([]float64, 30)
	for i := 1; i < len(closes); i++ {
		closes[i] = closes[i-1] + 1
		if i == 5 {
			closes[i] = closes[i-1] - 2
		}
	}
	rsi := RSISimpleSeries(closes, 4)
	if math.IsNaN(rsi[8]) {
		t.Fatal("window holding the loss should have a defined RSI")
	}
	if want := 100 - 100/(1+3.0/2); math.Abs(rsi[8]-want) > 1e-9 {
		t.Fatalf("expected %.6f at 8, got %.6f", want, rsi[8])
	}
	if !math.IsNaN(rsi[9]) {
		t.Fatalf("loss has left the window at 9, expected NaN, got %.6f", rsi[9])
	}
}

func TestPercentileRankSeries(t *testing.T) {
	got := PercentileRankSeries([]float64{1, 2, 3, 4}, 4)
	if got[3] != 75 {
		t.Fatalf("expected 75, got %.2f", got[3])
	}
	if !math.IsNaN(got[2]) {
		t.Fatalf("partial window should be NaN, got %.2f", got[2])
	}
}

func TestMACDSeriesHistogram(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = math.Sin(float64(i) / 5)
	}
	m := MACDSeries(values, 12, 26, 9)
	if len(m.Line) != 50 || len(m.Signal) != 50 || len(m.Hist) != 50 {
		t.Fatalf("unexpected lengths %d/%d/%d", len(m.Line), len(m.Signal), len(m.Hist))
	}
	for i := range values {
		if math.Abs(m.Hist[i]-(m.Line[i]-m.Signal[i])) > 1e-12 {
			t.Fatalf("hist[%d] is not line minus signal", i)
		}
	}
}

func TestEMASeriesSeedsWithFirstValue(t *testing.T) {
	got := EMASeries([]float64{10, 20, 20}, 3)
	if got[0] != 10 || got[1] != 15 || got[2] != 17.5 {
		t.Fatalf("unexpected ema %v", got)
	}
	if len(EMASeries(nil, 3)) != 0 {
		t.Fatal("empty input should give empty output")
	}
}

func TestRSIWilderSeries(t *testing.T) {
	closes := []float64{1, 2, 1, 2, 1, 2}
	got := RSIWilderSeries(closes, 2)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Fatalf("expected warm-up NaN, got %v", got[:2])
	}
	if math.Abs(got[2]-50) > 1e-12 {
		t.Fatalf("seed rsi: expected 50, got %.4f", got[2])
	}
	short := RSIWilderSeries([]float64{1, 2}, 5)
	if len(short) != 2 || !math.IsNaN(short[1]) {
		t.Fatalf("short input should be all NaN, got %v", short)
	}
}

func TestBollingerBands(t *testing.T) {
	b := BollingerSeries([]float64{1, 2, 3, 4}, 4, 2)
	if !math.IsNaN(b.Middle[2]) {
		t.Fatalf("partial window should be NaN, got %.2f", b.Middle[2])
	}
	std := math.Sqrt(1.25)
	if math.Abs(b.Middle[3]-2.5) > 1e-12 || math.Abs(b.Upper[3]-(2.5+2*std)) > 1e-12 {
		t.Fatalf("unexpected bands %.4f/%.4f", b.Middle[3], b.Upper[3])
	}
	if math.Abs(b.Position(3, 2.5)-0.5) > 1e-12 {
		t.Fatalf("mid price should sit at 0.5, got %.4f", b.Position(3, 2.5))
	}
	if math.Abs(b.Width(3)-4*std/2.5) > 1e-12 {
		t.Fatalf("unexpected width %.4f", b.Width(3))
	}
	flat := BollingerSeries([]float64{3, 3, 3}, 3, 2)
	if flat.Position(2, 3) != 0.5 {
		t.Fatalf("collapsed band should give 0.5, got %.4f", flat.Position(2, 3))
	}
}

func TestClip(t *testing.T) {
	if Clip(5, -1, 1) != 1 || Clip(-5, -1, 1) != -1 || Clip(0.3, -1, 1) != 0.3 {
		t.Fatal("clip out of range")
	}
}
