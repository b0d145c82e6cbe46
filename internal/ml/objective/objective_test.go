package objective

import (
	"math"
	"testing"

	"quantlab/internal/ml/regime"
)

func labels(n int, fn func(i int) int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = fn(i)
	}
	return out
}

func TestScoreWithoutQualifyingRegimes(t *testing.T) {
	yTrue := []int{1, 0, -1, 1}
	yPred := []int{1, 0, -1, 0}
	regimes := []string{"bull", "bull", "bear", "bear"}
	res := Score(yTrue, yPred, regimes, DefaultConfig())
	if res.Composite != res.Overall {
		t.Fatalf("expected composite == overall when no regime qualifies, got %.4f vs %.4f", res.Composite, res.Overall)
	}
	if len(res.RegimeAccuracy) != 0 {
		t.Fatalf("expected no regime accuracies, got %v", res.RegimeAccuracy)
	}
}

func TestScorePenalizesRegimeCollapse(t *testing.T) {
	n := 200
	yTrue := labels(n, func(i int) int { return i%3 - 1 })
	yPred := append([]int(nil), yTrue...)
	regimes := make([]string, n)
	for i := range regimes {
		regimes[i] = "bull"
		if i >= 140 {
			regimes[i] = "bear"
		}
	}
	// Break most bear predictions.
	for i := 140; i < 190; i++ {
		yPred[i] = (yTrue[i]+2)%3 - 1
	}
	res := Score(yTrue, yPred, regimes, DefaultConfig())
	if _, ok := res.RegimeAccuracy["bear"]; !ok {
		t.Fatal("bear regime should qualify")
	}
	if res.RegimeAccuracy["bear"] >= res.Overall {
		t.Fatalf("test setup: bear accuracy %.3f should be below overall %.3f", res.RegimeAccuracy["bear"], res.Overall)
	}
	if res.Composite >= res.Overall {
		t.Fatalf("composite %.4f should be below overall %.4f", res.Composite, res.Overall)
	}
	want := 0.4*res.Overall + 0.6*0.5*(res.MinAccuracy+res.HarmonicMean)
	if math.Abs(res.Composite-want) > 1e-12 {
		t.Fatalf("expected composite %.6f, got %.6f", want, res.Composite)
	}
}

func TestScoreBalancedBeatsCollapsed(t *testing.T) {
	n := 300
	yTrue := labels(n, func(i int) int { return i%3 - 1 })
	regimes := make([]string, n)
	for i := range regimes {
		if i%2 == 0 {
			regimes[i] = "bull"
		} else {
			regimes[i] = "bear"
		}
	}
	balanced := append([]int(nil), yTrue...)
	collapsed := append([]int(nil), yTrue...)
	wrong := func(v int) int { return (v+2)%3 - 1 }
	// Same number of errors; balanced spreads them, collapsed concentrates them in bear.
	for i := 0; i < 60; i++ {
		balanced[i] = wrong(yTrue[i])
	}
	errs := 0
	for i := 1; i < n && errs < 60; i += 2 {
		collapsed[i] = wrong(yTrue[i])
		errs++
	}
	b := Score(yTrue, balanced, regimes, DefaultConfig())
	c := Score(yTrue, collapsed, regimes, DefaultConfig())
	if c.Composite >= b.Composite {
		t.Fatalf("collapsed model should score lower: collapsed %.4f balanced %.4f", c.Composite, b.Composite)
	}
}

func TestHarmonicMeanZero(t *testing.T) {
	if harmonicMean([]float64{0.8, 0}) != 0 {
		t.Fatal("harmonic mean with a zero entry should be 0")
	}
	if math.Abs(harmonicMean([]float64{0.5, 1})-2.0/3.0) > 1e-12 {
		t.Fatal("unexpected harmonic mean")
	}
}

func TestRegimeLabels(t *testing.T) {
	tags := []regime.Tag{{Trend: regime.Bull}, {Trend: regime.Sideways}}
	got := RegimeLabels(tags)
	if len(got) != 2 || got[0] != string(regime.Bull) || got[1] != string(regime.Sideways) {
		t.Fatalf("unexpected regime labels %v", got)
	}
}
