package balance

import (
	"math"
	"testing"

	"quantlab/internal/ml/common"
)

func imbalanced() ([][]float64, []int, []float64) {
	var x [][]float64
	var y []int
	var fwd []float64
	add := func(label, n int) {
		for i := 0; i < n; i++ {
			id := float64(len(x))
			x = append(x, []float64{id})
			y = append(y, label)
			fwd = append(fwd, id/100)
		}
	}
	add(0, 100)
	add(1, 20)
	add(-1, 10)
	return x, y, fwd
}

func TestWeightsInverseFrequency(t *testing.T) {
	_, y, _ := imbalanced()
	w := Weights(y)
	if math.Abs(w[0]-130.0/(3*100)) > 1e-12 || math.Abs(w[-1]-130.0/(3*10)) > 1e-12 {
		t.Fatalf("unexpected weights %v", w)
	}
	sw := SampleWeights(y, 2)
	if math.Abs(sw[0]-2*w[0]) > 1e-12 {
		t.Fatalf("penalty not applied: %.4f", sw[0])
	}
}

func TestRepeat(t *testing.T) {
	cases := []struct {
		max, count, want int
	}{
		{100, 20, 5},
		{100, 10, 12},
		{100, 90, 1},
		{100, 100, 0},
	}
	for _, c := range cases {
		if got := Repeat(c.max, c.count, DefaultMultiplier); got != c.want {
			t.Fatalf("Repeat(%d,%d): expected %d, got %d", c.max, c.count, c.want, got)
		}
	}
}

func TestBalanceProperties(t *testing.T) {
	x, y, fwd := imbalanced()
	bx, by, bfwd := Balance(x, y, fwd, DefaultOptions())
	if len(bx) != len(by) || len(by) != len(bfwd) {
		t.Fatal("balanced outputs have mismatched lengths")
	}
	before, _ := common.ClassCounts(y)
	after, _ := common.ClassCounts(by)
	if after[0] != before[0] {
		t.Fatalf("majority class changed: %d -> %d", before[0], after[0])
	}
	if after[1] != 20*6 || after[-1] != 10*13 {
		t.Fatalf("unexpected minority counts %v", after)
	}

	seen := make(map[float64]bool)
	for i, row := range bx {
		seen[row[0]] = true
		if bfwd[i] != row[0]/100 {
			t.Fatalf("forward return detached from its row at %d", i)
		}
	}
	for _, row := range x {
		if !seen[row[0]] {
			t.Fatalf("original row %.0f missing after balance", row[0])
		}
	}

	spread := func(c map[int]int) float64 {
		lo, hi := math.MaxFloat64, 0.0
		for _, v := range c {
			lo = math.Min(lo, float64(v))
			hi = math.Max(hi, float64(v))
		}
		return hi / lo
	}
	if spread(after) >= spread(before) {
		t.Fatalf("balance did not move counts closer: before %.2f after %.2f", spread(before), spread(after))
	}
}

func TestBalanceDeterministic(t *testing.T) {
	x, y, _ := imbalanced()
	_, a, _ := Balance(x, y, nil, DefaultOptions())
	_, b, _ := Balance(x, y, nil, DefaultOptions())
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("shuffle not deterministic at %d", i)
		}
	}
	if y[0] != 0 || y[len(y)-1] != -1 {
		t.Fatal("input labels were modified")
	}
}
