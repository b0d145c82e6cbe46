package split

import (
	"fmt"

	"quantlab/internal/domain"
)

type WalkForwardConfig struct {
	NSplits          int
	MinTrainFraction float64
	Embargo          int
}

func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{NSplits: 5, MinTrainFraction: 0.5}
}

// Fold is one expanding-train / rolling-test step.
type Fold struct {
	Index int
	Train Range
	Test  Range

	XTrain   [][]float64
	YTrain   []int
	FwdTrain []float64
	XTest    [][]float64
	YTest    []int
	FwdTest  []float64
}

// FoldIterator yields walk-forward folds lazily. It is finite and can be
// restarted with Reset; iteration order is deterministic.
type FoldIterator struct {
	x     [][]float64
	y     []int
	fwd   []float64
	cfg   WalkForwardConfig
	tests []Range
	pos   int
	index int
}

func WalkForward(x [][]float64, y []int, fwd []float64, cfg WalkForwardConfig) (*FoldIterator, error) {
	if err := checkLengths(x, y, fwd); err != nil {
		return nil, err
	}
	def := DefaultWalkForwardConfig()
	if cfg.NSplits <= 0 {
		cfg.NSplits = def.NSplits
	}
	if cfg.MinTrainFraction <= 0 || cfg.MinTrainFraction >= 1 {
		cfg.MinTrainFraction = def.MinTrainFraction
	}
	if cfg.Embargo < 0 {
		return nil, fmt.Errorf("negative embargo %d: %w", cfg.Embargo, domain.ErrPrecondition)
	}

	n := len(x)
	minTrain := int(float64(n) * cfg.MinTrainFraction)
	testSize := (n - minTrain) / cfg.NSplits
	if testSize == 0 {
		return nil, fmt.Errorf("%d rows cannot form %d test chunks: %w", n, cfg.NSplits, domain.ErrInsufficientData)
	}

	tests := make([]Range, cfg.NSplits)
	for k := 0; k < cfg.NSplits; k++ {
		start := minTrain + k*testSize
		end := start + testSize
		if k == cfg.NSplits-1 {
			end = n
		}
		tests[k] = Range{Start: start, End: end}
	}
	// Next skips folds whose train window the embargo empties; reject only an
	// embargo that empties all of them.
	if last := tests[len(tests)-1]; cfg.Embargo >= last.Start {
		return nil, fmt.Errorf("embargo %d >= largest train window %d: %w", cfg.Embargo, last.Start, domain.ErrPrecondition)
	}
	return &FoldIterator{x: x, y: y, fwd: fwd, cfg: cfg, tests: tests}, nil
}

// Next returns the next non-empty fold.
func (it *FoldIterator) Next() (Fold, bool) {
	for it.pos < len(it.tests) {
		test := it.tests[it.pos]
		it.pos++
		train := Range{Start: 0, End: test.Start - it.cfg.Embargo}
		if train.Len() == 0 {
			continue
		}
		f := Fold{
			Index:    it.index,
			Train:    train,
			Test:     test,
			XTrain:   Slice(it.x, train),
			YTrain:   Slice(it.y, train),
			FwdTrain: Slice(it.fwd, train),
			XTest:    Slice(it.x, test),
			YTest:    Slice(it.y, test),
			FwdTest:  Slice(it.fwd, test),
		}
		it.index++
		return f, true
	}
	return Fold{}, false
}

func (it *FoldIterator) Reset() {
	it.pos = 0
	it.index = 0
}

// All drains a fresh pass over the folds without disturbing the cursor.
func (it *FoldIterator) All() []Fold {
	pos, index := it.pos, it.index
	it.Reset()
	var out []Fold
	for {
		f, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, f)
	}
	it.pos, it.index = pos, index
	return out
}
