package split

import (
	"fmt"

	"quantlab/internal/domain"
)

// Range is a half-open row interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Slice returns the rows of s covered by r.
func Slice[T any](s []T, r Range) []T {
	if r.Len() == 0 {
		return nil
	}
	return s[r.Start:r.End]
}

type Config struct {
	TrainFrac float64
	ValFrac   float64
	Embargo   int
}

func DefaultConfig() Config {
	return Config{TrainFrac: 0.64, ValFrac: 0.16}
}

// Split holds three time-ordered, embargo-separated partitions.
type Split struct {
	Train Range
	Val   Range
	Test  Range

	XTrain   [][]float64
	YTrain   []int
	FwdTrain []float64
	XVal     [][]float64
	YVal     []int
	FwdVal   []float64
	XTest    [][]float64
	YTest    []int
	FwdTest  []float64
}

// SingleSplit partitions rows by fixed fractions and trims embargo rows from
// the tail of train and of validation so no label horizon crosses into the
// next partition.
func SingleSplit(x [][]float64, y []int, fwd []float64, cfg Config) (*Split, error) {
	if err := checkLengths(x, y, fwd); err != nil {
		return nil, err
	}
	if cfg.TrainFrac <= 0 && cfg.ValFrac <= 0 {
		cfg = Config{TrainFrac: DefaultConfig().TrainFrac, ValFrac: DefaultConfig().ValFrac, Embargo: cfg.Embargo}
	}
	if cfg.TrainFrac <= 0 || cfg.ValFrac <= 0 || cfg.TrainFrac+cfg.ValFrac >= 1 {
		return nil, fmt.Errorf("split fractions train=%.2f val=%.2f: %w", cfg.TrainFrac, cfg.ValFrac, domain.ErrPrecondition)
	}
	if cfg.Embargo < 0 {
		return nil, fmt.Errorf("negative embargo %d: %w", cfg.Embargo, domain.ErrPrecondition)
	}

	n := len(x)
	trainEnd := int(float64(n) * cfg.TrainFrac)
	valEnd := int(float64(n) * (cfg.TrainFrac + cfg.ValFrac))
	if trainEnd == 0 || valEnd <= trainEnd || valEnd >= n {
		return nil, fmt.Errorf("%d rows cannot fill three partitions: %w", n, domain.ErrInsufficientData)
	}
	if cfg.Embargo >= trainEnd {
		return nil, fmt.Errorf("embargo %d >= train partition size %d: %w", cfg.Embargo, trainEnd, domain.ErrPrecondition)
	}
	if cfg.Embargo >= valEnd-trainEnd {
		return nil, fmt.Errorf("embargo %d >= validation partition size %d: %w", cfg.Embargo, valEnd-trainEnd, domain.ErrPrecondition)
	}

	s := &Split{
		Train: Range{Start: 0, End: trainEnd - cfg.Embargo},
		Val:   Range{Start: trainEnd, End: valEnd - cfg.Embargo},
		Test:  Range{Start: valEnd, End: n},
	}
	s.XTrain, s.YTrain, s.FwdTrain = Slice(x, s.Train), Slice(y, s.Train), Slice(fwd, s.Train)
	s.XVal, s.YVal, s.FwdVal = Slice(x, s.Val), Slice(y, s.Val), Slice(fwd, s.Val)
	s.XTest, s.YTest, s.FwdTest = Slice(x, s.Test), Slice(y, s.Test), Slice(fwd, s.Test)
	return s, nil
}

func checkLengths(x [][]float64, y []int, fwd []float64) error {
	if len(x) != len(y) || len(x) != len(fwd) {
		return fmt.Errorf("length mismatch x=%d y=%d fwd=%d: %w", len(x), len(y), len(fwd), domain.ErrPrecondition)
	}
	if len(x) == 0 {
		return fmt.Errorf("empty dataset: %w", domain.ErrInsufficientData)
	}
	return nil
}
