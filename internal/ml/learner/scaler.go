package learner

import (
	"gonum.org/v1/gonum/stat"
)

// Scaler is a per-feature z-score transform fitted on training rows.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

func FitScaler(x [][]float64) Scaler {
	if len(x) == 0 {
		return Scaler{}
	}
	width := len(x[0])
	s := Scaler{Means: make([]float64, width), Stds: make([]float64, width)}
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		s.Means[j], s.Stds[j] = stat.PopMeanStdDev(col, nil)
		if s.Stds[j] == 0 {
			s.Stds[j] = 1
		}
	}
	return s
}

func (s Scaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j := range row {
		if j >= len(s.Means) {
			out[j] = row[j]
			continue
		}
		out[j] = (row[j] - s.Means[j]) / s.Stds[j]
	}
	return out
}

func (s Scaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = s.TransformRow(x[i])
	}
	return out
}
