package learner

import (
	"context"
	"errors"
	"fmt"

	"quantlab/internal/domain"
)

// Learner is the capability every model backend exposes. Labels crossing this
// boundary are always {-1,0,1}; probability rows are ordered [short, neutral,
// long] and sum to one.
type Learner interface {
	Fit(ctx context.Context, train Data, val *Data, sampleWeight []float64) error
	Predict(x [][]float64) ([]int, error)
	PredictProba(x [][]float64) ([][]float64, error)
	FeatureNames() []string
	Family() string
	MarshalBinary() ([]byte, error)
}

// Data is one partition handed to Fit. Returns carries forward returns and is
// only required by regression backends.
type Data struct {
	X       [][]float64
	Y       []int
	Returns []float64
}

func (d Data) Validate() error {
	if len(d.X) == 0 {
		return fmt.Errorf("empty training data: %w", domain.ErrInsufficientData)
	}
	if len(d.Y) != len(d.X) {
		return fmt.Errorf("x has %d rows, y has %d", len(d.X), len(d.Y))
	}
	if d.Returns != nil && len(d.Returns) != len(d.X) {
		return fmt.Errorf("x has %d rows, returns has %d", len(d.X), len(d.Returns))
	}
	width := len(d.X[0])
	if width == 0 {
		return errors.New("empty feature vectors")
	}
	for i := range d.X {
		if len(d.X[i]) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(d.X[i]), width)
		}
	}
	return nil
}

// ErrNotFitted is returned by prediction calls made before Fit.
var ErrNotFitted = fmt.Errorf("model is not fitted: %w", domain.ErrPrecondition)

// Params is the union of hyperparameters understood by the backends. Zero
// values select each backend's defaults.
type Params struct {
	Rounds              int     `json:"rounds,omitempty" yaml:"rounds,omitempty"`
	LearningRate        float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	NumLeaves           int     `json:"num_leaves,omitempty" yaml:"num_leaves,omitempty"`
	MaxDepth            int     `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
	MinDataInLeaf       int     `json:"min_data_in_leaf,omitempty" yaml:"min_data_in_leaf,omitempty"`
	FeatureFraction     float64 `json:"feature_fraction,omitempty" yaml:"feature_fraction,omitempty"`
	BaggingFraction     float64 `json:"bagging_fraction,omitempty" yaml:"bagging_fraction,omitempty"`
	LambdaL1            float64 `json:"lambda_l1,omitempty" yaml:"lambda_l1,omitempty"`
	LambdaL2            float64 `json:"lambda_l2,omitempty" yaml:"lambda_l2,omitempty"`
	MinGain             float64 `json:"min_gain,omitempty" yaml:"min_gain,omitempty"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds,omitempty" yaml:"early_stopping_rounds,omitempty"`
	ClassPenalty        float64 `json:"class_penalty,omitempty" yaml:"class_penalty,omitempty"`
	ThresholdScale      float64 `json:"threshold_scale,omitempty" yaml:"threshold_scale,omitempty"`
	Epochs              int     `json:"epochs,omitempty" yaml:"epochs,omitempty"`
	Seed                uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// CheckWidth verifies every row of x has as many features as names.
func CheckWidth(names []string, x [][]float64) error {
	for i := range x {
		if len(x[i]) != len(names) {
			return fmt.Errorf("row %d has %d features, model expects %d: %w", i, len(x[i]), len(names), domain.ErrFeatureMismatch)
		}
	}
	return nil
}

// CheckFeatures reports the first position where got differs from the
// feature order a model was fitted with.
func CheckFeatures(expected, got []string) error {
	if len(expected) != len(got) {
		return fmt.Errorf("model expects %d features, input has %d: %w", len(expected), len(got), domain.ErrFeatureMismatch)
	}
	for i := range expected {
		if expected[i] != got[i] {
			return fmt.Errorf("feature %d is %q, model expects %q: %w", i, got[i], expected[i], domain.ErrFeatureMismatch)
		}
	}
	return nil
}

// Reorder projects rows whose columns are named by got onto the model order
// in expected. Missing columns are a feature mismatch.
func Reorder(expected, got []string, x [][]float64) ([][]float64, error) {
	pos := make(map[string]int, len(got))
	for i, name := range got {
		pos[name] = i
	}
	idx := make([]int, len(expected))
	for i, name := range expected {
		j, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("input is missing feature %q: %w", name, domain.ErrFeatureMismatch)
		}
		idx[i] = j
	}
	out := make([][]float64, len(x))
	for r := range x {
		row := make([]float64, len(idx))
		for i, j := range idx {
			row[i] = x[r][j]
		}
		out[r] = row
	}
	return out, nil
}
