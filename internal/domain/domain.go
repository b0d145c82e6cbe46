package domain

import (
	"errors"
	"time"
)

var (
	ErrDataUnavailable  = errors.New("data unavailable")
	ErrInsufficientData = errors.New("insufficient data")
	ErrTrainingFailure  = errors.New("training failure")
	ErrPrecondition     = errors.New("precondition violation")
	ErrFeatureMismatch  = errors.New("feature mismatch")
)

type SignalDirection string

const (
	DirectionLong  SignalDirection = "long"
	DirectionShort SignalDirection = "short"
	DirectionHold  SignalDirection = "hold"
)

// DirectionFromLabel maps a {-1,0,1} class label to a trading direction.
func DirectionFromLabel(label int) SignalDirection {
	switch {
	case label > 0:
		return DirectionLong
	case label < 0:
		return DirectionShort
	default:
		return DirectionHold
	}
}

type LabelScheme string

const (
	LabelsMulticlass LabelScheme = "multiclass"
	LabelsBinary     LabelScheme = "binary"
)

// Dataset is a time-ordered feature table for one instrument. Every slice has
// the same length and row i of each slice describes the same bar.
type Dataset struct {
	Instrument     string
	Times          []time.Time
	FeatureNames   []string
	X              [][]float64
	Y              []int
	ForwardReturns []float64
	Closes         []float64
	Regimes        []string
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.X)
}

type MLModelVersion struct {
	ID                 int64
	ModelKey           string
	Version            int
	FeatureSpecVersion string
	TrainedFrom        time.Time
	TrainedTo          time.Time
	TrainedAt          time.Time
	HyperparamsJSON    string
	MetricsJSON        string
	ArtifactFormat     string
	ArtifactBlob       []byte
	IsActive           bool
	ActivatedAt        *time.Time
	CreatedAt          time.Time
}

type Prediction struct {
	Instrument  string          `json:"instrument"`
	ModelKey    string          `json:"model_key"`
	Time        time.Time       `json:"time"`
	Label       int             `json:"label"`
	Direction   SignalDirection `json:"direction"`
	ProbShort   float64         `json:"prob_short"`
	ProbNeutral float64         `json:"prob_neutral"`
	ProbLong    float64         `json:"prob_long"`
	Confidence  float64         `json:"confidence"`
	Regime      string          `json:"regime,omitempty"`
}
