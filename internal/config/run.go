package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"quantlab/internal/domain"
	"quantlab/internal/ml/balance"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/ensemble"
	"quantlab/internal/ml/labels"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/objective"
	"quantlab/internal/ml/regime"
	"quantlab/internal/ml/split"
	"quantlab/internal/ml/training"
	"quantlab/internal/ml/tuning"
)

var (
	ErrUnknownFamily      = errors.New("unknown model family")
	ErrUnknownLabelScheme = errors.New("unknown label scheme")
)

var validate = validator.New()

// RunConfig describes one training run: the instrument universe and the
// pipeline knobs. Zero-valued numeric fields in nested blocks fall back to
// the package defaults of the component that owns them.
type RunConfig struct {
	Instruments       []string      `yaml:"instruments"`
	Family            string        `yaml:"family" default:"lgbm"`
	LabelScheme       string        `yaml:"label_scheme" default:"multiclass"`
	Source            string        `yaml:"source" default:"csv" validate:"oneof=csv postgres"`
	Interval          string        `yaml:"interval" default:"1d"`
	Workers           int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	InstrumentTimeout time.Duration `yaml:"instrument_timeout" default:"10m"`
	MinRows           int           `yaml:"min_rows" default:"500" validate:"gte=1"`
	CostBps           float64       `yaml:"cost_bps" default:"10" validate:"gte=0"`

	Labels struct {
		Horizon          int     `yaml:"horizon" validate:"gte=0"`
		NeutralThreshold float64 `yaml:"neutral_threshold" default:"0.005" validate:"gt=0"`
		StrongThreshold  float64 `yaml:"strong_threshold" default:"0.015" validate:"gt=0"`
		BinaryThreshold  float64 `yaml:"binary_threshold" default:"0.02" validate:"gt=0"`
		MaxStrongRatio   float64 `yaml:"max_strong_ratio" default:"0.15" validate:"gte=0,lte=1"`
	} `yaml:"labels"`

	Split struct {
		TrainFrac        float64 `yaml:"train_frac" default:"0.64" validate:"gt=0,lt=1"`
		ValFrac          float64 `yaml:"val_frac" default:"0.16" validate:"gte=0,lt=1"`
		Embargo          int     `yaml:"embargo" validate:"gte=0"`
		WalkForward      bool    `yaml:"walk_forward"`
		Folds            int     `yaml:"folds" default:"5" validate:"gte=1"`
		MinTrainFraction float64 `yaml:"min_train_fraction" default:"0.5" validate:"gt=0,lt=1"`
	} `yaml:"split"`

	Balance struct {
		Multiplier float64 `yaml:"multiplier" default:"1.4" validate:"gte=1"`
	} `yaml:"balance"`

	Ensemble struct {
		Strategy string  `yaml:"strategy" default:"weighted" validate:"oneof=average weighted voting stacking"`
		Power    float64 `yaml:"power" default:"2" validate:"gt=0"`
	} `yaml:"ensemble"`

	Regime struct {
		Features *bool   `yaml:"features" default:"true"`
		Weight   float64 `yaml:"weight" default:"0.6" validate:"gte=0,lte=1"`
	} `yaml:"regime"`

	Tuning struct {
		Enabled     bool `yaml:"enabled"`
		Trials      int  `yaml:"trials" default:"40" validate:"gte=1"`
		Parallelism int  `yaml:"parallelism" default:"4" validate:"gte=1"`
	} `yaml:"tuning"`

	Params learner.Params `yaml:"params"`

	Seed uint64 `yaml:"seed" default:"42"`
}

// DefaultRunConfig returns a RunConfig with every default applied.
func DefaultRunConfig() (*RunConfig, error) {
	rc := &RunConfig{}
	if err := defaults.Set(rc); err != nil {
		return nil, fmt.Errorf("apply run config defaults: %w", err)
	}
	return rc, nil
}

// LoadRunConfig reads a YAML run config. An empty path yields the defaults.
func LoadRunConfig(path string) (*RunConfig, error) {
	rc := &RunConfig{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read run config: %w", err)
		}
		if err := yaml.Unmarshal(b, rc); err != nil {
			return nil, fmt.Errorf("parse run config: %w", err)
		}
	}
	if err := defaults.Set(rc); err != nil {
		return nil, fmt.Errorf("apply run config defaults: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("validate run config: %w", err)
	}
	return rc, nil
}

// Validate checks the family and label scheme before the field rules so a
// typo in either is reported as the matching sentinel.
func (rc *RunConfig) Validate() error {
	if !common.IsFamily(rc.Family) {
		return fmt.Errorf("%w %q (want one of %s)", ErrUnknownFamily, rc.Family, strings.Join(common.Families, ", "))
	}
	switch domain.LabelScheme(rc.LabelScheme) {
	case domain.LabelsMulticlass, domain.LabelsBinary:
	default:
		return fmt.Errorf("%w %q (want multiclass or binary)", ErrUnknownLabelScheme, rc.LabelScheme)
	}
	if err := validate.Struct(rc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return err
	}
	if rc.Split.TrainFrac+rc.Split.ValFrac >= 1 {
		return fmt.Errorf("train_frac + val_frac must be below 1, got %.2f", rc.Split.TrainFrac+rc.Split.ValFrac)
	}
	return nil
}

// Universe returns the configured instruments, or the default universe.
func (rc *RunConfig) Universe() []string {
	if len(rc.Instruments) == 0 {
		return append([]string(nil), domain.DefaultInstruments...)
	}
	out := make([]string, 0, len(rc.Instruments))
	for _, s := range rc.Instruments {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Training converts the run config into the trainer's config.
func (rc *RunConfig) Training() (training.Config, error) {
	if err := rc.Validate(); err != nil {
		return training.Config{}, err
	}
	strategy, err := ensemble.ParseStrategy(rc.Ensemble.Strategy)
	if err != nil {
		return training.Config{}, err
	}

	lc := labels.DefaultConfig(domain.LabelScheme(rc.LabelScheme))
	if rc.Labels.Horizon > 0 {
		lc.Horizon = rc.Labels.Horizon
	}
	lc.NeutralThreshold = rc.Labels.NeutralThreshold
	lc.StrongThreshold = rc.Labels.StrongThreshold
	lc.BinaryThreshold = rc.Labels.BinaryThreshold
	lc.MaxStrongRatio = rc.Labels.MaxStrongRatio
	lc.Seed = rc.Seed

	oc := objective.DefaultConfig()
	oc.RegimeWeight = rc.Regime.Weight

	params := rc.Params
	if params.Seed == 0 {
		params.Seed = rc.Seed
	}

	return training.Config{
		Family:            rc.Family,
		Labels:            lc,
		Regime:            regime.DefaultConfig(),
		UseRegimeFeatures: rc.RegimeFeatures(),
		MinRows:           rc.MinRows,
		Split: split.Config{
			TrainFrac: rc.Split.TrainFrac,
			ValFrac:   rc.Split.ValFrac,
			Embargo:   rc.Split.Embargo,
		},
		WalkForward:      rc.Split.WalkForward,
		Folds:            rc.Split.Folds,
		MinTrainFraction: rc.Split.MinTrainFraction,
		Balance:          balance.Options{Multiplier: rc.Balance.Multiplier, Seed: rc.Seed},
		CostBps:          rc.CostBps,
		Params:           params,
		Ensemble:         ensemble.Config{Strategy: strategy, Power: rc.Ensemble.Power},
		Tune:             rc.Tuning.Enabled,
		Tuning: tuning.Config{
			Family:      rc.Family,
			Trials:      rc.Tuning.Trials,
			Parallelism: rc.Tuning.Parallelism,
			Seed:        rc.Seed,
			Space:       tuning.DefaultSpace(),
			CostBps:     rc.CostBps,
		},
		Objective: oc,
	}, nil
}

// RegimeFeatures reports whether regime columns are appended to the
// feature matrix. An explicit false in YAML survives defaulting.
func (rc *RunConfig) RegimeFeatures() bool {
	return rc.Regime.Features == nil || *rc.Regime.Features
}

// SetRegimeFeatures overrides the regime feature switch.
func (rc *RunConfig) SetRegimeFeatures(on bool) {
	rc.Regime.Features = &on
}

// Batch returns the worker pool settings.
func (rc *RunConfig) Batch() training.BatchConfig {
	return training.BatchConfig{Workers: rc.Workers, InstrumentTimeout: rc.InstrumentTimeout}
}
