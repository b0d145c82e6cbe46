// Package models selects and restores Learner backends by family key.
package models

import (
	"fmt"

	"quantlab/internal/ml/common"
	"quantlab/internal/ml/ensemble"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/models/gbdt"
	"quantlab/internal/ml/models/logreg"
	"quantlab/internal/ml/models/returns"
	"quantlab/internal/ml/models/xgboost"
)

// EnsembleMembers are the backends combined by the ensemble family.
var EnsembleMembers = []string{common.FamilyLGBM, common.FamilyXGBoost, common.FamilyLogReg}

// Options carries the family-independent knobs New needs.
type Options struct {
	Params   learner.Params
	Ensemble ensemble.Config
}

// New returns an unfitted learner for family.
func New(family string, featureNames []string, opts Options) (learner.Learner, error) {
	switch family {
	case common.FamilyLGBM:
		return gbdt.New(featureNames, opts.Params), nil
	case common.FamilyXGBoost:
		return xgboost.New(featureNames, xgboost.OptionsFromParams(opts.Params)), nil
	case common.FamilyLogReg:
		return logreg.New(featureNames, logreg.OptionsFromParams(opts.Params)), nil
	case common.FamilyReturn:
		return returns.New(featureNames, opts.Params), nil
	case common.FamilyEnsemble:
		members := make([]learner.Learner, 0, len(EnsembleMembers))
		for _, f := range EnsembleMembers {
			m, err := New(f, featureNames, Options{Params: opts.Params})
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		return ensemble.New(members, opts.Ensemble)
	}
	return nil, fmt.Errorf("unknown model family %q", family)
}

// Load restores a learner from a saved envelope.
func Load(blob []byte) (learner.Learner, error) {
	env, err := learner.Open(blob)
	if err != nil {
		return nil, err
	}
	var l learner.Learner
	switch env.Family {
	case common.FamilyLGBM:
		l, err = gbdt.UnmarshalBinary(env.Payload)
	case common.FamilyXGBoost:
		l, err = xgboost.UnmarshalBinary(env.Payload)
	case common.FamilyLogReg:
		l, err = logreg.UnmarshalBinary(env.Payload)
	case common.FamilyReturn:
		l, err = returns.UnmarshalBinary(env.Payload)
	case common.FamilyEnsemble:
		l, err = ensemble.Unmarshal(env.Payload, Load)
	default:
		return nil, fmt.Errorf("unknown model family %q", env.Family)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s model: %w", env.Family, err)
	}
	if err := learner.CheckFeatures(env.FeatureNames, l.FeatureNames()); err != nil {
		return nil, err
	}
	return l, nil
}
