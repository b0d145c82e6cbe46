package training

import (
	"math"
	"time"

	"quantlab/internal/domain"
	"quantlab/internal/ml/common"
)

const (
	DeployableSharpe       = 1.0
	DeployableProfitFactor = 1.5
	ExcellentSharpe        = 5.0
	ExcellentProfitFactor  = 3.0
)

// finitePtr rounds v and returns nil for NaN and ±Inf so the record stays
// valid JSON.
func finitePtr(v float64, places int) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	r := common.Round(v, places)
	return &r
}

func Deployable(sharpe float64, pf *float64) bool {
	return sharpe > DeployableSharpe && pf != nil && *pf > DeployableProfitFactor
}

func Tier(sharpe float64, pf *float64) domain.QualityTier {
	if sharpe == 0 && (pf == nil || *pf == 0) {
		return domain.TierNeutral
	}
	if Deployable(sharpe, pf) {
		if sharpe > ExcellentSharpe && *pf > ExcellentProfitFactor {
			return domain.TierExcellent
		}
		return domain.TierGood
	}
	if pf != nil && *pf > 1 {
		return domain.TierMarginal
	}
	return domain.TierPoor
}

type metadataInput struct {
	Instrument     string
	Family         string
	Metrics        domain.TradingMetrics
	Samples        int
	RegimeAccuracy map[string]float64
	LabelScheme    domain.LabelScheme
	Validation     string
	RunID          string
	TrainedAt      time.Time
}

// newMetadata applies the index rounding rules: ratios to two decimals and
// fractions to four.
func newMetadata(in metadataInput) domain.ModelMetadata {
	m := in.Metrics
	sharpe := common.Round(finiteOrZero(m.SharpeRatio), 2)
	pf := finitePtr(m.ProfitFactor, 2)
	meta := domain.ModelMetadata{
		Instrument:       in.Instrument,
		ModelFamily:      in.Family,
		SharpeRatio:      sharpe,
		SortinoRatio:     finitePtr(m.SortinoRatio, 2),
		CalmarRatio:      common.Round(finiteOrZero(m.CalmarRatio), 2),
		ProfitFactor:     pf,
		WinRate:          common.Round(m.WinRate, 4),
		NumTrades:        m.NumTrades,
		Accuracy:         common.Round(m.Accuracy, 4),
		MaxDrawdown:      common.Round(m.MaxDrawdown, 4),
		TotalReturn:      common.Round(finiteOrZero(m.TotalReturn), 4),
		AnnualizedReturn: common.Round(finiteOrZero(m.AnnualizedReturn), 4),
		Samples:          in.Samples,
		Deployable:       Deployable(sharpe, pf),
		QualityTier:      Tier(sharpe, pf),
		LabelScheme:      in.LabelScheme,
		Validation:       in.Validation,
		RunID:            in.RunID,
		TrainedAt:        in.TrainedAt.UTC(),
	}
	if len(in.RegimeAccuracy) > 0 {
		meta.RegimeAccuracy = make(map[string]float64, len(in.RegimeAccuracy))
		for k, v := range in.RegimeAccuracy {
			meta.RegimeAccuracy[k] = common.Round(v, 4)
		}
	}
	return meta
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
