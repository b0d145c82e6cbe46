package domain

import "time"

// TradingMetrics summarises one model evaluated on one test split.
type TradingMetrics struct {
	Accuracy         float64 `json:"accuracy"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	ProfitFactor     float64 `json:"profit_factor"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	NumTrades        int     `json:"num_trades"`
}

type QualityTier string

const (
	TierExcellent QualityTier = "excellent"
	TierGood      QualityTier = "good"
	TierMarginal  QualityTier = "marginal"
	TierPoor      QualityTier = "poor"
	TierNeutral   QualityTier = "neutral"
)

// ModelMetadata is one entry of the metadata index, keyed by instrument and
// model family. ProfitFactor is nil when the raw value was infinite or NaN.
type ModelMetadata struct {
	Instrument       string             `json:"instrument"`
	ModelFamily      string             `json:"model_family"`
	SharpeRatio      float64            `json:"sharpe_ratio"`
	SortinoRatio     *float64           `json:"sortino_ratio,omitempty"`
	CalmarRatio      float64            `json:"calmar_ratio"`
	ProfitFactor     *float64           `json:"profit_factor"`
	WinRate          float64            `json:"win_rate"`
	NumTrades        int                `json:"num_trades"`
	Accuracy         float64            `json:"accuracy"`
	MaxDrawdown      float64            `json:"max_drawdown"`
	TotalReturn      float64            `json:"total_return"`
	AnnualizedReturn float64            `json:"annualized_return"`
	Samples          int                `json:"samples"`
	Deployable       bool               `json:"deployable"`
	QualityTier      QualityTier        `json:"quality_tier"`
	RegimeAccuracy   map[string]float64 `json:"regime_accuracy,omitempty"`
	LabelScheme      LabelScheme        `json:"label_scheme,omitempty"`
	Validation       string             `json:"validation,omitempty"`
	RunID            string             `json:"run_id,omitempty"`
	TrainedAt        time.Time          `json:"trained_at"`
}

func (m ModelMetadata) Key() string {
	return ModelKey(m.Instrument, m.ModelFamily)
}

func ModelKey(instrument, family string) string {
	return instrument + "_" + family
}
