package features

import (
	"fmt"
	"time"

	"quantlab/internal/domain"
	"quantlab/internal/ml/labels"
	"quantlab/internal/ml/regime"
)

const DefaultMinRows = 500

type BuildConfig struct {
	Labels  labels.Config
	Regime  regime.Config
	// UseRegimeFeatures appends the regime feature columns. Regime tags are
	// always computed for evaluation.
	UseRegimeFeatures bool
	MinRows           int
}

// Matrix is the unlabeled feature view of a table, aligned with its bars.
type Matrix struct {
	Names []string
	Rows  [][]float64
	Tags  []regime.Tag
}

// Builder turns raw tables into model inputs.
type Builder struct {
	engine *Engine
}

func NewBuilder(engine *Engine) *Builder {
	if engine == nil {
		engine = NewEngine()
	}
	return &Builder{engine: engine}
}

// Features computes the feature matrix for every bar. Source-provided
// columns take precedence over the base technical set.
func (b *Builder) Features(t *Table, cfg BuildConfig) Matrix {
	var names []string
	var rows [][]float64
	if len(t.ExtraNames) > 0 {
		names = append(names, t.ExtraNames...)
		rows = make([][]float64, t.Len())
		for i := range rows {
			rows[i] = append([]float64(nil), t.Extra[i]...)
		}
	} else {
		names = append(names, BaseFeatureNames...)
		rows = b.engine.Compute(t)
	}
	tags := regime.Classify(t.Close, cfg.Regime)
	if cfg.UseRegimeFeatures {
		names = append(names, regime.FeatureNames...)
		extra := regime.Features(tags)
		for i := range rows {
			rows[i] = append(rows[i], extra[i]...)
		}
	}
	return Matrix{Names: names, Rows: rows, Tags: tags}
}

// Build labels a table and drops rows with a non-finite feature or forward
// return. Fewer than MinRows surviving rows is ErrInsufficientData.
func (b *Builder) Build(t *Table, cfg BuildConfig) (*domain.Dataset, error) {
	if t.Len() == 0 {
		return nil, fmt.Errorf("empty table for %s: %w", t.Instrument, domain.ErrDataUnavailable)
	}
	minRows := cfg.MinRows
	if minRows <= 0 {
		minRows = DefaultMinRows
	}
	res, err := labels.Apply(t.Close, cfg.Labels)
	if err != nil {
		return nil, err
	}
	m := b.Features(t, cfg)

	ds := &domain.Dataset{
		Instrument:   t.Instrument,
		FeatureNames: m.Names,
	}
	for i := range m.Rows {
		if !res.Keep[i] || anyNaN(res.Forward[i]) || anyNaN(m.Rows[i]...) {
			continue
		}
		ds.Times = append(ds.Times, timeAt(t.Times, i))
		ds.X = append(ds.X, m.Rows[i])
		ds.Y = append(ds.Y, res.Labels[i])
		ds.ForwardReturns = append(ds.ForwardReturns, res.Forward[i])
		ds.Closes = append(ds.Closes, t.Close[i])
		ds.Regimes = append(ds.Regimes, string(m.Tags[i].Trend))
	}
	if ds.Len() < minRows {
		return nil, fmt.Errorf("%s has %d usable rows, need %d: %w", t.Instrument, ds.Len(), minRows, domain.ErrInsufficientData)
	}
	return ds, nil
}

// Latest returns up to n of the most recent bars with finite features,
// labeled or not, in time order.
func (b *Builder) Latest(t *Table, cfg BuildConfig, n int) (Matrix, []time.Time, error) {
	if t.Len() == 0 {
		return Matrix{}, nil, fmt.Errorf("empty table for %s: %w", t.Instrument, domain.ErrDataUnavailable)
	}
	m := b.Features(t, cfg)
	out := Matrix{Names: m.Names}
	var times []time.Time
	for i := len(m.Rows) - 1; i >= 0 && (n <= 0 || len(out.Rows) < n); i-- {
		if anyNaN(m.Rows[i]...) {
			continue
		}
		out.Rows = append(out.Rows, m.Rows[i])
		out.Tags = append(out.Tags, m.Tags[i])
		times = append(times, timeAt(t.Times, i))
	}
	for l, r := 0, len(out.Rows)-1; l < r; l, r = l+1, r-1 {
		out.Rows[l], out.Rows[r] = out.Rows[r], out.Rows[l]
		out.Tags[l], out.Tags[r] = out.Tags[r], out.Tags[l]
		times[l], times[r] = times[r], times[l]
	}
	if len(out.Rows) == 0 {
		return Matrix{}, nil, fmt.Errorf("no complete feature rows for %s: %w", t.Instrument, domain.ErrInsufficientData)
	}
	return out, times, nil
}

func timeAt(times []time.Time, i int) time.Time {
	if i < len(times) {
		return times[i]
	}
	return time.Time{}
}
