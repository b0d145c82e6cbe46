package xgboost

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"

	"quantlab/internal/ml/common"
	"quantlab/internal/ml/learner"
)

type TrainOptions struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
	Seed         uint64
}

type artifact struct {
	FeatureNames []string       `json:"feature_names"`
	Scaler       learner.Scaler `json:"scaler"`
	Options      TrainOptions   `json:"options"`
	ModelText    string         `json:"model_text"`
}

// Model wraps a boo multiclass booster behind the Learner contract. Dense
// class indices 0..2 are used on the boo side.
type Model struct {
	featureNames []string
	opts         TrainOptions
	scaler       learner.Scaler
	boost        *boo.MultiClass
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Rounds:       40,
		LearningRate: 0.08,
		MaxDepth:     4,
		Seed:         42,
	}
}

// OptionsFromParams maps the shared hyperparameters onto boo's options.
func OptionsFromParams(p learner.Params) TrainOptions {
	opts := DefaultTrainOptions()
	if p.Rounds > 0 {
		opts.Rounds = p.Rounds
	}
	if p.LearningRate > 0 {
		opts.LearningRate = p.LearningRate
	}
	if p.MaxDepth > 0 {
		opts.MaxDepth = p.MaxDepth
	}
	if p.Seed != 0 {
		opts.Seed = p.Seed
	}
	return opts
}

func New(featureNames []string, opts TrainOptions) *Model {
	return &Model{featureNames: append([]string(nil), featureNames...), opts: opts}
}

func (m *Model) Family() string { return common.FamilyXGBoost }

func (m *Model) Fit(ctx context.Context, train learner.Data, _ *learner.Data, sampleWeight []float64) error {
	if err := train.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if sampleWeight != nil && len(sampleWeight) != len(train.X) {
		return fmt.Errorf("sample weights have %d rows, data has %d", len(sampleWeight), len(train.X))
	}
	classSet := make(map[int]struct{}, common.NumClasses)
	for _, label := range train.Y {
		classSet[label] = struct{}{}
	}
	if len(classSet) < 2 {
		return errors.New("xgboost requires at least two classes")
	}
	def := DefaultTrainOptions()
	if m.opts.Rounds <= 0 {
		m.opts.Rounds = def.Rounds
	}
	if m.opts.LearningRate <= 0 {
		m.opts.LearningRate = def.LearningRate
	}
	if m.opts.MaxDepth <= 0 {
		m.opts.MaxDepth = def.MaxDepth
	}
	if len(m.featureNames) != len(train.X[0]) {
		m.featureNames = common.DefaultFeatureNames(len(train.X[0]))
	}

	m.scaler = learner.FitScaler(train.X)
	rows := resample(len(train.X), sampleWeight, m.opts.Seed)
	samples := make([][]float64, len(rows))
	labels := make([]int, len(rows))
	for i, r := range rows {
		samples[i] = m.scaler.TransformRow(train.X[r])
		labels[i] = common.LabelIndex(train.Y[r])
	}

	o := boo.DefaultXOptions()
	o.Rounds = m.opts.Rounds
	o.LearningRate = m.opts.LearningRate
	o.MaxDepth = m.opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	data := &utils.DataBunch{
		Data:   samples,
		Labels: labels,
		Keys:   m.featureNames,
	}
	model := boo.NewMultiClass(data, o)
	if model == nil {
		return errors.New("failed to train xgboost model")
	}
	m.boost = model
	return nil
}

func (m *Model) PredictProba(x [][]float64) ([][]float64, error) {
	if m == nil || m.boost == nil {
		return nil, learner.ErrNotFitted
	}
	if err := learner.CheckWidth(m.featureNames, x); err != nil {
		return nil, err
	}
	classLabels := m.boost.ClassLabels()
	out := make([][]float64, len(x))
	for i := range x {
		probs := m.boost.PredictSingle(m.scaler.TransformRow(x[i]))
		row := make([]float64, common.NumClasses)
		for j, idx := range classLabels {
			if j < len(probs) && idx >= 0 && idx < common.NumClasses {
				row[idx] = common.Clamp01(probs[j])
			}
		}
		out[i] = common.Normalize(row)
	}
	return out, nil
}

func (m *Model) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return common.LabelsFromProba(proba), nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.boost == nil {
		return nil, errors.New("nil model")
	}
	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		FeatureNames: m.featureNames,
		Scaler:       m.scaler,
		Options:      m.opts,
		ModelText:    buf.String(),
	})
}

func UnmarshalBinary(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	reader := bufio.NewReader(bytes.NewReader([]byte(a.ModelText)))
	model, err := boo.UnJSONMultiClass(reader)
	if err != nil {
		return nil, err
	}
	return &Model{
		featureNames: append([]string(nil), a.FeatureNames...),
		opts:         a.Options,
		scaler:       a.Scaler,
		boost:        model,
	}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.featureNames))
	copy(out, m.featureNames)
	return out
}

// resample draws n row indices with probability proportional to weight.
// Without weights every row is kept once, in order.
func resample(n int, weights []float64, seed uint64) []int {
	rows := make([]int, n)
	if weights == nil {
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	cum := make([]float64, n)
	total := 0.0
	for i, w := range weights {
		if w > 0 {
			total += w
		}
		cum[i] = total
	}
	if total == 0 {
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	for i := range rows {
		target := rng.Float64() * total
		rows[i] = sort.Search(n, func(j int) bool { return cum[j] > target })
		if rows[i] >= n {
			rows[i] = n - 1
		}
	}
	return rows
}
