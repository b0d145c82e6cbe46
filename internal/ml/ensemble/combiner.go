package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"quantlab/internal/domain"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/models/gbdt"
)

type Strategy string

const (
	StrategyAverage  Strategy = "average"
	StrategyWeighted Strategy = "weighted"
	StrategyVoting   Strategy = "voting"
	StrategyStacking Strategy = "stacking"
)

const DefaultPower = 2.0

var ErrWeightsNotComputed = fmt.Errorf("ensemble weights not computed: %w", domain.ErrPrecondition)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAverage, StrategyWeighted, StrategyVoting, StrategyStacking:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown ensemble strategy %q", s)
}

type Config struct {
	Strategy Strategy
	Power    float64
}

// MetaParams are the stacking meta-learner hyperparameters.
func MetaParams() learner.Params {
	return learner.Params{
		Rounds:              200,
		LearningRate:        0.05,
		NumLeaves:           15,
		MaxDepth:            3,
		MinDataInLeaf:       10,
		FeatureFraction:     1,
		BaggingFraction:     1,
		EarlyStoppingRounds: 20,
		Seed:                42,
	}
}

// newMetaLearner builds the stacking meta-learner over the given number of
// members.
var newMetaLearner = func(members int) learner.Learner {
	return gbdt.New(metaFeatureNames(members), MetaParams())
}

// Combiner merges member probability vectors. Members must be fitted before
// ComputeWeights runs.
type Combiner struct {
	members  []learner.Learner
	strategy Strategy
	power    float64
	weights  []float64
	scores   []float64
	meta     learner.Learner
	ready    bool

	// Member predictions on the training rows, kept for the stacking fit.
	trainMeta [][]float64
	trainY    []int
}

func New(members []learner.Learner, cfg Config) (*Combiner, error) {
	if len(members) == 0 {
		return nil, errors.New("ensemble needs at least one member")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyWeighted
	}
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if cfg.Power <= 0 {
		cfg.Power = DefaultPower
	}
	return &Combiner{members: members, strategy: cfg.Strategy, power: cfg.Power}, nil
}

func (c *Combiner) Family() string { return common.FamilyEnsemble }

func (c *Combiner) Strategy() Strategy { return c.strategy }

func (c *Combiner) Members() []learner.Learner {
	return append([]learner.Learner(nil), c.members...)
}

func (c *Combiner) FeatureNames() []string {
	return c.members[0].FeatureNames()
}

// Weights returns a copy of the current member weights.
func (c *Combiner) Weights() []float64 {
	return append([]float64(nil), c.weights...)
}

// Scores returns the member validation macro-F1 from the last ComputeWeights.
func (c *Combiner) Scores() []float64 {
	return append([]float64(nil), c.scores...)
}

// Fit trains every member on train, then derives weights from val when given.
// Stacking also keeps the members' training predictions as the meta-learner's
// training set.
func (c *Combiner) Fit(ctx context.Context, train learner.Data, val *learner.Data, sampleWeight []float64) error {
	for i, m := range c.members {
		if err := m.Fit(ctx, train, val, sampleWeight); err != nil {
			return fmt.Errorf("fit member %d (%s): %w", i, m.Family(), err)
		}
	}
	c.ready = false
	c.trainMeta, c.trainY = nil, nil
	if c.strategy == StrategyStacking {
		probas, err := c.memberProbas(ctx, train.X)
		if err != nil {
			return fmt.Errorf("stacking training meta-features: %w", err)
		}
		c.trainMeta = stack(probas)
		c.trainY = append([]int(nil), train.Y...)
	}
	if val == nil || len(val.X) == 0 {
		return nil
	}
	_, err := c.ComputeWeights(ctx, val.X, val.Y)
	return err
}

// ComputeWeights scores each member on validation data and derives the
// combination state. For stacking the meta-learner is fit on the training
// meta-features kept by Fit, with the validation meta-features as its
// early-stopping set. It returns the per-member macro-F1.
func (c *Combiner) ComputeWeights(ctx context.Context, x [][]float64, y []int) ([]float64, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("invalid validation set: %w", domain.ErrInsufficientData)
	}
	probas, err := c.memberProbas(ctx, x)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(c.members))
	for i := range probas {
		scores[i] = common.MacroF1(y, common.LabelsFromProba(probas[i]))
	}
	weights := WeightsFromScores(scores, c.power)

	var meta learner.Learner
	if c.strategy == StrategyStacking {
		if len(c.trainMeta) == 0 {
			return nil, fmt.Errorf("stacking needs training meta-features from Fit: %w", domain.ErrPrecondition)
		}
		meta = newMetaLearner(len(c.members))
		val := &learner.Data{X: stack(probas), Y: y}
		if err := meta.Fit(ctx, learner.Data{X: c.trainMeta, Y: c.trainY}, val, nil); err != nil {
			return nil, fmt.Errorf("fit stacking meta-learner: %w", err)
		}
	}

	c.scores = scores
	c.weights = weights
	c.meta = meta
	c.ready = true
	return append([]float64(nil), scores...), nil
}

// WeightsFromScores normalizes score^power. All-zero scores give equal weights.
func WeightsFromScores(scores []float64, power float64) []float64 {
	out := make([]float64, len(scores))
	total := 0.0
	for i, s := range scores {
		if s > 0 {
			out[i] = math.Pow(s, power)
		}
		total += out[i]
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func (c *Combiner) PredictProba(x [][]float64) ([][]float64, error) {
	if (c.strategy == StrategyWeighted || c.strategy == StrategyStacking) && !c.ready {
		return nil, ErrWeightsNotComputed
	}
	probas, err := c.memberProbas(context.Background(), x)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	switch c.strategy {
	case StrategyAverage:
		for r := range x {
			row := make([]float64, common.NumClasses)
			for _, p := range probas {
				for k := range row {
					row[k] += p[r][k] / float64(len(probas))
				}
			}
			out[r] = row
		}
	case StrategyWeighted:
		for r := range x {
			row := make([]float64, common.NumClasses)
			for i, p := range probas {
				for k := range row {
					row[k] += c.weights[i] * p[r][k]
				}
			}
			out[r] = row
		}
	case StrategyVoting:
		for r := range x {
			row := make([]float64, common.NumClasses)
			for _, p := range probas {
				row[common.Argmax(p[r])] += 1 / float64(len(probas))
			}
			out[r] = row
		}
	case StrategyStacking:
		return c.meta.PredictProba(stack(probas))
	}
	return out, nil
}

func (c *Combiner) Predict(x [][]float64) ([]int, error) {
	proba, err := c.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return common.LabelsFromProba(proba), nil
}

// Contributions returns each member's probability rows keyed by position and
// family, for diagnostics.
func (c *Combiner) Contributions(x [][]float64) (map[string][][]float64, error) {
	probas, err := c.memberProbas(context.Background(), x)
	if err != nil {
		return nil, err
	}
	out := make(map[string][][]float64, len(probas))
	for i, p := range probas {
		out[fmt.Sprintf("%s_%d", c.members[i].Family(), i)] = p
	}
	return out, nil
}

func (c *Combiner) memberProbas(ctx context.Context, x [][]float64) ([][][]float64, error) {
	probas := make([][][]float64, len(c.members))
	g, _ := errgroup.WithContext(ctx)
	for i, m := range c.members {
		g.Go(func() error {
			p, err := m.PredictProba(x)
			if err != nil {
				return fmt.Errorf("member %d (%s) predict: %w", i, m.Family(), err)
			}
			probas[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return probas, nil
}

func stack(probas [][][]float64) [][]float64 {
	if len(probas) == 0 {
		return nil
	}
	rows := len(probas[0])
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		row := make([]float64, 0, len(probas)*common.NumClasses)
		for _, p := range probas {
			row = append(row, p[r]...)
		}
		out[r] = row
	}
	return out
}

func metaFeatureNames(members int) []string {
	out := make([]string, 0, members*common.NumClasses)
	for i := 0; i < members; i++ {
		for _, label := range common.Classes {
			out = append(out, fmt.Sprintf("m%d_p%d", i, label))
		}
	}
	return out
}

type artifact struct {
	Strategy Strategy          `json:"strategy"`
	Power    float64           `json:"power"`
	Weights  []float64         `json:"weights"`
	Scores   []float64         `json:"scores"`
	Ready    bool              `json:"ready"`
	Members  []json.RawMessage `json:"members"`
	Meta     json.RawMessage   `json:"meta,omitempty"`
}

func (c *Combiner) MarshalBinary() ([]byte, error) {
	a := artifact{
		Strategy: c.strategy,
		Power:    c.power,
		Weights:  c.weights,
		Scores:   c.scores,
		Ready:    c.ready,
	}
	for i, m := range c.members {
		blob, err := learner.Save(m)
		if err != nil {
			return nil, fmt.Errorf("save member %d: %w", i, err)
		}
		a.Members = append(a.Members, blob)
	}
	if c.meta != nil {
		blob, err := c.meta.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("save meta-learner: %w", err)
		}
		a.Meta = blob
	}
	return json.Marshal(a)
}

// Unmarshal restores a combiner. load opens each nested member envelope.
func Unmarshal(blob []byte, load func([]byte) (learner.Learner, error)) (*Combiner, error) {
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	members := make([]learner.Learner, 0, len(a.Members))
	for i, raw := range a.Members {
		m, err := load(raw)
		if err != nil {
			return nil, fmt.Errorf("load member %d: %w", i, err)
		}
		members = append(members, m)
	}
	c, err := New(members, Config{Strategy: a.Strategy, Power: a.Power})
	if err != nil {
		return nil, err
	}
	if a.Ready && len(a.Weights) != len(members) {
		return nil, errors.New("ensemble weights do not match members")
	}
	c.weights = a.Weights
	c.scores = a.Scores
	c.ready = a.Ready
	if len(a.Meta) > 0 {
		meta, err := gbdt.UnmarshalBinary(a.Meta)
		if err != nil {
			return nil, fmt.Errorf("load meta-learner: %w", err)
		}
		c.meta = meta
	}
	if c.strategy == StrategyStacking && c.ready && c.meta == nil {
		return nil, errors.New("stacking ensemble missing meta-learner")
	}
	return c, nil
}

// Direction maps a probability vector onto a trading direction.
func Direction(proba []float64) domain.SignalDirection {
	return domain.DirectionFromLabel(common.IndexLabel(common.Argmax(proba)))
}
