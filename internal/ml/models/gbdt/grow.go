package gbdt

import (
	"math"
	"sort"
)

// binner maps raw feature values onto at most MaxBin ordered buckets. Bucket b
// of feature j holds values <= upper[j][b].
type binner struct {
	upper [][]float64
}

func buildBins(x [][]float64, maxBin int) binner {
	nFeat := len(x[0])
	b := binner{upper: make([][]float64, nFeat)}
	col := make([]float64, 0, len(x))
	for j := 0; j < nFeat; j++ {
		col = col[:0]
		for i := range x {
			if v := x[i][j]; !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		sort.Float64s(col)
		uniq := col[:0:0]
		for i, v := range col {
			if i == 0 || v != col[i-1] {
				uniq = append(uniq, v)
			}
		}
		var bounds []float64
		if len(uniq) <= maxBin {
			for i := 0; i+1 < len(uniq); i++ {
				bounds = append(bounds, (uniq[i]+uniq[i+1])/2)
			}
		} else {
			for q := 1; q < maxBin; q++ {
				v := col[q*len(col)/maxBin]
				if len(bounds) == 0 || v > bounds[len(bounds)-1] {
					bounds = append(bounds, v)
				}
			}
		}
		b.upper[j] = append(bounds, math.Inf(1))
	}
	return b
}

func (b binner) bin(j int, v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return sort.SearchFloat64s(b.upper[j], v)
}

func (b binner) apply(x [][]float64) [][]uint8 {
	out := make([][]uint8, len(x))
	for i := range x {
		row := make([]uint8, len(x[i]))
		for j, v := range x[i] {
			row[j] = uint8(b.bin(j, v))
		}
		out[i] = row
	}
	return out
}

type bucket struct {
	g, h  float64
	count int
}

type split struct {
	gain      float64
	feature   int
	bin       int
	threshold float64
	ok        bool
}

type leaf struct {
	node  int
	rows  []int
	depth int
	g, h  float64
	best  split
}

type grower struct {
	cfg    Config
	bins   binner
	binned [][]uint8
	grad   []float64
	hess   []float64
	feats  []int
}

func (gr *grower) grow(rows []int) Tree {
	t := Tree{}
	root := gr.newLeaf(&t, rows, 0)
	open := []*leaf{root}
	leaves := 1
	for leaves < gr.cfg.NumLeaves {
		bi := -1
		for i, l := range open {
			if l.best.ok && (bi < 0 || l.best.gain > open[bi].best.gain) {
				bi = i
			}
		}
		if bi < 0 {
			break
		}
		l := open[bi]
		open = append(open[:bi], open[bi+1:]...)

		var left, right []int
		for _, r := range l.rows {
			if int(gr.binned[r][l.best.feature]) <= l.best.bin {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		ln := gr.newLeaf(&t, left, l.depth+1)
		rn := gr.newLeaf(&t, right, l.depth+1)
		t.Nodes[l.node] = Node{
			Feature:   l.best.feature,
			Threshold: l.best.threshold,
			Left:      ln.node,
			Right:     rn.node,
		}
		open = append(open, ln, rn)
		leaves++
	}
	return t
}

func (gr *grower) newLeaf(t *Tree, rows []int, depth int) *leaf {
	l := &leaf{node: len(t.Nodes), rows: rows, depth: depth}
	for _, r := range rows {
		l.g += gr.grad[r]
		l.h += gr.hess[r]
	}
	t.Nodes = append(t.Nodes, Node{Left: -1, Right: -1, Value: gr.cfg.LearningRate * leafValue(l.g, l.h, gr.cfg)})
	if gr.cfg.MaxDepth < 0 || depth < gr.cfg.MaxDepth {
		l.best = gr.findSplit(l)
	}
	return l
}

func (gr *grower) findSplit(l *leaf) split {
	best := split{}
	if len(l.rows) < 2*gr.cfg.MinDataInLeaf {
		return best
	}
	parent := leafGain(l.g, l.h, gr.cfg)
	for _, j := range gr.feats {
		nb := len(gr.bins.upper[j])
		if nb < 2 {
			continue
		}
		hist := make([]bucket, nb)
		for _, r := range l.rows {
			b := &hist[gr.binned[r][j]]
			b.g += gr.grad[r]
			b.h += gr.hess[r]
			b.count++
		}
		var gl, hl float64
		cl := 0
		for b := 0; b < nb-1; b++ {
			gl += hist[b].g
			hl += hist[b].h
			cl += hist[b].count
			cr := len(l.rows) - cl
			if cl < gr.cfg.MinDataInLeaf {
				continue
			}
			if cr < gr.cfg.MinDataInLeaf {
				break
			}
			gr2, hr := l.g-gl, l.h-hl
			if hl < minSumHessian || hr < minSumHessian {
				continue
			}
			gain := leafGain(gl, hl, gr.cfg) + leafGain(gr2, hr, gr.cfg) - parent
			if gain <= gr.cfg.MinGain || math.IsNaN(gain) {
				continue
			}
			if !best.ok || gain > best.gain {
				best = split{gain: gain, feature: j, bin: b, threshold: gr.bins.upper[j][b], ok: true}
			}
		}
	}
	return best
}

func thresholdL1(g, l1 float64) float64 {
	switch {
	case g > l1:
		return g - l1
	case g < -l1:
		return g + l1
	default:
		return 0
	}
}

func leafValue(g, h float64, cfg Config) float64 {
	den := h + cfg.LambdaL2
	if den <= 0 {
		return 0
	}
	return -thresholdL1(g, cfg.LambdaL1) / den
}

func leafGain(g, h float64, cfg Config) float64 {
	den := h + cfg.LambdaL2
	if den <= 0 {
		return 0
	}
	t := thresholdL1(g, cfg.LambdaL1)
	return t * t / den
}
