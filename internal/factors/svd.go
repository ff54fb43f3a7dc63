package factors

import (
	"context"
	"math/rand"
)

// svd is biased matrix factorization trained by SGD:
// r̂(u,i) = mu + b_u + b_i + q_i·p_u.
type svd struct {
	cfg   Config
	items *index[int64]
	q     [][]float64
}

func newSVD(cfg Config) *svd {
	return &svd{cfg: cfg}
}

func (m *svd) Name() string { return "svd" }

func (m *svd) Fit(ctx context.Context, ratings []Rating) error {
	users := newIndex[string]()
	items := newIndex[int64]()
	type triple struct {
		u, i int
		r    float64
	}
	data := make([]triple, 0, len(ratings))
	var sum float64
	for _, r := range ratings {
		data = append(data, triple{u: users.add(r.User), i: items.add(r.Item), r: r.Value})
		sum += r.Value
	}
	m.items = items
	m.q = nil
	if len(data) == 0 {
		return nil
	}
	mu := sum / float64(len(data))

	k := m.cfg.Factors
	rng := rand.New(rand.NewSource(m.cfg.Seed))
	p := m.initMatrix(rng, users.len(), k)
	q := m.initMatrix(rng, items.len(), k)
	bu := make([]float64, users.len())
	bi := make([]float64, items.len())

	lr, reg := m.cfg.LearningRate, m.cfg.Regularization
	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, idx := range rng.Perm(len(data)) {
			t := data[idx]
			pu, qi := p[t.u], q[t.i]
			dot := 0.0
			for f := 0; f < k; f++ {
				dot += pu[f] * qi[f]
			}
			e := t.r - (mu + bu[t.u] + bi[t.i] + dot)
			bu[t.u] += lr * (e - reg*bu[t.u])
			bi[t.i] += lr * (e - reg*bi[t.i])
			for f := 0; f < k; f++ {
				puf, qif := pu[f], qi[f]
				pu[f] += lr * (e*qif - reg*puf)
				qi[f] += lr * (e*puf - reg*qif)
			}
		}
	}
	m.q = q
	return nil
}

func (m *svd) initMatrix(rng *rand.Rand, rows, k int) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, k)
		for f := range out[r] {
			out[r][f] = m.cfg.InitMean + rng.NormFloat64()*m.cfg.InitStd
		}
	}
	return out
}

func (m *svd) ItemFactors(item int64) ([]float32, bool) {
	if m.items == nil || m.q == nil {
		return nil, false
	}
	i, ok := m.items.pos[item]
	if !ok {
		return nil, false
	}
	return toFloat32(m.q[i]), true
}
