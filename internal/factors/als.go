package factors

import (
	"context"
	"math"
	"math/rand"
)

// als is implicit-feedback alternating least squares (Hu, Koren, Volinsky
// 2008). Repeated rentals of the same book add to its confidence.
type als struct {
	cfg   Config
	items *index[int64]
	y     [][]float64
}

type entry struct {
	idx  int
	conf float64
}

func newALS(cfg Config) *als {
	return &als{cfg: cfg}
}

func (m *als) Name() string { return "als" }

func (m *als) Fit(ctx context.Context, ratings []Rating) error {
	users := newIndex[string]()
	items := newIndex[int64]()
	weight := map[[2]int]float64{}
	var order [][2]int
	for _, r := range ratings {
		key := [2]int{users.add(r.User), items.add(r.Item)}
		if _, seen := weight[key]; !seen {
			order = append(order, key)
		}
		weight[key] += r.Value
	}
	m.items = items
	m.y = nil
	if len(order) == 0 {
		return nil
	}

	byUser := make([][]entry, users.len())
	byItem := make([][]entry, items.len())
	for _, key := range order {
		c := 1 + m.cfg.Alpha*weight[key]
		byUser[key[0]] = append(byUser[key[0]], entry{idx: key[1], conf: c})
		byItem[key[1]] = append(byItem[key[1]], entry{idx: key[0], conf: c})
	}

	k := m.cfg.Factors
	rng := rand.New(rand.NewSource(m.cfg.Seed))
	x := make([][]float64, users.len())
	for u := range x {
		x[u] = make([]float64, k)
	}
	y := make([][]float64, items.len())
	for i := range y {
		y[i] = make([]float64, k)
		for f := range y[i] {
			y[i][f] = m.cfg.InitMean + rng.NormFloat64()*m.cfg.InitStd
		}
	}

	for iter := 0; iter < m.cfg.Epochs; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		solveSide(x, y, byUser, k, m.cfg.Regularization)
		solveSide(y, x, byItem, k, m.cfg.Regularization)
	}
	m.y = y
	return nil
}

// solveSide updates every row of dst holding other fixed:
// dst_r = (OᵀO + Oᵀ(C_r - I)O + λI)⁻¹ OᵀC_r p_r.
func solveSide(dst, other [][]float64, rows [][]entry, k int, lambda float64) {
	gram := make([][]float64, k)
	for a := range gram {
		gram[a] = make([]float64, k)
	}
	for _, o := range other {
		for a := 0; a < k; a++ {
			for b := a; b < k; b++ {
				gram[a][b] += o[a] * o[b]
			}
		}
	}
	for a := 0; a < k; a++ {
		for b := 0; b < a; b++ {
			gram[a][b] = gram[b][a]
		}
	}

	for r, entries := range rows {
		A := make([][]float64, k)
		for a := range A {
			A[a] = make([]float64, k)
			copy(A[a], gram[a])
			A[a][a] += lambda
		}
		rhs := make([]float64, k)
		for _, e := range entries {
			o := other[e.idx]
			for a := 0; a < k; a++ {
				for b := 0; b < k; b++ {
					A[a][b] += (e.conf - 1) * o[a] * o[b]
				}
				rhs[a] += e.conf * o[a]
			}
		}
		dst[r] = cholesky(A, rhs)
	}
}

// cholesky solves A·x = b for symmetric positive definite A.
func cholesky(A [][]float64, b []float64) []float64 {
	n := len(b)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					sum = 1e-10
				}
				L[i][j] = math.Sqrt(sum)
			} else if L[j][j] != 0 {
				L[i][j] = sum / L[j][j]
			}
		}
	}
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= L[i][j] * z[j]
		}
		if L[i][i] != 0 {
			z[i] = sum / L[i][i]
		}
	}
	out := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for j := i + 1; j < n; j++ {
			sum -= L[j][i] * out[j]
		}
		if L[i][i] != 0 {
			out[i] = sum / L[i][i]
		}
	}
	return out
}

func (m *als) ItemFactors(item int64) ([]float32, bool) {
	if m.items == nil || m.y == nil {
		return nil, false
	}
	i, ok := m.items.pos[item]
	if !ok {
		return nil, false
	}
	return toFloat32(m.y[i]), true
}
