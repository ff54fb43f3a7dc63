package factors

import (
	"context"
	"fmt"
	"strings"
)

// Rating is one (user, book, weight) triple fed to a Model.
type Rating struct {
	User  string
	Item  int64
	Value float64
}

// Model is a latent-factor model over implicit ratings.
type Model interface {
	Fit(ctx context.Context, ratings []Rating) error
	// ItemFactors returns the learned vector for item, or false if the item
	// was not part of the training set.
	ItemFactors(item int64) ([]float32, bool)
	Name() string
}

type Config struct {
	Algorithm      string
	Factors        int
	Epochs         int
	LearningRate   float64
	Regularization float64
	InitMean       float64
	InitStd        float64
	Seed           int64
	ImplicitRating float64
	// Alpha scales implicit confidence for als: c = 1 + Alpha*r.
	Alpha float64
}

func DefaultConfig() Config {
	return Config{
		Algorithm:      "svd",
		Factors:        50,
		Epochs:         20,
		LearningRate:   0.005,
		Regularization: 0.02,
		InitStd:        0.1,
		Seed:           42,
		ImplicitRating: 4.0,
		Alpha:          40,
	}
}

func NewModel(cfg Config) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Algorithm)) {
	case "", "svd":
		return newSVD(cfg), nil
	case "als":
		return newALS(cfg), nil
	default:
		return nil, fmt.Errorf("unknown factor algorithm %q", cfg.Algorithm)
	}
}

// index assigns dense ids in first-seen order so training never depends on
// map iteration order.
type index[K comparable] struct {
	pos  map[K]int
	keys []K
}

func newIndex[K comparable]() *index[K] {
	return &index[K]{pos: make(map[K]int)}
}

func (x *index[K]) add(k K) int {
	if i, ok := x.pos[k]; ok {
		return i
	}
	x.pos[k] = len(x.keys)
	x.keys = append(x.keys, k)
	return len(x.keys) - 1
}

func (x *index[K]) len() int { return len(x.keys) }

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
