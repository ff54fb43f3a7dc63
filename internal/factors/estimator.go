package factors

import (
	"context"
	"fmt"

	"shelfindex/internal/logging"
	"shelfindex/internal/metrics"
	"shelfindex/internal/models"
	"shelfindex/internal/util"
)

// Estimator learns one collaborative vector per catalog book. It is built per
// run with Factors taken from the index schema.
type Estimator struct {
	cfg Config
}

func New(cfg Config) (*Estimator, error) {
	if cfg.Factors <= 0 {
		return nil, fmt.Errorf("%w: factor dimension must be positive, got %d", util.ErrSchema, cfg.Factors)
	}
	if cfg.ImplicitRating <= 0 {
		return nil, fmt.Errorf("%w: implicit rating must be positive, got %v", util.ErrFeature, cfg.ImplicitRating)
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = DefaultConfig().Epochs
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if _, err := NewModel(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrFeature, err)
	}
	return &Estimator{cfg: cfg}, nil
}

func (e *Estimator) Factors() int { return e.cfg.Factors }

// Ratings turns each rental into a (user, book, ImplicitRating) triple.
func (e *Estimator) Ratings(interactions []models.Interaction) []Rating {
	out := make([]Rating, 0, len(interactions))
	for _, in := range interactions {
		out = append(out, Rating{User: in.UserID, Item: in.BookID, Value: e.cfg.ImplicitRating})
	}
	return out
}

// Estimate fits a fresh model and returns exactly one vector per book. Books
// the model never saw get the zero vector.
func (e *Estimator) Estimate(ctx context.Context, interactions []models.Interaction, books []models.Book) (map[int64][]float32, error) {
	model, err := NewModel(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrFeature, err)
	}
	if err := model.Fit(ctx, e.Ratings(interactions)); err != nil {
		return nil, fmt.Errorf("%w: fit %s model: %w", util.ErrFeature, model.Name(), err)
	}

	out := make(map[int64][]float32, len(books))
	cold := 0
	for _, b := range books {
		vec, ok := model.ItemFactors(b.BookID)
		if !ok {
			vec = make([]float32, e.cfg.Factors)
			cold++
		}
		if len(vec) != e.cfg.Factors {
			return nil, fmt.Errorf("%w: book %d got %d factors, schema declares %d", util.ErrFeature, b.BookID, len(vec), e.cfg.Factors)
		}
		out[b.BookID] = vec
	}
	metrics.ColdStartBooks.Add(float64(cold))
	logging.Info().
		Str("algorithm", model.Name()).
		Int("books", len(books)).
		Int("ratings", len(interactions)).
		Int("cold_start", cold).
		Int("factors", e.cfg.Factors).
		Msg("collaborative factors estimated")
	return out, nil
}
