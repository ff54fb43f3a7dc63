package index

import (
	"context"
	"errors"
	"fmt"

	"shelfindex/internal/logging"
	"shelfindex/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the search index the pipeline writes and the query layer reads.
type Store interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, name string) (bool, error)
	Drop(ctx context.Context, name string) error
	Create(ctx context.Context, schema Schema) error
	// Upsert inserts or replaces the document keyed by its book_id.
	Upsert(ctx context.Context, name string, doc models.BookDocument) error
	Get(ctx context.Context, name string, bookID int64) (models.BookDocument, error)
	Count(ctx context.Context, name string) (int, error)
	KNN(ctx context.Context, name, field string, vec []float32, k int) ([]models.SearchHit, error)
	TextSearch(ctx context.Context, name, query string, k int) ([]models.SearchHit, error)
}

type SchemaManager struct {
	store Store
}

func NewSchemaManager(store Store) *SchemaManager {
	return &SchemaManager{store: store}
}

// Rebuild validates schema, drops any index of the same name and creates it
// empty. Nothing is touched when validation fails.
func (m *SchemaManager) Rebuild(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	exists, err := m.store.Exists(ctx, schema.Name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", schema.Name, err)
	}
	if exists {
		if err := m.store.Drop(ctx, schema.Name); err != nil {
			return fmt.Errorf("drop index %s: %w", schema.Name, err)
		}
		logging.Info().Str("index", schema.Name).Msg("dropped existing index")
	}
	if err := m.store.Create(ctx, schema); err != nil {
		return fmt.Errorf("create index %s: %w", schema.Name, err)
	}
	logging.Info().
		Str("index", schema.Name).
		Int("content_dim", schema.ContentDim).
		Int("factor_dim", schema.FactorDim).
		Str("metric", schema.Metric).
		Str("ann", schema.ANN.Method).
		Msg("index created")
	return nil
}
