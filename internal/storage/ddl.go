package storage

import (
	"fmt"
	"strings"

	"shelfindex/internal/index"
	"shelfindex/internal/models"
	"shelfindex/internal/vector"
)

const metaTable = "shelfindex_indexes"

const createMetaTable = `CREATE TABLE IF NOT EXISTS ` + metaTable + ` (
  name TEXT PRIMARY KEY,
  schema JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func opClass(metric string) (string, error) {
	switch metric {
	case vector.MetricCosine:
		return "vector_cosine_ops", nil
	case vector.MetricL2:
		return "vector_l2_ops", nil
	case vector.MetricDotProduct:
		return "vector_ip_ops", nil
	default:
		return "", fmt.Errorf("unknown metric %q", metric)
	}
}

func annClause(p index.ANNParams) string {
	if p.Method == index.MethodIVFFlat {
		return fmt.Sprintf("ivfflat (%%s %%s) WITH (lists = %d)", p.Lists)
	}
	return fmt.Sprintf("hnsw (%%s %%s) WITH (m = %d, ef_construction = %d)", p.M, p.EfConstruction)
}

// CreateStatements renders the DDL for a book index. The schema must already
// be valid; names are safe to splice because Validate restricts them.
func CreateStatements(s index.Schema) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ops, err := opClass(s.Metric)
	if err != nil {
		return nil, err
	}
	t := s.Name
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		createMetaTable,
		fmt.Sprintf(`CREATE TABLE %s (
  book_id BIGINT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  author TEXT NOT NULL DEFAULT '',
  isbn TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  genre TEXT NOT NULL DEFAULT '',
  publication_year INTEGER NOT NULL DEFAULT 0,
  %s vector(%d) NOT NULL,
  %s vector(%d) NOT NULL,
  search_tsv tsvector GENERATED ALWAYS AS (
    to_tsvector('english', coalesce(title, '') || ' ' || coalesce(author, '') || ' ' || coalesce(description, ''))
  ) STORED
)`, t, models.FieldContentEmbedding, s.ContentDim, models.FieldCollaborativeFeatures, s.FactorDim),
		fmt.Sprintf("CREATE INDEX %s_isbn_idx ON %s (isbn)", t, t),
		fmt.Sprintf("CREATE INDEX %s_genre_idx ON %s (genre)", t, t),
		fmt.Sprintf("CREATE INDEX %s_search_idx ON %s USING GIN (search_tsv)", t, t),
	}
	for _, field := range []string{models.FieldContentEmbedding, models.FieldCollaborativeFeatures} {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_%s_idx ON %s USING "+annClause(s.ANN), t, field, t, field, ops))
	}
	return stmts, nil
}

func DropStatements(name string) []string {
	return []string{
		"DROP TABLE IF EXISTS " + name,
		"DELETE FROM " + metaTable + " WHERE name = '" + strings.ReplaceAll(name, "'", "''") + "'",
	}
}
