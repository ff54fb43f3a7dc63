package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"shelfindex/internal/index"
	"shelfindex/internal/util"
)

func schema() index.Schema {
	return index.Schema{
		Name:       "books",
		ContentDim: 384,
		FactorDim:  50,
		Metric:     "cosine",
		ANN:        index.ANNParams{Method: index.MethodHNSW, M: 16, EfConstruction: 64},
	}
}

func TestCreateStatementsHNSW(t *testing.T) {
	stmts, err := CreateStatements(schema())
	require.NoError(t, err)
	ddl := strings.Join(stmts, ";\n")

	require.Contains(t, ddl, "CREATE EXTENSION IF NOT EXISTS vector")
	require.Contains(t, ddl, "book_id BIGINT PRIMARY KEY")
	require.Contains(t, ddl, "publication_year INTEGER")
	require.Contains(t, ddl, "content_embedding vector(384) NOT NULL")
	require.Contains(t, ddl, "collaborative_features vector(50) NOT NULL")
	require.Contains(t, ddl, "CREATE INDEX books_isbn_idx ON books (isbn)")
	require.Contains(t, ddl, "CREATE INDEX books_genre_idx ON books (genre)")
	require.Contains(t, ddl, "USING GIN (search_tsv)")
	require.Contains(t, ddl, "CREATE INDEX books_content_embedding_idx ON books USING hnsw (content_embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)")
	require.Contains(t, ddl, "CREATE INDEX books_collaborative_features_idx ON books USING hnsw (collaborative_features vector_cosine_ops)")
}

func TestCreateStatementsIsStable(t *testing.T) {
	a, err := CreateStatements(schema())
	require.NoError(t, err)
	b, err := CreateStatements(schema())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCreateStatementsOpClasses(t *testing.T) {
	tests := []struct {
		metric string
		want   string
	}{
		{"cosine", "vector_cosine_ops"},
		{"l2_norm", "vector_l2_ops"},
		{"dot_product", "vector_ip_ops"},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			s := schema()
			s.Metric = tt.metric
			s.ANN = index.ANNParams{Method: index.MethodIVFFlat, Lists: 100}
			stmts, err := CreateStatements(s)
			require.NoError(t, err)
			last := stmts[len(stmts)-1]
			require.Contains(t, last, "USING ivfflat (collaborative_features "+tt.want+") WITH (lists = 100)")
		})
	}
}

func TestCreateStatementsRejectsInvalidSchema(t *testing.T) {
	s := schema()
	s.Name = "books; DROP TABLE users"
	_, err := CreateStatements(s)
	require.ErrorIs(t, err, util.ErrSchema)

	s = schema()
	s.FactorDim = 0
	_, err = CreateStatements(s)
	require.ErrorIs(t, err, util.ErrSchema)
}

func TestDropStatements(t *testing.T) {
	stmts := DropStatements("books")
	require.Equal(t, "DROP TABLE IF EXISTS books", stmts[0])
	require.Contains(t, stmts[1], "WHERE name = 'books'")
}
