package vector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"shelfindex/internal/models"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// Operator is the pgvector distance operator for metric. Smaller is closer
// for all three.
func Operator(metric string) (string, error) {
	switch metric {
	case MetricCosine:
		return "<=>", nil
	case MetricL2:
		return "<->", nil
	case MetricDotProduct:
		return "<#>", nil
	default:
		return "", fmt.Errorf("unknown metric %q", metric)
	}
}

// scoreExpr turns the operator's distance into a higher-is-closer score that
// matches Score.
func scoreExpr(metric, col string) string {
	switch metric {
	case MetricCosine:
		return "1 - (" + col + " <=> $1::vector)"
	case MetricL2:
		return "-(" + col + " <-> $1::vector)"
	default:
		return "-(" + col + " <#> $1::vector)"
	}
}

// KNN returns the k documents of table closest to vec on field.
func (s *Searcher) KNN(ctx context.Context, table, field, metric string, vec []float32, k int) ([]models.SearchHit, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if field != models.FieldContentEmbedding && field != models.FieldCollaborativeFeatures {
		return nil, fmt.Errorf("unknown vector field %q", field)
	}
	op, err := Operator(metric)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	query := `
SELECT ` + DocumentColumns + `,
       ` + scoreExpr(metric, field) + ` AS score
FROM ` + table + `
ORDER BY ` + field + ` ` + op + ` $1::vector
LIMIT $2`

	rows, err := s.q.Query(ctx, query, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query knn on %s.%s: %w", table, field, err)
	}
	defer rows.Close()

	hits := make([]models.SearchHit, 0, k)
	for rows.Next() {
		var h models.SearchHit
		if err := ScanDocument(rows, &h.BookDocument, &h.Score); err != nil {
			return nil, fmt.Errorf("scan knn hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knn rows: %w", err)
	}
	return hits, nil
}

// DocumentColumns lists the book document columns in ScanDocument order.
const DocumentColumns = `book_id, title, author, isbn, description, genre, publication_year,
       content_embedding::text, collaborative_features::text`

// ScanDocument reads one row selected with DocumentColumns plus any extra
// trailing destinations.
func ScanDocument(row pgx.Row, doc *models.BookDocument, extra ...any) error {
	var content, collab pgvector.Vector
	dest := []any{
		&doc.BookID, &doc.Title, &doc.Author, &doc.ISBN, &doc.Description, &doc.Genre, &doc.PublicationYear,
		&content, &collab,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	doc.ContentEmbedding = content.Slice()
	doc.CollaborativeFeatures = collab.Slice()
	return nil
}
