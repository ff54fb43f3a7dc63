package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"shelfindex/internal/index"
	"shelfindex/internal/models"
	"shelfindex/internal/util"
	"shelfindex/internal/vector"
)

// PGIndex stores book documents in a Postgres table with pgvector columns.
type PGIndex struct {
	db       *DB
	searcher *vector.Searcher
}

func NewPGIndex(db *DB) *PGIndex {
	return &PGIndex{db: db, searcher: vector.NewSearcher(db.Pool)}
}

func (p *PGIndex) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *PGIndex) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := p.db.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: check table %s: %w", util.ErrConnection, name, err)
	}
	return exists, nil
}

func (p *PGIndex) Drop(ctx context.Context, name string) error {
	if !index.ValidName(name) {
		return fmt.Errorf("%w: invalid index name %q", util.ErrSchema, name)
	}
	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx drop index: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, createMetaTable); err != nil {
		return fmt.Errorf("ensure index metadata: %w", err)
	}
	for _, stmt := range DropStatements(name) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("drop index %s: %w", name, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PGIndex) Create(ctx context.Context, schema index.Schema) error {
	stmts, err := CreateStatements(schema)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx create index: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", schema.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO `+metaTable+` (name, schema) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET schema = EXCLUDED.schema, created_at = now()`, schema.Name, raw); err != nil {
		return fmt.Errorf("record schema %s: %w", schema.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create index tx: %w", err)
	}
	return nil
}

// Schema reads back the schema recorded at Create.
func (p *PGIndex) Schema(ctx context.Context, name string) (index.Schema, error) {
	var raw []byte
	err := p.db.Pool.QueryRow(ctx, `SELECT schema FROM `+metaTable+` WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return index.Schema{}, fmt.Errorf("index %s: %w", name, index.ErrNotFound)
	}
	if err != nil {
		return index.Schema{}, fmt.Errorf("load schema %s: %w", name, err)
	}
	var s index.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return index.Schema{}, fmt.Errorf("decode schema %s: %w", name, err)
	}
	return s, nil
}

func (p *PGIndex) Upsert(ctx context.Context, name string, doc models.BookDocument) error {
	if _, err := p.table(ctx, name); err != nil {
		return err
	}
	_, err := p.db.Pool.Exec(ctx, `
INSERT INTO `+name+` (book_id, title, author, isbn, description, genre, publication_year, content_embedding, collaborative_features)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9::vector)
ON CONFLICT (book_id)
DO UPDATE SET
  title = EXCLUDED.title,
  author = EXCLUDED.author,
  isbn = EXCLUDED.isbn,
  description = EXCLUDED.description,
  genre = EXCLUDED.genre,
  publication_year = EXCLUDED.publication_year,
  content_embedding = EXCLUDED.content_embedding,
  collaborative_features = EXCLUDED.collaborative_features`,
		doc.BookID, doc.Title, doc.Author, doc.ISBN, doc.Description, doc.Genre, doc.PublicationYear,
		pgvector.NewVector(doc.ContentEmbedding), pgvector.NewVector(doc.CollaborativeFeatures),
	)
	if err != nil {
		return fmt.Errorf("upsert book %d: %w", doc.BookID, err)
	}
	return nil
}

func (p *PGIndex) Get(ctx context.Context, name string, bookID int64) (models.BookDocument, error) {
	if _, err := p.table(ctx, name); err != nil {
		return models.BookDocument{}, err
	}
	row := p.db.Pool.QueryRow(ctx, `SELECT `+vector.DocumentColumns+` FROM `+name+` WHERE book_id = $1`, bookID)
	var doc models.BookDocument
	if err := vector.ScanDocument(row, &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BookDocument{}, fmt.Errorf("book %d: %w", bookID, index.ErrNotFound)
		}
		return models.BookDocument{}, fmt.Errorf("get book %d: %w", bookID, err)
	}
	return doc, nil
}

func (p *PGIndex) Count(ctx context.Context, name string) (int, error) {
	if _, err := p.table(ctx, name); err != nil {
		return 0, err
	}
	var n int
	if err := p.db.Pool.QueryRow(ctx, `SELECT count(*) FROM `+name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}

func (p *PGIndex) KNN(ctx context.Context, name, field string, vec []float32, k int) ([]models.SearchHit, error) {
	s, err := p.table(ctx, name)
	if err != nil {
		return nil, err
	}
	dim, err := s.Dimension(field)
	if err != nil {
		return nil, err
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("query vector has length %d, %s expects %d", len(vec), field, dim)
	}
	return p.searcher.KNN(ctx, name, field, s.Metric, vec, k)
}

func (p *PGIndex) TextSearch(ctx context.Context, name, query string, k int) ([]models.SearchHit, error) {
	if _, err := p.table(ctx, name); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	rows, err := p.db.Pool.Query(ctx, `
SELECT `+vector.DocumentColumns+`,
       ts_rank(search_tsv, plainto_tsquery('english', $1)) AS score
FROM `+name+`
WHERE search_tsv @@ plainto_tsquery('english', $1)
ORDER BY score DESC, book_id ASC
LIMIT $2`, query, k)
	if err != nil {
		return nil, fmt.Errorf("text search %s: %w", name, err)
	}
	defer rows.Close()
	hits := make([]models.SearchHit, 0, k)
	for rows.Next() {
		var h models.SearchHit
		if err := vector.ScanDocument(rows, &h.BookDocument, &h.Score); err != nil {
			return nil, fmt.Errorf("scan text hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate text search rows: %w", err)
	}
	return hits, nil
}

// table resolves a recorded index, which also guards name before it is
// spliced into SQL.
func (p *PGIndex) table(ctx context.Context, name string) (index.Schema, error) {
	s, err := p.Schema(ctx, name)
	if err != nil {
		return index.Schema{}, err
	}
	if err := s.Validate(); err != nil {
		return index.Schema{}, err
	}
	return s, nil
}
