package documents

import (
	"fmt"

	"shelfindex/internal/index"
	"shelfindex/internal/models"
	"shelfindex/internal/util"
)

// Builder assembles index documents that match one schema.
type Builder struct {
	schema index.Schema
	// factorDim is the D_f the factor model was trained with.
	factorDim int
}

func NewBuilder(schema index.Schema) (*Builder, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Builder{schema: schema, factorDim: schema.FactorDim}, nil
}

// WithFactorDim records the factor model's D_f. Zero keeps the schema's.
func (b *Builder) WithFactorDim(n int) *Builder {
	if n > 0 {
		b.factorDim = n
	}
	return b
}

func (b *Builder) Schema() index.Schema { return b.schema }

// Build flattens a book and its two vectors. A nil factor means the model
// never saw the book and becomes the zero vector.
func (b *Builder) Build(book models.Book, content, factor []float32) (models.BookDocument, error) {
	if factor == nil {
		factor = make([]float32, b.factorDim)
		if len(factor) != b.schema.FactorDim {
			return models.BookDocument{}, fmt.Errorf("%w: zero factor for book %d has length %d, schema declares %d",
				util.ErrFeature, book.BookID, len(factor), b.schema.FactorDim)
		}
	}
	content, _ = SanitizeVector(content, models.FieldContentEmbedding, book.BookID)
	factor, _ = SanitizeVector(factor, models.FieldCollaborativeFeatures, book.BookID)

	doc := models.BookDocument{
		Book: models.Book{
			BookID:          book.BookID,
			Title:           util.SanitizeText(book.Title),
			Author:          util.SanitizeText(book.Author),
			ISBN:            util.SanitizeText(book.ISBN),
			Description:     util.SanitizeText(book.Description),
			Genre:           util.SanitizeText(book.Genre),
			PublicationYear: book.PublicationYear,
		},
		ContentEmbedding:      content,
		CollaborativeFeatures: factor,
	}
	if err := b.schema.CheckDocument(doc); err != nil {
		return models.BookDocument{}, err
	}
	return doc, nil
}
