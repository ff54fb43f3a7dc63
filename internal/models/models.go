package models

import "time"

type Book struct {
	BookID          int64  `json:"book_id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Description     string `json:"description"`
	Genre           string `json:"genre"`
	PublicationYear int    `json:"publication_year"`
}

// Interaction is one rental. ReturnDate is nil while the book is still out
// and may be in the future for an active rental.
type Interaction struct {
	UserID       string     `json:"user_id"`
	BookID       int64      `json:"book_id"`
	CheckoutDate time.Time  `json:"checkout_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty"`
}

const (
	FieldContentEmbedding      = "content_embedding"
	FieldCollaborativeFeatures = "collaborative_features"
)

type BookDocument struct {
	Book
	ContentEmbedding      []float32 `json:"content_embedding"`
	CollaborativeFeatures []float32 `json:"collaborative_features"`
}

type SearchHit struct {
	BookDocument
	Score float64 `json:"score"`
}
