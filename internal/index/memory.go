package index

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"shelfindex/internal/models"
	"shelfindex/internal/util"
	"shelfindex/internal/vector"
)

// MemoryStore is an in-process Store with brute-force kNN.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex
}

type memIndex struct {
	schema Schema
	docs   map[int64]models.BookDocument
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indexes: make(map[string]*memIndex)}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok, nil
}

func (s *MemoryStore) Drop(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, name)
	return nil
}

func (s *MemoryStore) Create(_ context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[schema.Name]; ok {
		return fmt.Errorf("index %s already exists", schema.Name)
	}
	s.indexes[schema.Name] = &memIndex{schema: schema, docs: make(map[int64]models.BookDocument)}
	return nil
}

// Schema returns the schema an index was created with.
func (s *MemoryStore) Schema(name string) (Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return Schema{}, false
	}
	return idx.schema, true
}

func (s *MemoryStore) Upsert(_ context.Context, name string, doc models.BookDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	if err := idx.schema.CheckDocument(doc); err != nil {
		return fmt.Errorf("%w: %w", util.ErrDocumentWrite, err)
	}
	doc.ContentEmbedding = slices.Clone(doc.ContentEmbedding)
	doc.CollaborativeFeatures = slices.Clone(doc.CollaborativeFeatures)
	idx.docs[doc.BookID] = doc
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string, bookID int64) (models.BookDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return models.BookDocument{}, fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	doc, ok := idx.docs[bookID]
	if !ok {
		return models.BookDocument{}, fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return 0, fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	return len(idx.docs), nil
}

func (s *MemoryStore) KNN(_ context.Context, name, field string, vec []float32, k int) ([]models.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	dim, err := idx.schema.Dimension(field)
	if err != nil {
		return nil, err
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("query vector has length %d, %s expects %d", len(vec), field, dim)
	}
	hits := make([]models.SearchHit, 0, len(idx.docs))
	for _, doc := range idx.docs {
		target := doc.ContentEmbedding
		if field == models.FieldCollaborativeFeatures {
			target = doc.CollaborativeFeatures
		}
		score, err := vector.Score(idx.schema.Metric, vec, target)
		if err != nil {
			return nil, err
		}
		hits = append(hits, models.SearchHit{BookDocument: doc, Score: score})
	}
	return topK(hits, k), nil
}

// TextSearch scores documents by how many query terms appear in their title,
// author or description.
func (s *MemoryStore) TextSearch(_ context.Context, name, query string, k int) ([]models.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	var hits []models.SearchHit
	for _, doc := range idx.docs {
		text := strings.ToLower(doc.Title + " " + doc.Author + " " + doc.Description)
		score := 0.0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, models.SearchHit{BookDocument: doc, Score: score})
		}
	}
	return topK(hits, k), nil
}

// topK orders by score descending, then book_id, so ties are stable.
func topK(hits []models.SearchHit, k int) []models.SearchHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].BookID < hits[j].BookID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
