package documents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"shelfindex/internal/index"
	"shelfindex/internal/logging"
	"shelfindex/internal/metrics"
	"shelfindex/internal/models"
	"shelfindex/internal/util"
)

type Result struct {
	Indexed       int     `json:"indexed"`
	Failed        int     `json:"failed"`
	FailedBookIDs []int64 `json:"failed_book_ids,omitempty"`
}

// Loader upserts documents, counting per-document failures instead of
// stopping on them.
type Loader struct {
	store   index.Store
	index   string
	workers int
}

func NewLoader(store index.Store, indexName string, workers int) *Loader {
	if workers <= 0 {
		workers = 1
	}
	return &Loader{store: store, index: indexName, workers: workers}
}

// Input is one book with its computed vectors. Factor is nil for cold-start
// books.
type Input struct {
	Book    models.Book
	Content []float32
	Factor  []float32
}

// Load upserts ready documents.
func (l *Loader) Load(ctx context.Context, docs []models.BookDocument) (Result, error) {
	return l.run(ctx, len(docs), func(i int) (int64, error) {
		return docs[i].BookID, l.upsert(ctx, docs[i])
	})
}

// BuildAndLoad builds each document with b and upserts it. A build failure
// counts against that book only.
func (l *Loader) BuildAndLoad(ctx context.Context, b *Builder, inputs []Input) (Result, error) {
	return l.run(ctx, len(inputs), func(i int) (int64, error) {
		in := inputs[i]
		doc, err := b.Build(in.Book, in.Content, in.Factor)
		if err != nil {
			return in.Book.BookID, fmt.Errorf("%w: build book %d: %w", util.ErrDocumentWrite, in.Book.BookID, err)
		}
		return in.Book.BookID, l.upsert(ctx, doc)
	})
}

func (l *Loader) upsert(ctx context.Context, doc models.BookDocument) error {
	if err := l.store.Upsert(ctx, l.index, doc); err != nil {
		if errors.Is(err, util.ErrDocumentWrite) {
			return err
		}
		return fmt.Errorf("%w: %w", util.ErrDocumentWrite, err)
	}
	return nil
}

func (l *Loader) run(ctx context.Context, n int, one func(i int) (int64, error)) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bookID, err := one(i)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.FailedBookIDs = append(res.FailedBookIDs, bookID)
				metrics.DocumentsFailed.Inc()
				logging.Error().Err(err).Int64("book_id", bookID).Str("index", l.index).Msg("document write failed")
				return nil
			}
			res.Indexed++
			metrics.DocumentsIndexed.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	slices.Sort(res.FailedBookIDs)
	return res, nil
}
