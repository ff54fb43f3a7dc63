package activities

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"shelfindex/internal/config"
	"shelfindex/internal/index"
	"shelfindex/internal/metrics"
	"shelfindex/internal/models"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/providers"
	"shelfindex/internal/util"
)

func TestStageErrorRetryability(t *testing.T) {
	tests := []struct {
		err          error
		kind         string
		nonRetryable bool
	}{
		{fmt.Errorf("%w: no such file", util.ErrDataLoad), util.KindDataLoad, true},
		{fmt.Errorf("%w: bad metric", util.ErrSchema), util.KindSchema, true},
		{fmt.Errorf("%w: wrong dim", util.ErrFeature), util.KindFeature, true},
		{fmt.Errorf("%w: refused", util.ErrConnection), util.KindConnection, false},
		{errors.New("disk full"), util.KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			var appErr *temporal.ApplicationError
			require.ErrorAs(t, stageError(tt.err), &appErr)
			require.Equal(t, tt.kind, appErr.Type())
			require.Equal(t, tt.nonRetryable, appErr.NonRetryable())
		})
	}
	require.NoError(t, stageError(nil))
}

type downStore struct{ *index.MemoryStore }

func (downStore) Ping(context.Context) error {
	return fmt.Errorf("%w: dial tcp 127.0.0.1:5432: connection refused", util.ErrConnection)
}

func newActivities(t *testing.T, store index.Store) *Activities {
	t.Helper()
	pm := providers.NewManagerWithProviders([]providers.NamedEmbedProvider{
		{Ref: providers.ProviderRef{Raw: "mock", Name: "mock"}, Provider: providers.NewMockProvider(4)},
	}, providers.ManagerOptions{})
	a, err := New(config.Config{DataOutRoot: t.TempDir(), FactorAlgorithm: "svd", FactorEpochs: 5, FactorLearningRate: 0.005, FactorInitStd: 0.1, ImplicitRating: 4}, store, pm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestConnectIndexActivity(t *testing.T) {
	a := newActivities(t, index.NewMemoryStore())
	out, err := a.ConnectIndexActivity(context.Background(), ConnectIndexInput{RunID: "r"})
	require.NoError(t, err)
	require.Equal(t, "mock", out.Provider)

	out, err = a.ConnectIndexActivity(context.Background(), ConnectIndexInput{RunID: "r", Provider: "mock"})
	require.NoError(t, err)
	require.Equal(t, "mock", out.Provider)

	_, err = a.ConnectIndexActivity(context.Background(), ConnectIndexInput{RunID: "r", Provider: "ollama"})
	require.Error(t, err)
}

func TestConnectIndexActivityStoreDown(t *testing.T) {
	a := newActivities(t, downStore{index.NewMemoryStore()})
	_, err := a.ConnectIndexActivity(context.Background(), ConnectIndexInput{RunID: "r"})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, util.KindConnection, appErr.Type())
	require.False(t, appErr.NonRetryable())
}

func TestStagedArtifactsFlowBetweenActivities(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "books.csv")
	rentalsPath := filepath.Join(dir, "rentals.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte("book_id,title,author,isbn,description,genre,publication_year\n1,A,X,1,First.,G,2000\n2,B,Y,2,,G,2001\n"), 0o644))
	require.NoError(t, os.WriteFile(rentalsPath, []byte("user_id,book_id,checkout_date,return_date\nu1,1,2024-01-01,\n"), 0o644))

	store := index.NewMemoryStore()
	a := newActivities(t, store)
	schema := index.Schema{Name: "books", ContentDim: 4, FactorDim: 3, Metric: "cosine", ANN: index.ANNParams{Method: index.MethodHNSW, M: 16, EfConstruction: 64}}

	require.NoError(t, a.RebuildSchemaActivity(ctx, RebuildSchemaInput{RunID: "r", Schema: schema}))
	loaded, err := a.LoadCatalogActivity(ctx, LoadCatalogInput{RunID: "r", CatalogPath: catalogPath, InteractionsPath: rentalsPath})
	require.NoError(t, err)
	require.Equal(t, LoadCatalogOutput{Books: 2, Interactions: 1}, loaded)

	embedded, err := a.EmbedContentActivity(ctx, EmbedContentInput{RunID: "r", Provider: "mock", ContentDim: 4, BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, 2, embedded.Embedded)

	est, err := a.EstimateFactorsActivity(ctx, EstimateFactorsInput{RunID: "r", FactorDim: 3})
	require.NoError(t, err)
	require.Equal(t, EstimateFactorsOutput{Books: 2, ColdStart: 1, FactorDim: 3}, est)

	out, err := a.IndexDocumentsActivity(ctx, IndexDocumentsInput{RunID: "r", Schema: schema, Workers: 1})
	require.NoError(t, err)
	require.Equal(t, 2, out.Indexed)
	require.Equal(t, 2, out.Count)

	doc, err := store.Get(ctx, "books", 2)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0, 0}, doc.CollaborativeFeatures)
}

func TestEmbedContentActivityWrongDimensionIsFeatureError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "books.csv")
	rentalsPath := filepath.Join(dir, "rentals.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte("book_id,title,author,isbn,description,genre,publication_year\n1,A,X,1,First.,G,2000\n"), 0o644))
	require.NoError(t, os.WriteFile(rentalsPath, []byte("user_id,book_id,checkout_date,return_date\nu1,1,2024-01-01,\n"), 0o644))

	a := newActivities(t, index.NewMemoryStore())
	_, err := a.LoadCatalogActivity(ctx, LoadCatalogInput{RunID: "r", CatalogPath: catalogPath, InteractionsPath: rentalsPath})
	require.NoError(t, err)

	fixed := &fixedDimProvider{dim: 2}
	a.providers = providers.NewManagerWithProviders([]providers.NamedEmbedProvider{
		{Ref: providers.ProviderRef{Raw: "ollama", Name: "ollama"}, Provider: fixed},
	}, providers.ManagerOptions{})
	_, err = a.EmbedContentActivity(ctx, EmbedContentInput{RunID: "r", Provider: "ollama", ContentDim: 4, BatchSize: 8})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, util.KindFeature, appErr.Type())
	require.True(t, appErr.NonRetryable())
}

type fixedDimProvider struct{ dim int }

func (p *fixedDimProvider) Embed(_ context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	out := make([][]float32, len(req.Inputs))
	for i := range out {
		out[i] = make([]float32, p.dim)
	}
	return out, p.Info(), nil
}

func (p *fixedDimProvider) Ping(context.Context) error { return nil }

func (p *fixedDimProvider) Info() providers.ProviderInfo {
	return providers.ProviderInfo{Name: "ollama", Model: "fixed"}
}

type recorder struct {
	got []pipeline.Summary
	err error
}

func (r *recorder) RecordRun(_ context.Context, s pipeline.Summary) error {
	r.got = append(r.got, s)
	return r.err
}

func TestWriteSummaryActivityRecordsRun(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{err: errors.New("runs table locked")}
	a := newActivities(t, index.NewMemoryStore()).WithRunRecorder(rec)

	s := pipeline.Summary{RunID: "r1", Index: "books", Status: pipeline.SummaryCompleted, BooksProcessed: 2, Indexed: 2}
	require.NoError(t, a.WriteSummaryActivity(ctx, WriteSummaryInput{Summary: s}))
	require.Equal(t, []pipeline.Summary{s}, rec.got)

	var written pipeline.Summary
	require.NoError(t, util.ReadJSON(a.artifact("r1", summaryArtifact), &written))
	require.Equal(t, s.RunID, written.RunID)
	require.Equal(t, s.Indexed, written.Indexed)
}

// nanProvider returns a NaN in the first slot for descriptions that mention
// "poison" and a plain unit vector otherwise.
type nanProvider struct{ dim int }

func (p *nanProvider) Embed(_ context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	out := make([][]float32, len(req.Inputs))
	for i, text := range req.Inputs {
		v := make([]float32, p.dim)
		v[p.dim-1] = 1
		if strings.Contains(text, "poison") {
			v[0] = float32(math.NaN())
		}
		out[i] = v
	}
	return out, p.Info(), nil
}

func (p *nanProvider) Ping(context.Context) error { return nil }

func (p *nanProvider) Info() providers.ProviderInfo {
	return providers.ProviderInfo{Name: "ollama", Model: "nan"}
}

func TestNonFiniteVectorsAreIndexedAsZeros(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "books.csv")
	rentalsPath := filepath.Join(dir, "rentals.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte("book_id,title,author,isbn,description,genre,publication_year\n1,A,X,1,A poison pen.,G,2000\n2,B,Y,2,Clean.,G,2001\n"), 0o644))
	require.NoError(t, os.WriteFile(rentalsPath, []byte("user_id,book_id,checkout_date,return_date\nu1,1,2024-01-01,\n"), 0o644))

	store := index.NewMemoryStore()
	a := newActivities(t, store)
	a.providers = providers.NewManagerWithProviders([]providers.NamedEmbedProvider{
		{Ref: providers.ProviderRef{Raw: "ollama", Name: "ollama"}, Provider: &nanProvider{dim: 4}},
	}, providers.ManagerOptions{})
	schema := index.Schema{Name: "books", ContentDim: 4, FactorDim: 3, Metric: "cosine", ANN: index.ANNParams{Method: index.MethodHNSW, M: 16, EfConstruction: 64}}

	require.NoError(t, a.RebuildSchemaActivity(ctx, RebuildSchemaInput{RunID: "r", Schema: schema}))
	_, err := a.LoadCatalogActivity(ctx, LoadCatalogInput{RunID: "r", CatalogPath: catalogPath, InteractionsPath: rentalsPath})
	require.NoError(t, err)
	_, err = a.EmbedContentActivity(ctx, EmbedContentInput{RunID: "r", Provider: "ollama", ContentDim: 4, BatchSize: 8})
	require.NoError(t, err)
	est, err := a.EstimateFactorsActivity(ctx, EstimateFactorsInput{RunID: "r", FactorDim: 3})
	require.NoError(t, err)

	// Diverged model output for book 1.
	require.NoError(t, util.WriteJSONAtomic(a.artifact("r", factorsArtifact), []factorRow{
		{BookID: 1, Factors: util.StagedVector{float32(math.NaN()), float32(math.Inf(1)), 0.5}},
		{BookID: 2, Factors: util.StagedVector{0, 0, 0}},
	}))

	before := testutil.ToFloat64(metrics.SanitizedValues.WithLabelValues(models.FieldContentEmbedding))
	out, err := a.IndexDocumentsActivity(ctx, IndexDocumentsInput{RunID: "r", Schema: schema, Workers: 1, FactorDim: est.FactorDim})
	require.NoError(t, err)
	require.Equal(t, 2, out.Indexed)
	require.Zero(t, out.Failed)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.SanitizedValues.WithLabelValues(models.FieldContentEmbedding)))

	doc, err := store.Get(ctx, "books", 1)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0, 0, 1}, doc.ContentEmbedding)
	require.Equal(t, []float32{0, 0, 0.5}, doc.CollaborativeFeatures)
}

func TestIndexDocumentsActivityCorruptArtifactIsDataLoadError(t *testing.T) {
	ctx := context.Background()
	a := newActivities(t, index.NewMemoryStore())
	schema := index.Schema{Name: "books", ContentDim: 4, FactorDim: 3, Metric: "cosine", ANN: index.ANNParams{Method: index.MethodHNSW, M: 16, EfConstruction: 64}}
	require.NoError(t, util.WriteJSONAtomic(a.artifact("r", catalogArtifact), map[string]any{"Books": []any{}}))
	require.NoError(t, os.WriteFile(a.artifact("r", embeddingsArtifact), []byte("{not json\n"), 0o644))

	_, err := a.IndexDocumentsActivity(ctx, IndexDocumentsInput{RunID: "r", Schema: schema, Workers: 1})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, util.KindDataLoad, appErr.Type())
	require.True(t, appErr.NonRetryable())
}
