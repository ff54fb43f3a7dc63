package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/mocks"

	"shelfindex/internal/config"
	"shelfindex/internal/index"
	"shelfindex/internal/models"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/storage"
	"shelfindex/internal/workflows"
)

type fakeHistory struct {
	rentals map[string][]models.Interaction
	err     error
}

func (f fakeHistory) UserHistory(_ context.Context, _ string, userID string, n int) ([]models.Interaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	all := f.rentals[userID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

type statusValue struct{ status pipeline.Status }

func (v statusValue) HasValue() bool { return true }

func (v statusValue) Get(ptr any) error {
	out, ok := ptr.(*pipeline.Status)
	if !ok {
		return errors.New("unexpected target")
	}
	*out = v.status
	return nil
}

type fakeTemporal struct {
	started   []tclient.StartWorkflowOptions
	inputs    []workflows.IndexRebuildInput
	startErr  error
	statuses  map[string]pipeline.Status
	queryType string
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, opts tclient.StartWorkflowOptions, _ any, args ...any) (tclient.WorkflowRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, opts)
	f.inputs = append(f.inputs, args[0].(workflows.IndexRebuildInput))
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return(opts.ID)
	run.On("GetRunID").Return("temporal-run-1")
	return run, nil
}

func (f *fakeTemporal) QueryWorkflow(_ context.Context, workflowID, _ string, queryType string, _ ...any) (converter.EncodedValue, error) {
	f.queryType = queryType
	st, ok := f.statuses[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return statusValue{status: st}, nil
}

type downStore struct{ *index.MemoryStore }

func (downStore) Ping(context.Context) error {
	return errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func testConfig() config.Config {
	return config.Config{
		TemporalTaskQueue:  "shelfindex-test",
		CatalogPath:        "data/book_catalog.csv",
		InteractionsPath:   "data/rental_history.csv",
		IndexName:          "books",
		ContentDim:         3,
		FactorDim:          2,
		Metric:             "cosine",
		ANNMethod:          "hnsw",
		HNSWM:              16,
		HNSWEfConstruction: 64,
		EmbedBatchSize:     8,
		IndexWorkers:       2,
	}
}

func seededStore(t *testing.T, cfg config.Config) *index.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := index.NewMemoryStore()
	require.NoError(t, index.NewSchemaManager(store).Rebuild(ctx, index.SchemaFromConfig(cfg)))

	books := []struct {
		id      int64
		title   string
		desc    string
		content []float32
	}{
		{1, "Dune", "Desert planet politics. A dune sea of spice.", []float32{1, 0, 0}},
		{2, "Dune Messiah", "The emperor of the dune world doubts himself.", []float32{0.9, 0.1, 0}},
		{3, "Foundation", "An empire falls and a plan survives.", []float32{0.8, 0.2, 0}},
		{4, "Emma", "A matchmaker meddles in village romance.", []float32{0, 1, 0}},
		{5, "Persuasion", "A second chance at love.", []float32{0, 0.9, 0.1}},
		{6, "Hyperion", "Pilgrims travel to the time tombs.", []float32{0.7, 0.3, 0}},
	}
	for _, b := range books {
		require.NoError(t, store.Upsert(ctx, cfg.IndexName, models.BookDocument{
			Book:                  models.Book{BookID: b.id, Title: b.title, Description: b.desc},
			ContentEmbedding:      b.content,
			CollaborativeFeatures: []float32{0, 0},
		}))
	}
	return store
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func ids(t *testing.T, list any) []int64 {
	t.Helper()
	items, ok := list.([]any)
	require.True(t, ok)
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, int64(it.(map[string]any)["book_id"].(float64)))
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *fakeTemporal) {
	cfg := testConfig()
	tc := &fakeTemporal{statuses: map[string]pipeline.Status{}}
	hist := fakeHistory{rentals: map[string][]models.Interaction{
		"u1": {{UserID: "u1", BookID: 1}, {UserID: "u1", BookID: 4}},
		"u2": {{UserID: "u2", BookID: 99}},
	}}
	return NewServer(cfg, seededStore(t, cfg), hist, tc), tc
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := do(t, s.Routes(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ok"])

	cfg := testConfig()
	down := NewServer(cfg, downStore{index.NewMemoryStore()}, fakeHistory{}, &fakeTemporal{})
	rec, body = do(t, down.Routes(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "SI-IDX-5030", body["error"].(map[string]any)["code"])
}

func TestStartRebuild(t *testing.T) {
	s, tc := newTestServer(t)
	rec, body := do(t, s.Routes(), http.MethodPost, "/index/rebuild/", `{"provider":"mock","catalog_path":"/tmp/books.csv"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, tc.started, 1)
	runID := body["run_id"].(string)
	require.NotEmpty(t, runID)
	require.Equal(t, "index-rebuild-"+runID, tc.started[0].ID)
	require.Equal(t, "index-rebuild-"+runID, body["workflow_id"])
	require.Equal(t, "temporal-run-1", body["temporal_run_id"])
	require.Equal(t, "shelfindex-test", tc.started[0].TaskQueue)

	in := tc.inputs[0]
	require.Equal(t, runID, in.RunID)
	require.Equal(t, "mock", in.Provider)
	require.Equal(t, "/tmp/books.csv", in.CatalogPath)
	require.Equal(t, "data/rental_history.csv", in.InteractionsPath)
	require.Equal(t, 3, in.Schema.ContentDim)
	require.Equal(t, 2, in.Schema.FactorDim)
}

func TestStartRebuildErrors(t *testing.T) {
	s, tc := newTestServer(t)
	rec, body := do(t, s.Routes(), http.MethodPost, "/index/rebuild/", `{"provider":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Malformed JSON request body.", body["error"].(map[string]any)["message"])

	tc.startErr = errors.New("temporal unavailable")
	rec, body = do(t, s.Routes(), http.MethodPost, "/index/rebuild/", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "SI-API-5020", body["error"].(map[string]any)["code"])
}

func TestRebuildStatus(t *testing.T) {
	s, tc := newTestServer(t)
	st := pipeline.NewStatus("r1", time.Unix(0, 0).UTC())
	require.NoError(t, st.Advance(pipeline.StateConnectingIndex, time.Unix(1, 0).UTC()))
	tc.statuses[WorkflowID("r1")] = *st

	rec, body := do(t, s.Routes(), http.MethodGet, "/index/rebuild/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, workflows.QueryGetRebuildStatus, tc.queryType)
	require.Equal(t, "r1", body["run_id"])

	rec, _ = do(t, s.Routes(), http.MethodGet, "/index/rebuild/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBook(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		target string
		code   int
	}{
		{name: "found", target: "/books/3", code: http.StatusOK},
		{name: "missing", target: "/books/42", code: http.StatusNotFound},
		{name: "bad id", target: "/books/abc", code: http.StatusBadRequest},
		{name: "zero id", target: "/books/0", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, s.Routes(), http.MethodGet, tt.target, "")
			require.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				require.Equal(t, "Foundation", body["title"])
			}
		})
	}
}

func TestSimilarExcludesSelf(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := do(t, s.Routes(), http.MethodGet, "/books/1/similar?k=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{2, 3}, ids(t, body["results"]))

	rec, _ = do(t, s.Routes(), http.MethodGet, "/books/1/similar?field=title", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, s.Routes(), http.MethodGet, "/books/1/similar?k=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := do(t, s.Routes(), http.MethodGet, "/books/search?q=dune", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := ids(t, body["results"])
	require.ElementsMatch(t, []int64{1, 2}, got)

	rec, _ = do(t, s.Routes(), http.MethodGet, "/books/search", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecommendations(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := do(t, s.Routes(), http.MethodGet, "/users/u1/recommendations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{1, 4}, ids(t, body["history"]))

	recs := body["recommendations"].([]any)
	require.Equal(t, []int64{2, 3, 5, 6}, ids(t, recs))
	because := make([]int64, 0, len(recs))
	for _, r := range recs {
		because = append(because, int64(r.(map[string]any)["because_you_read"].(float64)))
	}
	require.Equal(t, []int64{1, 1, 4, 4}, because)

	rec, body = do(t, s.Routes(), http.MethodGet, "/users/u1/recommendations?k=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{2, 3}, ids(t, body["recommendations"]))
}

func TestRecommendationsWithoutHistory(t *testing.T) {
	s, _ := newTestServer(t)
	for _, user := range []string{"u2", "nobody"} {
		t.Run(user, func(t *testing.T) {
			rec, body := do(t, s.Routes(), http.MethodGet, "/users/"+user+"/recommendations", "")
			require.Equal(t, http.StatusNotFound, rec.Code)
			require.Equal(t, "No reading history found for this user.", body["error"].(map[string]any)["message"])
		})
	}
}

func TestToAPIErrorHidesInternalDetail(t *testing.T) {
	e := toAPIError(http.StatusInternalServerError, errors.New(`ERROR: relation "books" does not exist`))
	require.Equal(t, "SI-IDX-5001", e.Code)
	e = toAPIError(http.StatusInternalServerError, errors.New("boom: secret detail"))
	require.Equal(t, "SI-API-5000", e.Code)
	require.NotContains(t, e.Message, "secret")
}

type fakeRuns struct{ records []storage.RunRecord }

func (f fakeRuns) RecentRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestRuns(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := do(t, s.Routes(), http.MethodGet, "/index/runs", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	s.WithRuns(fakeRuns{records: []storage.RunRecord{
		{Summary: pipeline.Summary{RunID: "r2", Status: pipeline.SummaryCompleted}},
		{Summary: pipeline.Summary{RunID: "r1", Status: pipeline.SummaryFailed}},
	}})
	rec, body := do(t, s.Routes(), http.MethodGet, "/index/runs?k=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	require.Equal(t, "r2", runs[0].(map[string]any)["summary"].(map[string]any)["run_id"])
}
