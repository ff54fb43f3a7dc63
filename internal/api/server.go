package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"shelfindex/internal/config"
	"shelfindex/internal/index"
	"shelfindex/internal/logging"
	"shelfindex/internal/models"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/storage"
	"shelfindex/internal/workflows"
)

const (
	historyDepth      = 3
	similarPerHistory = 3
	defaultK          = 5
	maxK              = 100
	workflowIDPrefix  = "index-rebuild-"
	requestsPerMinute = 120
)

// WorkflowClient is the part of the Temporal client the API uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow any, args ...any) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...any) (converter.EncodedValue, error)
}

// HistoryReader returns a user's most recent rentals.
type HistoryReader interface {
	UserHistory(ctx context.Context, path, userID string, n int) ([]models.Interaction, error)
}

// RunLister returns finished rebuilds, newest first.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

type Server struct {
	cfg      config.Config
	store    index.Store
	history  HistoryReader
	temporal WorkflowClient
	runs     RunLister
}

func NewServer(cfg config.Config, store index.Store, history HistoryReader, tc WorkflowClient) *Server {
	return &Server{cfg: cfg, store: store, history: history, temporal: tc}
}

// WithRuns enables GET /index/runs.
func (s *Server) WithRuns(runs RunLister) *Server {
	s.runs = runs
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(requestsPerMinute, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/index/runs", s.handleRuns)
	r.Route("/index/rebuild", func(r chi.Router) {
		r.Post("/", s.handleStartRebuild)
		r.Get("/{runID}", s.handleRebuildStatus)
	})
	r.Get("/books/search", s.handleSearch)
	r.Get("/books/{bookID}", s.handleGetBook)
	r.Get("/books/{bookID}/similar", s.handleSimilar)
	r.Get("/users/{userID}/recommendations", s.handleRecommendations)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type rebuildRequest struct {
	CatalogPath      string `json:"catalog_path"`
	InteractionsPath string `json:"interactions_path"`
	Provider         string `json:"provider"`
}

func (s *Server) handleStartRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}
	input := RebuildInput(s.cfg, uuid.NewString())
	if p := strings.TrimSpace(req.CatalogPath); p != "" {
		input.CatalogPath = p
	}
	if p := strings.TrimSpace(req.InteractionsPath); p != "" {
		input.InteractionsPath = p
	}
	input.Provider = strings.TrimSpace(req.Provider)

	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       WorkflowID(input.RunID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.IndexRebuildWorkflow, input)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	logging.Info().Str("run_id", input.RunID).Str("workflow_id", we.GetID()).Msg("index rebuild started")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      input.RunID,
		"workflow_id": we.GetID(),
		"temporal_run_id": we.GetRunID(),
	})
}

// RebuildInput is the workflow input for a rebuild using configured paths
// and schema.
func RebuildInput(cfg config.Config, runID string) workflows.IndexRebuildInput {
	return workflows.IndexRebuildInput{
		RunID:            runID,
		Schema:           index.SchemaFromConfig(cfg),
		CatalogPath:      cfg.CatalogPath,
		InteractionsPath: cfg.InteractionsPath,
		BatchSize:        cfg.EmbedBatchSize,
		Workers:          cfg.IndexWorkers,
	}
}

func WorkflowID(runID string) string {
	return workflowIDPrefix + runID
}

func (s *Server) handleRebuildStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	val, err := s.temporal.QueryWorkflow(r.Context(), WorkflowID(runID), "", workflows.QueryGetRebuildStatus)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var status pipeline.Status
	if err := val.Get(&status); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("run history is not kept by the %s backend", s.cfg.IndexBackend))
		return
	}
	k, err := parseK(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	runs, err := s.runs.RecentRuns(r.Context(), k)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil || bookID <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid book_id"))
		return
	}
	doc, err := s.store.Get(r.Context(), s.cfg.IndexName, bookID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil || bookID <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid book_id"))
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = models.FieldContentEmbedding
	}
	if field != models.FieldContentEmbedding && field != models.FieldCollaborativeFeatures {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("field must be content_embedding or collaborative_features"))
		return
	}
	k, err := parseK(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	doc, err := s.store.Get(r.Context(), s.cfg.IndexName, bookID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	vec := doc.ContentEmbedding
	if field == models.FieldCollaborativeFeatures {
		vec = doc.CollaborativeFeatures
	}
	hits, err := s.store.KNN(r.Context(), s.cfg.IndexName, field, vec, k+1)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	out := make([]bookView, 0, k)
	for _, h := range hits {
		if h.BookID == bookID || len(out) == k {
			continue
		}
		out = append(out, viewOf(h.Book, h.Score, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{"book_id": bookID, "field": field, "results": out})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	k, err := parseK(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	hits, err := s.store.TextSearch(r.Context(), s.cfg.IndexName, q, k)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	out := make([]bookView, 0, len(hits))
	for _, h := range hits {
		out = append(out, viewOf(h.Book, h.Score, q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": out})
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, index.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeErr(w, http.StatusInternalServerError, err)
}

func parseK(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("k")
	if raw == "" {
		return defaultK, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k <= 0 || k > maxK {
		return 0, fmt.Errorf("k must be between 1 and %d", maxK)
	}
	return k, nil
}
