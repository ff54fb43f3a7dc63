package activities

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/temporal"

	"shelfindex/internal/catalog"
	"shelfindex/internal/config"
	"shelfindex/internal/documents"
	"shelfindex/internal/factors"
	"shelfindex/internal/index"
	"shelfindex/internal/logging"
	"shelfindex/internal/metrics"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/providers"
	"shelfindex/internal/util"
)

const (
	catalogArtifact    = "catalog.json"
	embeddingsArtifact = "content_embeddings.jsonl"
	factorsArtifact    = "factors.json"
	summaryArtifact    = "summary.json"
)

// Activities runs the pipeline stages. Stage outputs are staged as files
// under <data_out>/runs/<run_id>/ so workflow payloads stay small.
type Activities struct {
	cfg       config.Config
	store     index.Store
	catalog   *catalog.Loader
	providers *providers.Manager
	runs      RunRecorder
}

// RunRecorder keeps a history of finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, s pipeline.Summary) error
}

func New(cfg config.Config, store index.Store, pm *providers.Manager) (*Activities, error) {
	loader, err := catalog.NewLoader()
	if err != nil {
		return nil, err
	}
	return &Activities{cfg: cfg, store: store, catalog: loader, providers: pm}, nil
}

// WithRunRecorder makes WriteSummaryActivity also record each summary.
func (a *Activities) WithRunRecorder(r RunRecorder) *Activities {
	a.runs = r
	return a
}

func (a *Activities) Close() error {
	return a.catalog.Close()
}

func (a *Activities) ConnectIndexActivity(ctx context.Context, in ConnectIndexInput) (ConnectIndexOutput, error) {
	done := a.stage(in.RunID, pipeline.StateConnectingIndex)
	if err := a.store.Ping(ctx); err != nil {
		return ConnectIndexOutput{}, done(stageError(err))
	}
	if in.Provider != "" {
		if err := a.providers.Ping(ctx, in.Provider); err != nil {
			return ConnectIndexOutput{}, done(stageError(err))
		}
		idx := a.providers.FindEmbedProviderIndex(in.Provider)
		ref := a.providers.EmbedProviderRefs()[idx]
		return ConnectIndexOutput{Provider: ref.Raw}, done(nil)
	}
	ref, info, err := a.providers.Select(ctx)
	if err != nil {
		return ConnectIndexOutput{}, done(stageError(err))
	}
	logging.Info().Str("run_id", in.RunID).Str("provider", ref.Raw).Str("model", info.Model).Msg("embedding provider selected")
	return ConnectIndexOutput{Provider: ref.Raw, ProviderInfo: info}, done(nil)
}

func (a *Activities) RebuildSchemaActivity(ctx context.Context, in RebuildSchemaInput) error {
	done := a.stage(in.RunID, pipeline.StateSchemaRebuilt)
	if err := index.NewSchemaManager(a.store).Rebuild(ctx, in.Schema); err != nil {
		return done(stageError(err))
	}
	return done(nil)
}

func (a *Activities) LoadCatalogActivity(ctx context.Context, in LoadCatalogInput) (LoadCatalogOutput, error) {
	done := a.stage(in.RunID, pipeline.StateLoaded)
	tables, err := a.catalog.Load(ctx, in.CatalogPath, in.InteractionsPath)
	if err != nil {
		return LoadCatalogOutput{}, done(stageError(err))
	}
	if err := util.WriteJSONAtomic(a.artifact(in.RunID, catalogArtifact), tables); err != nil {
		return LoadCatalogOutput{}, done(stageError(err))
	}
	out := LoadCatalogOutput{
		Books:              len(tables.Books),
		Interactions:       len(tables.Interactions),
		OrphanInteractions: tables.OrphanInteractions,
	}
	logging.Info().
		Str("run_id", in.RunID).
		Int("books", out.Books).
		Int("interactions", out.Interactions).
		Int("orphan_interactions", out.OrphanInteractions).
		Msg("catalog loaded")
	return out, done(nil)
}

func (a *Activities) EmbedContentActivity(ctx context.Context, in EmbedContentInput) (EmbedContentOutput, error) {
	done := a.stage(in.RunID, pipeline.StateEmbeddingContent)
	tables, err := a.readCatalog(in.RunID)
	if err != nil {
		return EmbedContentOutput{}, done(stageError(err))
	}
	embedder, err := providers.NewContentEmbedder(a.providers, in.Provider, in.ContentDim, in.BatchSize)
	if err != nil {
		return EmbedContentOutput{}, done(stageError(err))
	}
	descriptions := make([]string, len(tables.Books))
	for i, b := range tables.Books {
		descriptions[i] = b.Description
	}
	vectors, err := embedder.Embed(ctx, descriptions)
	if err != nil {
		return EmbedContentOutput{}, done(stageError(err))
	}
	err = util.WriteJSONLinesAtomic(a.artifact(in.RunID, embeddingsArtifact), func(emit func(v any) error) error {
		for i, b := range tables.Books {
			if err := emit(embeddingRow{BookID: b.BookID, Vector: vectors[i]}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return EmbedContentOutput{}, done(stageError(err))
	}
	logging.Info().Str("run_id", in.RunID).Int("embedded", len(vectors)).Str("provider", in.Provider).Msg("content embeddings generated")
	return EmbedContentOutput{Embedded: len(vectors), Provider: in.Provider}, done(nil)
}

func (a *Activities) EstimateFactorsActivity(ctx context.Context, in EstimateFactorsInput) (EstimateFactorsOutput, error) {
	done := a.stage(in.RunID, pipeline.StateEstimatingFactors)
	tables, err := a.readCatalog(in.RunID)
	if err != nil {
		return EstimateFactorsOutput{}, done(stageError(err))
	}
	cfg := a.factorConfig()
	cfg.Factors = in.FactorDim
	est, err := factors.New(cfg)
	if err != nil {
		return EstimateFactorsOutput{}, done(stageError(err))
	}
	vecs, err := est.Estimate(ctx, tables.Interactions, tables.Books)
	if err != nil {
		return EstimateFactorsOutput{}, done(stageError(err))
	}

	seen := make(map[int64]struct{}, len(tables.Interactions))
	for _, it := range tables.Interactions {
		seen[it.BookID] = struct{}{}
	}
	rows := make([]factorRow, 0, len(tables.Books))
	cold := 0
	for _, b := range tables.Books {
		if _, ok := seen[b.BookID]; !ok {
			cold++
		}
		rows = append(rows, factorRow{BookID: b.BookID, Factors: vecs[b.BookID]})
	}
	if err := util.WriteJSONAtomic(a.artifact(in.RunID, factorsArtifact), rows); err != nil {
		return EstimateFactorsOutput{}, done(stageError(err))
	}
	return EstimateFactorsOutput{Books: len(rows), ColdStart: cold, FactorDim: est.Factors()}, done(nil)
}

func (a *Activities) IndexDocumentsActivity(ctx context.Context, in IndexDocumentsInput) (IndexDocumentsOutput, error) {
	done := a.stage(in.RunID, pipeline.StateIndexing)
	builder, err := documents.NewBuilder(in.Schema)
	if err != nil {
		return IndexDocumentsOutput{}, done(stageError(err))
	}
	builder.WithFactorDim(in.FactorDim)
	tables, err := a.readCatalog(in.RunID)
	if err != nil {
		return IndexDocumentsOutput{}, done(stageError(err))
	}
	content := make(map[int64][]float32, len(tables.Books))
	err = util.ReadJSONLines(a.artifact(in.RunID, embeddingsArtifact), func(line []byte) error {
		var row embeddingRow
		if err := util.DecodeJSON(line, &row); err != nil {
			return err
		}
		content[row.BookID] = row.Vector
		return nil
	})
	if err != nil {
		return IndexDocumentsOutput{}, done(stageError(fmt.Errorf("%w: read staged content embeddings: %w", util.ErrDataLoad, err)))
	}
	var rows []factorRow
	if err := util.ReadJSON(a.artifact(in.RunID, factorsArtifact), &rows); err != nil {
		return IndexDocumentsOutput{}, done(stageError(fmt.Errorf("%w: read staged factors: %w", util.ErrDataLoad, err)))
	}
	factorsByBook := make(map[int64][]float32, len(rows))
	for _, r := range rows {
		factorsByBook[r.BookID] = r.Factors
	}

	inputs := make([]documents.Input, 0, len(tables.Books))
	for _, b := range tables.Books {
		inputs = append(inputs, documents.Input{Book: b, Content: content[b.BookID], Factor: factorsByBook[b.BookID]})
	}
	res, err := documents.NewLoader(a.store, in.Schema.Name, in.Workers).BuildAndLoad(ctx, builder, inputs)
	if err != nil {
		return IndexDocumentsOutput{}, done(stageError(err))
	}
	count, err := a.store.Count(ctx, in.Schema.Name)
	if err != nil {
		return IndexDocumentsOutput{}, done(stageError(err))
	}
	logging.Info().
		Str("run_id", in.RunID).
		Int("indexed", res.Indexed).
		Int("failed", res.Failed).
		Int("count", count).
		Msg("documents indexed")
	return IndexDocumentsOutput{Result: res, Count: count}, done(nil)
}

// WriteSummaryActivity writes summary.json. The run history row is best
// effort; summary.json stays the record of the run.
func (a *Activities) WriteSummaryActivity(ctx context.Context, in WriteSummaryInput) error {
	metrics.RunsTotal.WithLabelValues(in.Summary.Status).Inc()
	if err := util.WriteJSONAtomic(a.artifact(in.Summary.RunID, summaryArtifact), in.Summary); err != nil {
		return stageError(err)
	}
	if a.runs != nil {
		if err := a.runs.RecordRun(ctx, in.Summary); err != nil {
			logging.Warn().Err(err).Str("run_id", in.Summary.RunID).Msg("record run history")
		}
	}
	return nil
}

func (a *Activities) readCatalog(runID string) (catalog.Tables, error) {
	var tables catalog.Tables
	if err := util.ReadJSON(a.artifact(runID, catalogArtifact), &tables); err != nil {
		return catalog.Tables{}, fmt.Errorf("%w: read staged catalog: %w", util.ErrDataLoad, err)
	}
	return tables, nil
}

func (a *Activities) artifact(runID, name string) string {
	return filepath.Join(util.RunDir(a.cfg.DataOutRoot, runID), name)
}

func (a *Activities) factorConfig() factors.Config {
	return factors.Config{
		Algorithm:      a.cfg.FactorAlgorithm,
		Epochs:         a.cfg.FactorEpochs,
		LearningRate:   a.cfg.FactorLearningRate,
		Regularization: a.cfg.FactorRegularization,
		InitStd:        a.cfg.FactorInitStd,
		Seed:           a.cfg.FactorSeed,
		ImplicitRating: a.cfg.ImplicitRating,
		Alpha:          a.cfg.FactorALSAlpha,
	}
}

// stage logs the start of a stage and returns a func that records its
// duration and outcome and passes err through.
func (a *Activities) stage(runID string, st pipeline.State) func(error) error {
	start := time.Now()
	logging.Info().Str("run_id", runID).Str("stage", string(st)).Msg("stage started")
	return func(err error) error {
		outcome, ev := "ok", logging.Info()
		if err != nil {
			ev.Discard()
			outcome, ev = "error", logging.Error().Err(err)
		}
		metrics.StageDuration.WithLabelValues(string(st), outcome).Observe(time.Since(start).Seconds())
		ev.Str("run_id", runID).Str("stage", string(st)).Dur("elapsed", time.Since(start)).Msg("stage finished")
		return err
	}
}

// stageError maps a taxonomy error to a Temporal application error typed by
// its kind. Only connection errors are retried.
func stageError(err error) error {
	if err == nil {
		return nil
	}
	kind := util.ErrorKind(err)
	switch kind {
	case util.KindConnection, util.KindUnknown:
		return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
	default:
		return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
	}
}
