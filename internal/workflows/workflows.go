package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"shelfindex/internal/activities"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/util"
)

const QueryGetRebuildStatus = "GetRebuildStatus"

// IndexRebuildWorkflow runs one full rebuild of the book index. Stage
// failures end the run with a failed Summary rather than a workflow error.
func IndexRebuildWorkflow(ctx workflow.Context, input IndexRebuildInput) (pipeline.Summary, error) {
	logger := workflow.GetLogger(ctx)
	status := pipeline.NewStatus(input.RunID, workflow.Now(ctx))
	if err := workflow.SetQueryHandler(ctx, QueryGetRebuildStatus, func() (pipeline.Status, error) {
		return *status, nil
	}); err != nil {
		return pipeline.Summary{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				util.KindDataLoad,
				util.KindSchema,
				util.KindFeature,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	summary := pipeline.Summary{RunID: input.RunID, Index: input.Schema.Name}
	advance := func(to pipeline.State) {
		if err := status.Advance(to, workflow.Now(ctx)); err != nil {
			logger.Error("state machine rejected transition", "run_id", input.RunID, "error", err)
			return
		}
		logger.Info("stage", "run_id", input.RunID, "state", string(to))
	}
	fail := func(activity string, err error) (pipeline.Summary, error) {
		kind := errorKind(err)
		_ = status.Fail(kind, err.Error(), workflow.Now(ctx))
		logger.Error("rebuild failed", "run_id", input.RunID, "activity", activity, "stage", string(status.FailedStage), "kind", kind, "error", err)
		summary.Status = pipeline.SummaryFailed
		summary.FailedStage = status.FailedStage
		summary.FailureKind = kind
		summary.Error = activity + ": " + err.Error()
		summary.Stages = status.Stages
		return finish(ctx, summary), nil
	}

	advance(pipeline.StateConnectingIndex)
	var connOut activities.ConnectIndexOutput
	if err := workflow.ExecuteActivity(ctx, "ConnectIndexActivity", activities.ConnectIndexInput{
		RunID:    input.RunID,
		Provider: input.Provider,
	}).Get(ctx, &connOut); err != nil {
		return fail("ConnectIndexActivity", err)
	}
	summary.Provider = connOut.Provider

	if err := workflow.ExecuteActivity(ctx, "RebuildSchemaActivity", activities.RebuildSchemaInput{
		RunID:  input.RunID,
		Schema: input.Schema,
	}).Get(ctx, nil); err != nil {
		return fail("RebuildSchemaActivity", err)
	}
	advance(pipeline.StateSchemaRebuilt)

	var loadOut activities.LoadCatalogOutput
	if err := workflow.ExecuteActivity(ctx, "LoadCatalogActivity", activities.LoadCatalogInput{
		RunID:            input.RunID,
		CatalogPath:      input.CatalogPath,
		InteractionsPath: input.InteractionsPath,
	}).Get(ctx, &loadOut); err != nil {
		return fail("LoadCatalogActivity", err)
	}
	advance(pipeline.StateLoaded)
	summary.BooksProcessed = loadOut.Books
	summary.Interactions = loadOut.Interactions
	status.SetCount("books", loadOut.Books)
	status.SetCount("interactions", loadOut.Interactions)
	status.SetCount("orphan_interactions", loadOut.OrphanInteractions)

	advance(pipeline.StateEmbeddingContent)
	var embedOut activities.EmbedContentOutput
	if err := workflow.ExecuteActivity(ctx, "EmbedContentActivity", activities.EmbedContentInput{
		RunID:      input.RunID,
		Provider:   connOut.Provider,
		ContentDim: input.Schema.ContentDim,
		BatchSize:  input.BatchSize,
	}).Get(ctx, &embedOut); err != nil {
		return fail("EmbedContentActivity", err)
	}
	status.SetCount("embedded", embedOut.Embedded)

	advance(pipeline.StateEstimatingFactors)
	var factorOut activities.EstimateFactorsOutput
	if err := workflow.ExecuteActivity(ctx, "EstimateFactorsActivity", activities.EstimateFactorsInput{
		RunID:     input.RunID,
		FactorDim: input.Schema.FactorDim,
	}).Get(ctx, &factorOut); err != nil {
		return fail("EstimateFactorsActivity", err)
	}
	summary.ColdStartBooks = factorOut.ColdStart
	status.SetCount("cold_start", factorOut.ColdStart)

	advance(pipeline.StateIndexing)
	var indexOut activities.IndexDocumentsOutput
	if err := workflow.ExecuteActivity(ctx, "IndexDocumentsActivity", activities.IndexDocumentsInput{
		RunID:     input.RunID,
		Schema:    input.Schema,
		Workers:   input.Workers,
		FactorDim: factorOut.FactorDim,
	}).Get(ctx, &indexOut); err != nil {
		return fail("IndexDocumentsActivity", err)
	}
	status.SetCount("indexed", indexOut.Indexed)
	status.SetCount("failed", indexOut.Failed)
	status.SetCount("count", indexOut.Count)
	advance(pipeline.StateDone)

	summary.Indexed = indexOut.Indexed
	summary.DocumentsFailed = indexOut.Failed
	summary.FailedBookIDs = indexOut.FailedBookIDs
	summary.Stages = status.Stages
	summary.Status = pipeline.SummaryCompleted
	if indexOut.Failed > 0 {
		summary.Status = pipeline.SummaryCompletedWithFailures
	}
	return finish(ctx, summary), nil
}

// finish persists the summary. A failure to write it is logged only.
func finish(ctx workflow.Context, summary pipeline.Summary) pipeline.Summary {
	if err := workflow.ExecuteActivity(ctx, "WriteSummaryActivity", activities.WriteSummaryInput{Summary: summary}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("write summary failed", "run_id", summary.RunID, "error", err)
	}
	workflow.GetLogger(ctx).Info("rebuild finished", "run_id", summary.RunID, "status", summary.Status, "message", summary.Message())
	return summary
}

// errorKind recovers the taxonomy kind carried as the application error type.
func errorKind(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return util.KindConnection
	}
	return util.ErrorKind(err)
}
