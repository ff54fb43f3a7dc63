package activities

// Registry is satisfied by worker.Worker and the Temporal test environment.
type Registry interface {
	RegisterActivity(a any)
}

func Register(r Registry, a *Activities) {
	r.RegisterActivity(a.ConnectIndexActivity)
	r.RegisterActivity(a.RebuildSchemaActivity)
	r.RegisterActivity(a.LoadCatalogActivity)
	r.RegisterActivity(a.EmbedContentActivity)
	r.RegisterActivity(a.EstimateFactorsActivity)
	r.RegisterActivity(a.IndexDocumentsActivity)
	r.RegisterActivity(a.WriteSummaryActivity)
}
