package activities

import (
	"shelfindex/internal/documents"
	"shelfindex/internal/index"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/providers"
	"shelfindex/internal/util"
)

type ConnectIndexInput struct {
	RunID string `json:"run_id"`
	// Provider pins an embedding provider ref. Empty selects the first
	// reachable one.
	Provider string `json:"provider,omitempty"`
}

type ConnectIndexOutput struct {
	Provider     string                 `json:"provider"`
	ProviderInfo providers.ProviderInfo `json:"provider_info"`
}

type RebuildSchemaInput struct {
	RunID  string       `json:"run_id"`
	Schema index.Schema `json:"schema"`
}

type LoadCatalogInput struct {
	RunID            string `json:"run_id"`
	CatalogPath      string `json:"catalog_path"`
	InteractionsPath string `json:"interactions_path"`
}

type LoadCatalogOutput struct {
	Books              int `json:"books"`
	Interactions       int `json:"interactions"`
	OrphanInteractions int `json:"orphan_interactions"`
}

type EmbedContentInput struct {
	RunID      string `json:"run_id"`
	Provider   string `json:"provider"`
	ContentDim int    `json:"content_dim"`
	BatchSize  int    `json:"batch_size"`
}

type EmbedContentOutput struct {
	Embedded int    `json:"embedded"`
	Provider string `json:"provider"`
}

type EstimateFactorsInput struct {
	RunID     string `json:"run_id"`
	FactorDim int    `json:"factor_dim"`
}

type EstimateFactorsOutput struct {
	Books     int `json:"books"`
	ColdStart int `json:"cold_start"`
	// FactorDim is the D_f the model was trained with.
	FactorDim int `json:"factor_dim"`
}

type IndexDocumentsInput struct {
	RunID   string       `json:"run_id"`
	Schema  index.Schema `json:"schema"`
	Workers int          `json:"workers"`
	// FactorDim is the estimator's D_f; zero means the schema's.
	FactorDim int `json:"factor_dim,omitempty"`
}

type IndexDocumentsOutput struct {
	documents.Result
	Count int `json:"count"`
}

type WriteSummaryInput struct {
	Summary pipeline.Summary `json:"summary"`
}

// embeddingRow is one line of content_embeddings.jsonl.
type embeddingRow struct {
	BookID int64             `json:"book_id"`
	Vector util.StagedVector `json:"vector"`
}

// factorRow is one entry of factors.json. Cold-start books carry the zero
// vector.
type factorRow struct {
	BookID  int64             `json:"book_id"`
	Factors util.StagedVector `json:"factors"`
}
