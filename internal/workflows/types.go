package workflows

import "shelfindex/internal/index"

type IndexRebuildInput struct {
	RunID            string       `json:"run_id"`
	Schema           index.Schema `json:"schema"`
	CatalogPath      string       `json:"catalog_path"`
	InteractionsPath string       `json:"interactions_path"`
	// Provider pins the embedding provider. Empty picks the first reachable.
	Provider  string `json:"provider,omitempty"`
	BatchSize int    `json:"batch_size"`
	Workers   int    `json:"workers"`
}
