package providers

import (
	"context"
	"fmt"

	"shelfindex/internal/util"
)

// ContentEmbedder turns book descriptions into D_c-dim vectors using one
// provider for the whole run.
type ContentEmbedder struct {
	manager   *Manager
	provider  string
	dim       int
	batchSize int
}

func NewContentEmbedder(m *Manager, provider string, dim, batchSize int) (*ContentEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: content dimension must be positive, got %d", util.ErrSchema, dim)
	}
	if m.FindEmbedProviderIndex(provider) < 0 {
		return nil, fmt.Errorf("embedding provider %q is not configured in this worker", provider)
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &ContentEmbedder{manager: m, provider: provider, dim: dim, batchSize: batchSize}, nil
}

// Embed returns one vector per description, in input order. Empty
// descriptions are embedded as empty text.
func (e *ContentEmbedder) Embed(ctx context.Context, descriptions []string) ([][]float32, error) {
	out := make([][]float32, 0, len(descriptions))
	for start := 0; start < len(descriptions); start += e.batchSize {
		end := min(start+e.batchSize, len(descriptions))
		inputs := make([]string, 0, end-start)
		for _, d := range descriptions[start:end] {
			inputs = append(inputs, util.SanitizeText(d))
		}
		vectors, info, err := e.manager.Embed(ctx, e.provider, EmbedRequest{
			Operation: "content_embedding",
			Inputs:    inputs,
			Dimension: e.dim,
		})
		if err != nil {
			return nil, fmt.Errorf("embed descriptions %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(inputs) {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d descriptions", util.ErrFeature, info.Name, len(vectors), len(inputs))
		}
		for i, v := range vectors {
			if len(v) != e.dim {
				return nil, fmt.Errorf("%w: %s/%s produced a %d-dim vector for description %d, index expects %d",
					util.ErrFeature, info.Name, info.Model, len(v), start+i, e.dim)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *ContentEmbedder) Ping(ctx context.Context) error {
	return e.manager.Ping(ctx, e.provider)
}

func (e *ContentEmbedder) Dimension() int {
	return e.dim
}
