package index

import (
	"fmt"
	"regexp"

	"shelfindex/internal/config"
	"shelfindex/internal/models"
	"shelfindex/internal/util"
	"shelfindex/internal/vector"
)

// MaxDimension is the largest vector pgvector can put behind an HNSW or
// IVFFlat index.
const MaxDimension = 2000

const (
	MethodHNSW    = "hnsw"
	MethodIVFFlat = "ivfflat"
)

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type ANNParams struct {
	Method         string `json:"method"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	Lists          int    `json:"lists,omitempty"`
}

// Schema describes the book index. FactorDim is the single source of truth
// for the collaborative vector length.
type Schema struct {
	Name       string    `json:"name"`
	ContentDim int       `json:"content_dim"`
	FactorDim  int       `json:"factor_dim"`
	Metric     string    `json:"metric"`
	ANN        ANNParams `json:"ann"`
}

// ValidName reports whether name is usable as an index (table) name.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

func SchemaFromConfig(cfg config.Config) Schema {
	return Schema{
		Name:       cfg.IndexName,
		ContentDim: cfg.ContentDim,
		FactorDim:  cfg.FactorDim,
		Metric:     cfg.Metric,
		ANN: ANNParams{
			Method:         cfg.ANNMethod,
			M:              cfg.HNSWM,
			EfConstruction: cfg.HNSWEfConstruction,
			Lists:          cfg.IVFFlatLists,
		},
	}
}

func (s Schema) Validate() error {
	if !ValidName(s.Name) {
		return fmt.Errorf("%w: index name %q must match %s", util.ErrSchema, s.Name, nameRe.String())
	}
	for _, f := range []struct {
		field string
		dim   int
	}{{models.FieldContentEmbedding, s.ContentDim}, {models.FieldCollaborativeFeatures, s.FactorDim}} {
		if f.dim <= 0 || f.dim > MaxDimension {
			return fmt.Errorf("%w: %s dimension %d outside 1..%d", util.ErrSchema, f.field, f.dim, MaxDimension)
		}
	}
	if !vector.KnownMetric(s.Metric) {
		return fmt.Errorf("%w: unknown similarity metric %q", util.ErrSchema, s.Metric)
	}
	switch s.ANN.Method {
	case MethodHNSW:
		if s.ANN.M < 2 || s.ANN.EfConstruction < 4 {
			return fmt.Errorf("%w: hnsw needs m >= 2 and ef_construction >= 4, got m=%d ef_construction=%d",
				util.ErrSchema, s.ANN.M, s.ANN.EfConstruction)
		}
	case MethodIVFFlat:
		if s.ANN.Lists < 1 {
			return fmt.Errorf("%w: ivfflat needs lists >= 1, got %d", util.ErrSchema, s.ANN.Lists)
		}
	default:
		return fmt.Errorf("%w: unknown ann method %q", util.ErrSchema, s.ANN.Method)
	}
	return nil
}

// Dimension returns the declared length of a vector field.
func (s Schema) Dimension(field string) (int, error) {
	switch field {
	case models.FieldContentEmbedding:
		return s.ContentDim, nil
	case models.FieldCollaborativeFeatures:
		return s.FactorDim, nil
	default:
		return 0, fmt.Errorf("unknown vector field %q", field)
	}
}

// CheckDocument reports a vector whose length disagrees with the schema.
func (s Schema) CheckDocument(doc models.BookDocument) error {
	if len(doc.ContentEmbedding) != s.ContentDim {
		return fmt.Errorf("%w: book %d %s has length %d, schema declares %d",
			util.ErrFeature, doc.BookID, models.FieldContentEmbedding, len(doc.ContentEmbedding), s.ContentDim)
	}
	if len(doc.CollaborativeFeatures) != s.FactorDim {
		return fmt.Errorf("%w: book %d %s has length %d, schema declares %d",
			util.ErrFeature, doc.BookID, models.FieldCollaborativeFeatures, len(doc.CollaborativeFeatures), s.FactorDim)
	}
	return nil
}
