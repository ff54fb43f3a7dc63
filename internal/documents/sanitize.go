package documents

import (
	"math"

	"shelfindex/internal/logging"
	"shelfindex/internal/metrics"
)

// SanitizeVector returns a copy of v with NaN and ±Inf replaced by 0 and the
// number of replaced entries. Each replacement is logged.
func SanitizeVector(v []float32, field string, bookID int64) ([]float32, int) {
	out := make([]float32, len(v))
	replaced := 0
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			logging.Warn().
				Int64("book_id", bookID).
				Str("field", field).
				Int("position", i).
				Float64("value", f).
				Msg("non-finite vector value replaced with 0")
			replaced++
			continue
		}
		out[i] = x
	}
	if replaced > 0 {
		metrics.SanitizedValues.WithLabelValues(field).Add(float64(replaced))
	}
	return out, replaced
}
