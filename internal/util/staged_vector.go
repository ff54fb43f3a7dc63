package util

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// StagedVector is a float32 vector whose JSON form keeps non-finite values
// as the strings "NaN", "+Inf" and "-Inf". Run artifacts use it so bad model
// output reaches the document builder, which zeroes and reports it per book.
type StagedVector []float32

func (v StagedVector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, len(v)*12+2)
	buf = append(buf, '[')
	for i, x := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		f := float64(x)
		switch {
		case math.IsNaN(f):
			buf = append(buf, `"NaN"`...)
		case math.IsInf(f, 1):
			buf = append(buf, `"+Inf"`...)
		case math.IsInf(f, -1):
			buf = append(buf, `"-Inf"`...)
		default:
			buf = strconv.AppendFloat(buf, f, 'g', -1, 32)
		}
	}
	return append(buf, ']'), nil
}

func (v *StagedVector) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	out := make(StagedVector, len(raw))
	for i, r := range raw {
		switch s := string(bytes.TrimSpace(r)); s {
		case `"NaN"`:
			out[i] = float32(math.NaN())
		case `"+Inf"`:
			out[i] = float32(math.Inf(1))
		case `"-Inf"`:
			out[i] = float32(math.Inf(-1))
		default:
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return fmt.Errorf("vector element %d: %w", i, err)
			}
			out[i] = float32(f)
		}
	}
	*v = out
	return nil
}
