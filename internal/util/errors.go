package util

import "errors"

var (
	ErrDataLoad      = errors.New("data load error")
	ErrConnection    = errors.New("connection error")
	ErrSchema        = errors.New("schema error")
	ErrFeature       = errors.New("feature error")
	ErrDocumentWrite = errors.New("document write error")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
)

const (
	KindDataLoad      = "DataLoadError"
	KindConnection    = "ConnectionError"
	KindSchema        = "SchemaError"
	KindFeature       = "FeatureError"
	KindDocumentWrite = "DocumentWriteError"
	KindUnknown       = "UnknownError"
)

// ErrorKind names the taxonomy bucket an error belongs to.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataLoad):
		return KindDataLoad
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrSchema):
		return KindSchema
	case errors.Is(err, ErrFeature):
		return KindFeature
	case errors.Is(err, ErrDocumentWrite):
		return KindDocumentWrite
	default:
		return KindUnknown
	}
}
