package api

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "SI-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusServiceUnavailable:
		return apiError{Code: "SI-IDX-5030", Message: "Search index is unreachable. Check Postgres and retry."}
	case status >= 500 && status != http.StatusBadGateway:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "SI-IDX-5001", Message: "Book index has not been built yet. Start a rebuild and retry."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "SI-IDX-5002", Message: "Search index connection is unavailable. Check local services and retry."}
		default:
			return apiError{Code: "SI-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		code = "SI-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "SI-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusBadGateway:
		code = "SI-API-5020"
		msg = "Workflow service unavailable. Retry shortly."
	}

	// 4xx responses echo only known validation messages.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "invalid book_id"):
			msg = "book_id must be a positive integer."
		case strings.Contains(raw, "k must be"):
			msg = "k must be between 1 and 100."
		case strings.Contains(raw, "field must be"):
			msg = "field must be content_embedding or collaborative_features."
		case strings.Contains(raw, "q is required"):
			msg = "Query parameter q is required."
		case strings.Contains(raw, "no reading history"):
			msg = "No reading history found for this user."
		}
	}
	return apiError{Code: code, Message: msg}
}
