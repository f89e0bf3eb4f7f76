package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. An empty body leaves v
// untouched. The body is closed after decoding regardless of success or
// failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// classifyError maps service and store errors to an HTTP status code and a
// client-facing message.
func classifyError(err error, fallbackMsg string) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidFormat),
		errors.Is(err, service.ErrEmptyQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, fallbackMsg + ": key store unavailable"
	default:
		return http.StatusInternalServerError, fallbackMsg + ": " + err.Error()
	}
}

// writeServiceError writes err through classifyError.
func writeServiceError(w http.ResponseWriter, err error, fallbackMsg string) {
	code, msg := classifyError(err, fallbackMsg)
	writeError(w, code, msg)
}
