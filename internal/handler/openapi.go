package handler

import (
	"net/http"

	"github.com/keydropio/keydrop/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 document describing the key API.
type OpenAPIHandler struct {
	version string
}

// NewOpenAPIHandler creates a new OpenAPIHandler. version is reported as the
// document's info.version.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version}
}

// ServeDocument returns the OpenAPI document with the server URL derived from
// the request.
// GET /openapi.json
func (h *OpenAPIHandler) ServeDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openapi.Generate(baseURL(r), h.version))
}

// baseURL reconstructs the externally visible scheme and host of r.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
