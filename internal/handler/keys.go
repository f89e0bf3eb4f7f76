package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store"
)

// KeyHandler exposes the key lifecycle over HTTP. Classification outcomes
// (not found, expired, exhausted) are reported as 200 responses with
// valid=false; only request and backend failures use the error envelope.
type KeyHandler struct {
	svc *service.KeyService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(svc *service.KeyService) *KeyHandler {
	return &KeyHandler{svc: svc}
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// createKeyRequest is the payload for CreateKey. Format may also be sent as
// "type" for older clients.
type createKeyRequest struct {
	Name    string `json:"name"`
	Format  string `json:"format"`
	Type    string `json:"type"`
	Length  int    `json:"length"`
	MaxUses int    `json:"maxUses"`
}

// CreateKey issues a key and returns the full record.
// POST /api/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.MaxUses < 0 {
		writeError(w, http.StatusBadRequest, "maxUses must be positive")
		return
	}
	format := req.Format
	if format == "" {
		format = req.Type
	}

	k, err := h.svc.Issue(r.Context(), service.IssueRequest{
		Name:    req.Name,
		Format:  model.Format(strings.ToLower(format)),
		Length:  req.Length,
		MaxUses: req.MaxUses,
	})
	if err != nil {
		writeServiceError(w, err, "Failed to generate key")
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

// generateRequest is the payload for Generate.
type generateRequest struct {
	Name string `json:"name"`
}

// generateResponse is the script-friendly result of Generate.
type generateResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Key     string    `json:"key"`
	Expires time.Time `json:"expires"`
	Name    string    `json:"name"`
}

// Generate issues a default-format key for external scripts.
// POST /api/generate
func (h *KeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = service.GeneratedKeyName
	}

	k, err := h.svc.Issue(r.Context(), service.IssueRequest{Name: name})
	if err != nil {
		writeServiceError(w, err, "Failed to generate key")
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Success: true,
		Message: "Key generated successfully",
		Key:     k.Token,
		Expires: k.ExpiresAt,
		Name:    k.Name,
	})
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// validationResponse reports the classification of a token. Success is only
// set by the body-based validate endpoint.
type validationResponse struct {
	Success *bool          `json:"success,omitempty"`
	Valid   bool           `json:"valid"`
	Message string         `json:"message"`
	Status  model.Status   `json:"status"`
	Expired bool           `json:"expired,omitempty"`
	Used    bool           `json:"used,omitempty"`
	Data    *model.KeyData `json:"data,omitempty"`
}

func newValidationResponse(res service.Result, consumed bool) validationResponse {
	resp := validationResponse{
		Valid:   res.Valid(),
		Message: res.Status.Message(),
		Status:  res.Status,
		Expired: res.Status == model.StatusExpired,
		Used:    res.Status == model.StatusExhausted,
		Data:    res.Data(),
	}
	if consumed && resp.Valid {
		resp.Message = "Key is valid and has been consumed"
	}
	return resp
}

// CheckKey classifies a key without consuming it.
// GET /api/keys/check/{key}
func (h *KeyHandler) CheckKey(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Check(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, err, "Failed to check key")
		return
	}
	writeJSON(w, http.StatusOK, newValidationResponse(res, false))
}

// ValidateKey consumes one use of the key named in the path.
// GET /api/validate/{key}
func (h *KeyHandler) ValidateKey(w http.ResponseWriter, r *http.Request) {
	h.validate(w, r, chi.URLParam(r, "key"), false)
}

// ValidateQuery consumes one use of the key named by the "key" query
// parameter.
// GET /validate?key=
func (h *KeyHandler) ValidateQuery(w http.ResponseWriter, r *http.Request) {
	h.validate(w, r, queryString(r, "key"), false)
}

// validateRequest is the payload for ValidateBody.
type validateRequest struct {
	Key string `json:"key"`
}

// ValidateBody consumes one use of the key in the request body.
// POST /api/validate
func (h *KeyHandler) ValidateBody(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.validate(w, r, req.Key, true)
}

func (h *KeyHandler) validate(w http.ResponseWriter, r *http.Request, tok string, withSuccess bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		resp := validationResponse{Message: "Key is required", Status: model.StatusNotFound}
		if withSuccess {
			resp.Success = new(bool)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := h.svc.Validate(r.Context(), tok)
	if err != nil {
		writeServiceError(w, err, "Failed to validate key")
		return
	}
	resp := newValidationResponse(res, true)
	if withSuccess {
		ok := resp.Valid
		resp.Success = &ok
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// ListKeys returns every key, or only live keys with ?filter=live.
// GET /api/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	filter := store.FilterAll
	switch f := queryString(r, "filter"); f {
	case "", "all":
	case "live":
		filter = store.FilterLive
	default:
		writeError(w, http.StatusBadRequest, "Invalid filter: "+f, map[string]interface{}{
			"allowed": []string{"all", "live"},
		})
		return
	}

	keys, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "Failed to list keys")
		return
	}
	writeJSON(w, http.StatusOK, listResponse(keys, start))
}

// LiveKeys returns the live keys with summary metadata.
// GET /api/keys/live
func (h *KeyHandler) LiveKeys(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to read keys")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// searchRequest is the payload for SearchKeys.
type searchRequest struct {
	Query string `json:"query"`
}

// SearchKeys returns live keys whose name or token contains the query.
// POST /api/keys/search
func (h *KeyHandler) SearchKeys(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req searchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	keys, err := h.svc.Search(r.Context(), req.Query)
	if err != nil {
		writeServiceError(w, err, "Failed to search keys")
		return
	}
	writeJSON(w, http.StatusOK, listResponse(keys, start))
}

func listResponse(keys []model.Key, start time.Time) model.ListResponse {
	if keys == nil {
		keys = []model.Key{}
	}
	return model.ListResponse{
		Resource: keys,
		Meta: &model.ResponseMeta{
			Count:  len(keys),
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	}
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// Cleanup deletes expired keys and reports how many were removed.
// POST /api/keys/cleanup
func (h *KeyHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to clean up keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": n,
	})
}

// ClearKeys deletes every key.
// DELETE /api/keys
func (h *KeyHandler) ClearKeys(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		writeServiceError(w, err, "Failed to clear keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "All keys cleared",
	})
}
