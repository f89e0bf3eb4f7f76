package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store"
)

// registerTools registers all Keydrop MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Issuance -----

	srv.AddTool(
		mcp.NewTool("keydrop_issue_key",
			mcp.WithDescription(
				"Issue a new short-lived access key. Keys expire after the server's "+
					"validity window (24h by default) and are single-use unless max_uses "+
					"says otherwise. Returns the full key record including the secret token.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Description("Human-readable label (default \"Unnamed Key\")"),
			),
			mcp.WithString("format",
				mcp.Description("Token format: bash, uuid, hex, alphanumeric or custom (default bash)"),
				mcp.Enum(formatNames()...),
			),
			mcp.WithNumber("length",
				mcp.Description("Token length for hex, alphanumeric and custom formats (8-128, default 32)"),
			),
			mcp.WithNumber("max_uses",
				mcp.Description("Number of successful validations allowed (default 1, max 1000)"),
			),
		),
		s.handleIssueKey,
	)

	// ----- Classification -----

	srv.AddTool(
		mcp.NewTool("keydrop_check_key",
			mcp.WithDescription(
				"Report whether a key is valid, expired, exhausted or unknown WITHOUT "+
					"consuming it. Use this to inspect a key before redeeming it.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The token to check"),
			),
		),
		s.handleCheckKey,
	)

	srv.AddTool(
		mcp.NewTool("keydrop_validate_key",
			mcp.WithDescription(
				"Redeem a key: if it is valid, one use is consumed atomically and the "+
					"remaining uses are returned. Redeeming a single-use key makes it "+
					"unusable for anyone else.",
			),
			mcp.WithToolAnnotation(consumingAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The token to redeem"),
			),
		),
		s.handleValidateKey,
	)

	// ----- Queries -----

	srv.AddTool(
		mcp.NewTool("keydrop_list_live_keys",
			mcp.WithDescription(
				"List every key that is neither expired nor used up, most recent first, "+
					"with the total count and the time the newest key was issued.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListLiveKeys,
	)

	srv.AddTool(
		mcp.NewTool("keydrop_search_keys",
			mcp.WithDescription(
				"Find live keys whose name or token contains the query (case-insensitive). "+
					"Returns the most recent matches, up to the server's search limit.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Substring to look for in key names and tokens"),
			),
		),
		s.handleSearchKeys,
	)

	// ----- Maintenance -----

	srv.AddTool(
		mcp.NewTool("keydrop_sweep",
			mcp.WithDescription(
				"Delete every expired key and report how many were removed. Keys that "+
					"are used up but not yet expired are kept.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
		),
		s.handleSweep,
	)
}

func formatNames() []string {
	out := make([]string, len(model.Formats))
	for i, f := range model.Formats {
		out[i] = string(f)
	}
	return out
}

// keyStatus is the tool-facing classification result. It never includes
// the token itself.
type keyStatus struct {
	Valid   bool           `json:"valid"`
	Status  model.Status   `json:"status"`
	Message string         `json:"message"`
	Data    *model.KeyData `json:"data,omitempty"`
}

func newKeyStatus(res service.Result) keyStatus {
	return keyStatus{
		Valid:   res.Valid(),
		Status:  res.Status,
		Message: res.Status.Message(),
		Data:    res.Data(),
	}
}

// handleIssueKey issues a new key.
func (s *MCPServer) handleIssueKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	maxUses := optionalInt(request, "max_uses", 0)
	if maxUses < 0 {
		return toolError("max_uses must be positive, got %d", maxUses)
	}

	k, err := s.keys.Issue(ctx, service.IssueRequest{
		Name:    optionalString(request, "name"),
		Format:  model.Format(strings.ToLower(optionalString(request, "format"))),
		Length:  optionalInt(request, "length", 0),
		MaxUses: maxUses,
	})
	if errors.Is(err, service.ErrInvalidFormat) {
		return toolError("%v. Valid formats: %v", err, formatNames())
	}
	if err != nil {
		return s.backendError("issue key", err)
	}
	return successJSON(k)
}

// handleCheckKey classifies a key without consuming it.
func (s *MCPServer) handleCheckKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tok, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}
	res, err := s.keys.Check(ctx, strings.TrimSpace(tok))
	if err != nil {
		return s.backendError("check key", err)
	}
	return successJSON(newKeyStatus(res))
}

// handleValidateKey consumes one use of a key.
func (s *MCPServer) handleValidateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tok, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}
	res, err := s.keys.Validate(ctx, strings.TrimSpace(tok))
	if err != nil {
		return s.backendError("validate key", err)
	}
	return successJSON(newKeyStatus(res))
}

// handleListLiveKeys returns the live key snapshot.
func (s *MCPServer) handleListLiveKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	snap, err := s.keys.Snapshot(ctx)
	if err != nil {
		return s.backendError("list live keys", err)
	}
	return successJSON(snap)
}

// handleSearchKeys searches live keys.
func (s *MCPServer) handleSearchKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	q, err := requireString(request, "query")
	if err != nil {
		return toolError("%v", err)
	}
	keys, err := s.keys.Search(ctx, q)
	if errors.Is(err, service.ErrEmptyQuery) {
		return toolError("query must not be blank")
	}
	if err != nil {
		return s.backendError("search keys", err)
	}
	if keys == nil {
		keys = []model.Key{}
	}
	return successJSON(keys)
}

// handleSweep deletes expired keys.
func (s *MCPServer) handleSweep(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	n, err := s.keys.Sweep(ctx)
	if err != nil {
		return s.backendError("sweep", err)
	}
	return successJSON(map[string]int64{"removed": n})
}

// backendError logs err and reports it to the client as a tool error.
func (s *MCPServer) backendError(op string, err error) (*mcp.CallToolResult, error) {
	s.logger.Error("mcp tool failed", "op", op, "error", err)
	if errors.Is(err, store.ErrUnavailable) {
		return toolError("Failed to %s: the key store is unavailable, try again later", op)
	}
	return toolError("Failed to %s: %v", op, err)
}
