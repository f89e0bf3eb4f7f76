package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const liveKeysURI = "keydrop://keys/live"

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keydrop://keys/live: snapshot of keys that can still be redeemed
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			liveKeysURI,
			"Live Access Keys",
			mcp.WithResourceDescription(
				"Every key that is neither expired nor used up, most recent first, "+
					"with the total count and the newest issue time.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleLiveKeysResource,
	)
}

// handleLiveKeysResource returns the live key snapshot as JSON.
func (s *MCPServer) handleLiveKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	snap, err := s.keys.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read live keys: %w", err)
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal live keys: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      liveKeysURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
