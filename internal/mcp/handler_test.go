package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keydropio/keydrop/internal/lifecycle"
	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store/memstore"
	"github.com/keydropio/keydrop/internal/token"
)

func newTestServer(t *testing.T) *MCPServer {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewKeyService(st, token.New(), lifecycle.New(24*time.Hour, nil), service.KeyConfig{}, logger)
	return NewMCPServer(keys, "test", logger)
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func issueKey(t *testing.T, s *MCPServer, args map[string]interface{}) model.Key {
	t.Helper()
	res, err := s.handleIssueKey(context.Background(), callRequest("keydrop_issue_key", args))
	if err != nil {
		t.Fatalf("handleIssueKey: %v", err)
	}
	if res.IsError {
		t.Fatalf("issue failed: %s", resultText(t, res))
	}
	var k model.Key
	if err := json.Unmarshal([]byte(resultText(t, res)), &k); err != nil {
		t.Fatalf("decode key: %v", err)
	}
	return k
}

func TestToolsListed(t *testing.T) {
	s := newTestServer(t)

	resp := s.Server().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var names []string
	for _, tool := range out.Result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{
		"keydrop_check_key",
		"keydrop_issue_key",
		"keydrop_list_live_keys",
		"keydrop_search_keys",
		"keydrop_sweep",
		"keydrop_validate_key",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestIssueKeyTool(t *testing.T) {
	s := newTestServer(t)

	k := issueKey(t, s, map[string]interface{}{
		"name":     "agent",
		"format":   "HEX",
		"length":   float64(12),
		"max_uses": float64(2),
	})
	if k.Name != "agent" || k.Format != model.FormatHex || len(k.Token) != 12 || k.MaxUses != 2 {
		t.Errorf("key = %+v", k)
	}
}

func TestIssueKeyToolRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"unknown format", map[string]interface{}{"format": "base32"}, "Valid formats"},
		{"negative max_uses", map[string]interface{}{"max_uses": float64(-1)}, "max_uses"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleIssueKey(context.Background(), callRequest("keydrop_issue_key", tt.args))
			if err != nil {
				t.Fatalf("handleIssueKey: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			if text := resultText(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("error = %q, want it to mention %q", text, tt.want)
			}
		})
	}
}

func TestCheckAndValidateTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	k := issueKey(t, s, nil)

	decode := func(res *mcp.CallToolResult) keyStatus {
		t.Helper()
		var ks keyStatus
		if err := json.Unmarshal([]byte(resultText(t, res)), &ks); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		return ks
	}

	res, _ := s.handleCheckKey(ctx, callRequest("keydrop_check_key", map[string]interface{}{"key": k.Token}))
	if st := decode(res); !st.Valid {
		t.Fatalf("check = %+v, want valid", st)
	}

	res, _ = s.handleValidateKey(ctx, callRequest("keydrop_validate_key", map[string]interface{}{"key": k.Token}))
	st := decode(res)
	if !st.Valid || st.Data == nil || st.Data.UsesRemaining != 0 {
		t.Fatalf("validate = %+v, want valid with 0 uses remaining", st)
	}
	if strings.Contains(resultText(t, res), k.Token) {
		t.Error("status result must not echo the token")
	}

	res, _ = s.handleValidateKey(ctx, callRequest("keydrop_validate_key", map[string]interface{}{"key": k.Token}))
	if st := decode(res); st.Valid || st.Status != model.StatusExhausted {
		t.Errorf("second validate = %+v, want exhausted", st)
	}

	res, _ = s.handleCheckKey(ctx, callRequest("keydrop_check_key", map[string]interface{}{"key": "nope"}))
	if st := decode(res); st.Status != model.StatusNotFound {
		t.Errorf("unknown check = %+v, want not_found", st)
	}
}

func TestValidateToolRequiresKey(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleValidateKey(context.Background(), callRequest("keydrop_validate_key", nil))
	if err != nil {
		t.Fatalf("handleValidateKey: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for missing key")
	}
}

func TestListAndSearchTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	issueKey(t, s, map[string]interface{}{"name": "alpha"})
	issueKey(t, s, map[string]interface{}{"name": "beta"})

	res, _ := s.handleListLiveKeys(ctx, callRequest("keydrop_list_live_keys", nil))
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(resultText(t, res)), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Metadata.TotalKeys != 2 {
		t.Errorf("total_keys = %d, want 2", snap.Metadata.TotalKeys)
	}

	res, _ = s.handleSearchKeys(ctx, callRequest("keydrop_search_keys", map[string]interface{}{"query": "ALP"}))
	var found []model.Key
	if err := json.Unmarshal([]byte(resultText(t, res)), &found); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(found) != 1 || found[0].Name != "alpha" {
		t.Errorf("search = %+v, want alpha", found)
	}

	res, _ = s.handleSearchKeys(ctx, callRequest("keydrop_search_keys", map[string]interface{}{"query": "zzz"}))
	if text := strings.TrimSpace(resultText(t, res)); text != "[]" {
		t.Errorf("empty search = %s, want []", text)
	}

	res, _ = s.handleSearchKeys(ctx, callRequest("keydrop_search_keys", map[string]interface{}{"query": "   "}))
	if !res.IsError {
		t.Error("expected tool error for blank query")
	}
}

func TestSweepTool(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleSweep(context.Background(), callRequest("keydrop_sweep", nil))
	if err != nil {
		t.Fatalf("handleSweep: %v", err)
	}
	var out map[string]int64
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if removed, ok := out["removed"]; !ok || removed != 0 {
		t.Errorf("out = %v, want removed=0", out)
	}
}

func TestLiveKeysResource(t *testing.T) {
	s := newTestServer(t)
	issueKey(t, s, map[string]interface{}{"name": "res"})

	contents, err := s.handleLiveKeysResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handleLiveKeysResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content type = %T", contents[0])
	}
	if text.URI != liveKeysURI || text.MIMEType != "application/json" {
		t.Errorf("uri/mime = %s/%s", text.URI, text.MIMEType)
	}
	if !strings.Contains(text.Text, `"total_keys": 1`) {
		t.Errorf("resource text = %s", text.Text)
	}
}

func TestAnnotations(t *testing.T) {
	if ann := readOnlyAnnotation(); ann.ReadOnlyHint == nil || !*ann.ReadOnlyHint {
		t.Error("readOnlyAnnotation should set ReadOnlyHint true")
	}
	if ann := mutatingAnnotation(); ann.ReadOnlyHint == nil || *ann.ReadOnlyHint {
		t.Error("mutatingAnnotation should set ReadOnlyHint false")
	}
	ann := consumingAnnotation()
	if ann.DestructiveHint == nil || !*ann.DestructiveHint {
		t.Error("consumingAnnotation should be destructive")
	}
	if ann.IdempotentHint == nil || *ann.IdempotentHint {
		t.Error("consumingAnnotation should not be idempotent")
	}
}
