package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/credentials"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// upstreamMCP is a stateless streamable-HTTP MCP stub.
func upstreamMCP(t *testing.T, onCall func(name string, args map[string]interface{}) (interface{}, *string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad rpc request: %v", err)
		}

		respond := func(result interface{}) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  result,
			})
		}

		switch req.Method {
		case "initialize":
			respond(map[string]interface{}{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]interface{}{},
				"serverInfo":      map[string]string{"name": "stub", "version": "0.0.1"},
			})
		case "tools/list":
			respond(map[string]interface{}{
				"tools": []map[string]interface{}{
					{"name": "search_notes", "description": "Search notes", "inputSchema": map[string]interface{}{"type": "object"}},
				},
			})
		case "tools/call":
			result, rpcErr := onCall(req.Params.Name, req.Params.Arguments)
			if rpcErr != nil {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      req.ID,
					"error":   map[string]interface{}{"code": -32000, "message": *rpcErr},
				})
				return
			}
			respond(result)
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
}

func proxyInvocation(serverURL, operation string, args map[string]interface{}) *Invocation {
	def := &models.ToolDefinition{
		Name:    "notes",
		Kind:    models.KindMCPProxy,
		Enabled: true,
		MCP:     &models.MCPTarget{ServerURL: serverURL},
	}
	return &Invocation{
		Tool: &models.ExposedTool{
			Name:        models.ExposedName("notes", operation),
			OperationID: operation,
			Definition:  def,
		},
		Arguments:  args,
		Credential: credentials.None(),
	}
}

func TestProxyExecuteForwardsCall(t *testing.T) {
	srv := upstreamMCP(t, func(name string, args map[string]interface{}) (interface{}, *string) {
		if name != "search_notes" {
			t.Errorf("unexpected upstream tool %s", name)
		}
		if args["query"] != "standup" {
			t.Errorf("arguments not forwarded: %v", args)
		}
		return map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "2 notes found"}},
		}, nil
	})
	defer srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	result, err := exec.Execute(context.Background(), proxyInvocation(srv.URL, "search_notes", map[string]interface{}{"query": "standup"}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsJSON() || !strings.Contains(string(result.JSON), "2 notes found") {
		t.Errorf("expected verbatim upstream result, got %s", result.JSON)
	}
}

func TestProxyUpstreamToolError(t *testing.T) {
	srv := upstreamMCP(t, func(name string, args map[string]interface{}) (interface{}, *string) {
		return map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "index offline"}},
			"isError": true,
		}, nil
	})
	defer srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	_, err := exec.Execute(context.Background(), proxyInvocation(srv.URL, "search_notes", nil))
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindUpstreamError {
		t.Fatalf("expected upstream_error, got %v", err)
	}
	if !strings.Contains(te.Message, "index offline") {
		t.Errorf("expected upstream detail, got %q", te.Message)
	}
}

func TestProxyRPCError(t *testing.T) {
	msg := "unknown tool"
	srv := upstreamMCP(t, func(name string, args map[string]interface{}) (interface{}, *string) {
		return nil, &msg
	})
	defer srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	_, err := exec.Execute(context.Background(), proxyInvocation(srv.URL, "ghost", nil))
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindUpstreamError {
		t.Errorf("expected upstream_error for rpc error, got %v", err)
	}
}

func TestProxyMalformedResult(t *testing.T) {
	srv := upstreamMCP(t, func(name string, args map[string]interface{}) (interface{}, *string) {
		// Not a tool result shape at all.
		return map[string]interface{}{"content": "not-a-list"}, nil
	})
	defer srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	_, err := exec.Execute(context.Background(), proxyInvocation(srv.URL, "search_notes", nil))
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindUpstreamProtocolError {
		t.Errorf("expected upstream_protocol_error, got %v", err)
	}
	if toolerr.IsRetryable(err) {
		t.Error("a malformed peer must not be retried")
	}
}

func TestProxyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	_, err := exec.Execute(context.Background(), proxyInvocation(url, "search_notes", nil))
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %v", err)
	}
	if !toolerr.IsRetryable(err) {
		t.Error("upstream_unavailable should be retryable")
	}
}

func TestProxyListTools(t *testing.T) {
	srv := upstreamMCP(t, nil)
	defer srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	tools, err := exec.ListTools(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search_notes" {
		t.Errorf("unexpected listing %+v", tools)
	}
	if len(tools[0].InputSchema) == 0 {
		t.Error("expected upstream schema to be carried through")
	}
}

func TestProxySSEResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var result interface{} = map[string]interface{}{"protocolVersion": protocolVersion}
		if req.Method == "tools/call" {
			result = map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": "streamed"}},
			}
		}
		payload, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message\ndata: " + string(payload) + "\n\n"))
	}))
	defer srv.Close()

	exec := NewMCPProxyExecutor(common.NewSilentLogger(), "unified-adapter", "test")
	result, err := exec.Execute(context.Background(), proxyInvocation(srv.URL, "search_notes", nil))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(string(result.JSON), "streamed") {
		t.Errorf("unexpected result %s", result.JSON)
	}
}

func TestNormalizeServerURL(t *testing.T) {
	cases := map[string]string{
		"https://notes.example.com":         "https://notes.example.com/mcp",
		"https://notes.example.com/":        "https://notes.example.com/mcp",
		"https://notes.example.com/mcp":     "https://notes.example.com/mcp",
		"https://notes.example.com/api/mcp": "https://notes.example.com/api/mcp",
	}
	for in, want := range cases {
		if got := normalizeServerURL(in); got != want {
			t.Errorf("normalizeServerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
