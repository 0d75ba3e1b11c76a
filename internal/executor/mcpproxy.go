package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/registry"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

const protocolVersion = "2025-03-26"

// MCPProxyExecutor forwards tool calls to an upstream MCP server over
// streamable HTTP. Each call is one stateless JSON-RPC exchange; no
// upstream session is held between calls.
type MCPProxyExecutor struct {
	httpClient *http.Client
	logger     *common.Logger
	nextID     atomic.Int64
	clientInfo mcp.Implementation
}

// NewMCPProxyExecutor creates the proxy executor.
func NewMCPProxyExecutor(logger *common.Logger, serviceName, version string) *MCPProxyExecutor {
	return &MCPProxyExecutor{
		httpClient: &http.Client{},
		logger:     logger,
		clientInfo: mcp.Implementation{Name: serviceName, Version: version},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Execute forwards one tools/call to the upstream server. The upstream's
// result content passes through verbatim; only well-formedness is checked.
func (e *MCPProxyExecutor) Execute(ctx context.Context, inv *Invocation) (*models.CallResult, error) {
	def := inv.Tool.Definition

	result, err := e.call(ctx, def.MCP.ServerURL, inv.Credential, "tools/call", map[string]interface{}{
		"name":      inv.Tool.OperationID,
		"arguments": inv.Arguments,
	})
	if err != nil {
		return nil, err
	}

	// Validate shape before passing through.
	raw := json.RawMessage(result)
	parsed, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamProtocolError, err, "upstream %s returned a malformed tool result", def.Name)
	}
	if parsed.IsError {
		excerpt := common.RedactValue(resultText(parsed), inv.Credential.Secret())
		return nil, toolerr.New(toolerr.KindUpstreamError, "upstream tool failed: %s", common.Truncate(excerpt, maxErrorExcerpt))
	}

	return models.NewJSONResult(result), nil
}

// ListTools discovers the upstream server's tools for registry assembly.
func (e *MCPProxyExecutor) ListTools(ctx context.Context, serverURL string) ([]registry.UpstreamTool, error) {
	result, err := e.call(ctx, serverURL, nil, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamProtocolError, err, "upstream tool listing is malformed")
	}

	tools := make([]registry.UpstreamTool, 0, len(listing.Tools))
	for _, t := range listing.Tools {
		tools = append(tools, registry.UpstreamTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// call performs one JSON-RPC exchange: initialize, then the method.
// Stateless upstream servers accept this two-step dance per request.
func (e *MCPProxyExecutor) call(ctx context.Context, serverURL string, cred credentialApplier, method string, params interface{}) (json.RawMessage, error) {
	endpoint := normalizeServerURL(serverURL)

	if _, err := e.post(ctx, endpoint, cred, &rpcRequest{
		JSONRPC: "2.0",
		ID:      e.nextID.Add(1),
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"clientInfo":      e.clientInfo,
		},
	}); err != nil {
		return nil, err
	}

	return e.post(ctx, endpoint, cred, &rpcRequest{
		JSONRPC: "2.0",
		ID:      e.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
}

// credentialApplier narrows the credential to its one permitted sink.
type credentialApplier interface {
	Apply(req *http.Request)
}

func (e *MCPProxyExecutor) post(ctx context.Context, endpoint string, cred credentialApplier, rpc *rpcRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(rpc)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamProtocolError, err, "request for %s is not serializable", rpc.Method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, err, "invalid upstream url %s", endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if cred != nil {
		cred.Apply(req)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, toolerr.Wrap(toolerr.KindTimeout, err, "upstream call %s timed out", rpc.Method)
		}
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, err, "upstream unreachable for %s", rpc.Method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, err, "reading upstream response failed")
	}

	e.logger.Debug().
		Str("method", rpc.Method).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("mcp proxy exchange")

	if resp.StatusCode >= 400 {
		return nil, toolerr.Upstream(resp.StatusCode, common.Truncate(string(body), maxErrorExcerpt))
	}

	data := body
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		data = firstSSEData(body)
		if data == nil {
			return nil, toolerr.New(toolerr.KindUpstreamProtocolError, "upstream event stream carried no data for %s", rpc.Method)
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamProtocolError, err, "upstream response to %s is not valid JSON-RPC", rpc.Method)
	}
	if rpcResp.Error != nil {
		return nil, toolerr.New(toolerr.KindUpstreamError, "upstream rejected %s: %s", rpc.Method, common.Truncate(rpcResp.Error.Message, maxErrorExcerpt))
	}
	if rpcResp.Result == nil {
		return nil, toolerr.New(toolerr.KindUpstreamProtocolError, "upstream response to %s carries neither result nor error", rpc.Method)
	}
	return rpcResp.Result, nil
}

// firstSSEData extracts the first data payload from an event-stream body.
// Stateless upstreams emit exactly one event per POST.
func firstSSEData(body []byte) []byte {
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if data, found := strings.CutPrefix(line, "data:"); found {
			return []byte(strings.TrimSpace(data))
		}
	}
	return nil
}

// normalizeServerURL ensures the endpoint targets the server's MCP path.
// A bare host gets the conventional /mcp suffix.
func normalizeServerURL(serverURL string) string {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/mcp"
		return parsed.String()
	}
	return serverURL
}

// resultText flattens a tool result's text content for error excerpts.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "upstream reported an error without detail"
	}
	return strings.Join(parts, " ")
}

var _ Executor = (*MCPProxyExecutor)(nil)
var _ registry.UpstreamLister = (*MCPProxyExecutor)(nil)
