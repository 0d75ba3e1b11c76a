// Package mcp is the inbound MCP surface: it advertises the registry's
// exposed tools over streamable HTTP and hands calls to the dispatcher.
package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/models"
)

// credentialsArgument is the reserved argument carrying a bring-your-own
// credential payload. It is stripped before arguments reach any upstream.
const credentialsArgument = "credentials"

// CallDispatcher executes one call envelope. Satisfied by the dispatcher.
type CallDispatcher interface {
	Dispatch(ctx context.Context, env *models.CallEnvelope) (*models.CallResult, error)
}

// ToolLister enumerates the exposed tool set. Satisfied by the registry.
type ToolLister interface {
	List() []models.ExposedTool
}

// Handler is the HTTP handler for the MCP endpoint. It wraps mcp-go's
// StreamableHTTPServer in stateless mode and delegates to it. Calls to
// names outside the advertised set are intercepted and dispatched anyway,
// so the registry's classification (disabled vs unknown vs disallowed
// operation) comes back as a tool error instead of a protocol error.
type Handler struct {
	streamable *mcpserver.StreamableHTTPServer
	dispatcher CallDispatcher
	logger     *common.Logger
	authToken  string
	registered map[string]bool
}

// NewHandler builds the MCP server from the registry's exposed tools.
func NewHandler(cfg *config.Config, tools ToolLister, dispatcher CallDispatcher, logger *common.Logger) *Handler {
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Platform.ServiceName,
		config.Version,
		mcpserver.WithToolCapabilities(true),
	)

	exposed := tools.List()
	registered := make(map[string]bool, len(exposed))
	for _, tool := range exposed {
		mcpSrv.AddTool(buildTool(tool), toolHandler(dispatcher, tool))
		registered[tool.Name] = true
	}

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithStateLess(true),
	)

	logger.Info().
		Int("tools", len(exposed)).
		Msg("MCP handler initialized")

	return &Handler{
		streamable: streamable,
		dispatcher: dispatcher,
		logger:     logger,
		authToken:  cfg.Server.AuthToken,
		registered: registered,
	}
}

// ToolCount returns the number of advertised tools, for diagnostics.
func (h *Handler) ToolCount() int {
	return len(h.registered)
}

// ServeHTTP enforces the shared bearer token (when configured), screens
// tool calls for unadvertised names, and delegates everything else to
// the streamable server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authToken != "" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != h.authToken {
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "unauthorized",
				"error_description": "Authentication required to access MCP endpoint",
			})
			return
		}
	}

	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		if h.handleUnregisteredCall(w, r, body) {
			return
		}
	}

	h.streamable.ServeHTTP(w, r)
}

// handleUnregisteredCall intercepts a tools/call for a name the MCP
// server holds no handler for and routes it through the dispatcher. The
// registry then classifies it: tool_disabled, tool_not_found, or a
// synthesized lookup that fails (or succeeds) at the operation level.
// Returns false when the request is not such a call.
func (h *Handler) handleUnregisteredCall(w http.ResponseWriter, r *http.Request, body []byte) bool {
	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	if req.Method != "tools/call" || req.Params.Name == "" || h.registered[req.Params.Name] {
		return false
	}

	result := dispatchCall(r.Context(), h.dispatcher, req.Params.Name, req.Params.Arguments, true)

	id := req.ID
	if id == nil {
		id = json.RawMessage("null")
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
	return true
}

// buildTool converts an exposed tool into its discovery shape. The input
// schema was derived by the registry; it passes through untouched.
func buildTool(tool models.ExposedTool) mcpgo.Tool {
	return mcpgo.NewToolWithRawSchema(tool.Name, tool.Description, tool.InputSchema)
}

// toolHandler routes one tool's calls into the dispatcher.
func toolHandler(dispatcher CallDispatcher, tool models.ExposedTool) mcpserver.ToolHandlerFunc {
	proxied := tool.Definition.Kind == models.KindMCPProxy
	return func(ctx context.Context, r mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return dispatchCall(ctx, dispatcher, tool.Name, r.GetArguments(), proxied), nil
	}
}

// dispatchCall runs one call end to end. Classified failures come back
// as tool errors, never protocol errors, so the calling model sees them.
func dispatchCall(ctx context.Context, dispatcher CallDispatcher, name string, rawArgs map[string]interface{}, proxied bool) *mcpgo.CallToolResult {
	args, override := splitCredentials(rawArgs)

	result, err := dispatcher.Dispatch(ctx, &models.CallEnvelope{
		Tool:               name,
		Arguments:          args,
		CredentialOverride: override,
		CorrelationID:      uuid.NewString(),
	})
	if err != nil {
		return mcpgo.NewToolResultError(err.Error())
	}
	return renderResult(result, proxied)
}

// splitCredentials removes the reserved credentials argument so it never
// reaches logs or upstreams as a regular argument.
func splitCredentials(args map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
	raw, ok := args[credentialsArgument]
	if !ok {
		return args, nil
	}

	cleaned := make(map[string]interface{}, len(args)-1)
	for k, v := range args {
		if k != credentialsArgument {
			cleaned[k] = v
		}
	}

	override, _ := raw.(map[string]interface{})
	return cleaned, override
}

// renderResult converts a normalized call result into MCP content.
// Proxied results are forwarded verbatim; REST JSON becomes text content;
// opaque blobs are embedded base64 resources.
func renderResult(result *models.CallResult, proxied bool) *mcpgo.CallToolResult {
	if proxied && result.IsJSON() {
		raw := json.RawMessage(result.JSON)
		if parsed, err := mcpgo.ParseCallToolResult(&raw); err == nil {
			return parsed
		}
	}

	if result.IsJSON() {
		return mcpgo.NewToolResultText(string(result.JSON))
	}

	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{
			mcpgo.NewEmbeddedResource(mcpgo.BlobResourceContents{
				MIMEType: result.ContentType,
				Blob:     base64.StdEncoding.EncodeToString(result.Blob),
			}),
		},
	}
}
