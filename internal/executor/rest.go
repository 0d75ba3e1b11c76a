package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/openapi"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// maxResponseSize caps upstream response bodies.
const maxResponseSize = 10 << 20 // 10MB

// maxErrorExcerpt bounds the upstream body excerpt carried in errors.
const maxErrorExcerpt = 2048

// RESTExecutor executes one tool call as a single HTTP request described
// by the operation's OpenAPI metadata.
type RESTExecutor struct {
	specs      *openapi.SpecCache
	httpClient *http.Client
	logger     *common.Logger
}

// NewRESTExecutor creates the REST executor. Per-call deadlines come from
// the dispatch context, not the client.
func NewRESTExecutor(specs *openapi.SpecCache, logger *common.Logger) *RESTExecutor {
	return &RESTExecutor{
		specs:      specs,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Execute resolves the operation, binds arguments onto the request,
// injects the credential, and normalizes the response.
func (e *RESTExecutor) Execute(ctx context.Context, inv *Invocation) (*models.CallResult, error) {
	def := inv.Tool.Definition

	desc, err := e.specs.ResolveOperation(ctx, def.REST.OpenAPIURL, inv.Tool.OperationID, inv.AllowedOperations)
	if err != nil {
		return nil, err
	}

	baseURL := def.REST.BaseURL
	if baseURL == "" {
		baseURL = desc.BaseURL
	}
	if baseURL == "" {
		return nil, toolerr.New(toolerr.KindSpecInvalid, "spec for %s declares no server and the tool has no base url", def.Name)
	}

	req, err := e.buildRequest(ctx, baseURL, desc, inv.Arguments)
	if err != nil {
		return nil, err
	}
	inv.Credential.Apply(req)

	e.logger.Debug().
		Str("tool", def.Name).
		Str("operation", desc.OperationID).
		Str("method", desc.Method).
		Str("path", desc.Path).
		Msg("executing rest call")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, toolerr.Wrap(toolerr.KindTimeout, err, "call to %s timed out", def.Name)
		}
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, err, "upstream for %s unreachable", def.Name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, err, "reading response from %s failed", def.Name)
	}

	if resp.StatusCode >= 400 {
		excerpt := common.RedactValue(string(body), inv.Credential.Secret())
		return nil, toolerr.Upstream(resp.StatusCode, common.Truncate(excerpt, maxErrorExcerpt))
	}

	return normalizeResponse(resp, body)
}

// buildRequest binds arguments onto the request: path parameters are
// substituted into the template, query and header parameters are set from
// same-named arguments, and the "body" argument becomes the JSON body.
func (e *RESTExecutor) buildRequest(ctx context.Context, baseURL string, desc *openapi.OperationDescriptor, args map[string]interface{}) (*http.Request, error) {
	path := desc.Path
	for _, p := range desc.Params {
		if p.In != "path" {
			continue
		}
		value, ok := args[p.Name]
		if !ok {
			return nil, toolerr.New(toolerr.KindUpstreamError, "missing required path parameter %q for operation %s", p.Name, desc.OperationID)
		}
		path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(argString(value)))
	}

	var body io.Reader
	if desc.HasBody {
		if raw, ok := args["body"]; ok {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, toolerr.Wrap(toolerr.KindUpstreamError, err, "request body for %s is not serializable", desc.OperationID)
			}
			body = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, strings.TrimRight(baseURL, "/")+path, body)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamError, err, "building request for %s failed", desc.OperationID)
	}

	query := req.URL.Query()
	for _, p := range desc.Params {
		value, ok := args[p.Name]
		if !ok {
			continue
		}
		switch p.In {
		case "query":
			query.Set(p.Name, argString(value))
		case "header":
			req.Header.Set(p.Name, argString(value))
		}
	}
	req.URL.RawQuery = query.Encode()

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// normalizeResponse passes JSON bodies through untouched and wraps
// everything else as an opaque blob with its declared content type.
func normalizeResponse(resp *http.Response, body []byte) (*models.CallResult, error) {
	if len(body) == 0 {
		return models.NewJSONResult(json.RawMessage(fmt.Sprintf(`{"status":%d}`, resp.StatusCode))), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if isJSONContent(contentType) {
		if !json.Valid(body) {
			return nil, toolerr.New(toolerr.KindUpstreamProtocolError, "upstream declared JSON but sent an unparseable body")
		}
		return models.NewJSONResult(json.RawMessage(body)), nil
	}
	return models.NewBlobResult(contentType, body), nil
}

func isJSONContent(contentType string) bool {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func argString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; render integers without the
		// trailing .0 so path and query values match the upstream's shape.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

var _ Executor = (*RESTExecutor)(nil)
