// Package credentials resolves a tool's credential reference into a
// call-scoped value. Resolved values live for exactly one call: the
// dispatcher clears them the moment the executor returns, and no code
// path serializes them to any sink but the one outbound request.
package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/automatos/unified-adapter/internal/client"
	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// Credential kinds.
const (
	KindAPIKey = "api-key"
	KindBearer = "bearer"
	KindBasic  = "basic"
	KindNone   = "none"
)

// Placement describes where the materialized value goes on the outbound
// request.
type Placement struct {
	In   string // header or query
	Name string // header name or query parameter name
}

// ResolvedCredential is a transient value object scoped to one call.
// The value is unexported; it leaves this struct only through Apply.
type ResolvedCredential struct {
	Kind      string
	Placement Placement
	value     string
}

// None is the resolved form of a credential-free call.
func None() *ResolvedCredential {
	return &ResolvedCredential{Kind: KindNone}
}

// Apply injects the credential into the request per its placement.
// This is the single permitted sink for the materialized value.
func (c *ResolvedCredential) Apply(req *http.Request) {
	if c == nil || c.Kind == KindNone || c.value == "" {
		return
	}
	switch c.Placement.In {
	case "query":
		q := req.URL.Query()
		q.Set(c.Placement.Name, c.value)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set(c.Placement.Name, c.value)
	}
}

// Secret returns the raw value for redaction purposes only: executors
// pass it to common.RedactValue to scrub error excerpts. It must never
// be logged or stored.
func (c *ResolvedCredential) Secret() string {
	if c == nil {
		return ""
	}
	return c.value
}

// Clear zeroizes the value. Called by the dispatcher when the call ends.
func (c *ResolvedCredential) Clear() {
	if c != nil {
		c.value = ""
	}
}

// Resolver produces call-scoped credentials for tool definitions.
type Resolver struct {
	platform *client.PlatformClient
	logger   *common.Logger
}

// NewResolver creates a credential resolver backed by the platform client.
func NewResolver(platform *client.PlatformClient, logger *common.Logger) *Resolver {
	return &Resolver{platform: platform, logger: logger}
}

// Resolve materializes the credential for one call. In bring-your-own
// mode the override from the call envelope is used and the hosted store
// is never contacted. Hosted failures surface as credential_unavailable.
func (r *Resolver) Resolve(ctx context.Context, def *models.ToolDefinition, override map[string]interface{}) (*ResolvedCredential, error) {
	template := authTemplate(def)
	if template.Type == "none" {
		return None(), nil
	}

	var payload map[string]interface{}
	switch def.Credential.Mode {
	case models.CredentialBYO:
		if len(override) == 0 {
			return nil, toolerr.New(toolerr.KindCredentialUnavailable, "tool %s requires a caller-supplied credential", def.Name)
		}
		payload = override
	default: // hosted
		if def.Credential.ID == 0 && def.Credential.Name == "" {
			return nil, toolerr.New(toolerr.KindCredentialUnavailable, "tool %s has no credential reference", def.Name)
		}
		resolved, err := r.platform.ResolveCredential(ctx, def.Credential)
		if err != nil {
			if errors.Is(err, client.ErrCredentialNotFound) {
				// The reference identifier stays out of the message so it
				// cannot surface in caller-visible errors.
				return nil, toolerr.Wrap(toolerr.KindCredentialUnavailable, err, "hosted credential not found for tool %s", def.Name)
			}
			return nil, toolerr.Wrap(toolerr.KindCredentialUnavailable, err, "hosted credential lookup failed for tool %s", def.Name)
		}
		payload = resolved
	}

	cred, err := materialize(template, payload)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindCredentialUnavailable, err, "credential for tool %s could not be materialized", def.Name)
	}
	return cred, nil
}

// authTemplate returns the tool's declared auth template. MCP-proxy
// tools have no template of their own; a resolved credential passes
// upstream as a bearer Authorization header.
func authTemplate(def *models.ToolDefinition) models.AuthTemplate {
	if def.REST != nil && def.REST.Auth.Type != "" {
		return def.REST.Auth
	}
	if def.Credential.Mode == "" || (def.Credential.ID == 0 && def.Credential.Name == "" && def.Credential.Mode != models.CredentialBYO) {
		return models.AuthTemplate{Type: "none"}
	}
	return models.AuthTemplate{Type: "bearer"}
}

// materialize renders the credential value and placement from the
// template and the resolved payload.
func materialize(template models.AuthTemplate, payload map[string]interface{}) (*ResolvedCredential, error) {
	switch template.Type {
	case "bearer":
		token := stringValue(payload["access_token"])
		if token == "" {
			token = firstNonEmpty(payload)
		}
		if token == "" {
			return nil, fmt.Errorf("no token value in credential payload")
		}
		return &ResolvedCredential{
			Kind:      KindBearer,
			Placement: Placement{In: "header", Name: "Authorization"},
			value:     "Bearer " + token,
		}, nil

	case "basic":
		user := stringValue(payload["username"])
		pass := stringValue(payload["password"])
		if user == "" && pass == "" {
			return nil, fmt.Errorf("no username/password in credential payload")
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return &ResolvedCredential{
			Kind:      KindBasic,
			Placement: Placement{In: "header", Name: "Authorization"},
			value:     "Basic " + encoded,
		}, nil

	case "api_key":
		value := renderTemplate(template.ValueTemplate, payload)
		if value == "" {
			value = firstNonEmpty(payload)
		}
		if value == "" {
			return nil, fmt.Errorf("no value in credential payload")
		}
		name := template.Name
		if name == "" {
			name = "Authorization"
		}
		in := template.In
		if in != "query" {
			in = "header"
		}
		return &ResolvedCredential{
			Kind:      KindAPIKey,
			Placement: Placement{In: in, Name: name},
			value:     value,
		}, nil

	default:
		return None(), nil
	}
}

// renderTemplate substitutes {key} placeholders with payload values.
// Returns empty when the template is empty or any placeholder is unmet.
func renderTemplate(tmpl string, payload map[string]interface{}) string {
	if tmpl == "" {
		return ""
	}
	out := tmpl
	for key, val := range payload {
		out = strings.ReplaceAll(out, "{"+key+"}", stringValue(val))
	}
	if strings.Contains(out, "{") && strings.Contains(out, "}") {
		return ""
	}
	return out
}

// firstNonEmpty returns the first non-empty payload value, preferring
// well-known key names so resolution is deterministic.
func firstNonEmpty(payload map[string]interface{}) string {
	preferred := []string{"access_token", "token", "api_key", "key", "value", "secret"}
	for _, key := range preferred {
		if v := stringValue(payload[key]); v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := stringValue(payload[k]); v != "" {
			return v
		}
	}
	return ""
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
