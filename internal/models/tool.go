// Package models defines the adapter's core data model: tool definitions,
// call envelopes, and normalized call results.
package models

import (
	"fmt"
	"strings"
)

// ToolKind discriminates the backend protocol for a tool.
type ToolKind string

const (
	// KindREST executes calls as single HTTP requests against an
	// OpenAPI-described upstream.
	KindREST ToolKind = "rest"

	// KindMCPProxy forwards calls transparently to an upstream MCP server.
	KindMCPProxy ToolKind = "mcp-proxy"
)

// CredentialMode selects how a tool's credential is obtained.
type CredentialMode string

const (
	// CredentialHosted resolves the credential from the owning platform.
	CredentialHosted CredentialMode = "hosted"

	// CredentialBYO takes the credential from the call envelope; the
	// hosted store is never contacted.
	CredentialBYO CredentialMode = "byo"
)

// AuthTemplate declares how a resolved credential is placed on the
// outbound request.
type AuthTemplate struct {
	Type          string `json:"type"`           // api_key, bearer, basic, none
	Name          string `json:"name"`           // header or query parameter name
	In            string `json:"in"`             // header or query
	ValueTemplate string `json:"value_template"` // optional, {value} placeholder
}

// CredentialRef identifies a credential without containing its value.
type CredentialRef struct {
	Mode        CredentialMode `json:"mode"`
	ID          int64          `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Environment string         `json:"environment"`
}

// RESTTarget is the kind-specific payload for rest tools.
type RESTTarget struct {
	OpenAPIURL   string       `json:"openapi_url"`
	OperationIDs []string     `json:"operation_ids"`
	BaseURL      string       `json:"base_url,omitempty"` // overrides the spec's servers entry
	Auth         AuthTemplate `json:"auth"`
}

// MCPTarget is the kind-specific payload for mcp-proxy tools.
type MCPTarget struct {
	ServerURL string `json:"server_url"`
}

// ToolDefinition is one registered tool as loaded from durable storage.
// Exactly one of REST/MCP is populated, consistent with Kind.
type ToolDefinition struct {
	ID          uint64         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Provider    string         `json:"provider"`
	Category    string         `json:"category"`
	Kind        ToolKind       `json:"kind"`
	Enabled     bool           `json:"enabled"`
	REST        *RESTTarget    `json:"rest,omitempty"`
	MCP         *MCPTarget     `json:"mcp,omitempty"`
	Credential  CredentialRef  `json:"credential"`
	Tags        []string       `json:"tags,omitempty"`
}

// Validate checks kind consistency: exactly one kind-specific payload is
// populated and matches Kind. MCP upstream URLs must be http or https.
func (d *ToolDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	switch d.Kind {
	case KindREST:
		if d.REST == nil {
			return fmt.Errorf("tool %q: kind rest requires a rest payload", d.Name)
		}
		if d.MCP != nil {
			return fmt.Errorf("tool %q: kind rest must not carry an mcp payload", d.Name)
		}
		if d.REST.OpenAPIURL == "" {
			return fmt.Errorf("tool %q: rest tool missing openapi_url", d.Name)
		}
	case KindMCPProxy:
		if d.MCP == nil {
			return fmt.Errorf("tool %q: kind mcp-proxy requires an mcp payload", d.Name)
		}
		if d.REST != nil {
			return fmt.Errorf("tool %q: kind mcp-proxy must not carry a rest payload", d.Name)
		}
		if !strings.HasPrefix(d.MCP.ServerURL, "http://") && !strings.HasPrefix(d.MCP.ServerURL, "https://") {
			return fmt.Errorf("tool %q: mcp server_url must be http or https, got %q", d.Name, d.MCP.ServerURL)
		}
	default:
		return fmt.Errorf("tool %q: unknown kind %q", d.Name, d.Kind)
	}
	switch d.Credential.Mode {
	case CredentialHosted, CredentialBYO, "":
	default:
		return fmt.Errorf("tool %q: unknown credential mode %q", d.Name, d.Credential.Mode)
	}
	return nil
}

// SanitizeName lowercases a name and replaces non-alphanumeric runes
// with underscores, matching the owning platform's tool-name parsing.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			b.WriteRune(ch + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ExposedName builds the externally visible tool name for one operation
// of a registered tool: mcp_<tool>_<operation>.
func ExposedName(toolName, operation string) string {
	return "mcp_" + SanitizeName(toolName) + "_" + SanitizeName(operation)
}
