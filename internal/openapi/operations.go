package openapi

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Param describes one operation parameter and where it binds on the request.
type Param struct {
	Name        string
	In          string // path, query, header
	Required    bool
	Type        string // JSON schema primitive type
	Description string
}

// OperationDescriptor is the cached, derived view of one spec operation.
// Owned by the SpecCache; never mutated by the execution path.
type OperationDescriptor struct {
	OperationID  string
	Method       string
	Path         string
	Description  string
	Params       []Param
	HasBody      bool
	BaseURL      string // servers[0] from the spec, fallback when the tool has no override
	AuthDeclared bool   // the operation (or spec) declares a security requirement
}

// extractOperations flattens a parsed spec into descriptors keyed by
// operation id. Operations without an operationId get a fallback id of
// the form <method>_<path>.
func extractOperations(doc *openapi3.T) map[string]*OperationDescriptor {
	ops := make(map[string]*OperationDescriptor)

	baseURL := ""
	if len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	specAuth := len(doc.Security) > 0

	if doc.Paths == nil {
		return ops
	}
	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			id := op.OperationID
			if id == "" {
				id = fallbackOperationID(method, path)
			}

			desc := op.Description
			if desc == "" {
				desc = op.Summary
			}

			descriptor := &OperationDescriptor{
				OperationID:  id,
				Method:       strings.ToUpper(method),
				Path:         path,
				Description:  desc,
				Params:       extractParams(item.Parameters, op.Parameters),
				HasBody:      hasJSONBody(op.RequestBody),
				BaseURL:      baseURL,
				AuthDeclared: specAuth || (op.Security != nil && len(*op.Security) > 0),
			}
			ops[id] = descriptor
		}
	}
	return ops
}

// extractParams merges path-level and operation-level parameters,
// operation-level winning on name+location collisions.
func extractParams(shared, own openapi3.Parameters) []Param {
	merged := make(map[string]Param)
	for _, refs := range [][]*openapi3.ParameterRef{shared, own} {
		for _, ref := range refs {
			if ref == nil || ref.Value == nil || ref.Value.Name == "" {
				continue
			}
			p := ref.Value
			merged[p.In+":"+p.Name] = Param{
				Name:        p.Name,
				In:          p.In,
				Required:    p.Required,
				Type:        schemaType(p.Schema),
				Description: p.Description,
			}
		}
	}

	params := make([]Param, 0, len(merged))
	for _, p := range merged {
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

func hasJSONBody(ref *openapi3.RequestBodyRef) bool {
	if ref == nil || ref.Value == nil {
		return false
	}
	return ref.Value.Content.Get("application/json") != nil
}

func schemaType(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return "string"
	}
	t := ref.Value.Type
	switch {
	case t.Is(openapi3.TypeInteger):
		return "integer"
	case t.Is(openapi3.TypeNumber):
		return "number"
	case t.Is(openapi3.TypeBoolean):
		return "boolean"
	case t.Is(openapi3.TypeArray):
		return "array"
	case t.Is(openapi3.TypeObject):
		return "object"
	default:
		return "string"
	}
}

func fallbackOperationID(method, path string) string {
	sanitized := strings.Trim(path, "/")
	sanitized = strings.NewReplacer("/", "_", "{", "", "}", "").Replace(sanitized)
	if sanitized == "" {
		sanitized = "root"
	}
	return strings.ToLower(method) + "_" + sanitized
}

// BuildInputSchema derives the JSON input schema exposed for one
// operation's tool: one property per declared parameter plus a free-form
// body object when the operation accepts one.
func BuildInputSchema(desc *OperationDescriptor) json.RawMessage {
	properties := make(map[string]interface{}, len(desc.Params)+1)
	var required []string

	for _, p := range desc.Params {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	if desc.HasBody {
		properties["body"] = map[string]interface{}{
			"type":        "object",
			"description": "Request body",
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}

	raw, _ := json.Marshal(schema)
	return raw
}

// GenericInputSchema is the permissive schema used for proxied MCP tools,
// whose real schema lives on the upstream server.
func GenericInputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","additionalProperties":true}`)
}
