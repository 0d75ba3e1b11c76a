package models

import "encoding/json"

// CallEnvelope carries one inbound tool call through the dispatcher.
// CredentialOverride holds a bring-your-own credential payload extracted
// from the arguments; it never appears in logs or results.
type CallEnvelope struct {
	Tool               string
	Arguments          map[string]interface{}
	CredentialOverride map[string]interface{}
	Caller             string
	CorrelationID      string
}

// CallResult is the protocol-agnostic normalized success payload.
// JSON responses pass through as raw JSON; non-JSON bodies are wrapped
// as opaque blobs with their declared content type.
type CallResult struct {
	ContentType string
	JSON        json.RawMessage
	Blob        []byte
}

// NewJSONResult wraps a raw JSON payload.
func NewJSONResult(raw json.RawMessage) *CallResult {
	return &CallResult{ContentType: "application/json", JSON: raw}
}

// NewBlobResult wraps an opaque body with its content type.
func NewBlobResult(contentType string, data []byte) *CallResult {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &CallResult{ContentType: contentType, Blob: data}
}

// IsJSON reports whether the result carries JSON content.
func (r *CallResult) IsJSON() bool {
	return r.JSON != nil
}

// ExposedTool is one externally visible tool: a (definition, operation)
// pair with its discovery metadata. Exposed names follow ExposedName.
type ExposedTool struct {
	Name        string
	Description string
	Category    string
	OperationID string
	InputSchema json.RawMessage
	Definition  *ToolDefinition
}
