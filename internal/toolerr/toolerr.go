// Package toolerr defines the stable error taxonomy for tool execution.
// Every terminal failure carries one of these kinds so the calling gateway
// can distinguish model-visible tool errors from system faults.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	// KindToolDisabled indicates the tool exists but is disabled.
	KindToolDisabled Kind = "tool_disabled"

	// KindToolNotFound indicates no registered tool matches the name.
	KindToolNotFound Kind = "tool_not_found"

	// KindOperationNotAllowed indicates the operation id is outside the
	// tool's allowed set, even if the underlying spec declares it.
	KindOperationNotAllowed Kind = "operation_not_allowed"

	// KindSpecInvalid indicates the OpenAPI document could not be fetched
	// or parsed.
	KindSpecInvalid Kind = "spec_invalid"

	// KindCredentialUnavailable indicates the credential reference could
	// not be resolved (network, not-found, decryption).
	KindCredentialUnavailable Kind = "credential_unavailable"

	// KindUpstreamError indicates the upstream responded with a failure status.
	KindUpstreamError Kind = "upstream_error"

	// KindUpstreamUnavailable indicates the upstream could not be reached.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindUpstreamProtocolError indicates the upstream responded with a
	// malformed payload. Retrying will not fix a malformed peer.
	KindUpstreamProtocolError Kind = "upstream_protocol_error"

	// KindOverloaded indicates admission was rejected by the concurrency governor.
	KindOverloaded Kind = "overloaded"

	// KindTimeout indicates the call exceeded its execution deadline.
	KindTimeout Kind = "timeout"

	// KindInternal indicates an adapter-side wiring or invariant failure,
	// not a caller or upstream fault.
	KindInternal Kind = "internal_error"
)

// retryableKinds are the kinds the dispatcher may retry with backoff.
var retryableKinds = map[Kind]bool{
	KindCredentialUnavailable: true,
	KindUpstreamUnavailable:   true,
}

// Error is a classified tool execution error. Message is already redacted
// and size-bounded by the layer that constructed it.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // upstream HTTP status, when KindUpstreamError
	wrapped    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Retryable reports whether the dispatcher may retry this error.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause. The cause is preserved
// for errors.Is/As but its text is not echoed into Message unless the
// caller puts it there (callers must redact first).
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// Upstream creates an upstream_error carrying the response status code.
func Upstream(statusCode int, excerpt string) *Error {
	return &Error{
		Kind:       KindUpstreamError,
		Message:    fmt.Sprintf("upstream returned %d: %s", statusCode, excerpt),
		StatusCode: statusCode,
	}
}

// KindOf extracts the Kind from an error chain. The second return is
// false for unclassified errors.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}
