// Package executor translates dispatched calls into upstream protocol
// exchanges: one HTTP request per call for REST tools, one MCP tools/call
// for proxied tools.
package executor

import (
	"context"

	"github.com/automatos/unified-adapter/internal/credentials"
	"github.com/automatos/unified-adapter/internal/models"
)

// Invocation carries one upstream call. The credential is call-scoped;
// the dispatcher clears it when the call ends.
type Invocation struct {
	Tool       *models.ExposedTool
	Arguments  map[string]interface{}
	Credential *credentials.ResolvedCredential

	// AllowedOperations restricts resolvable operation ids for REST
	// tools. Empty permits every spec operation.
	AllowedOperations map[string]bool
}

// Executor performs one upstream exchange for a tool kind.
type Executor interface {
	Execute(ctx context.Context, inv *Invocation) (*models.CallResult, error)
}
