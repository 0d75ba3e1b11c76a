package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/credentials"
	"github.com/automatos/unified-adapter/internal/executor"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// ToolResolver resolves exposed tool names and their allowed operations.
// Satisfied by the registry.
type ToolResolver interface {
	Lookup(name string) (*models.ExposedTool, error)
	AllowedOperations(def *models.ToolDefinition) map[string]bool
}

// CredentialResolver materializes call-scoped credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, def *models.ToolDefinition, override map[string]interface{}) (*credentials.ResolvedCredential, error)
}

// Dispatcher drives one tool call end to end: lookup, admission,
// credential resolution, execution, and classified retry. Retryable
// failures are re-attempted with exponential backoff inside the call's
// overall deadline; everything else fails fast.
type Dispatcher struct {
	tools      ToolResolver
	creds      CredentialResolver
	governor   *Governor
	executors  map[models.ToolKind]executor.Executor
	logger     *common.Logger
	timeout    time.Duration
	attempts   uint64
	backoffMin time.Duration
	backoffMax time.Duration
}

// NewDispatcher wires the dispatcher from its collaborators.
func NewDispatcher(tools ToolResolver, creds CredentialResolver, governor *Governor, executors map[models.ToolKind]executor.Executor, cfg *config.DispatchConfig, logger *common.Logger) *Dispatcher {
	return &Dispatcher{
		tools:      tools,
		creds:      creds,
		governor:   governor,
		executors:  executors,
		logger:     logger,
		timeout:    time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		attempts:   uint64(cfg.MaxAttempts),
		backoffMin: time.Duration(cfg.BackoffInitialMS) * time.Millisecond,
		backoffMax: time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
}

// Dispatch executes one call envelope and returns its normalized result.
func (d *Dispatcher) Dispatch(ctx context.Context, env *models.CallEnvelope) (*models.CallResult, error) {
	start := time.Now()
	logger := d.logger.WithCorrelationId(env.CorrelationID)

	tool, err := d.tools.Lookup(env.Tool)
	if err != nil {
		return nil, err
	}
	def := tool.Definition

	release, err := d.governor.Acquire(ctx, upstreamHost(def))
	if err != nil {
		logger.Warn().
			Str("tool", env.Tool).
			Str("error", err.Error()).
			Msg("call rejected at admission")
		return nil, err
	}
	defer release()

	// The deadline covers every attempt, not each attempt separately.
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	logger.Debug().
		Str("tool", env.Tool).
		Str("operation", tool.OperationID).
		Str("arguments", fmt.Sprintf("%v", common.RedactPayload(env.Arguments))).
		Msg("dispatching call")

	result, err := d.execute(callCtx, tool, env)

	if err != nil {
		kind, _ := toolerr.KindOf(err)
		if callCtx.Err() != nil && kind != toolerr.KindTimeout && kind != toolerr.KindOverloaded {
			err = toolerr.Wrap(toolerr.KindTimeout, err, "call to %s exceeded its deadline", env.Tool)
			kind = toolerr.KindTimeout
		}
		logger.Warn().
			Str("tool", env.Tool).
			Str("kind", string(kind)).
			Dur("duration", time.Since(start)).
			Msg("call failed")
		return nil, err
	}

	logger.Info().
		Str("tool", env.Tool).
		Str("operation", tool.OperationID).
		Dur("duration", time.Since(start)).
		Msg("call completed")
	return result, nil
}

// execute runs the attempt loop. Each attempt resolves a fresh credential
// and clears it before the next one; only retryable kinds re-enter the loop.
func (d *Dispatcher) execute(ctx context.Context, tool *models.ExposedTool, env *models.CallEnvelope) (*models.CallResult, error) {
	def := tool.Definition
	exec, ok := d.executors[def.Kind]
	if !ok {
		return nil, toolerr.New(toolerr.KindInternal, "no executor wired for tool kind %q", def.Kind)
	}

	var allowed map[string]bool
	if def.Kind == models.KindREST {
		allowed = d.tools.AllowedOperations(def)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.backoffMin
	expo.MaxInterval = d.backoffMax
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, d.attempts-1), ctx)

	var result *models.CallResult
	attempt := func() error {
		cred, err := d.creds.Resolve(ctx, def, env.CredentialOverride)
		if err != nil {
			return classify(err)
		}
		defer cred.Clear()

		res, err := exec.Execute(ctx, &executor.Invocation{
			Tool:              tool,
			Arguments:         env.Arguments,
			Credential:        cred,
			AllowedOperations: allowed,
		})
		if err != nil {
			return classify(err)
		}
		result = res
		return nil
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// classify marks non-retryable errors permanent so the backoff loop
// stops immediately.
func classify(err error) error {
	if toolerr.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// upstreamHost derives the per-host admission key for a tool.
func upstreamHost(def *models.ToolDefinition) string {
	raw := ""
	switch {
	case def.MCP != nil:
		raw = def.MCP.ServerURL
	case def.REST != nil && def.REST.BaseURL != "":
		raw = def.REST.BaseURL
	case def.REST != nil:
		raw = def.REST.OpenAPIURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return parsed.Host
}
