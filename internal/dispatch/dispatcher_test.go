package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/credentials"
	"github.com/automatos/unified-adapter/internal/executor"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

type stubResolver struct {
	tools map[string]*models.ExposedTool
}

func (s *stubResolver) Lookup(name string) (*models.ExposedTool, error) {
	if tool, ok := s.tools[name]; ok {
		return tool, nil
	}
	return nil, toolerr.New(toolerr.KindToolNotFound, "tool %q is not registered", name)
}

func (s *stubResolver) AllowedOperations(def *models.ToolDefinition) map[string]bool {
	return nil
}

type stubCreds struct {
	err   error
	calls atomic.Int64
}

func (s *stubCreds) Resolve(ctx context.Context, def *models.ToolDefinition, override map[string]interface{}) (*credentials.ResolvedCredential, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return credentials.None(), nil
}

type stubExecutor struct {
	calls   atomic.Int64
	err     error
	failFor int64 // fail this many calls, then succeed
	delay   time.Duration
	result  *models.CallResult
}

func (s *stubExecutor) Execute(ctx context.Context, inv *executor.Invocation) (*models.CallResult, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, toolerr.Wrap(toolerr.KindTimeout, ctx.Err(), "upstream call timed out")
		}
	}
	if s.err != nil && (s.failFor == 0 || n <= s.failFor) {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return models.NewJSONResult([]byte(`{"ok":true}`)), nil
}

func restTool() *models.ExposedTool {
	return &models.ExposedTool{
		Name:        "mcp_orders_listorders",
		OperationID: "listOrders",
		Definition: &models.ToolDefinition{
			Name: "orders", Kind: models.KindREST, Enabled: true,
			REST: &models.RESTTarget{OpenAPIURL: "https://api.example.com/openapi.json"},
		},
	}
}

func dispatchConfig() *config.DispatchConfig {
	return &config.DispatchConfig{
		MaxConcurrency:     8,
		PerHostConcurrency: 4,
		OverflowPolicy:     "reject",
		CallTimeoutSeconds: 5,
		MaxAttempts:        3,
		BackoffInitialMS:   1,
		BackoffMaxMS:       5,
	}
}

func newDispatcher(cfg *config.DispatchConfig, creds CredentialResolver, exec executor.Executor) *Dispatcher {
	tools := &stubResolver{tools: map[string]*models.ExposedTool{"mcp_orders_listorders": restTool()}}
	return NewDispatcher(tools, creds, NewGovernor(cfg), map[models.ToolKind]executor.Executor{
		models.KindREST: exec,
	}, cfg, common.NewSilentLogger())
}

func TestDispatchSuccess(t *testing.T) {
	exec := &stubExecutor{}
	d := newDispatcher(dispatchConfig(), &stubCreds{}, exec)

	result, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if string(result.JSON) != `{"ok":true}` {
		t.Errorf("unexpected result %s", result.JSON)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("expected a single upstream call, got %d", exec.calls.Load())
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newDispatcher(dispatchConfig(), &stubCreds{}, &stubExecutor{})

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_ghost_run"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindToolNotFound {
		t.Errorf("expected tool_not_found, got %v", err)
	}
}

func TestDispatchRetriesExactlyMaxAttempts(t *testing.T) {
	exec := &stubExecutor{err: toolerr.New(toolerr.KindUpstreamUnavailable, "connection refused")}
	d := newDispatcher(dispatchConfig(), &stubCreds{}, exec)

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %v", err)
	}
	if exec.calls.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", exec.calls.Load())
	}
}

func TestDispatchRecoversWithinBudget(t *testing.T) {
	exec := &stubExecutor{err: toolerr.New(toolerr.KindUpstreamUnavailable, "flaky"), failFor: 2}
	d := newDispatcher(dispatchConfig(), &stubCreds{}, exec)

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	if err != nil {
		t.Fatalf("expected recovery on third attempt, got %v", err)
	}
	if exec.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", exec.calls.Load())
	}
}

func TestDispatchNonRetryableFailsFast(t *testing.T) {
	exec := &stubExecutor{err: toolerr.Upstream(403, "forbidden")}
	d := newDispatcher(dispatchConfig(), &stubCreds{}, exec)

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindUpstreamError {
		t.Fatalf("expected upstream_error, got %v", err)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("non-retryable error must not be retried, got %d attempts", exec.calls.Load())
	}
}

func TestDispatchMissingExecutorIsInternalFault(t *testing.T) {
	cfg := dispatchConfig()
	tools := &stubResolver{tools: map[string]*models.ExposedTool{"mcp_orders_listorders": restTool()}}
	d := NewDispatcher(tools, &stubCreds{}, NewGovernor(cfg), map[models.ToolKind]executor.Executor{}, cfg, common.NewSilentLogger())

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindInternal {
		t.Errorf("expected internal_error for a kind with no executor, got %v", err)
	}
	if te != nil && te.Retryable() {
		t.Error("a wiring fault must not be retried")
	}
}

func TestDispatchCredentialFailureRetriedThenSurfaced(t *testing.T) {
	creds := &stubCreds{err: toolerr.New(toolerr.KindCredentialUnavailable, "hosted credential not found for tool orders")}
	exec := &stubExecutor{}
	d := newDispatcher(dispatchConfig(), creds, exec)

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindCredentialUnavailable {
		t.Fatalf("expected credential_unavailable, got %v", err)
	}
	if creds.calls.Load() != 3 {
		t.Errorf("expected credential resolution per attempt, got %d", creds.calls.Load())
	}
	if exec.calls.Load() != 0 {
		t.Error("executor must not run without a credential")
	}
	if strings.Contains(te.Message, "tok") && strings.Contains(te.Message, "secret") {
		t.Errorf("credential material leaked: %q", te.Message)
	}
}

func TestDispatchTimeout(t *testing.T) {
	cfg := dispatchConfig()
	cfg.CallTimeoutSeconds = 1
	exec := &stubExecutor{delay: 3 * time.Second}
	d := newDispatcher(cfg, &stubCreds{}, exec)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("deadline was not enforced")
	}
}

func TestDispatchOverload(t *testing.T) {
	cfg := dispatchConfig()
	cfg.MaxConcurrency = 1
	exec := &stubExecutor{delay: 500 * time.Millisecond}
	d := newDispatcher(cfg, &stubCreds{}, exec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	}()
	time.Sleep(100 * time.Millisecond)

	_, err := d.Dispatch(context.Background(), &models.CallEnvelope{Tool: "mcp_orders_listorders"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindOverloaded {
		t.Errorf("expected overloaded while slot is held, got %v", err)
	}
	<-done
}
