// Package dispatch admits, executes, and retries tool calls. The governor
// bounds concurrency; the dispatcher drives one call through credential
// resolution, execution, and classified retry.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// Governor bounds in-flight calls globally and per upstream host.
// Overflow behavior is configurable: queue admits a bounded number of
// waiters, reject fails immediately.
type Governor struct {
	global       chan struct{}
	policy       string
	perHostLimit int
	maxQueue     int

	mu      sync.Mutex
	perHost map[string]chan struct{}

	waiters atomic.Int64
}

// NewGovernor creates a governor from dispatch configuration.
func NewGovernor(cfg *config.DispatchConfig) *Governor {
	return &Governor{
		global:       make(chan struct{}, cfg.MaxConcurrency),
		policy:       cfg.OverflowPolicy,
		perHostLimit: cfg.PerHostConcurrency,
		maxQueue:     cfg.MaxQueueDepth,
		perHost:      make(map[string]chan struct{}),
	}
}

func (g *Governor) hostSlot(host string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.perHost[host]
	if !ok {
		slot = make(chan struct{}, g.perHostLimit)
		g.perHost[host] = slot
	}
	return slot
}

// Acquire admits one call against the global and per-host limits. The
// returned release must be called exactly once when the call ends.
func (g *Governor) Acquire(ctx context.Context, host string) (func(), error) {
	slot := g.hostSlot(host)

	if g.policy == "reject" {
		select {
		case g.global <- struct{}{}:
		default:
			return nil, toolerr.New(toolerr.KindOverloaded, "global concurrency limit reached")
		}
		select {
		case slot <- struct{}{}:
		default:
			<-g.global
			return nil, toolerr.New(toolerr.KindOverloaded, "concurrency limit for host %s reached", host)
		}
		return g.releaser(slot), nil
	}

	// Queue policy: admit a bounded number of waiters, then shed load.
	if g.waiters.Add(1) > int64(g.maxQueue) {
		g.waiters.Add(-1)
		return nil, toolerr.New(toolerr.KindOverloaded, "admission queue full")
	}
	defer g.waiters.Add(-1)

	select {
	case g.global <- struct{}{}:
	case <-ctx.Done():
		return nil, toolerr.Wrap(toolerr.KindTimeout, ctx.Err(), "call expired while queued for admission")
	}
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		<-g.global
		return nil, toolerr.Wrap(toolerr.KindTimeout, ctx.Err(), "call expired while queued for host %s", host)
	}
	return g.releaser(slot), nil
}

func (g *Governor) releaser(slot chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot
			<-g.global
		})
	}
}

// InFlight reports the number of globally admitted calls, for diagnostics.
func (g *Governor) InFlight() int {
	return len(g.global)
}
