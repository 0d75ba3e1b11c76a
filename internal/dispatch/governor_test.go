package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

func rejectGovernor(global, perHost int) *Governor {
	return NewGovernor(&config.DispatchConfig{
		MaxConcurrency:     global,
		PerHostConcurrency: perHost,
		OverflowPolicy:     "reject",
	})
}

func queueGovernor(global, perHost, depth int) *Governor {
	return NewGovernor(&config.DispatchConfig{
		MaxConcurrency:     global,
		PerHostConcurrency: perHost,
		OverflowPolicy:     "queue",
		MaxQueueDepth:      depth,
	})
}

func expectOverloaded(t *testing.T, err error) {
	t.Helper()
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindOverloaded {
		t.Fatalf("expected overloaded, got %v", err)
	}
}

func TestRejectPolicyGlobalLimit(t *testing.T) {
	g := rejectGovernor(2, 10)

	r1, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := g.Acquire(context.Background(), "b.example.com")
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Acquire(context.Background(), "c.example.com")
	expectOverloaded(t, err)

	r1()
	r3, err := g.Acquire(context.Background(), "c.example.com")
	if err != nil {
		t.Fatalf("expected slot after release, got %v", err)
	}
	r2()
	r3()
	if g.InFlight() != 0 {
		t.Errorf("expected no in-flight calls, got %d", g.InFlight())
	}
}

func TestRejectPolicyPerHostLimit(t *testing.T) {
	g := rejectGovernor(10, 1)

	r1, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}

	// Same host saturated, other hosts unaffected.
	_, err = g.Acquire(context.Background(), "a.example.com")
	expectOverloaded(t, err)

	r2, err := g.Acquire(context.Background(), "b.example.com")
	if err != nil {
		t.Fatalf("other host must not be throttled, got %v", err)
	}
	r1()
	r2()
}

func TestQueuePolicyWaitsForSlot(t *testing.T) {
	g := queueGovernor(1, 1, 4)

	release, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := g.Acquire(context.Background(), "a.example.com")
		if err != nil {
			t.Errorf("queued acquire failed: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second call should be queued while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("queued call was never admitted")
	}
}

func TestQueuePolicyBoundedDepth(t *testing.T) {
	g := queueGovernor(1, 1, 2)

	release, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	// Fill the queue with two waiters.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, err := g.Acquire(ctx, "a.example.com"); err == nil {
				r()
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)

	// Third waiter exceeds the depth bound.
	_, err = g.Acquire(context.Background(), "a.example.com")
	expectOverloaded(t, err)

	cancel()
	wg.Wait()
}

func TestQueuePolicyContextExpiry(t *testing.T) {
	g := queueGovernor(1, 1, 4)

	release, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx, "a.example.com")
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.KindTimeout {
		t.Errorf("expected timeout for expired waiter, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := rejectGovernor(1, 1)

	release, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // second call must not free a slot that was never taken

	r1, err := g.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	_, err = g.Acquire(context.Background(), "a.example.com")
	expectOverloaded(t, err)
}
