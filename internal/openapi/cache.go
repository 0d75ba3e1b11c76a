// Package openapi fetches, parses, and caches OpenAPI documents, exposing
// derived operation metadata to the registry and the REST executor.
package openapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// maxSpecSize caps fetched spec documents to prevent OOM from a
// misconfigured upstream.
const maxSpecSize = 20 << 20 // 20MB

// refreshTimeout bounds one background refetch.
const refreshTimeout = 30 * time.Second

type specEntry struct {
	ops        map[string]*OperationDescriptor
	fetchedAt  time.Time
	refreshing bool
}

// SpecCache caches parsed OpenAPI documents keyed by spec location.
// Expired entries are served stale while a background refetch runs
// (stale-while-revalidate), bounding the latency added to in-flight calls.
type SpecCache struct {
	httpClient *http.Client
	ttl        time.Duration
	logger     *common.Logger

	mu      sync.RWMutex
	entries map[string]*specEntry
}

// NewSpecCache creates a spec cache with the given entry TTL.
func NewSpecCache(ttl time.Duration, logger *common.Logger) *SpecCache {
	return &SpecCache{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ttl:        ttl,
		logger:     logger,
		entries:    make(map[string]*specEntry),
	}
}

// ResolveOperation resolves one operation of the spec at specLocation.
// Only operation ids in the allowed set are resolvable; everything else
// returns operation_not_allowed even if the spec declares it. An empty
// allowed set permits all operations.
func (c *SpecCache) ResolveOperation(ctx context.Context, specLocation, operationID string, allowed map[string]bool) (*OperationDescriptor, error) {
	if len(allowed) > 0 && !allowed[operationID] {
		return nil, toolerr.New(toolerr.KindOperationNotAllowed, "operation %q is not in the tool's allowed set", operationID)
	}

	ops, err := c.Operations(ctx, specLocation)
	if err != nil {
		return nil, err
	}

	desc, ok := ops[operationID]
	if !ok {
		return nil, toolerr.New(toolerr.KindOperationNotAllowed, "operation %q is not present in the spec", operationID)
	}
	return desc, nil
}

// Operations returns the descriptor map for the spec at specLocation,
// fetching and parsing it on first reference.
func (c *SpecCache) Operations(ctx context.Context, specLocation string) (map[string]*OperationDescriptor, error) {
	c.mu.RLock()
	entry, ok := c.entries[specLocation]
	c.mu.RUnlock()

	if ok {
		if time.Since(entry.fetchedAt) >= c.ttl {
			c.maybeRefresh(specLocation)
		}
		return entry.ops, nil
	}

	return c.fetchAndStore(ctx, specLocation)
}

// maybeRefresh starts one background refetch for an expired entry.
// In-flight callers keep being served the stale value until it lands.
func (c *SpecCache) maybeRefresh(specLocation string) {
	c.mu.Lock()
	entry, ok := c.entries[specLocation]
	if !ok || entry.refreshing {
		c.mu.Unlock()
		return
	}
	entry.refreshing = true
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if _, err := c.fetchAndStore(ctx, specLocation); err != nil {
			// Keep serving the stale entry; a poisoned refetch must not
			// evict a previously good parse.
			c.logger.Warn().
				Str("spec", specLocation).
				Str("error", err.Error()).
				Msg("spec refresh failed, serving stale entry")
			c.mu.Lock()
			if stale, ok := c.entries[specLocation]; ok {
				stale.refreshing = false
			}
			c.mu.Unlock()
		}
	}()
}

// fetchAndStore fetches, parses, and caches one spec document. Parse
// failures are returned as spec_invalid and nothing is cached.
func (c *SpecCache) fetchAndStore(ctx context.Context, specLocation string) (map[string]*OperationDescriptor, error) {
	data, err := c.fetch(ctx, specLocation)
	if err != nil {
		return nil, err
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindSpecInvalid, err, "failed to parse OpenAPI spec at %s", specLocation)
	}

	ops := extractOperations(doc)

	c.mu.Lock()
	c.entries[specLocation] = &specEntry{ops: ops, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug().
		Str("spec", specLocation).
		Int("operations", len(ops)).
		Msg("OpenAPI spec cached")

	return ops, nil
}

func (c *SpecCache) fetch(ctx context.Context, specLocation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specLocation, nil)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindSpecInvalid, err, "invalid spec location %s", specLocation)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindSpecInvalid, err, "failed to fetch OpenAPI spec at %s", specLocation)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, toolerr.New(toolerr.KindSpecInvalid, "spec fetch returned %d for %s", resp.StatusCode, specLocation)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecSize))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindSpecInvalid, err, "failed to read OpenAPI spec at %s", specLocation)
	}
	if len(data) == 0 {
		return nil, toolerr.New(toolerr.KindSpecInvalid, "empty spec document at %s", specLocation)
	}
	return data, nil
}

// Invalidate drops one cache entry, forcing a refetch on next reference.
func (c *SpecCache) Invalidate(specLocation string) {
	c.mu.Lock()
	delete(c.entries, specLocation)
	c.mu.Unlock()
}

// String implements fmt.Stringer for diagnostics.
func (c *SpecCache) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("SpecCache(entries=%d, ttl=%s)", len(c.entries), c.ttl)
}
