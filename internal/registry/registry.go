// Package registry builds and serves the immutable set of exposed tools.
// The set is assembled once at startup from durable definitions plus the
// operations derived from each REST tool's OpenAPI spec; changing it
// requires a reload (restart-to-refresh).
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/interfaces"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/openapi"
	"github.com/automatos/unified-adapter/internal/toolerr"
)

// UpstreamTool is one tool advertised by a proxied MCP server.
type UpstreamTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// UpstreamLister discovers the tools of a proxied MCP server.
type UpstreamLister interface {
	ListTools(ctx context.Context, serverURL string) ([]UpstreamTool, error)
}

// snapshot is one immutable view of the exposed tool set. Replaced
// wholesale on Load; readers never see a partial update.
type snapshot struct {
	tools  []models.ExposedTool
	byName map[string]*models.ExposedTool

	// definitions holds every allowlisted definition, enabled or not,
	// keyed by sanitized base name. Used to classify lookups of names
	// that are not in the exposed set.
	definitions map[string]*models.ToolDefinition

	// opNames maps sanitized operation ids back to their registered form
	// per base, so an operation recovered from an exposed-name suffix
	// keeps its original casing even when the spec was never loaded.
	opNames map[string]map[string]string
}

// Registry resolves exposed tool names to their definitions.
type Registry struct {
	storage       interfaces.ToolStorage
	specs         *openapi.SpecCache
	lister        UpstreamLister
	logger        *common.Logger
	toolAllowlist map[string]bool
	opAllowlist   map[string]bool

	current atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry; call Load before serving.
func NewRegistry(storage interfaces.ToolStorage, specs *openapi.SpecCache, lister UpstreamLister, cfg *config.RegistryConfig, logger *common.Logger) *Registry {
	r := &Registry{
		storage:       storage,
		specs:         specs,
		lister:        lister,
		logger:        logger,
		toolAllowlist: cfg.ToolAllowlistSet(),
		opAllowlist:   cfg.OperationAllowlistSet(),
	}
	r.current.Store(&snapshot{
		byName:      make(map[string]*models.ExposedTool),
		definitions: make(map[string]*models.ToolDefinition),
		opNames:     make(map[string]map[string]string),
	})
	return r
}

// Load rebuilds the exposed tool set from storage and swaps it in
// atomically. A tool whose spec or upstream cannot be resolved is logged
// and left out of discovery; its definition stays resolvable so direct
// invocations are classified instead of vanishing.
func (r *Registry) Load(ctx context.Context) error {
	defs, err := r.storage.ListTools(ctx, false)
	if err != nil {
		return err
	}

	next := &snapshot{
		byName:      make(map[string]*models.ExposedTool),
		definitions: make(map[string]*models.ToolDefinition),
		opNames:     make(map[string]map[string]string),
	}

	// Stable assembly order so collisions resolve the same way on every load.
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	for _, def := range defs {
		base := models.SanitizeName(def.Name)

		// Allowlist filtering comes before the enabled check: a tool
		// outside the allowlist does not exist, disabled or not.
		if len(r.toolAllowlist) > 0 && !r.toolAllowlist[base] && !r.toolAllowlist[def.Name] {
			continue
		}
		if shadowed, ok := next.definitions[base]; ok {
			r.logger.Warn().
				Str("tool", def.Name).
				Str("shadows", shadowed.Name).
				Str("base", base).
				Msg("tool names collide after sanitization, later definition wins")
		}
		next.definitions[base] = def
		if def.REST != nil {
			next.opNames[base] = registeredOperationNames(def, r.opAllowlist)
		}

		if !def.Enabled {
			continue
		}

		switch def.Kind {
		case models.KindREST:
			r.exposeREST(ctx, next, def)
		case models.KindMCPProxy:
			r.exposeProxied(ctx, next, def)
		}
	}

	sort.Slice(next.tools, func(i, j int) bool { return next.tools[i].Name < next.tools[j].Name })
	for i := range next.tools {
		next.byName[next.tools[i].Name] = &next.tools[i]
	}

	r.current.Store(next)
	r.logger.Info().
		Int("definitions", len(next.definitions)).
		Int("exposed", len(next.tools)).
		Msg("tool registry loaded")
	return nil
}

// AllowedOperations returns the operation ids resolvable for a REST tool:
// its own registered set plus the global operation allowlist. Empty means
// every spec operation is allowed.
func (r *Registry) AllowedOperations(def *models.ToolDefinition) map[string]bool {
	if def.REST == nil {
		return nil
	}
	if len(def.REST.OperationIDs) == 0 && len(r.opAllowlist) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(def.REST.OperationIDs)+len(r.opAllowlist))
	for _, id := range def.REST.OperationIDs {
		allowed[id] = true
	}
	for id := range r.opAllowlist {
		allowed[id] = true
	}
	return allowed
}

func (r *Registry) exposeREST(ctx context.Context, next *snapshot, def *models.ToolDefinition) {
	ops, err := r.specs.Operations(ctx, def.REST.OpenAPIURL)
	if err != nil {
		r.logger.Warn().
			Str("tool", def.Name).
			Str("spec", def.REST.OpenAPIURL).
			Str("error", err.Error()).
			Msg("spec unavailable, tool left out of discovery")
		return
	}

	allowed := r.AllowedOperations(def)
	for id, desc := range ops {
		if len(allowed) > 0 && !allowed[id] {
			continue
		}
		description := desc.Description
		if description == "" {
			description = def.Description
		}
		next.tools = append(next.tools, models.ExposedTool{
			Name:        models.ExposedName(def.Name, id),
			Description: description,
			Category:    def.Category,
			OperationID: id,
			InputSchema: openapi.BuildInputSchema(desc),
			Definition:  def,
		})
	}
}

func (r *Registry) exposeProxied(ctx context.Context, next *snapshot, def *models.ToolDefinition) {
	upstream, err := r.lister.ListTools(ctx, def.MCP.ServerURL)
	if err != nil {
		r.logger.Warn().
			Str("tool", def.Name).
			Str("upstream", def.MCP.ServerURL).
			Str("error", err.Error()).
			Msg("upstream listing failed, tool left out of discovery")
		return
	}

	for _, ut := range upstream {
		schema := ut.InputSchema
		if len(schema) == 0 {
			schema = openapi.GenericInputSchema()
		}
		description := ut.Description
		if description == "" {
			description = def.Description
		}
		next.tools = append(next.tools, models.ExposedTool{
			Name:        models.ExposedName(def.Name, ut.Name),
			Description: description,
			Category:    def.Category,
			OperationID: ut.Name,
			InputSchema: schema,
			Definition:  def,
		})
	}
}

// List returns the exposed tools in stable name order. The slice is the
// snapshot's own; callers must not mutate it.
func (r *Registry) List() []models.ExposedTool {
	return r.current.Load().tools
}

// Lookup resolves an exposed tool name. A name whose base matches a
// known disabled tool yields tool_disabled; an unknown base yields
// tool_not_found. A name matching an enabled tool but an unregistered
// operation is synthesized so the call fails downstream with the
// operation-level error rather than being mistaken for a missing tool.
func (r *Registry) Lookup(name string) (*models.ExposedTool, error) {
	snap := r.current.Load()
	if tool, ok := snap.byName[name]; ok {
		return tool, nil
	}

	base, op, ok := splitExposedName(name, snap.definitions)
	if !ok {
		return nil, toolerr.New(toolerr.KindToolNotFound, "tool %q is not registered", name)
	}

	def := snap.definitions[base]
	if !def.Enabled {
		return nil, toolerr.New(toolerr.KindToolDisabled, "tool %q is disabled", base)
	}

	// The suffix came through sanitization; recover the registered
	// operation id so the allowed-set check downstream matches it.
	if names, ok := snap.opNames[base]; ok {
		if original, ok := names[op]; ok {
			op = original
		}
	}

	return &models.ExposedTool{
		Name:        name,
		OperationID: op,
		Category:    def.Category,
		InputSchema: openapi.GenericInputSchema(),
		Definition:  def,
	}, nil
}

// registeredOperationNames indexes a REST tool's registered operation ids
// (plus the global allowlist) by sanitized form. Built without the spec,
// so recovery works even when the spec was unreachable at load.
func registeredOperationNames(def *models.ToolDefinition, opAllowlist map[string]bool) map[string]string {
	names := make(map[string]string, len(def.REST.OperationIDs)+len(opAllowlist))
	for _, id := range def.REST.OperationIDs {
		names[models.SanitizeName(id)] = id
	}
	for id := range opAllowlist {
		names[models.SanitizeName(id)] = id
	}
	return names
}

// splitExposedName matches mcp_<base>_<operation> against the known
// bases, longest base first so underscored names resolve correctly.
func splitExposedName(name string, defs map[string]*models.ToolDefinition) (base, op string, ok bool) {
	rest, found := strings.CutPrefix(name, "mcp_")
	if !found {
		return "", "", false
	}

	bases := make([]string, 0, len(defs))
	for b := range defs {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return len(bases[i]) > len(bases[j]) })

	for _, b := range bases {
		if suffix, found := strings.CutPrefix(rest, b+"_"); found && suffix != "" {
			return b, suffix, true
		}
	}
	return "", "", false
}
