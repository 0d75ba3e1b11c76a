package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/interfaces"
	"github.com/automatos/unified-adapter/internal/models"
)

// maxDefinitionSize caps admin request bodies.
const maxDefinitionSize = 1 << 20

// ToolsHandler handles the tool collection: GET lists, POST creates.
type ToolsHandler struct {
	storage    interfaces.ToolStorage
	logger     *common.Logger
	adminToken string
}

// NewToolsHandler creates the collection handler.
func NewToolsHandler(storage interfaces.ToolStorage, adminToken string, logger *common.Logger) *ToolsHandler {
	return &ToolsHandler{storage: storage, logger: logger, adminToken: adminToken}
}

// ServeHTTP handles /admin/tools.
func (h *ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireToken(w, r, h.adminToken) {
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ToolsHandler) list(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	defs, err := h.storage.ListTools(r.Context(), enabledOnly)
	if err != nil {
		h.logger.Error().Str("error", err.Error()).Msg("failed to list tools")
		WriteError(w, http.StatusInternalServerError, "failed to list tools")
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := make([]*models.ToolDefinition, 0, len(defs))
		for _, def := range defs {
			if def.Category == category {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data":   defs,
		"count":  len(defs),
	})
}

func (h *ToolsHandler) create(w http.ResponseWriter, r *http.Request) {
	def, ok := decodeDefinition(w, r)
	if !ok {
		return
	}

	created, err := h.storage.CreateTool(r.Context(), def)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("tool", created.Name).
		Int64("id", int64(created.ID)).
		Str("kind", string(created.Kind)).
		Msg("tool registered")
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "ok",
		"data":   created,
	})
}

// ToolHandler handles one tool item: GET, PUT, DELETE on /admin/tools/{id}.
type ToolHandler struct {
	storage    interfaces.ToolStorage
	logger     *common.Logger
	adminToken string
}

// NewToolHandler creates the item handler.
func NewToolHandler(storage interfaces.ToolStorage, adminToken string, logger *common.Logger) *ToolHandler {
	return &ToolHandler{storage: storage, logger: logger, adminToken: adminToken}
}

// ServeHTTP handles /admin/tools/{id}.
func (h *ToolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireToken(w, r, h.adminToken) {
		return
	}

	id, ok := toolID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ToolHandler) get(w http.ResponseWriter, r *http.Request, id uint64) {
	def, err := h.storage.GetTool(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load tool")
		return
	}
	if def == nil {
		WriteError(w, http.StatusNotFound, "tool not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data":   def,
	})
}

func (h *ToolHandler) update(w http.ResponseWriter, r *http.Request, id uint64) {
	def, ok := decodeDefinition(w, r)
	if !ok {
		return
	}

	existing, err := h.storage.GetTool(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load tool")
		return
	}
	if existing == nil {
		WriteError(w, http.StatusNotFound, "tool not found")
		return
	}

	updated, err := h.storage.UpdateTool(r.Context(), id, def)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("tool", updated.Name).
		Int64("id", int64(id)).
		Bool("enabled", updated.Enabled).
		Msg("tool updated")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data":   updated,
	})
}

func (h *ToolHandler) delete(w http.ResponseWriter, r *http.Request, id uint64) {
	if err := h.storage.DeleteTool(r.Context(), id); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to delete tool")
		return
	}
	h.logger.Info().Int64("id", int64(id)).Msg("tool deleted")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeDefinition reads and validates a tool definition body. The
// definition carries only a credential reference; a payload that tries to
// embed secret material is rejected.
func decodeDefinition(w http.ResponseWriter, r *http.Request) (*models.ToolDefinition, bool) {
	var def models.ToolDefinition
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDefinitionSize)).Decode(&def); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid tool definition body")
		return nil, false
	}
	if err := def.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &def, true
}

// toolID parses the trailing path segment of /admin/tools/{id}.
func toolID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	segment := strings.TrimPrefix(r.URL.Path, "/admin/tools/")
	id, err := strconv.ParseUint(strings.Trim(segment, "/"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid tool id")
		return 0, false
	}
	return id, true
}
