// Package interfaces defines storage contracts shared across the adapter.
package interfaces

import (
	"context"

	"github.com/automatos/unified-adapter/internal/models"
)

// ToolStorage persists tool definitions. The execution core only reads
// from it at startup; writes come from the admin surface and take effect
// after the registry reloads.
type ToolStorage interface {
	// ListTools returns all tool definitions, optionally only enabled ones.
	ListTools(ctx context.Context, enabledOnly bool) ([]*models.ToolDefinition, error)

	// GetTool returns one definition by id, or nil if absent.
	GetTool(ctx context.Context, id uint64) (*models.ToolDefinition, error)

	// CreateTool validates and stores a new definition, assigning its id.
	CreateTool(ctx context.Context, def *models.ToolDefinition) (*models.ToolDefinition, error)

	// UpdateTool validates and replaces an existing definition.
	UpdateTool(ctx context.Context, id uint64, def *models.ToolDefinition) (*models.ToolDefinition, error)

	// DeleteTool removes a definition. Deleting an absent id is not an error.
	DeleteTool(ctx context.Context, id uint64) error
}

// StorageManager owns the storage backend lifecycle.
type StorageManager interface {
	ToolStorage() ToolStorage
	Close() error
}
