package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/models"
)

// ToolRecord is the persisted form of a tool definition. Kept flat so
// badgerhold can index it; conversion to/from models.ToolDefinition
// happens at the storage boundary.
type ToolRecord struct {
	ID          uint64 `badgerhold:"key"`
	Name        string
	Description string
	Provider    string
	Category    string
	Kind        string
	Enabled     bool

	MCPServerURL string

	OpenAPIURL   string
	BaseURL      string
	OperationIDs []string

	AuthType          string
	AuthName          string
	AuthIn            string
	AuthValueTemplate string

	CredentialMode        string
	CredentialID          int64
	CredentialName        string
	CredentialEnvironment string

	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolStorage implements interfaces.ToolStorage using BadgerDB.
type ToolStorage struct {
	db     *BadgerDB
	logger *common.Logger
}

// NewToolStorage creates tool-definition storage backed by BadgerDB.
func NewToolStorage(db *BadgerDB, logger *common.Logger) *ToolStorage {
	return &ToolStorage{
		db:     db,
		logger: logger,
	}
}

// ListTools returns all stored tool definitions, optionally only enabled ones.
func (s *ToolStorage) ListTools(_ context.Context, enabledOnly bool) ([]*models.ToolDefinition, error) {
	var records []ToolRecord
	var query *badgerhold.Query
	if enabledOnly {
		query = badgerhold.Where("Enabled").Eq(true)
	}
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	defs := make([]*models.ToolDefinition, 0, len(records))
	for i := range records {
		defs = append(defs, records[i].toDefinition())
	}
	return defs, nil
}

// GetTool returns one tool definition by id, or nil when absent.
func (s *ToolStorage) GetTool(_ context.Context, id uint64) (*models.ToolDefinition, error) {
	var record ToolRecord
	err := s.db.Store().Get(id, &record)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tool %d: %w", id, err)
	}
	return record.toDefinition(), nil
}

// CreateTool validates and stores a new definition, assigning its id.
func (s *ToolStorage) CreateTool(_ context.Context, def *models.ToolDefinition) (*models.ToolDefinition, error) {
	applyDefaults(def)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	record := fromDefinition(def)
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := s.db.Store().Insert(badgerhold.NextSequence(), record); err != nil {
		return nil, fmt.Errorf("failed to create tool %s: %w", def.Name, err)
	}

	s.logger.Info().Str("tool", def.Name).Int64("id", int64(record.ID)).Msg("tool definition created")
	return record.toDefinition(), nil
}

// UpdateTool validates and replaces an existing definition.
func (s *ToolStorage) UpdateTool(_ context.Context, id uint64, def *models.ToolDefinition) (*models.ToolDefinition, error) {
	var existing ToolRecord
	if err := s.db.Store().Get(id, &existing); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("tool not found: %d", id)
		}
		return nil, fmt.Errorf("failed to load tool %d: %w", id, err)
	}

	applyDefaults(def)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	record := fromDefinition(def)
	record.ID = id
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Update(id, record); err != nil {
		return nil, fmt.Errorf("failed to update tool %d: %w", id, err)
	}

	s.logger.Info().Str("tool", def.Name).Int64("id", int64(id)).Msg("tool definition updated")
	return record.toDefinition(), nil
}

// DeleteTool removes a definition. Deleting an absent id is not an error.
func (s *ToolStorage) DeleteTool(_ context.Context, id uint64) error {
	err := s.db.Store().Delete(id, ToolRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete tool %d: %w", id, err)
	}
	return nil
}

// applyDefaults fills the fields the admin surface may omit.
func applyDefaults(def *models.ToolDefinition) {
	if def.Credential.Mode == "" {
		def.Credential.Mode = models.CredentialHosted
	}
	if def.Credential.Environment == "" {
		def.Credential.Environment = "production"
	}
	if def.Category == "" {
		def.Category = "other"
	}
}

func fromDefinition(def *models.ToolDefinition) *ToolRecord {
	record := &ToolRecord{
		ID:                    def.ID,
		Name:                  def.Name,
		Description:           def.Description,
		Provider:              def.Provider,
		Category:              def.Category,
		Kind:                  string(def.Kind),
		Enabled:               def.Enabled,
		CredentialMode:        string(def.Credential.Mode),
		CredentialID:          def.Credential.ID,
		CredentialName:        def.Credential.Name,
		CredentialEnvironment: def.Credential.Environment,
		Tags:                  def.Tags,
	}
	if def.REST != nil {
		record.OpenAPIURL = def.REST.OpenAPIURL
		record.BaseURL = def.REST.BaseURL
		record.OperationIDs = def.REST.OperationIDs
		record.AuthType = def.REST.Auth.Type
		record.AuthName = def.REST.Auth.Name
		record.AuthIn = def.REST.Auth.In
		record.AuthValueTemplate = def.REST.Auth.ValueTemplate
	}
	if def.MCP != nil {
		record.MCPServerURL = def.MCP.ServerURL
	}
	return record
}

func (r *ToolRecord) toDefinition() *models.ToolDefinition {
	def := &models.ToolDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Provider:    r.Provider,
		Category:    r.Category,
		Kind:        models.ToolKind(r.Kind),
		Enabled:     r.Enabled,
		Credential: models.CredentialRef{
			Mode:        models.CredentialMode(r.CredentialMode),
			ID:          r.CredentialID,
			Name:        r.CredentialName,
			Environment: r.CredentialEnvironment,
		},
		Tags: r.Tags,
	}
	switch def.Kind {
	case models.KindREST:
		def.REST = &models.RESTTarget{
			OpenAPIURL:   r.OpenAPIURL,
			BaseURL:      r.BaseURL,
			OperationIDs: r.OperationIDs,
			Auth: models.AuthTemplate{
				Type:          r.AuthType,
				Name:          r.AuthName,
				In:            r.AuthIn,
				ValueTemplate: r.AuthValueTemplate,
			},
		}
	case models.KindMCPProxy:
		def.MCP = &models.MCPTarget{ServerURL: r.MCPServerURL}
	}
	return def
}
