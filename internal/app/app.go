// Package app wires the adapter's components together for the server
// and for integration tests.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/automatos/unified-adapter/internal/admin"
	"github.com/automatos/unified-adapter/internal/client"
	"github.com/automatos/unified-adapter/internal/common"
	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/credentials"
	"github.com/automatos/unified-adapter/internal/dispatch"
	"github.com/automatos/unified-adapter/internal/executor"
	"github.com/automatos/unified-adapter/internal/interfaces"
	"github.com/automatos/unified-adapter/internal/mcp"
	"github.com/automatos/unified-adapter/internal/models"
	"github.com/automatos/unified-adapter/internal/openapi"
	"github.com/automatos/unified-adapter/internal/registry"
	"github.com/automatos/unified-adapter/internal/storage"
)

// App holds the wired application components.
type App struct {
	Config  *config.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager

	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher

	MCPHandler     *mcp.Handler
	ToolsHandler   *admin.ToolsHandler
	ToolHandler    *admin.ToolHandler
	HealthHandler  *admin.HealthHandler
	VersionHandler *admin.VersionHandler
}

// New builds the application: storage, spec cache, credential resolver,
// executors, dispatcher, registry, and the HTTP-facing handlers. The
// registry is loaded once here; definition changes require a restart.
func New(ctx context.Context, cfg *config.Config, logger *common.Logger) (*App, error) {
	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	specs := openapi.NewSpecCache(time.Duration(cfg.OpenAPI.CacheTTLSeconds)*time.Second, logger)
	platform := client.NewPlatformClient(&cfg.Platform)
	resolver := credentials.NewResolver(platform, logger)

	restExec := executor.NewRESTExecutor(specs, logger)
	proxyExec := executor.NewMCPProxyExecutor(logger, cfg.Platform.ServiceName, config.Version)

	reg := registry.NewRegistry(storageManager.ToolStorage(), specs, proxyExec, &cfg.Registry, logger)
	if err := reg.Load(ctx); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to load tool registry: %w", err)
	}

	governor := dispatch.NewGovernor(&cfg.Dispatch)
	dispatcher := dispatch.NewDispatcher(reg, resolver, governor, map[models.ToolKind]executor.Executor{
		models.KindREST:     restExec,
		models.KindMCPProxy: proxyExec,
	}, &cfg.Dispatch, logger)

	return &App{
		Config:         cfg,
		Logger:         logger,
		Storage:        storageManager,
		Registry:       reg,
		Dispatcher:     dispatcher,
		MCPHandler:     mcp.NewHandler(cfg, reg, dispatcher, logger),
		ToolsHandler:   admin.NewToolsHandler(storageManager.ToolStorage(), cfg.Server.AdminToken, logger),
		ToolHandler:    admin.NewToolHandler(storageManager.ToolStorage(), cfg.Server.AdminToken, logger),
		HealthHandler:  admin.NewHealthHandler(logger),
		VersionHandler: admin.NewVersionHandler(),
	}, nil
}

// Close releases application resources.
func (a *App) Close() error {
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
