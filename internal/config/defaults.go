package config

import "github.com/automatos/unified-adapter/internal/common"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 4270,
		},
		Platform: PlatformConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 20,
			ServiceName:    "unified-adapter",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/adapter",
			},
		},
		OpenAPI: OpenAPIConfig{
			CacheTTLSeconds: 3600,
		},
		Dispatch: DispatchConfig{
			MaxConcurrency:     20,
			PerHostConcurrency: 8,
			OverflowPolicy:     "queue",
			MaxQueueDepth:      64,
			CallTimeoutSeconds: 30,
			MaxAttempts:        3,
			BackoffInitialMS:   250,
			BackoffMaxMS:       5000,
		},
		Logging: common.LoggingConfig{
			Level: "info",
		},
	}
}
