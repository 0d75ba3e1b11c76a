package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/automatos/unified-adapter/internal/common"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig         `toml:"server"`
	Platform PlatformConfig       `toml:"platform"`
	Storage  StorageConfig        `toml:"storage"`
	Registry RegistryConfig       `toml:"registry"`
	OpenAPI  OpenAPIConfig        `toml:"openapi"`
	Dispatch DispatchConfig       `toml:"dispatch"`
	Logging  common.LoggingConfig `toml:"logging"`
}

// ServerConfig contains inbound HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// AuthToken, when set, is the shared bearer token required on inbound
	// MCP calls. Empty disables inbound auth.
	AuthToken string `toml:"auth_token"`

	// AdminToken is the bearer token required on /admin/tools operations.
	AdminToken string `toml:"admin_token"`
}

// PlatformConfig contains settings for the owning platform's credential
// endpoint, used for hosted credential resolution.
type PlatformConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ServiceName    string `toml:"service_name"`
}

// StorageConfig contains storage layer settings.
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig contains BadgerDB-specific settings.
type BadgerConfig struct {
	Path string `toml:"path"`
}

// RegistryConfig contains tool registry settings.
type RegistryConfig struct {
	// ToolAllowlist restricts which tool names are ever resolvable,
	// independent of enabled state. Comma-separated; empty disables.
	ToolAllowlist string `toml:"tool_allowlist"`

	// OperationAllowlist adds operation ids allowed for every REST tool,
	// on top of each tool's own operation_ids set. Comma-separated.
	OperationAllowlist string `toml:"operation_allowlist"`
}

// OpenAPIConfig contains spec cache settings.
type OpenAPIConfig struct {
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// DispatchConfig contains concurrency, timeout, and retry settings.
type DispatchConfig struct {
	MaxConcurrency     int    `toml:"max_concurrency"`
	PerHostConcurrency int    `toml:"per_host_concurrency"`
	OverflowPolicy     string `toml:"overflow_policy"` // queue or reject
	MaxQueueDepth      int    `toml:"max_queue_depth"`
	CallTimeoutSeconds int    `toml:"call_timeout_seconds"`
	MaxAttempts        int    `toml:"max_attempts"`
	BackoffInitialMS   int    `toml:"backoff_initial_ms"`
	BackoffMaxMS       int    `toml:"backoff_max_ms"`
}

// ToolAllowlistSet parses the comma-separated tool allowlist into a set.
// An empty result means no allowlist filtering.
func (r *RegistryConfig) ToolAllowlistSet() map[string]bool {
	return parseList(r.ToolAllowlist)
}

// OperationAllowlistSet parses the comma-separated operation allowlist.
func (r *RegistryConfig) OperationAllowlistSet() map[string]bool {
	return parseList(r.OperationAllowlist)
}

func parseList(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			set[item] = true
		}
	}
	return set
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies ADAPTER_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("ADAPTER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ADAPTER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if token := os.Getenv("ADAPTER_AUTH_TOKEN"); token != "" {
		config.Server.AuthToken = token
	}
	if token := os.Getenv("ADAPTER_ADMIN_TOKEN"); token != "" {
		config.Server.AdminToken = token
	}
	if url := os.Getenv("ADAPTER_PLATFORM_URL"); url != "" {
		config.Platform.URL = url
	}
	if key := os.Getenv("ADAPTER_PLATFORM_API_KEY"); key != "" {
		config.Platform.APIKey = key
	}
	if badgerPath := os.Getenv("ADAPTER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if allowlist := os.Getenv("ADAPTER_TOOL_ALLOWLIST"); allowlist != "" {
		config.Registry.ToolAllowlist = allowlist
	}
	if allowlist := os.Getenv("ADAPTER_OPERATION_ALLOWLIST"); allowlist != "" {
		config.Registry.OperationAllowlist = allowlist
	}
	if level := os.Getenv("ADAPTER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate returns a list of configuration issues. An empty list means
// the configuration is usable.
func (c *Config) Validate() []string {
	var issues []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Storage.Badger.Path == "" {
		issues = append(issues, "storage.badger.path must not be empty")
	}
	switch c.Dispatch.OverflowPolicy {
	case "queue", "reject":
	default:
		issues = append(issues, fmt.Sprintf("dispatch.overflow_policy must be queue or reject, got %q", c.Dispatch.OverflowPolicy))
	}
	if c.Dispatch.MaxAttempts < 1 {
		issues = append(issues, fmt.Sprintf("dispatch.max_attempts must be >= 1, got %d", c.Dispatch.MaxAttempts))
	}
	if c.Dispatch.MaxConcurrency < 1 {
		issues = append(issues, fmt.Sprintf("dispatch.max_concurrency must be >= 1, got %d", c.Dispatch.MaxConcurrency))
	}
	if c.Dispatch.PerHostConcurrency < 1 {
		issues = append(issues, fmt.Sprintf("dispatch.per_host_concurrency must be >= 1, got %d", c.Dispatch.PerHostConcurrency))
	}

	return issues
}
