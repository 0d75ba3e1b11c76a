package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 4270 {
		t.Errorf("expected default port 4270, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host localhost, got %s", cfg.Server.Host)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.OverflowPolicy != "queue" {
		t.Errorf("expected default overflow_policy queue, got %s", cfg.Dispatch.OverflowPolicy)
	}
	if cfg.OpenAPI.CacheTTLSeconds != 3600 {
		t.Errorf("expected default cache TTL 3600, got %d", cfg.OpenAPI.CacheTTLSeconds)
	}
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles with no files should not error: %v", err)
	}
	if cfg.Server.Port != 4270 {
		t.Errorf("expected default port 4270, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFiles_ValidTOML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 9090
host = "0.0.0.0"

[platform]
url = "https://platform.internal"

[dispatch]
max_concurrency = 5
overflow_policy = "reject"

[registry]
tool_allowlist = "mcp_pets_listpets, mcp_pets_getpet"
`
	if err := os.WriteFile(tomlPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFiles(tomlPath)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Platform.URL != "https://platform.internal" {
		t.Errorf("expected platform url override, got %s", cfg.Platform.URL)
	}
	if cfg.Dispatch.MaxConcurrency != 5 {
		t.Errorf("expected max_concurrency 5, got %d", cfg.Dispatch.MaxConcurrency)
	}
	// Unset fields keep defaults
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Dispatch.MaxAttempts)
	}

	allow := cfg.Registry.ToolAllowlistSet()
	if len(allow) != 2 || !allow["mcp_pets_listpets"] || !allow["mcp_pets_getpet"] {
		t.Errorf("unexpected allowlist parse: %v", allow)
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/adapter.toml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADAPTER_SERVER_PORT", "7171")
	t.Setenv("ADAPTER_PLATFORM_API_KEY", "svc-key")
	t.Setenv("ADAPTER_TOOL_ALLOWLIST", "mcp_a_b")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if cfg.Server.Port != 7171 {
		t.Errorf("expected env port 7171, got %d", cfg.Server.Port)
	}
	if cfg.Platform.APIKey != "svc-key" {
		t.Errorf("expected env api key, got %s", cfg.Platform.APIKey)
	}
	if !cfg.Registry.ToolAllowlistSet()["mcp_a_b"] {
		t.Error("expected env allowlist applied")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 8081, "127.0.0.1")

	if cfg.Server.Port != 8081 {
		t.Errorf("expected flag port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected flag host, got %s", cfg.Server.Host)
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	if issues := cfg.Validate(); len(issues) != 0 {
		t.Errorf("expected default config to validate, got %v", issues)
	}

	cfg.Server.Port = 0
	cfg.Dispatch.OverflowPolicy = "drop"
	cfg.Dispatch.MaxAttempts = 0
	issues := cfg.Validate()
	if len(issues) != 3 {
		t.Errorf("expected 3 issues, got %d: %v", len(issues), issues)
	}
}

func TestEmptyAllowlistMeansNoFiltering(t *testing.T) {
	cfg := NewDefaultConfig()
	if len(cfg.Registry.ToolAllowlistSet()) != 0 {
		t.Error("expected empty allowlist set by default")
	}
}
