package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("TURKOV_CONFIG")
	defer os.Setenv("TURKOV_CONFIG", originalEnv)

	os.Setenv("TURKOV_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingCredentials verifies run fails when the cloud account
// credentials are absent.
func TestRun_MissingCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
cloud:
  base_url: "https://turkovwifi.ru"
  email: ""
  password: ""

database:
  path: "` + filepath.Join(tmpDir, "test.db") + `"

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	originalEnv := os.Getenv("TURKOV_CONFIG")
	defer os.Setenv("TURKOV_CONFIG", originalEnv)
	os.Setenv("TURKOV_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without cloud credentials")
	}
}

func TestGetConfigPath(t *testing.T) {
	originalEnv := os.Getenv("TURKOV_CONFIG")
	defer os.Setenv("TURKOV_CONFIG", originalEnv)

	os.Setenv("TURKOV_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	os.Setenv("TURKOV_CONFIG", "/etc/turkov/config.yaml")
	if got := getConfigPath(); got != "/etc/turkov/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}
