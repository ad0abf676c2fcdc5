package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("EMBERLINK_CONFIG")
	defer os.Setenv("EMBERLINK_CONFIG", originalEnv)

	os.Setenv("EMBERLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingJWTSecret verifies run fails when validation rejects
// the config.
func TestRun_MissingJWTSecret(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
household:
  id: test-household

database:
  path: "` + filepath.Join(tmpDir, "test.db") + `"
  wal_mode: true
  busy_timeout: 5

hub:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
  qos: 1

push:
  gateway_url: "https://push.example.test"

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("EMBERLINK_CONFIG")
	defer os.Setenv("EMBERLINK_CONFIG", originalEnv)
	os.Setenv("EMBERLINK_CONFIG", configPath)

	// Make sure the environment doesn't supply the secret.
	originalSecret := os.Getenv("EMBERLINK_JWT_SECRET")
	defer os.Setenv("EMBERLINK_JWT_SECRET", originalSecret)
	os.Unsetenv("EMBERLINK_JWT_SECRET")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a JWT secret")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("EMBERLINK_CONFIG")
	defer os.Setenv("EMBERLINK_CONFIG", originalEnv)

	os.Unsetenv("EMBERLINK_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("EMBERLINK_CONFIG")
	defer os.Setenv("EMBERLINK_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("EMBERLINK_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_ContextCancelledDuringStartup verifies cancellation during
// startup. The broker port is unreachable so run fails or returns once
// the context expires; either way it must not hang.
func TestRun_ContextCancelledDuringStartup(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	configContent := `
household:
  id: test-household

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

hub:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

push:
  gateway_url: "https://push.example.test"

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18093

security:
  jwt:
    secret: "test-secret-test-secret-test-secret!"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("EMBERLINK_CONFIG")
	defer os.Setenv("EMBERLINK_CONFIG", originalEnv)
	os.Setenv("EMBERLINK_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)

	if err == nil {
		t.Log("run() completed without error (may have cancelled cleanly)")
	} else {
		t.Logf("run() returned error (expected): %v", err)
	}
}
