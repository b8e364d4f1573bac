package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-call-service/internal/api"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt"
)

const testJWTSecret = "test-secret-for-development-only!!"

// writeConfig writes content to a config file in a temp dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// offlineConfig has MQTT and the API disabled so run needs no network.
func offlineConfig(dbPath string) string {
	return `
database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5
  retention_days: 30

mqtt:
  enabled: false

api:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr

mqtt_call_service:
  subscribe_topic: "home/service_calls"
`
}

// ============================================================
// Config path
// ============================================================

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_FromEnv(t *testing.T) {
	t.Setenv(configEnvVar, "/custom/config.yaml")

	if got := getConfigPath(); got != "/custom/config.yaml" {
		t.Errorf("getConfigPath() = %q, want %q", got, "/custom/config.yaml")
	}
}

// ============================================================
// run
// ============================================================

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ""
mqtt:
  enabled: false
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestRun_OfflineStartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "calls.db")
	path := writeConfig(t, offlineConfig(dbPath))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, path)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// ============================================================
// Commands
// ============================================================

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/unused.db"
mqtt:
  enabled: false
security:
  jwt:
    secret: "`+testJWTSecret+`"
`)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--subject", "alice", "--ttl", "1h"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command error = %v", err)
	}

	subject, err := api.ParseToken(testJWTSecret, strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if subject != "alice" {
		t.Errorf("subject = %q, want %q", subject, "alice")
	}
}

func TestTokenCommand_NoSecret(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/unused.db"
mqtt:
  enabled: false
api:
  enabled: false
`)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", path})

	if err := cmd.Execute(); !errors.Is(err, errNoJWTSecret) {
		t.Errorf("token command error = %v, want errNoJWTSecret", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Errorf("version output = %q, want it to contain %q", out.String(), version)
	}
}

// ============================================================
// Helpers
// ============================================================

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.MQTTReconnectConfig
		wantInitial time.Duration
		wantMax     time.Duration
		wantAttempt int
	}{
		{name: "defaults", cfg: config.MQTTReconnectConfig{}, wantInitial: time.Second, wantMax: time.Minute},
		{name: "seconds", cfg: config.MQTTReconnectConfig{InitialDelay: 2, MaxDelay: 30, MaxAttempts: 5},
			wantInitial: 2 * time.Second, wantMax: 30 * time.Second, wantAttempt: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := retryPolicy(tt.cfg)
			if p.InitialDelay != tt.wantInitial {
				t.Errorf("InitialDelay = %v, want %v", p.InitialDelay, tt.wantInitial)
			}
			if p.MaxDelay != tt.wantMax {
				t.Errorf("MaxDelay = %v, want %v", p.MaxDelay, tt.wantMax)
			}
			if p.MaxAttempts != tt.wantAttempt {
				t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, tt.wantAttempt)
			}
		})
	}
}

func TestBusHandle_NotConnected(t *testing.T) {
	var bus busHandle

	noop := func(string, []byte) error { return nil }
	if err := bus.Subscribe("a/b", 0, noop); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := bus.Unsubscribe("a/b"); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := bus.HealthCheck(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if c := bus.take(); c != nil {
		t.Errorf("take() = %v, want nil", c)
	}
}
