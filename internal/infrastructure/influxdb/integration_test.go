//go:build integration

package influxdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-call-service/internal/service"
)

// integrationConfig points at a local InfluxDB; override with INFLUXDB_URL/INFLUXDB_TOKEN.
func integrationConfig() config.InfluxDBConfig {
	cfg := config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "mqtt-call-service-dev-token",
		Org:           "mqtt-call-service",
		Bucket:        "calls",
		BatchSize:     10,
		FlushInterval: 1,
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.Token = v
	}
	return cfg
}

func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Connect(ctx, integrationConfig())
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

func TestIntegration_ObserveCall(t *testing.T) {
	c := connectOrSkip(t)

	writeErrs := make(chan error, 10)
	c.SetOnError(func(err error) { writeErrs <- err })

	c.ObserveCall(service.CallRecord{
		ID:        uuid.New(),
		Domain:    "light",
		Service:   "turn_on",
		Source:    "mqtt",
		StartedAt: time.Now(),
		Duration:  time.Millisecond,
	})
	c.Flush()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	select {
	case err := <-writeErrs:
		t.Errorf("async write error = %v", err)
	default:
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg); err == nil {
		t.Fatal("Connect() expected error for unreachable server")
	}
}
