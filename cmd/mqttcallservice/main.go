// MQTT Call Service - invoke host services from MQTT messages.
//
// The daemon subscribes to a configured topic and turns each JSON message
// ({"domain": ..., "service": ..., "service_data": {...}}) into a blocking
// service call on the in-process registry. Calls are recorded to SQLite,
// optionally mirrored to InfluxDB, and exposed over a small REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides defaultConfigPath.
const configEnvVar = "MQTTCALL_CONFIG"

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command runs the daemon.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "mqttcallservice",
		Short: "Invoke services from MQTT messages",
		Long: `Runs the MQTT call service daemon.

The daemon connects to the configured broker, subscribes to
mqtt_call_service.subscribe_topic and dispatches every valid message as a
service call. It runs until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"path to the YAML configuration file (env "+configEnvVar+")")

	root.AddCommand(newTokenCmd(&configPath), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mqttcallservice %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path from the environment or default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
