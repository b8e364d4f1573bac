// Package logging provides structured logging for the MQTT call service.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// Configuration, from config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	bridge.SetLogger(logger.Component("callservice"))
//
// Service call payloads can carry credentials for downstream devices.
// Log the domain and service of a call, not its service_data.
package logging
