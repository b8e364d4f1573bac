package service

import (
	"context"
	"fmt"
	"strings"
)

// Built-in service names.
const (
	DomainSystemLog  = "system_log"
	ServiceWriteLog  = "write"
	defaultLogLevel  = "error"
	defaultLogSource = "service.system_log"
)

// RegisterBuiltins installs services that need nothing but a logger:
//
//	system_log.write {message, level, logger}
//
// level is one of debug, info, warning, error (default error).
func RegisterBuiltins(r *Registry, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	return r.Register(DomainSystemLog, ServiceWriteLog, func(_ context.Context, call Call) error {
		return writeLog(logger, call.Data)
	})
}

func writeLog(logger Logger, data map[string]any) error {
	message, err := RequiredString(data, "message")
	if err != nil {
		return err
	}
	level, err := String(data, "level", defaultLogLevel)
	if err != nil {
		return err
	}
	source, err := String(data, "logger", defaultLogSource)
	if err != nil {
		return err
	}

	switch strings.ToLower(level) {
	case "debug":
		logger.Debug(message, "logger", source)
	case "info":
		logger.Info(message, "logger", source)
	case "warn", "warning":
		logger.Warn(message, "logger", source)
	case "error", "critical":
		logger.Error(message, "logger", source)
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidData, level)
	}
	return nil
}
