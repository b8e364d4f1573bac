package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-call-service/internal/service"
)

// Service names registered by RegisterServices.
const (
	ServiceDomain   = "recorder"
	ServicePurge    = "purge"
	DefaultKeepDays = 10
)

// ServiceRegistrar is the subset of *service.Registry used here.
type ServiceRegistrar interface {
	Register(domain, svc string, handler service.Handler) error
}

// RegisterServices installs recorder.purge {keep_days}.
//
// keep_days defaults to 10; 0 deletes everything recorded so far.
func RegisterServices(reg ServiceRegistrar, store *Store, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	return reg.Register(ServiceDomain, ServicePurge, func(ctx context.Context, call service.Call) error {
		keepDays, err := service.Int(call.Data, "keep_days", DefaultKeepDays)
		if err != nil {
			return err
		}
		if keepDays < 0 {
			return fmt.Errorf("%w: keep_days must not be negative", service.ErrInvalidData)
		}

		cutoff := time.Now().AddDate(0, 0, -keepDays)
		n, err := store.Purge(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("purged call history", "keep_days", keepDays, "deleted", n)
		return nil
	})
}
