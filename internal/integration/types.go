package integration

import (
	"context"
	"time"
)

// State is the lifecycle state of an entry.
type State string

// Entry states.
const (
	StateNotLoaded        State = "not_loaded"
	StateSetupInProgress  State = "setup_in_progress"
	StateLoaded           State = "loaded"
	StateSetupError       State = "setup_error"
	StateSetupRetry       State = "setup_retry"
	StateUnloadInProgress State = "unload_in_progress"
)

type trigger string

const (
	triggerSetup    trigger = "setup"
	triggerSucceed  trigger = "succeed"
	triggerFail     trigger = "fail"
	triggerRetry    trigger = "retry"
	triggerUnload   trigger = "unload"
	triggerUnloaded trigger = "unloaded"
)

// Entry is a snapshot of one configured integration.
type Entry struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
	Title  string `json:"title"`

	// DisabledBy is empty for an enabled entry, otherwise who disabled it
	// ("user", "config").
	DisabledBy string `json:"disabled_by,omitempty"`

	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Disabled reports whether the entry is disabled.
func (e Entry) Disabled() bool {
	return e.DisabledBy != ""
}

// SetupFunc brings an entry up. Returning an error wrapping ErrNotReady
// asks the Manager to retry later.
type SetupFunc func(ctx context.Context, entry Entry) error

// UnloadFunc tears an entry down.
type UnloadFunc func(ctx context.Context, entry Entry) error

// RetryPolicy controls retries of ErrNotReady setup failures.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts bounds total setup attempts; 0 means unlimited.
	MaxAttempts int
}

// DefaultRetryPolicy retries from 1s up to 60s, forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}
}

// next returns the delay after prev, doubling up to MaxDelay.
func (p RetryPolicy) next(prev time.Duration) time.Duration {
	if prev <= 0 {
		if p.InitialDelay <= 0 {
			return time.Second
		}
		return p.InitialDelay
	}
	d := prev * 2
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
