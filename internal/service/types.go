package service

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Call is one invocation handed to a Handler.
type Call struct {
	ID      uuid.UUID
	Domain  string
	Service string
	Data    map[string]any
	Source  string
}

// Handler executes a service call.
//
// The context is cancelled when a blocking caller gives up. Handlers
// invoked without blocking get a context detached from the caller's
// cancellation.
type Handler func(ctx context.Context, call Call) error

// CallRecord describes a finished call.
type CallRecord struct {
	ID        uuid.UUID
	Domain    string
	Service   string
	Data      map[string]any
	Source    string
	Blocking  bool
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Status returns "ok", "not_found" or "error".
func (r CallRecord) Status() string {
	switch {
	case r.Err == nil:
		return StatusOK
	case isNotFound(r.Err):
		return StatusNotFound
	default:
		return StatusError
	}
}

// UnknownLabel replaces domain and service names of calls that matched no
// registered service.
const UnknownLabel = "unknown"

// Labels returns domain and service names safe for metric labels and
// series tags. Only registered names pass through; a not-found call
// carries whatever the caller sent, so it collapses to UnknownLabel.
func (r CallRecord) Labels() (domain, service string) {
	if isNotFound(r.Err) {
		return UnknownLabel, UnknownLabel
	}
	return r.Domain, r.Service
}

// Call outcome labels used by observers and metrics.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Observer receives a CallRecord after every call.
//
// ObserveCall runs on the goroutine that executed the call and must not block.
type Observer interface {
	ObserveCall(rec CallRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec CallRecord)

// ObserveCall calls f(rec).
func (f ObserverFunc) ObserveCall(rec CallRecord) { f(rec) }

type sourceKey struct{}

// WithSource tags ctx with the origin of a call ("mqtt", "api", ...).
// The tag ends up in CallRecord.Source.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFromContext returns the tag set by WithSource, or "".
func SourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}
