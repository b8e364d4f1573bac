// Package integration tracks configured integration entries and their
// setup lifecycle.
//
// Each entry belongs to a domain ("mqtt") and moves through a small state
// machine:
//
//	not_loaded -> setup_in_progress -> loaded
//	                                -> setup_error
//	                                -> setup_retry -> setup_in_progress ...
//	loaded -> unload_in_progress -> not_loaded
//
// The Manager also owns one readiness.Signal per domain. Other components
// that depend on a domain wait on that signal instead of polling entry
// state. A successful setup resolves it true, a permanent failure resolves
// it false, and retries leave it pending.
package integration
