// Package history keeps a queryable log of service calls in SQLite.
//
// A Recorder is registered as a service.Observer. It queues every
// CallRecord and a single goroutine writes them through the Store, so a
// slow disk never stalls the goroutine that ran the call. When the queue
// is full, records are dropped and counted.
//
// The package also provides the recorder.purge service, which deletes
// calls older than keep_days.
package history
