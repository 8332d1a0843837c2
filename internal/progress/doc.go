// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the download engine uses to report progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics, structured logs or the run progress repository.
package progress
