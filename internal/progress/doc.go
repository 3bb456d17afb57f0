// Package progress provides the event record, the non-blocking Hub, and the
// sink interface used to report research pipeline activity. The Hub batches
// events on a background goroutine and fans them out to pluggable sinks such
// as structured logs, Prometheus collectors, or a downstream publisher.
package progress
