// Package metrics provides the Prometheus collectors for idconsensus.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction, or on a subset of it, rather than
// on concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its outcome, for example
	// ("fetch", "success") or ("deliver", "retry").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)
}
