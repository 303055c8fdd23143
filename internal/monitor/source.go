package monitor

import "context"

// Job is the unit of work a Poller supervises. To track a new metric family,
// implement Job and register it with the Engine.
type Job interface {
	// Name returns a unique identifier for this job (e.g., "mint").
	Name() string

	// Metrics returns the metric names this job owns. They are degraded
	// together when a step fails.
	Metrics() []string

	// Resync rebuilds the job's metrics from scratch. It runs at startup
	// and after every failure.
	Resync(ctx context.Context) error

	// Cycle performs one regular polling step.
	Cycle(ctx context.Context) error
}
