// Package metrics exposes page generation metrics through a small recorder
// interface so the pipeline does not depend on Prometheus directly.
package metrics

import "time"

// Recorder receives pipeline and cache observations. Implementations must be
// safe for concurrent use.
type Recorder interface {
	IncRowOutcome(action string)
	ObserveJobDuration(d time.Duration)
	IncJobOutcome(status string)
	IncInvalidation(success bool)
}

// NoopRecorder discards everything. It is the default when metrics are off.
type NoopRecorder struct{}

func (NoopRecorder) IncRowOutcome(string)             {}
func (NoopRecorder) ObserveJobDuration(time.Duration) {}
func (NoopRecorder) IncJobOutcome(string)             {}
func (NoopRecorder) IncInvalidation(bool)             {}
