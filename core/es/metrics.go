package es

import "github.com/codewandler/userstream-go/core/metrics"

// Metrics is the instrumentation hook of the event-sourcing core. The
// prometheus adapter provides the real implementation; everything else
// defaults to the no-op.
type Metrics interface {
	// repository
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)
	EventsAppended(aggType string, n int)

	// store
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer

	// snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer

	// consumers
	ConsumerHandleDuration(consumer string) metrics.Timer
	ConsumerEventsProcessed(consumer string, n int)
	ConsumerLagged(consumer string)
	ConsumerLive(consumer string, live bool)
}

type nopMetrics struct{}

func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) RepoLoadDuration(string) metrics.Timer       { return metrics.NopTimer() }
func (nopMetrics) RepoSaveDuration(string) metrics.Timer       { return metrics.NopTimer() }
func (nopMetrics) ConcurrencyConflict(string)                  {}
func (nopMetrics) EventsAppended(string, int)                  {}
func (nopMetrics) StoreLoadDuration(string) metrics.Timer      { return metrics.NopTimer() }
func (nopMetrics) StoreAppendDuration(string) metrics.Timer    { return metrics.NopTimer() }
func (nopMetrics) SnapshotLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) ConsumerHandleDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) ConsumerEventsProcessed(string, int)         {}
func (nopMetrics) ConsumerLagged(string)                       {}
func (nopMetrics) ConsumerLive(string, bool)                   {}

var _ Metrics = nopMetrics{}
