// Package metrics defines small instrumentation interfaces so core packages
// stay decoupled from any concrete backend (see adapters/prometheus).
package metrics

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations such as operation latencies.
type Histogram interface {
	Observe(value float64)
}

// Timer records the elapsed time of one operation. Call ObserveDuration
// when the operation finishes:
//
//	defer m.StoreLoadDuration("user").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
