package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)
	require.NotNil(t, m)

	timer := m.RepoLoadDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.RepoSaveDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.ConcurrencyConflict("user")
	m.EventsAppended("user", 5)

	timer = m.StoreLoadDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.StoreAppendDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.SnapshotLoadDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.SnapshotSaveDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.ConsumerHandleDuration("user-canlogin")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.ConsumerEventsProcessed("user-canlogin", 3)
	m.ConsumerLagged("user-canlogin")
	m.ConsumerLive("user-canlogin", true)

	pm := m.(*esMetrics)
	assert.Equal(t, 5.0, testutil.ToFloat64(pm.eventsAppended.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.concurrencyConflicts.WithLabelValues("user")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.consumerEvents.WithLabelValues("user-canlogin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.consumerLive.WithLabelValues("user-canlogin")))

	m.ConsumerLive("user-canlogin", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.consumerLive.WithLabelValues("user-canlogin")))
}

func TestNewESMetrics_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewESMetrics(reg)

	// a second registration on the same registry must panic (duplicate
	// collectors), proving everything was registered the first time
	require.Panics(t, func() { NewESMetrics(reg) })
}
