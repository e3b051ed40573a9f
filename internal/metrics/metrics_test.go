package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Mutation("remove_event", nil)
	m.Mutation("remove_event", nil)
	m.Mutation("remove_event", errors.New("disk full"))
	m.Import("merge", nil)
	m.StateSize(3, 1)
	m.SyncPoll("changed")
	m.FeedRefresh(errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Mutations.WithLabelValues("remove_event", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("remove_event", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Imports.WithLabelValues("merge", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Events))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlackoutGroups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncPolls.WithLabelValues("changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedRefreshes.WithLabelValues("error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Mutation("x", nil)
		m.Import("replace", nil)
		m.StateSize(1, 1)
		m.SyncPoll("error")
		m.FeedRefresh(nil)
		m.ObserveRequest("GET", "200", 0.1)
	})
}
