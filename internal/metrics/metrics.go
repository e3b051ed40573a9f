// Package metrics holds the Prometheus collectors of the calendar service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sevcal"

// Metrics holds Prometheus metrics for the calendar service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Mutations       *prometheus.CounterVec
	Imports         *prometheus.CounterVec
	Events          prometheus.Gauge
	BlackoutGroups  prometheus.Gauge
	SyncPolls       *prometheus.CounterVec
	FeedRefreshes   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Calendar mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		Imports: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Import attempts by mode and result",
			},
			[]string{"mode", "result"},
		),
		Events: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      "Number of events in the calendar",
		}),
		BlackoutGroups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blackout_groups",
			Help:      "Number of blackout groups in the calendar",
		}),
		SyncPolls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_polls_total",
				Help:      "Store polls by result (changed, unchanged, skipped, error)",
			},
			[]string{"result"},
		),
		FeedRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_refresh_total",
				Help:      "ICS feed refreshes by result",
			},
			[]string{"result"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
	}
}

// Result maps an error onto the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, Result(err)).Inc()
}

func (m *Metrics) Import(mode string, err error) {
	if m == nil {
		return
	}
	m.Imports.WithLabelValues(mode, Result(err)).Inc()
}

// StateSize updates the size gauges.
func (m *Metrics) StateSize(events, groups int) {
	if m == nil {
		return
	}
	m.Events.Set(float64(events))
	m.BlackoutGroups.Set(float64(groups))
}

func (m *Metrics) SyncPoll(result string) {
	if m == nil {
		return
	}
	m.SyncPolls.WithLabelValues(result).Inc()
}

func (m *Metrics) FeedRefresh(err error) {
	if m == nil {
		return
	}
	m.FeedRefreshes.WithLabelValues(Result(err)).Inc()
}

func (m *Metrics) ObserveRequest(method, code string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, code).Observe(seconds)
}
