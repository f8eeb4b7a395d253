package persistence

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meridianhq/eventcore/eventstore"
)

const metricsNamespace = "eventstore"

type storeMetrics struct {
	appends        *prometheus.CounterVec
	eventsAppended prometheus.Counter
	appendLatency  prometheus.Histogram
}

var getStoreMetrics = sync.OnceValue(func() *storeMetrics {
	return &storeMetrics{
		appends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "appends_total",
			Help:      "Append attempts by result.",
		}, []string{"result"}),
		eventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_appended_total",
			Help:      "Events committed to the log.",
		}),
		appendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "append_duration_seconds",
			Help:      "Append transaction latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
})

func (m *storeMetrics) observeAppend(err error, eventCount int, elapsed time.Duration) {
	m.appendLatency.Observe(elapsed.Seconds())
	switch {
	case err == nil:
		m.appends.WithLabelValues("ok").Inc()
		m.eventsAppended.Add(float64(eventCount))
	case isConflict(err):
		m.appends.WithLabelValues("conflict").Inc()
	default:
		m.appends.WithLabelValues("error").Inc()
	}
}

func isConflict(err error) bool {
	var c *eventstore.ConcurrencyError
	return errors.As(err, &c)
}
