package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/psyserve/internal/core"
)

// metrics holds the dispatcher's Prometheus collectors.
type metrics struct {
	messages        *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	trialsRecorded  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "psyserve_messages_total",
			Help: "Messages handled, by type and status",
		}, []string{"type", "status"}),

		messageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "psyserve_message_duration_seconds",
			Help:    "Time to handle a message",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}, []string{"type"}),

		trialsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "psyserve_trials_recorded_total",
			Help: "Trials committed to the trial store",
		}),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *metrics
)

// sharedMetrics registers the collectors on the default registry once,
// so several engines in one process share them.
func sharedMetrics() *metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// observe records one handled message. status is "ok" or the lower-cased
// error code.
func (m *metrics) observe(msgType string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = strings.ToLower(string(core.CodeOf(err)))
		if status == "" {
			status = "error"
		}
	}
	if msgType == "" {
		msgType = "unknown"
	}
	m.messages.WithLabelValues(msgType, status).Inc()
	m.messageDuration.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
}
