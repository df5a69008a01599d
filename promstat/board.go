// Package promstat exports nanohttp server statistics as Prometheus metrics.
package promstat

import (
	"strings"
	"time"

	"github.com/newacorn/nanohttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nanohttp"

// Board is a nanohttp.StatBoard backed by Prometheus collectors.
//
// Response counts ("responses.<code>") are exported as
// nanohttp_responses_total{code}, timings as
// nanohttp_duration_seconds{key} and every other key as
// nanohttp_events_total{event}.
type Board struct {
	events    *prometheus.CounterVec
	responses *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var _ nanohttp.StatBoard = (*Board)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Board {
	return &Board{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Connection and request events by key",
			},
			[]string{"event"},
		),
		responses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Responses written by status code",
			},
			[]string{"code"},
		),
		durations: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Timings by key, e.g. request.time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"key"},
		),
	}
}

func (b *Board) Count(key string, delta int64) {
	// prometheus counters only go up.
	if delta <= 0 {
		return
	}
	if code, ok := strings.CutPrefix(key, nanohttp.StatResponses+"."); ok {
		b.responses.WithLabelValues(code).Add(float64(delta))
		return
	}
	b.events.WithLabelValues(key).Add(float64(delta))
}

func (b *Board) Time(key string, d time.Duration) {
	b.durations.WithLabelValues(key).Observe(d.Seconds())
}
