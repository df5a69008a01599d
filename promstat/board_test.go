package promstat

import (
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/newacorn/nanohttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBoardCount(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	b := New(reg)

	b.Count(nanohttp.StatConnAccepted, 1)
	b.Count(nanohttp.StatConnAccepted, 2)
	b.Count(nanohttp.StatResponses+".200", 1)
	b.Count(nanohttp.StatResponses+".404", 3)
	b.Count(nanohttp.StatRequests, -1)

	assert.Eq(t, float64(3), testutil.ToFloat64(b.events.WithLabelValues(nanohttp.StatConnAccepted)))
	assert.Eq(t, float64(1), testutil.ToFloat64(b.responses.WithLabelValues("200")))
	assert.Eq(t, float64(3), testutil.ToFloat64(b.responses.WithLabelValues("404")))
	assert.Eq(t, float64(0), testutil.ToFloat64(b.events.WithLabelValues(nanohttp.StatRequests)))
}

func TestBoardTime(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	b := New(reg)
	b.Time(nanohttp.StatRequestTime, 20*time.Millisecond)
	b.Time(nanohttp.StatRequestTime, 30*time.Millisecond)

	assert.Eq(t, 1, testutil.CollectAndCount(b.durations))
	mfs, err := reg.Gather()
	assert.NoErr(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "nanohttp_duration_seconds" {
			continue
		}
		found = true
		assert.Eq(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
	}
	assert.True(t, found)
}
