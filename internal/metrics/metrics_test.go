package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labels(metric *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, l := range metric.GetLabel() {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func TestObserveCall(t *testing.T) {
	m := New()
	m.ObserveCall("airport", "ok", 120*time.Millisecond)
	m.ObserveCall("airport", "ok", 80*time.Millisecond)
	m.ObserveCall("airport", "not_found", 10*time.Millisecond)

	f := family(t, m, "air_tracker_provider_calls_total")
	require.NotNil(t, f)
	got := map[string]float64{}
	for _, metric := range f.GetMetric() {
		got[labels(metric)["outcome"]] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"ok": 2, "not_found": 1}, got)

	h := family(t, m, "air_tracker_provider_call_duration_seconds")
	require.NotNil(t, h)
	assert.Equal(t, uint64(3), h.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestObserveStage(t *testing.T) {
	m := New()
	m.ObserveStage("flights", true, 3*time.Second)
	m.ObserveStage("flights", false, time.Second)
	m.RecordResult("flights", "written")

	runs := family(t, m, "air_tracker_stage_runs_total")
	require.NotNil(t, runs)
	assert.Len(t, runs.GetMetric(), 2)

	last := family(t, m, "air_tracker_stage_last_success_timestamp_seconds")
	require.NotNil(t, last)
	assert.Greater(t, last.GetMetric()[0].GetGauge().GetValue(), float64(0))

	rec := family(t, m, "air_tracker_stage_records_total")
	require.NotNil(t, rec)
	assert.Equal(t, map[string]string{"stage": "flights", "result": "written"}, labels(rec.GetMetric()[0]))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCall("airport", "ok", time.Second)
		m.RecordResult("airports", "written")
		m.ObserveStage("airports", true, time.Second)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordResult("delays", "skipped")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `air_tracker_stage_records_total{result="skipped",stage="delays"} 1`))
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	assert.Equal(t, ":9090", c.Address)
}
