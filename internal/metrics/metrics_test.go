package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ScriptRun("create", "success", 2*time.Second)
	m.ScriptRun("create", "failure", time.Second)
	m.Transition("Creating", "Active")
	m.Busy("activate")
	m.PollerTick()
	m.PollerCheck("ok")
	m.SetLiveChannels(3)
	m.SetScriptPinValid(false)
	m.LoginThrottled()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptRuns.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Creating", "Active")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.liveChannels))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scriptPinned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginThrottled))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "devbench_script_runs_total"))
	assert.True(t, strings.Contains(string(body), "devbench_busy_rejections_total"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScriptRun("status", "error", time.Millisecond)
		m.Transition("Active", "Inactive")
		m.Busy("status")
		m.PollerTick()
		m.PollerCheck("busy")
		m.SetLiveChannels(0)
		m.SetScriptPinValid(true)
		m.LoginThrottled()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
