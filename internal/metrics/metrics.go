// Package metrics exposes devbench lifecycle counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devbench"

// Metrics collects service metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	scriptRuns     *prometheus.CounterVec
	scriptDuration *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	busyRejections *prometheus.CounterVec
	pollerTicks    prometheus.Counter
	pollerChecks   *prometheus.CounterVec
	liveChannels   prometheus.Gauge
	scriptPinned   prometheus.Gauge
	loginThrottled prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scriptRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_runs_total",
			Help:      "Provisioning script invocations by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)
	m.scriptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_duration_seconds",
			Help:      "Provisioning script wall time",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"verb"},
	)
	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Persisted devbench state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	m.busyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Operations rejected because another was in flight for the same devbench",
		},
		[]string{"op"},
	)
	m.pollerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poller_ticks_total",
		Help:      "Status poller ticks",
	})
	m.pollerChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_checks_total",
			Help:      "Status poller per-devbench checks by result",
		},
		[]string{"result"},
	)
	m.liveChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_channels",
		Help:      "Users with an open live-update channel",
	})

	m.scriptPinned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "script_pin_valid",
		Help:      "1 while the provisioning script matches its blake3 pin, 0 after a mismatch",
	})
	m.loginThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_throttled_total",
		Help:      "Login attempts rejected by the per-client rate limit",
	})

	m.registry.MustRegister(
		m.scriptRuns,
		m.scriptDuration,
		m.transitions,
		m.busyRejections,
		m.pollerTicks,
		m.pollerChecks,
		m.liveChannels,
		m.scriptPinned,
		m.loginThrottled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ScriptRun records one finished invocation. outcome is "success", "failure", "timeout" or "error".
func (m *Metrics) ScriptRun(verb, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scriptRuns.WithLabelValues(verb, outcome).Inc()
	m.scriptDuration.WithLabelValues(verb).Observe(d.Seconds())
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Busy(op string) {
	if m == nil {
		return
	}
	m.busyRejections.WithLabelValues(op).Inc()
}

func (m *Metrics) PollerTick() {
	if m == nil {
		return
	}
	m.pollerTicks.Inc()
}

// PollerCheck records one refresh. result is "ok", "busy" or "error".
func (m *Metrics) PollerCheck(result string) {
	if m == nil {
		return
	}
	m.pollerChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) SetLiveChannels(n int) {
	if m == nil {
		return
	}
	m.liveChannels.Set(float64(n))
}

func (m *Metrics) SetScriptPinValid(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.scriptPinned.Set(1)
	} else {
		m.scriptPinned.Set(0)
	}
}

func (m *Metrics) LoginThrottled() {
	if m == nil {
		return
	}
	m.loginThrottled.Inc()
}
