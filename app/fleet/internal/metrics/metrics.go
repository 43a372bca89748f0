// Package metrics 定义连接层的 Prometheus 指标。
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics 连接层指标集合
type Metrics struct {
	SessionsConnected  prometheus.Gauge
	SessionsIdentified prometheus.Gauge
	HeartbeatFailures  prometheus.Counter
	RequestsInflight   prometheus.Gauge
	ActionResults      *prometheus.CounterVec
	EventsForwarded    prometheus.Counter
	ForwardFailures    prometheus.Counter
	ReconcileRuns      prometheus.Counter
	ReconcileErrors    prometheus.Counter
	StaleReconnects    prometheus.Counter
}

// ActionResults 的 result 标签取值
const (
	ResultOK               = "ok"
	ResultTimeout          = "timeout"
	ResultValidationFailed = "validation_failed"
	ResultSessionClosed    = "session_closed"
)

// New 创建并注册指标集合
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamefleet",
			Name:      "sessions_connected",
			Help:      "Number of live transport sessions.",
		}),
		SessionsIdentified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamefleet",
			Name:      "sessions_identified",
			Help:      "Number of sessions bound to a server identity.",
		}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "heartbeat_failures_total",
			Help:      "Sessions torn down for missing a heartbeat probe.",
		}),
		RequestsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamefleet",
			Name:      "requests_inflight",
			Help:      "Outstanding invokeAction requests across all sessions.",
		}),
		ActionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "action_results_total",
			Help:      "invokeAction outcomes by result.",
		}, []string{"result"}),
		EventsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "events_forwarded_total",
			Help:      "Game events forwarded to the outbound queue.",
		}),
		ForwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "forward_failures_total",
			Help:      "Game events that failed to enqueue.",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "reconcile_runs_total",
			Help:      "Completed reconciliation sweeps.",
		}),
		ReconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "reconcile_errors_total",
			Help:      "Isolated per-tenant or per-server reconciliation failures.",
		}),
		StaleReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamefleet",
			Name:      "stale_reconnects_total",
			Help:      "Sessions recycled by the stale-message watchdog.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsConnected,
			m.SessionsIdentified,
			m.HeartbeatFailures,
			m.RequestsInflight,
			m.ActionResults,
			m.EventsForwarded,
			m.ForwardFailures,
			m.ReconcileRuns,
			m.ReconcileErrors,
			m.StaleReconnects,
		)
	}

	return m
}

// NewNoop 创建不注册的指标集合，用于测试
func NewNoop() *Metrics {
	return New(nil)
}
