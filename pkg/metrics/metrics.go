// Package metrics exposes Prometheus counters and histograms for the
// Agent Loop and Sandbox Router.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Iterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "loomgate",
		Subsystem: "agent",
		Name:      "iterations_total",
		Help:      "Number of Agent Loop iterations across all turns.",
	})

	ToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loomgate",
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Number of tool calls dispatched, labeled by tool name and outcome.",
	}, []string{"tool", "outcome"})

	SandboxExecDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loomgate",
		Subsystem: "sandbox",
		Name:      "exec_duration_seconds",
		Help:      "Duration of sandbox command executions, labeled by backend.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(Iterations, ToolCalls, SandboxExecDuration)
}
