// Package metrics exposes Prometheus metrics for the camera service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DevicesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camlink",
		Subsystem: "devices",
		Name:      "count",
		Help:      "Number of known capture devices by status",
	}, []string{"status"})

	// PipelineStateGauge is a one-hot gauge per stream: the label pair
	// matching the current state is 1, all others 0.
	PipelineStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camlink",
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "Current pipeline state per stream",
	}, []string{"stream", "state"})

	PipelineRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Subsystem: "pipeline",
		Name:      "restarts_total",
		Help:      "Supervisor restart attempts per stream",
	}, []string{"stream"})

	StreamsDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camlink",
		Subsystem: "streams",
		Name:      "degraded_total",
		Help:      "Streams parked after exhausted restart attempts",
	})

	DiscoveryPublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camlink",
		Subsystem: "discovery",
		Name:      "publish_failures_total",
		Help:      "Failed service announcement attempts",
	})

	ProtocolRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Subsystem: "bridge",
		Name:      "requests_total",
		Help:      "Control-link protocol requests by message and result",
	}, []string{"message", "result"})

	ProtocolSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camlink",
		Subsystem: "bridge",
		Name:      "sessions",
		Help:      "Active control-link peer sessions",
	})
)

var pipelineStates = []string{
	"idle", "configuring", "starting", "streaming", "stopping", "stopped", "error",
}

// SetPipelineState marks one state active for a stream and clears the rest.
func SetPipelineState(stream, state string) {
	for _, s := range pipelineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		PipelineStateGauge.WithLabelValues(stream, s).Set(v)
	}
}

// DeletePipelineState removes all state series for a stream.
func DeletePipelineState(stream string) {
	for _, s := range pipelineStates {
		PipelineStateGauge.DeleteLabelValues(stream, s)
	}
}

// SetDeviceCounts replaces the per-status device gauges.
func SetDeviceCounts(counts map[string]int) {
	for _, status := range []string{"available", "busy", "disconnected"} {
		DevicesGauge.WithLabelValues(status).Set(float64(counts[status]))
	}
}
