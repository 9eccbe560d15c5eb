package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetPipelineStateOneHot(t *testing.T) {
	stream := "cam0/h264-1080p"
	defer DeletePipelineState(stream)

	SetPipelineState(stream, "streaming")
	if v := testutil.ToFloat64(PipelineStateGauge.WithLabelValues(stream, "streaming")); v != 1 {
		t.Errorf("streaming = %v, want 1", v)
	}
	if v := testutil.ToFloat64(PipelineStateGauge.WithLabelValues(stream, "idle")); v != 0 {
		t.Errorf("idle = %v, want 0", v)
	}

	SetPipelineState(stream, "error")
	if v := testutil.ToFloat64(PipelineStateGauge.WithLabelValues(stream, "streaming")); v != 0 {
		t.Errorf("streaming after transition = %v, want 0", v)
	}
	if v := testutil.ToFloat64(PipelineStateGauge.WithLabelValues(stream, "error")); v != 1 {
		t.Errorf("error = %v, want 1", v)
	}
}

func TestSetDeviceCounts(t *testing.T) {
	SetDeviceCounts(map[string]int{"available": 2, "busy": 1})
	if v := testutil.ToFloat64(DevicesGauge.WithLabelValues("available")); v != 2 {
		t.Errorf("available = %v, want 2", v)
	}
	if v := testutil.ToFloat64(DevicesGauge.WithLabelValues("disconnected")); v != 0 {
		t.Errorf("disconnected = %v, want 0", v)
	}
}
