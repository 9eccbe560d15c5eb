package pipeline

import (
	"context"
	"fmt"

	"github.com/smazurov/camlink/internal/devices"
)

// Endpoint is the network sink address of a streaming pipeline.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// URL returns the RTSP URL form of the endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("rtsp://%s:%d%s", e.Host, e.Port, e.Path)
}

// Spec describes the pipeline to build for one stream.
type Spec struct {
	Stream     string // logical stream name, e.g. "cam0/h264-1080p"
	DeviceID   string
	DevicePath string
	Format     devices.Format
	Endpoint   Endpoint
}

// Notification is an asynchronous report from a running instance.
// A non-nil Err means the instance failed after reaching streaming.
type Notification struct {
	Err *PipelineError
}

// Instance is one runtime pipeline created by a Backend. Configure,
// Start and Stop honor their context's deadline; a deadline or
// cancellation aborts the call and leaves the instance stoppable.
type Instance interface {
	// Configure performs format negotiation with the device.
	Configure(ctx context.Context) error

	// Start binds the network sink and begins streaming. On return the
	// endpoint is live.
	Start(ctx context.Context) error

	// Stop tears the instance down. Idempotent.
	Stop(ctx context.Context) error

	// Notifications delivers asynchronous failures. The channel closes
	// when the instance stops.
	Notifications() <-chan Notification

	// Description returns the launch description for diagnostics.
	Description() string
}

// Backend creates pipeline instances. The production backend drives
// GStreamer subprocesses; tests substitute their own.
type Backend interface {
	Create(spec Spec) (Instance, error)
}
