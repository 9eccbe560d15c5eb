// Package service is the outward-facing facade over the registries,
// consumed by in-process collaborators such as a future REST layer.
package service

import (
	"context"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/pipeline"
	"github.com/smazurov/camlink/internal/streams"
)

// Service bundles the registries behind thin synchronous wrappers. It
// adds no policy of its own; every call delegates directly.
type Service struct {
	devices *devices.Registry
	streams *streams.Registry
}

// New creates the facade.
func New(deviceRegistry *devices.Registry, streamRegistry *streams.Registry) *Service {
	return &Service{devices: deviceRegistry, streams: streamRegistry}
}

// ListDevices returns a snapshot of all known capture devices.
func (s *Service) ListDevices() []devices.Device {
	return s.devices.List()
}

// ListStreams returns a snapshot of all registered streams.
func (s *Service) ListStreams() []streams.Descriptor {
	return s.streams.List()
}

// GetStreamStatus returns the pipeline status for a stream.
func (s *Service) GetStreamStatus(name string) (pipeline.Status, error) {
	return s.streams.Status(name)
}

// CreateStream registers and starts a stream.
func (s *Service) CreateStream(ctx context.Context, name, deviceID string, format devices.Format) (streams.Descriptor, error) {
	return s.streams.Create(ctx, name, deviceID, format)
}

// StopStream stops a stream and removes its registration.
func (s *Service) StopStream(ctx context.Context, name string) error {
	return s.streams.Remove(ctx, name)
}

// SetDeviceFormat selects a capture format on a device.
func (s *Service) SetDeviceFormat(deviceID string, format devices.Format) error {
	return s.devices.SelectFormat(deviceID, format)
}
