// Package streams maintains the mapping from logical stream names to
// their descriptors and pipelines.
package streams

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/pipeline"
)

// Descriptor records one logical stream.
type Descriptor struct {
	Name      string            `json:"name"`
	DeviceID  string            `json:"device_id"`
	Format    devices.Format    `json:"format"`
	Endpoint  pipeline.Endpoint `json:"endpoint"`
	CreatedAt time.Time         `json:"created_at"`
}

// PipelineController is the slice of the pipeline manager the registry
// drives.
type PipelineController interface {
	Start(ctx context.Context, stream, deviceID string, format devices.Format) (pipeline.Endpoint, error)
	Stop(ctx context.Context, stream string) error
	Status(stream string) (pipeline.Status, error)
	StreamForDevice(deviceID string) (string, bool)
	TeardownDevice(ctx context.Context, deviceID string)
}

// Registry enforces name uniqueness and owns descriptor lifecycle.
// Pipeline work is delegated to the controller; the registry's mutex
// only guards the descriptor map.
type Registry struct {
	controller PipelineController
	bus        *events.Bus
	logger     *slog.Logger

	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates a stream registry.
func NewRegistry(controller PipelineController, bus *events.Bus) *Registry {
	return &Registry{
		controller:  controller,
		bus:         bus,
		logger:      logging.GetLogger("streams"),
		descriptors: make(map[string]Descriptor),
	}
}

// Create validates the name, reserves it, and starts the pipeline.
// Malformed names and conflicts fail before any pipeline work happens.
func (r *Registry) Create(ctx context.Context, name, deviceID string, format devices.Format) (Descriptor, error) {
	if err := ValidateName(name); err != nil {
		return Descriptor{}, err
	}

	r.mu.Lock()
	if _, exists := r.descriptors[name]; exists {
		r.mu.Unlock()
		return Descriptor{}, NewError(ErrCodeConflict,
			fmt.Sprintf("stream %s already exists", name), nil)
	}
	// Reserve the name while the pipeline starts so a concurrent Create
	// with the same name fails fast instead of racing.
	r.descriptors[name] = Descriptor{Name: name, DeviceID: deviceID, Format: format}
	r.mu.Unlock()

	endpoint, err := r.controller.Start(ctx, name, deviceID, format)
	if err != nil {
		r.mu.Lock()
		delete(r.descriptors, name)
		r.mu.Unlock()
		return Descriptor{}, err
	}

	desc := Descriptor{
		Name:      name,
		DeviceID:  deviceID,
		Format:    format,
		Endpoint:  endpoint,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.descriptors[name] = desc
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.StreamCreatedEvent{
			Stream:    name,
			DeviceID:  deviceID,
			Timestamp: desc.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	r.logger.Info("Stream created", "stream", name, "device_id", deviceID, "format", format.String())
	return desc, nil
}

// Remove stops the stream's pipeline and deletes the descriptor.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.RLock()
	_, exists := r.descriptors[name]
	r.mu.RUnlock()
	if !exists {
		return NewError(ErrCodeNotFound, fmt.Sprintf("stream %s not found", name), nil)
	}

	if err := r.controller.Stop(ctx, name); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.descriptors, name)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.StreamRemovedEvent{
			Stream:    name,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	r.logger.Info("Stream removed", "stream", name)
	return nil
}

// Resolve returns the descriptor for a name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, exists := r.descriptors[name]
	if !exists {
		return Descriptor{}, NewError(ErrCodeNotFound,
			fmt.Sprintf("stream %s not found", name), nil)
	}
	return desc, nil
}

// List returns a snapshot of all descriptors.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, desc := range r.descriptors {
		out = append(out, desc)
	}
	return out
}

// Status returns the pipeline status for a registered stream.
func (r *Registry) Status(name string) (pipeline.Status, error) {
	if _, err := r.Resolve(name); err != nil {
		return pipeline.Status{}, err
	}
	return r.controller.Status(name)
}

// HandleDeviceRemoval tears down the stream owning a vanished device
// and drops its descriptor. Wired as the device registry's teardown
// hook, so it runs before the device entry disappears.
func (r *Registry) HandleDeviceRemoval(ctx context.Context, deviceID string) {
	name, ok := r.controller.StreamForDevice(deviceID)

	r.controller.TeardownDevice(ctx, deviceID)

	if !ok {
		return
	}
	r.mu.Lock()
	_, existed := r.descriptors[name]
	delete(r.descriptors, name)
	r.mu.Unlock()

	if existed {
		if r.bus != nil {
			r.bus.Publish(events.StreamRemovedEvent{
				Stream:    name,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
		r.logger.Info("Stream dropped after device disconnect", "stream", name, "device_id", deviceID)
	}
}
