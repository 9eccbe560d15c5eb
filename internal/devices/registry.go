package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/logging"
)

// TeardownFunc is invoked for a device that is about to be removed so
// its pipeline can be torn down first. It must not return until the
// pipeline has released the device.
type TeardownFunc func(ctx context.Context, deviceID string)

// Registry tracks capture devices and their availability. All mutation
// flows through a single point: the Run loop applies hotplug events,
// and the pipeline manager's acquire/release calls share the same lock.
type Registry struct {
	source Source
	bus    *events.Bus
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*Device

	teardownMu sync.RWMutex
	teardown   TeardownFunc
}

// NewRegistry creates a device registry backed by the given source.
func NewRegistry(source Source, bus *events.Bus) *Registry {
	return &Registry{
		source:  source,
		bus:     bus,
		logger:  logging.GetLogger("devices"),
		devices: make(map[string]*Device),
	}
}

// SetTeardown wires the pipeline manager's teardown hook. Must be set
// before Run; removal events for streaming devices block on it.
func (r *Registry) SetTeardown(fn TeardownFunc) {
	r.teardownMu.Lock()
	r.teardown = fn
	r.teardownMu.Unlock()
}

// Run performs the initial enumeration and then applies hotplug events
// until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	initial, err := r.source.List()
	if err != nil {
		return fmt.Errorf("initial device enumeration: %w", err)
	}

	r.mu.Lock()
	for i := range initial {
		dev := initial[i].clone()
		dev.Status = StatusAvailable
		r.devices[dev.ID] = &dev
	}
	count := len(r.devices)
	r.mu.Unlock()
	r.logger.Info("Device registry initialized", "devices", count)

	eventCh, err := r.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("starting hotplug watch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			r.apply(ctx, ev)
		}
	}
}

// apply handles one hotplug event.
func (r *Registry) apply(ctx context.Context, ev Event) {
	switch ev.Action {
	case ActionAdded:
		dev := ev.Device.clone()
		dev.Status = StatusAvailable

		r.mu.Lock()
		if _, exists := r.devices[dev.ID]; exists {
			r.mu.Unlock()
			return
		}
		r.devices[dev.ID] = &dev
		r.mu.Unlock()

		r.logger.Info("Device added", "device_id", dev.ID, "path", dev.Path, "name", dev.Name)
		r.publishDiscovery(dev, "added")

	case ActionRemoved:
		id := ev.Device.ID

		r.mu.Lock()
		dev, exists := r.devices[id]
		if !exists {
			r.mu.Unlock()
			return
		}
		dev.Status = StatusDisconnected
		removed := dev.clone()
		r.mu.Unlock()

		// Tear the pipeline down before the entry disappears so no
		// dangling device reference survives the removal.
		r.teardownMu.RLock()
		teardown := r.teardown
		r.teardownMu.RUnlock()
		if teardown != nil {
			teardown(ctx, id)
		}

		r.mu.Lock()
		delete(r.devices, id)
		r.mu.Unlock()

		r.logger.Info("Device removed", "device_id", id)
		r.publishDiscovery(removed, "removed")
	}
}

func (r *Registry) publishDiscovery(dev Device, action string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.DeviceDiscoveryEvent{
		DeviceID:   dev.ID,
		DevicePath: dev.Path,
		DeviceName: dev.Name,
		Action:     action,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// List returns a snapshot of all known devices.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev.clone())
	}
	return out
}

// Get returns a snapshot of one device.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return Device{}, NewError(ErrCodeNotFound, fmt.Sprintf("device %s not found", id), nil)
	}
	return dev.clone(), nil
}

// Capabilities returns the capability set of one device.
func (r *Registry) Capabilities(id string) ([]Format, error) {
	dev, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return dev.Formats, nil
}

// Acquire marks a device Busy for streaming and records format as its
// selected format in the same mutation, so the selection can never be
// observed changing on an already-held device. Fails when the device is
// unknown, already held by a pipeline, or lacks the format.
func (r *Registry) Acquire(id string, format Format) error {
	r.mu.Lock()

	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return NewError(ErrCodeNotFound, fmt.Sprintf("device %s not found", id), nil)
	}
	switch dev.Status {
	case StatusBusy:
		r.mu.Unlock()
		return NewError(ErrCodeBusy, fmt.Sprintf("device %s already streaming", id), nil)
	case StatusDisconnected:
		r.mu.Unlock()
		return NewError(ErrCodeDisconnected, fmt.Sprintf("device %s disconnected", id), nil)
	}
	if !dev.Supports(format) {
		r.mu.Unlock()
		return NewError(ErrCodeUnsupportedFormat,
			fmt.Sprintf("device %s does not support %s", id, format), nil)
	}
	dev.Status = StatusBusy
	changed := dev.Selected == nil || *dev.Selected != format
	sel := format
	dev.Selected = &sel
	r.mu.Unlock()

	// Retries re-acquire with the format already selected; only a real
	// change is worth announcing.
	if changed {
		r.publishFormatChange(id, format)
	}
	return nil
}

// Release returns a Busy device to Available. Releasing an unknown or
// disconnected device is a no-op; teardown races removal.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return
	}
	if dev.Status == StatusBusy {
		dev.Status = StatusAvailable
	}
}

// SelectFormat records the configured format for a device. A Busy
// device is refused: its pipeline holds the selection until Release,
// so the selected format only changes while the pipeline is idle or
// stopped.
func (r *Registry) SelectFormat(id string, format Format) error {
	r.mu.Lock()

	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return NewError(ErrCodeNotFound, fmt.Sprintf("device %s not found", id), nil)
	}
	if dev.Status == StatusBusy {
		r.mu.Unlock()
		return NewError(ErrCodeBusy,
			fmt.Sprintf("device %s is streaming, format locked", id), nil)
	}
	if !dev.Supports(format) {
		r.mu.Unlock()
		return NewError(ErrCodeUnsupportedFormat,
			fmt.Sprintf("device %s does not support %s", id, format), nil)
	}
	sel := format
	dev.Selected = &sel
	r.mu.Unlock()

	r.publishFormatChange(id, format)
	return nil
}

// ResetFormat restores the device's default format. Refused while the
// device is Busy, same as SelectFormat.
func (r *Registry) ResetFormat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return NewError(ErrCodeNotFound, fmt.Sprintf("device %s not found", id), nil)
	}
	if dev.Status == StatusBusy {
		return NewError(ErrCodeBusy,
			fmt.Sprintf("device %s is streaming, format locked", id), nil)
	}
	if def, ok := dev.DefaultFormat(); ok {
		dev.Selected = &def
	} else {
		dev.Selected = nil
	}
	return nil
}

func (r *Registry) publishFormatChange(id string, format Format) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.DeviceFormatChangedEvent{
		DeviceID:  id,
		Format:    format.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
