package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/metrics"
)

// Config holds pipeline lifecycle budgets.
type Config struct {
	SinkHost     string
	SinkPort     int
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Manager owns all pipelines, one per stream. Pipelines share no state
// with each other; the manager's lock only guards the lookup maps.
type Manager struct {
	backend  Backend
	registry *devices.Registry
	bus      *events.Bus
	config   Config
	logger   *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]*Pipeline // by stream name
	byDevice  map[string]string    // device id -> stream name
}

// NewManager creates a pipeline manager.
func NewManager(backend Backend, registry *devices.Registry, bus *events.Bus, config Config) *Manager {
	return &Manager{
		backend:   backend,
		registry:  registry,
		bus:       bus,
		config:    config,
		logger:    logging.GetLogger("pipeline"),
		pipelines: make(map[string]*Pipeline),
		byDevice:  make(map[string]string),
	}
}

// Start validates the request, acquires the device, and drives a new
// pipeline to streaming. On success the returned endpoint is live.
func (m *Manager) Start(ctx context.Context, stream, deviceID string, format devices.Format) (Endpoint, error) {
	dev, err := m.registry.Get(deviceID)
	if err != nil {
		return Endpoint{}, err
	}

	// Acquire validates the format and records the selection in the
	// same registry mutation that marks the device Busy.
	if err := m.registry.Acquire(deviceID, format); err != nil {
		return Endpoint{}, err
	}

	spec := Spec{
		Stream:     stream,
		DeviceID:   deviceID,
		DevicePath: dev.Path,
		Format:     format,
		Endpoint: Endpoint{
			Host: m.config.SinkHost,
			Port: m.config.SinkPort,
			Path: "/" + stream,
		},
	}

	p := newPipeline(spec, m.backend, m.config.StartTimeout, m.config.StopTimeout,
		m.publishState, func() { m.registry.Release(deviceID) })

	m.mu.Lock()
	if existing, ok := m.pipelines[stream]; ok && existing.Status().State.Active() {
		m.mu.Unlock()
		m.registry.Release(deviceID)
		return Endpoint{}, NewError(ErrCodeSinkBindFailed,
			fmt.Sprintf("stream %s already has an active pipeline", stream), nil)
	}
	m.pipelines[stream] = p
	m.byDevice[deviceID] = stream
	m.mu.Unlock()

	if err := p.start(ctx); err != nil {
		// The pipeline stays tracked in error state so the supervisor
		// and status queries can see it. The device was released on
		// the failure path.
		return Endpoint{}, err
	}

	m.logger.Info("Stream started", "stream", stream, "device_id", deviceID, "endpoint", spec.Endpoint.URL())
	return spec.Endpoint, nil
}

// Stop tears a stream's pipeline down and forgets it. Stopping an
// unknown or already stopped stream is a no-op success.
func (m *Manager) Stop(ctx context.Context, stream string) error {
	m.mu.Lock()
	p, ok := m.pipelines[stream]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := p.stop(ctx); err != nil {
		return err
	}

	m.forget(stream)
	m.logger.Info("Stream stopped", "stream", stream)
	return nil
}

// forget drops the bookkeeping for a terminal pipeline.
func (m *Manager) forget(stream string) {
	m.mu.Lock()
	if p, ok := m.pipelines[stream]; ok {
		delete(m.pipelines, stream)
		delete(m.byDevice, p.spec.DeviceID)
	}
	m.mu.Unlock()
	metrics.DeletePipelineState(stream)
}

// Status returns the snapshot for one stream.
func (m *Manager) Status(stream string) (Status, error) {
	m.mu.RLock()
	p, ok := m.pipelines[stream]
	m.mu.RUnlock()
	if !ok {
		return Status{}, NewError(ErrCodeStreamNotFound,
			fmt.Sprintf("no pipeline for stream %s", stream), nil)
	}
	return p.Status(), nil
}

// Snapshot returns the status of every tracked pipeline.
func (m *Manager) Snapshot() []Status {
	m.mu.RLock()
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, p.Status())
	}
	return out
}

// StreamForDevice resolves which stream currently owns a device.
func (m *Manager) StreamForDevice(deviceID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream, ok := m.byDevice[deviceID]
	return stream, ok
}

// Retry re-acquires the device and restarts an errored pipeline.
// Called only by the supervisor.
func (m *Manager) Retry(ctx context.Context, stream string) error {
	m.mu.RLock()
	p, ok := m.pipelines[stream]
	m.mu.RUnlock()
	if !ok {
		return NewError(ErrCodeStreamNotFound,
			fmt.Sprintf("no pipeline for stream %s", stream), nil)
	}

	if err := m.registry.Acquire(p.spec.DeviceID, p.spec.Format); err != nil {
		if devices.IsCode(err, devices.ErrCodeNotFound) || devices.IsCode(err, devices.ErrCodeDisconnected) {
			return NewError(ErrCodeDeviceVanished, "device gone during retry", err)
		}
		return err
	}

	metrics.PipelineRestartsTotal.WithLabelValues(stream).Inc()
	return p.retry(ctx)
}

// MarkDegraded parks an errored pipeline; the supervisor stops
// retrying it until an explicit stop/start cycle replaces it.
func (m *Manager) MarkDegraded(stream string) {
	m.mu.RLock()
	p, ok := m.pipelines[stream]
	m.mu.RUnlock()
	if !ok {
		return
	}
	p.markDegraded()
	metrics.StreamsDegradedTotal.Inc()
	m.logger.Warn("Stream degraded, automatic recovery disabled", "stream", stream)
}

// TeardownDevice immediately tears down the pipeline holding a
// vanished device. Wired as the device registry's removal hook, so it
// completes before the device entry is deleted.
func (m *Manager) TeardownDevice(ctx context.Context, deviceID string) {
	stream, ok := m.StreamForDevice(deviceID)
	if !ok {
		return
	}

	m.mu.RLock()
	p := m.pipelines[stream]
	m.mu.RUnlock()
	if p == nil {
		return
	}

	reason := NewError(ErrCodeDeviceVanished,
		fmt.Sprintf("device %s disconnected", deviceID), nil)
	if err := p.teardown(ctx, reason); err != nil {
		m.logger.Warn("Teardown after disconnect failed", "stream", stream, "error", err)
	}

	m.forget(stream)
	m.logger.Info("Stream torn down after device disconnect", "stream", stream, "device_id", deviceID)
}

// publishState is the pipeline state hook: it feeds the event bus and
// metrics on every transition.
func (m *Manager) publishState(p *Pipeline, old, new State, reason *PipelineError) {
	metrics.SetPipelineState(p.spec.Stream, string(new))

	ev := events.PipelineStateChangedEvent{
		Stream:     p.spec.Stream,
		DeviceID:   p.spec.DeviceID,
		OldState:   string(old),
		NewState:   string(new),
		Endpoint:   p.spec.Endpoint.URL(),
		Codec:      string(p.spec.Format.Encoding),
		Resolution: p.spec.Format.Resolution(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if reason != nil {
		ev.Reason = reason.Code
	}
	if m.bus != nil {
		m.bus.Publish(ev)
	}

	m.logger.Debug("Pipeline state changed",
		"stream", p.spec.Stream, "old", old, "new", new, "reason", ev.Reason)
}
