package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/events"
)

// fakeInstance is a scriptable pipeline instance.
type fakeInstance struct {
	configureFunc func(ctx context.Context) error
	startFunc     func(ctx context.Context) error
	stopFunc      func(ctx context.Context) error

	mu            sync.Mutex
	stopCalls     int
	closed        bool
	notifications chan Notification
}

func newFakeInstance() *fakeInstance {
	return &fakeInstance{notifications: make(chan Notification, 1)}
}

func (f *fakeInstance) Configure(ctx context.Context) error {
	if f.configureFunc != nil {
		return f.configureFunc(ctx)
	}
	return nil
}

func (f *fakeInstance) Start(ctx context.Context) error {
	if f.startFunc != nil {
		return f.startFunc(ctx)
	}
	return nil
}

func (f *fakeInstance) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopCalls++
	if !f.closed {
		f.closed = true
		close(f.notifications)
	}
	f.mu.Unlock()
	if f.stopFunc != nil {
		return f.stopFunc(ctx)
	}
	return nil
}

func (f *fakeInstance) Notifications() <-chan Notification { return f.notifications }
func (f *fakeInstance) Description() string                { return "fake" }

func (f *fakeInstance) fail(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.notifications <- Notification{Err: NewError(code, "injected failure", nil)}
	}
}

func (f *fakeInstance) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// fakeBackend hands out instances in order.
type fakeBackend struct {
	mu        sync.Mutex
	instances []*fakeInstance
	createErr error
	created   int
}

func (b *fakeBackend) Create(spec Spec) (Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	if b.created >= len(b.instances) {
		b.instances = append(b.instances, newFakeInstance())
	}
	inst := b.instances[b.created]
	b.created++
	return inst, nil
}

func (b *fakeBackend) instance(i int) *fakeInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instances[i]
}

type managerEnv struct {
	manager  *Manager
	registry *devices.Registry
	backend  *fakeBackend
	bus      *events.Bus
	cancel   context.CancelFunc
}

func newManagerEnv(t *testing.T, devs ...devices.Device) *managerEnv {
	t.Helper()

	source := &staticSource{devices: devs}
	bus := events.New()
	registry := devices.NewRegistry(source, bus)

	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	waitFor(t, func() bool { return len(registry.List()) == len(devs) })

	backend := &fakeBackend{}
	manager := NewManager(backend, registry, bus, Config{
		SinkHost:     "127.0.0.1",
		SinkPort:     8554,
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
	})

	t.Cleanup(cancel)
	return &managerEnv{manager: manager, registry: registry, backend: backend, bus: bus, cancel: cancel}
}

type staticSource struct {
	devices []devices.Device
}

func (s *staticSource) List() ([]devices.Device, error) { return s.devices, nil }

func (s *staticSource) Watch(ctx context.Context) (<-chan devices.Event, error) {
	ch := make(chan devices.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func testDevice() devices.Device {
	return devices.Device{
		ID:     "cam0",
		Path:   "/dev/video0",
		Name:   "Test Camera",
		Status: devices.StatusAvailable,
		Formats: []devices.Format{
			{Encoding: devices.EncodingH264, Width: 1920, Height: 1080,
				Interval: devices.FrameInterval{Numerator: 1, Denominator: 30}},
			{Encoding: devices.EncodingMJPG, Width: 1280, Height: 720,
				Interval: devices.FrameInterval{Numerator: 1, Denominator: 30}},
		},
	}
}

func TestManagerStartHappyPath(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	format := testDevice().Formats[0]

	endpoint, err := env.manager.Start(context.Background(), "cam0/h264-1080p", "cam0", format)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if want := "rtsp://127.0.0.1:8554/cam0/h264-1080p"; endpoint.URL() != want {
		t.Errorf("endpoint = %q, want %q", endpoint.URL(), want)
	}

	status, err := env.manager.Status("cam0/h264-1080p")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != StateStreaming {
		t.Errorf("state = %q, want %q", status.State, StateStreaming)
	}

	dev, _ := env.registry.Get("cam0")
	if dev.Status != devices.StatusBusy {
		t.Errorf("device status = %q, want busy", dev.Status)
	}
}

func TestManagerStartUnknownDevice(t *testing.T) {
	env := newManagerEnv(t, testDevice())

	_, err := env.manager.Start(context.Background(), "s", "nope", testDevice().Formats[0])
	if !devices.IsCode(err, devices.ErrCodeNotFound) {
		t.Errorf("error = %v, want DEVICE_NOT_FOUND", err)
	}
}

func TestManagerStartUnsupportedFormat(t *testing.T) {
	env := newManagerEnv(t, testDevice())

	bad := devices.Format{Encoding: devices.EncodingH265, Width: 640, Height: 480,
		Interval: devices.FrameInterval{Numerator: 1, Denominator: 30}}
	_, err := env.manager.Start(context.Background(), "s", "cam0", bad)
	if !devices.IsCode(err, devices.ErrCodeUnsupportedFormat) {
		t.Errorf("error = %v, want UNSUPPORTED_FORMAT", err)
	}

	// The device must stay available after a rejected request.
	dev, _ := env.registry.Get("cam0")
	if dev.Status != devices.StatusAvailable {
		t.Errorf("device status = %q, want available", dev.Status)
	}
}

func TestManagerStartBusyDevice(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	format := testDevice().Formats[0]

	if _, err := env.manager.Start(context.Background(), "first", "cam0", format); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	_, err := env.manager.Start(context.Background(), "second", "cam0", format)
	if !devices.IsCode(err, devices.ErrCodeBusy) {
		t.Errorf("error = %v, want DEVICE_BUSY", err)
	}
}

func TestManagerStartFailureReleasesDevice(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	inst := newFakeInstance()
	inst.startFunc = func(ctx context.Context) error {
		return NewError(ErrCodeSinkBindFailed, "no sink", nil)
	}
	env.backend.instances = []*fakeInstance{inst}

	_, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0])
	if !IsCode(err, ErrCodeSinkBindFailed) {
		t.Fatalf("error = %v, want SINK_BIND_FAILED", err)
	}

	// Errored pipelines stay visible for the supervisor.
	status, err := env.manager.Status("s")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != StateError || status.Reason != ErrCodeSinkBindFailed {
		t.Errorf("status = %+v, want error/SINK_BIND_FAILED", status)
	}

	dev, _ := env.registry.Get("cam0")
	if dev.Status != devices.StatusAvailable {
		t.Errorf("device status = %q, want available after failed start", dev.Status)
	}
}

func TestManagerStopIdempotent(t *testing.T) {
	env := newManagerEnv(t, testDevice())

	if err := env.manager.Stop(context.Background(), "never-started"); err != nil {
		t.Errorf("Stop() on unknown stream = %v, want nil", err)
	}

	if _, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0]); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.manager.Stop(context.Background(), "s"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := env.manager.Stop(context.Background(), "s"); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}

	if _, err := env.manager.Status("s"); !IsCode(err, ErrCodeStreamNotFound) {
		t.Errorf("Status() after stop = %v, want STREAM_NOT_FOUND", err)
	}

	dev, _ := env.registry.Get("cam0")
	if dev.Status != devices.StatusAvailable {
		t.Errorf("device status = %q, want available after stop", dev.Status)
	}
}

func TestManagerAsyncFailureReleasesDevice(t *testing.T) {
	env := newManagerEnv(t, testDevice())

	if _, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0]); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	env.backend.instance(0).fail(ErrCodeEncoderFailed)

	waitFor(t, func() bool {
		status, err := env.manager.Status("s")
		return err == nil && status.State == StateError
	})

	status, _ := env.manager.Status("s")
	if status.Reason != ErrCodeEncoderFailed {
		t.Errorf("reason = %q, want ENCODER_FAILED", status.Reason)
	}

	dev, _ := env.registry.Get("cam0")
	if dev.Status != devices.StatusAvailable {
		t.Errorf("device status = %q, want available after crash", dev.Status)
	}
}

func TestManagerRetryAfterFailure(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	failing := newFakeInstance()
	failing.startFunc = func(ctx context.Context) error {
		return NewError(ErrCodeEncoderFailed, "boom", nil)
	}
	env.backend.instances = []*fakeInstance{failing, newFakeInstance()}

	_, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0])
	if !IsCode(err, ErrCodeEncoderFailed) {
		t.Fatalf("Start() error = %v, want ENCODER_FAILED", err)
	}

	if err := env.manager.Retry(context.Background(), "s"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	status, _ := env.manager.Status("s")
	if status.State != StateStreaming {
		t.Errorf("state after retry = %q, want streaming", status.State)
	}
	if status.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", status.Restarts)
	}
}

func TestManagerTeardownDevice(t *testing.T) {
	env := newManagerEnv(t, testDevice())

	if _, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0]); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var mu sync.Mutex
	var transitions []string
	unsubscribe := env.bus.Subscribe(func(ev events.PipelineStateChangedEvent) {
		mu.Lock()
		transitions = append(transitions, ev.NewState+":"+ev.Reason)
		mu.Unlock()
	})
	defer unsubscribe()

	env.manager.TeardownDevice(context.Background(), "cam0")

	if _, err := env.manager.Status("s"); !IsCode(err, ErrCodeStreamNotFound) {
		t.Errorf("Status() after teardown = %v, want STREAM_NOT_FOUND", err)
	}
	if env.backend.instance(0).stops() == 0 {
		t.Error("instance was never stopped")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, tr := range transitions {
			if tr == "error:"+ErrCodeDeviceVanished {
				return true
			}
		}
		return false
	})
}

func TestManagerStopDuringStartup(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	started := make(chan struct{})
	inst := newFakeInstance()
	inst.startFunc = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	env.backend.instances = []*fakeInstance{inst}

	errCh := make(chan error, 1)
	go func() {
		_, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0])
		errCh <- err
	}()

	<-started
	if err := env.manager.Stop(context.Background(), "s"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	dev, _ := env.registry.Get("cam0")
	if dev.Status != devices.StatusAvailable {
		t.Errorf("device status = %q, want available after cancelled start", dev.Status)
	}
}

func TestManagerStartTimeout(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	inst := newFakeInstance()
	inst.startFunc = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	env.backend.instances = []*fakeInstance{inst}

	env.manager.config.StartTimeout = 30 * time.Millisecond
	_, err := env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0])
	if !IsCode(err, ErrCodeSinkBindFailed) {
		t.Fatalf("error = %v, want SINK_BIND_FAILED on timeout", err)
	}

	status, _ := env.manager.Status("s")
	if status.State != StateError {
		t.Errorf("state = %q, want error", status.State)
	}
}

func TestManagerSnapshot(t *testing.T) {
	dev2 := testDevice()
	dev2.ID = "cam1"
	dev2.Path = "/dev/video2"
	env := newManagerEnv(t, testDevice(), dev2)

	format := testDevice().Formats[0]
	if _, err := env.manager.Start(context.Background(), "a", "cam0", format); err != nil {
		t.Fatalf("Start(a) error = %v", err)
	}
	if _, err := env.manager.Start(context.Background(), "b", "cam1", format); err != nil {
		t.Fatalf("Start(b) error = %v", err)
	}

	snapshot := env.manager.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snapshot))
	}
	for _, st := range snapshot {
		if st.State != StateStreaming {
			t.Errorf("stream %s state = %q, want streaming", st.Stream, st.State)
		}
	}
}

func TestManagerMarkDegraded(t *testing.T) {
	env := newManagerEnv(t, testDevice())
	inst := newFakeInstance()
	inst.startFunc = func(ctx context.Context) error {
		return NewError(ErrCodeEncoderFailed, "boom", nil)
	}
	env.backend.instances = []*fakeInstance{inst}

	_, _ = env.manager.Start(context.Background(), "s", "cam0", testDevice().Formats[0])
	env.manager.MarkDegraded("s")

	status, _ := env.manager.Status("s")
	if !status.Degraded {
		t.Error("pipeline not marked degraded")
	}
}
