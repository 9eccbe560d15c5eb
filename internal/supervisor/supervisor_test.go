package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/pipeline"
)

type fakeController struct {
	mu       sync.Mutex
	snapshot []pipeline.Status
	retryErr error

	retries  []string
	degraded []string
}

func (f *fakeController) Snapshot() []pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Status(nil), f.snapshot...)
}

func (f *fakeController) Retry(ctx context.Context, stream string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, stream)
	if f.retryErr != nil {
		return f.retryErr
	}
	// A successful retry puts the pipeline back into streaming.
	for i := range f.snapshot {
		if f.snapshot[i].Stream == stream {
			f.snapshot[i].State = pipeline.StateStreaming
			f.snapshot[i].Reason = ""
		}
	}
	return nil
}

func (f *fakeController) MarkDegraded(stream string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = append(f.degraded, stream)
	for i := range f.snapshot {
		if f.snapshot[i].Stream == stream {
			f.snapshot[i].Degraded = true
		}
	}
}

func (f *fakeController) setError(stream, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.snapshot {
		if f.snapshot[i].Stream == stream {
			f.snapshot[i].State = pipeline.StateError
			f.snapshot[i].Reason = reason
		}
	}
}

func (f *fakeController) retryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retries)
}

func (f *fakeController) degradedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.degraded)
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		BaseDelay:    100 * time.Millisecond,
		MaxAttempts:  3,
	}
}

func erroredStatus(stream string) pipeline.Status {
	return pipeline.Status{
		Stream: stream,
		State:  pipeline.StateError,
		Reason: pipeline.ErrCodeEncoderFailed,
	}
}

func TestSupervisorWaitsForBackoffDelay(t *testing.T) {
	controller := &fakeController{snapshot: []pipeline.Status{erroredStatus("s")}}
	s := New(controller, events.New(), testConfig())

	now := time.Now()
	s.evaluate(context.Background(), now)
	if controller.retryCount() != 0 {
		t.Fatal("retried before the backoff delay elapsed")
	}

	// Still inside the base delay window.
	s.evaluate(context.Background(), now.Add(50*time.Millisecond))
	if controller.retryCount() != 0 {
		t.Fatal("retried inside the backoff window")
	}

	s.evaluate(context.Background(), now.Add(150*time.Millisecond))
	if controller.retryCount() != 1 {
		t.Fatalf("retries = %d, want 1 after the delay", controller.retryCount())
	}
}

func TestSupervisorRecoveryClearsBudget(t *testing.T) {
	controller := &fakeController{snapshot: []pipeline.Status{erroredStatus("s")}}
	s := New(controller, events.New(), testConfig())

	now := time.Now()
	s.evaluate(context.Background(), now)
	s.evaluate(context.Background(), now.Add(150*time.Millisecond))
	if controller.retryCount() != 1 {
		t.Fatalf("retries = %d, want 1", controller.retryCount())
	}

	// The stream is streaming again; its tracker is dropped.
	s.evaluate(context.Background(), now.Add(300*time.Millisecond))
	if len(s.trackers) != 0 {
		t.Errorf("trackers = %d, want 0 after recovery", len(s.trackers))
	}

	// A later failure starts a fresh budget with the base delay again.
	controller.setError("s", pipeline.ErrCodeSinkBindFailed)
	s.evaluate(context.Background(), now.Add(400*time.Millisecond))
	s.evaluate(context.Background(), now.Add(550*time.Millisecond))
	if controller.retryCount() != 2 {
		t.Errorf("retries = %d, want 2", controller.retryCount())
	}
}

func TestSupervisorDegradesAfterMaxAttempts(t *testing.T) {
	controller := &fakeController{
		snapshot: []pipeline.Status{erroredStatus("s")},
		retryErr: pipeline.NewError(pipeline.ErrCodeEncoderFailed, "still broken", nil),
	}
	bus := events.New()

	var mu sync.Mutex
	var degradedEvents []events.StreamDegradedEvent
	unsubscribe := bus.Subscribe(func(ev events.StreamDegradedEvent) {
		mu.Lock()
		degradedEvents = append(degradedEvents, ev)
		mu.Unlock()
	})
	defer unsubscribe()

	s := New(controller, bus, testConfig())

	// Walk time far past every backoff delay on each step.
	now := time.Now()
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Second)
		s.evaluate(context.Background(), now)
	}

	if got := controller.retryCount(); got != 3 {
		t.Errorf("retries = %d, want 3", got)
	}
	if got := controller.degradedCount(); got != 1 {
		t.Fatalf("degraded = %d, want exactly 1", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(degradedEvents)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(degradedEvents) != 1 {
		t.Fatalf("degraded events = %d, want 1", len(degradedEvents))
	}
	if degradedEvents[0].Attempts != 3 || degradedEvents[0].Stream != "s" {
		t.Errorf("event = %+v", degradedEvents[0])
	}
}

func TestSupervisorIgnoresDegradedStreams(t *testing.T) {
	status := erroredStatus("s")
	status.Degraded = true
	controller := &fakeController{snapshot: []pipeline.Status{status}}
	s := New(controller, events.New(), testConfig())

	now := time.Now()
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		s.evaluate(context.Background(), now)
	}
	if controller.retryCount() != 0 {
		t.Errorf("retries = %d, want 0 for a degraded stream", controller.retryCount())
	}
}

func TestSupervisorDropsVanishedStreams(t *testing.T) {
	controller := &fakeController{snapshot: []pipeline.Status{erroredStatus("s")}}
	s := New(controller, events.New(), testConfig())

	s.evaluate(context.Background(), time.Now())
	if len(s.trackers) != 1 {
		t.Fatalf("trackers = %d, want 1", len(s.trackers))
	}

	// Explicit stop removed the pipeline from the snapshot.
	controller.mu.Lock()
	controller.snapshot = nil
	controller.mu.Unlock()

	s.evaluate(context.Background(), time.Now())
	if len(s.trackers) != 0 {
		t.Errorf("trackers = %d, want 0 after stream removal", len(s.trackers))
	}
}
