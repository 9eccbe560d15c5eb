package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// stateHook is notified of every transition; the manager uses it to
// publish events and update metrics.
type stateHook func(p *Pipeline, old, new State, reason *PipelineError)

// Pipeline is the runtime media-processing instance bound to one
// stream. It is exclusively owned by the Manager and never shared.
type Pipeline struct {
	spec    Spec
	backend Backend

	startTimeout time.Duration
	stopTimeout  time.Duration
	onState      stateHook
	release      func() // releases the device, called on every exit path

	mu          sync.Mutex
	state       State
	reason      *PipelineError
	degraded    bool
	restarts    int
	startedAt   time.Time
	instance    Instance
	cancelStart context.CancelFunc
	startDone   chan struct{}
}

// Status is a point-in-time snapshot of a pipeline.
type Status struct {
	Stream      string          `json:"stream"`
	DeviceID    string          `json:"device_id"`
	State       State           `json:"state"`
	Reason      string          `json:"reason,omitempty"`
	Degraded    bool            `json:"degraded"`
	Restarts    int             `json:"restarts"`
	Endpoint    Endpoint        `json:"endpoint"`
	Format      string          `json:"format"`
	Description string          `json:"description,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
}

func newPipeline(spec Spec, backend Backend, startTimeout, stopTimeout time.Duration, onState stateHook, release func()) *Pipeline {
	return &Pipeline{
		spec:         spec,
		backend:      backend,
		startTimeout: startTimeout,
		stopTimeout:  stopTimeout,
		onState:      onState,
		release:      release,
		state:        StateIdle,
	}
}

// setState transitions the pipeline and fires the hook outside the lock.
func (p *Pipeline) setState(new State, reason *PipelineError) {
	p.mu.Lock()
	old := p.state
	p.state = new
	p.reason = reason
	if new == StateStreaming {
		p.startedAt = time.Now()
	}
	hook := p.onState
	p.mu.Unlock()

	if hook != nil && old != new {
		hook(p, old, new, reason)
	}
}

// Status returns a snapshot.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Stream:    p.spec.Stream,
		DeviceID:  p.spec.DeviceID,
		State:     p.state,
		Degraded:  p.degraded,
		Restarts:  p.restarts,
		Endpoint:  p.spec.Endpoint,
		Format:    p.spec.Format.String(),
		StartedAt: p.startedAt,
	}
	if p.reason != nil {
		st.Reason = p.reason.Code
	}
	if p.instance != nil {
		st.Description = p.instance.Description()
	}
	return st
}

// start drives idle/error -> configuring -> starting -> streaming.
// On failure the pipeline lands in error with a typed reason and the
// device is released; a cancellation lands in stopped.
func (p *Pipeline) start(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Active() {
		p.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed, "pipeline already active", nil)
	}
	startCtx, cancel := context.WithTimeout(ctx, p.startTimeout)
	p.cancelStart = cancel
	p.startDone = make(chan struct{})
	p.degraded = false
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.cancelStart = nil
		done := p.startDone
		p.startDone = nil
		p.mu.Unlock()
		close(done)
	}()

	p.setState(StateConfiguring, nil)

	instance, err := p.backend.Create(p.spec)
	if err != nil {
		return p.fail(err)
	}
	p.mu.Lock()
	p.instance = instance
	p.mu.Unlock()

	if err := instance.Configure(startCtx); err != nil {
		return p.failOrCancel(startCtx, instance, err, ErrCodeFormatNegotiation)
	}

	p.setState(StateStarting, nil)

	if err := instance.Start(startCtx); err != nil {
		return p.failOrCancel(startCtx, instance, err, ErrCodeSinkBindFailed)
	}

	p.setState(StateStreaming, nil)
	go p.watch(instance)
	return nil
}

// watch waits for asynchronous instance failures while streaming.
func (p *Pipeline) watch(instance Instance) {
	for notification := range instance.Notifications() {
		if notification.Err == nil {
			continue
		}
		p.mu.Lock()
		if p.state != StateStreaming {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		// The process is already gone; Stop just reaps resources.
		stopCtx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
		_ = instance.Stop(stopCtx)
		cancel()

		p.setState(StateError, notification.Err)
		p.release()
		return
	}
}

// fail records a typed failure, releases resources, and returns the
// reason.
func (p *Pipeline) fail(err error) error {
	reason := asPipelineError(err, ErrCodeSinkBindFailed)
	p.setState(StateError, reason)
	p.release()
	return reason
}

// failOrCancel distinguishes a stop-requested cancellation (clean
// teardown into stopped) from a genuine failure. Timeouts map onto the
// typed failure for the phase that timed out.
func (p *Pipeline) failOrCancel(ctx context.Context, instance Instance, err error, timeoutCode string) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
	_ = instance.Stop(stopCtx)
	cancel()

	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.setState(StateStopped, nil)
		p.release()
		return err
	}

	var reason *PipelineError
	if errors.Is(err, context.DeadlineExceeded) {
		reason = NewError(timeoutCode, "operation timed out", err)
	} else {
		reason = asPipelineError(err, timeoutCode)
	}
	p.setState(StateError, reason)
	p.release()
	return reason
}

// stop drives the pipeline to stopped. Stopping an already stopped
// pipeline is a no-op success. A stop during startup cancels the
// in-flight start and waits for it to unwind.
func (p *Pipeline) stop(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateStopped, StateIdle:
		p.mu.Unlock()
		return nil
	case StateError:
		// Resources were released on the error path.
		p.mu.Unlock()
		p.setState(StateStopped, nil)
		return nil
	}

	if cancel := p.cancelStart; cancel != nil {
		done := p.startDone
		p.mu.Unlock()
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// The start path has finished its own teardown; only a start
		// that reached streaming before cancellation needs more work.
		return p.stopStreaming(ctx)
	}
	p.mu.Unlock()

	return p.stopStreaming(ctx)
}

// stopStreaming tears down a pipeline that reached streaming.
func (p *Pipeline) stopStreaming(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStreaming {
		if p.state == StateError {
			p.mu.Unlock()
			p.setState(StateStopped, nil)
			return nil
		}
		p.mu.Unlock()
		return nil
	}
	instance := p.instance
	p.mu.Unlock()

	p.setState(StateStopping, nil)

	stopCtx, cancel := context.WithTimeout(ctx, p.stopTimeout)
	defer cancel()
	err := instance.Stop(stopCtx)

	p.setState(StateStopped, nil)
	p.release()
	return err
}

// teardown forcibly stops the pipeline with a given error reason, used
// when the capture device disappears out from under a running stream.
// Unlike stop it lands in error, not stopped.
func (p *Pipeline) teardown(ctx context.Context, reason *PipelineError) error {
	p.mu.Lock()
	if cancel := p.cancelStart; cancel != nil {
		done := p.startDone
		p.mu.Unlock()
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.setState(StateError, reason)
		return nil
	}
	if p.state != StateStreaming {
		p.mu.Unlock()
		return nil
	}
	instance := p.instance
	p.mu.Unlock()

	p.setState(StateError, reason)

	stopCtx, cancel := context.WithTimeout(ctx, p.stopTimeout)
	defer cancel()
	err := instance.Stop(stopCtx)
	p.release()
	return err
}

// retry re-runs the start sequence after a failure.
func (p *Pipeline) retry(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateError {
		p.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed, "retry on a pipeline that is not in error", nil)
	}
	p.restarts++
	p.mu.Unlock()
	return p.start(ctx)
}

// markDegraded parks the pipeline after exhausted retries.
func (p *Pipeline) markDegraded() {
	p.mu.Lock()
	p.degraded = true
	p.mu.Unlock()
}

// asPipelineError coerces an error into a PipelineError, wrapping
// foreign errors under the given default code.
func asPipelineError(err error, defaultCode string) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(defaultCode, err.Error(), err)
}
