// Package supervisor watches pipeline health and is the only component
// allowed to initiate automatic recovery.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/pipeline"
)

// Controller is the slice of the pipeline manager the supervisor
// drives.
type Controller interface {
	Snapshot() []pipeline.Status
	Retry(ctx context.Context, stream string) error
	MarkDegraded(stream string)
}

// Config holds recovery policy values.
type Config struct {
	// PollInterval is how often pipeline states are evaluated.
	PollInterval time.Duration
	// BaseDelay is the first retry delay; each subsequent retry doubles it.
	BaseDelay time.Duration
	// MaxAttempts is the retry budget before a stream is parked as
	// degraded.
	MaxAttempts int
}

// tracker is the recovery bookkeeping for one errored stream.
type tracker struct {
	attempts  int
	nextRetry time.Time
	reason    string
	backoff   *backoff.ExponentialBackOff
}

// Supervisor polls pipeline states and retries errored pipelines with
// exponential backoff. Recovery bookkeeping is per stream and resets
// whenever the stream reaches streaming again or disappears, so an
// explicit stop/start cycle always gets a fresh retry budget. Device
// disconnects never reach the supervisor; the device registry's
// teardown hook handles those immediately.
type Supervisor struct {
	controller Controller
	bus        *events.Bus
	config     Config
	logger     *slog.Logger

	trackers map[string]*tracker
}

// New creates a supervisor.
func New(controller Controller, bus *events.Bus, config Config) *Supervisor {
	return &Supervisor{
		controller: controller,
		bus:        bus,
		config:     config,
		logger:     logging.GetLogger("supervisor"),
		trackers:   make(map[string]*tracker),
	}
}

// Run polls until ctx is cancelled. All state lives on this goroutine;
// nothing else touches the trackers.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx, time.Now())
		}
	}
}

// evaluate walks the current pipeline snapshot and advances recovery
// for errored streams.
func (s *Supervisor) evaluate(ctx context.Context, now time.Time) {
	snapshot := s.controller.Snapshot()

	seen := make(map[string]bool, len(snapshot))
	for _, status := range snapshot {
		seen[status.Stream] = true
		s.evaluateStream(ctx, status, now)
	}

	// Streams that vanished from the snapshot were explicitly stopped;
	// drop their retry bookkeeping.
	for stream := range s.trackers {
		if !seen[stream] {
			delete(s.trackers, stream)
		}
	}
}

func (s *Supervisor) evaluateStream(ctx context.Context, status pipeline.Status, now time.Time) {
	if status.State != pipeline.StateError || status.Degraded {
		if status.State == pipeline.StateStreaming {
			delete(s.trackers, status.Stream)
		}
		return
	}

	tr, ok := s.trackers[status.Stream]
	if !ok {
		tr = &tracker{backoff: s.newBackoff()}
		tr.nextRetry = now.Add(tr.backoff.NextBackOff())
		tr.reason = status.Reason
		s.trackers[status.Stream] = tr
		s.logger.Info("Pipeline errored, scheduling retry",
			"stream", status.Stream, "reason", status.Reason, "at", tr.nextRetry)
		return
	}

	if now.Before(tr.nextRetry) {
		return
	}

	if tr.attempts >= s.config.MaxAttempts {
		s.degrade(status.Stream, tr)
		return
	}

	tr.attempts++
	tr.reason = status.Reason
	s.logger.Info("Retrying pipeline",
		"stream", status.Stream, "attempt", tr.attempts, "max_attempts", s.config.MaxAttempts)

	if err := s.controller.Retry(ctx, status.Stream); err != nil {
		s.logger.Warn("Retry failed", "stream", status.Stream, "attempt", tr.attempts, "error", err)
		tr.nextRetry = now.Add(tr.backoff.NextBackOff())
		if tr.attempts >= s.config.MaxAttempts {
			s.degrade(status.Stream, tr)
		}
		return
	}

	// The retry brought the pipeline up; if it errors again the next
	// evaluation continues the same budget with a longer delay.
	tr.nextRetry = now.Add(tr.backoff.NextBackOff())
}

func (s *Supervisor) degrade(stream string, tr *tracker) {
	s.controller.MarkDegraded(stream)
	delete(s.trackers, stream)

	if s.bus != nil {
		s.bus.Publish(events.StreamDegradedEvent{
			Stream:    stream,
			Attempts:  tr.attempts,
			Reason:    tr.reason,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	s.logger.Error("Stream degraded after exhausting retries",
		"stream", stream, "attempts", tr.attempts, "reason", tr.reason)
}

func (s *Supervisor) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.BaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not wall time
	bo.Reset()
	return bo
}
