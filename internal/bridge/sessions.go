package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/metrics"
)

// Config holds bridge policy values.
type Config struct {
	// SessionTimeout expires a peer session after inactivity.
	SessionTimeout time.Duration
	// QueueSize bounds each session's pending request queue.
	QueueSize int
}

const defaultQueueSize = 32

type handlerFunc func(peer string, msg Message)

// session is one peer's conversation context. Its worker goroutine
// drains the queue in arrival order, so responses for a peer are
// produced in the order its requests arrived.
type session struct {
	peer     string
	queue    chan Message
	lastSeen time.Time // guarded by the manager's mutex
}

// sessionManager creates sessions on first contact, expires them on
// inactivity, and fans requests out to per-session workers.
type sessionManager struct {
	config  Config
	handler handlerFunc
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

func newSessionManager(config Config, handler handlerFunc) *sessionManager {
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	return &sessionManager{
		config:   config,
		handler:  handler,
		logger:   logging.GetLogger("bridge"),
		sessions: make(map[string]*session),
	}
}

// dispatch routes a message to its peer's session, creating the
// session on first contact. A full queue drops the message; the peer
// will retry, and accepting it out of order would be worse.
func (sm *sessionManager) dispatch(peer string, msg Message) {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return
	}
	s, ok := sm.sessions[peer]
	if !ok {
		s = &session{peer: peer, queue: make(chan Message, sm.config.QueueSize)}
		sm.sessions[peer] = s
		sm.wg.Add(1)
		go sm.work(s)
		metrics.ProtocolSessionsGauge.Inc()
		sm.logger.Debug("Session opened", "peer", peer)
	}
	s.lastSeen = time.Now()

	select {
	case s.queue <- msg:
		sm.mu.Unlock()
	default:
		sm.mu.Unlock()
		sm.logger.Warn("Session queue full, dropping request", "peer", peer, "seq", msg.Seq())
	}
}

func (sm *sessionManager) work(s *session) {
	defer sm.wg.Done()
	for msg := range s.queue {
		sm.handler(s.peer, msg)
	}
}

// run expires idle sessions until ctx is cancelled, then closes all
// sessions and waits for their workers to drain.
func (sm *sessionManager) run(ctx context.Context) {
	interval := sm.config.SessionTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sm.shutdown()
			return
		case <-ticker.C:
			sm.expire(time.Now())
		}
	}
}

// expire closes sessions idle past the timeout.
func (sm *sessionManager) expire(now time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for peer, s := range sm.sessions {
		if now.Sub(s.lastSeen) < sm.config.SessionTimeout {
			continue
		}
		close(s.queue)
		delete(sm.sessions, peer)
		metrics.ProtocolSessionsGauge.Dec()
		sm.logger.Debug("Session expired", "peer", peer)
	}
}

func (sm *sessionManager) shutdown() {
	sm.mu.Lock()
	sm.closed = true
	for peer, s := range sm.sessions {
		close(s.queue)
		delete(sm.sessions, peer)
		metrics.ProtocolSessionsGauge.Dec()
	}
	sm.mu.Unlock()
	sm.wg.Wait()
}

// sessionCount reports the number of live sessions.
func (sm *sessionManager) sessionCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}
