package link

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camlink/internal/bridge"
	"github.com/smazurov/camlink/internal/logging"
)

// Subject prefixes.
const (
	subjectControlPrefix  = "camlink.control"
	subjectResponsePrefix = "camlink.response"
)

// Handler consumes decoded control-link requests.
type Handler interface {
	Handle(peer string, msg bridge.Message)
}

// Link subscribes to the control subjects, decodes envelopes, and
// publishes responses back to the requesting peer. It implements
// bridge.Responder.
type Link struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	handler Handler
	conn    *nats.Conn
	sub     *nats.Subscription
}

// NewLink creates a link to the given server URL. The handler is set
// separately because the bridge needs the link as its responder first.
func NewLink(url string) *Link {
	return &Link{
		url:    url,
		logger: logging.GetLogger("link"),
	}
}

// SetHandler wires the request consumer. Must be called before Start.
func (l *Link) SetHandler(handler Handler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// Start connects and subscribes to all peers' control subjects.
func (l *Link) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handler == nil {
		return fmt.Errorf("link started without a handler")
	}

	conn, err := nats.Connect(l.url,
		nats.Name("camlink-link"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.logger.Warn("Control link disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			l.logger.Info("Control link reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect control link: %w", err)
	}

	sub, err := conn.Subscribe(subjectControlPrefix+".*", l.handleRequest)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe control subjects: %w", err)
	}

	l.conn = conn
	l.sub = sub
	l.logger.Info("Control link listening", "subject", subjectControlPrefix+".*")
	return nil
}

// handleRequest decodes one inbound envelope and hands it to the
// bridge. Undecodable payloads are dropped without a response.
func (l *Link) handleRequest(msg *nats.Msg) {
	peer := strings.TrimPrefix(msg.Subject, subjectControlPrefix+".")
	if peer == "" || peer == msg.Subject {
		return
	}

	request, err := DecodeRequest(msg.Data)
	if err != nil {
		l.logger.Debug("Dropping malformed request", "peer", peer, "error", err)
		return
	}

	l.mu.Lock()
	handler := l.handler
	l.mu.Unlock()
	handler.Handle(peer, request)
}

// Send implements bridge.Responder.
func (l *Link) Send(peer string, response bridge.Response) error {
	data, err := EncodeResponse(response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("control link not started")
	}
	return conn.Publish(subjectResponsePrefix+"."+peer, data)
}

// Close unsubscribes and drops the connection.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
		l.sub = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
