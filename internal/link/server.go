package link

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/smazurov/camlink/internal/logging"
)

// ServerOptions configures the embedded control-link server.
type ServerOptions struct {
	Host string
	Port int
	Name string
}

// DefaultServerOptions returns the defaults for the embedded server.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Host: "0.0.0.0",
		Port: 4222,
		Name: "camlink",
	}
}

// Server wraps the embedded NATS server carrying the control link.
type Server struct {
	ns     *server.Server
	opts   ServerOptions
	logger *slog.Logger
}

// NewServer creates an embedded server.
func NewServer(opts ServerOptions) *Server {
	if opts.Port == 0 {
		opts.Port = 4222
	}
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Name == "" {
		opts.Name = "camlink"
	}
	return &Server{
		opts:   opts,
		logger: logging.GetLogger("link"),
	}
}

// Start binds and starts the server, waiting until it accepts
// connections. A failure here means the control link cannot be served.
func (s *Server) Start() error {
	nsOpts := &server.Options{
		Host:           s.opts.Host,
		Port:           s.opts.Port,
		ServerName:     s.opts.Name,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		MaxPayload:     1024 * 1024,
	}

	ns, err := server.NewServer(nsOpts)
	if err != nil {
		return fmt.Errorf("failed to create control-link server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("control-link server failed to bind %s:%d", s.opts.Host, s.opts.Port)
	}

	s.ns = ns
	s.logger.Info("Control-link server started", "url", s.ClientURL())
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	if s.ns != nil {
		s.logger.Info("Stopping control-link server")
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
		s.ns = nil
	}
}

// ClientURL returns the URL clients should connect to.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}
