package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerOptions configures the embedded NATS server.
type ServerOptions struct {
	Host string
	// Port -1 picks a free port.
	Port int
	Name string
	// Token, when set, is required from every client.
	Token        string
	MaxPayload   int32
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultServerOptions listens on loopback with a 1 MiB payload cap.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Host:         "127.0.0.1",
		Port:         4222,
		Name:         "cctvnode",
		MaxPayload:   1 << 20,
		ReadyTimeout: 5 * time.Second,
	}
}

// Server is an in-process NATS server for single-host deployments.
type Server struct {
	opts   ServerOptions
	ns     *server.Server
	logger *slog.Logger
}

// NewServer fills unset options from DefaultServerOptions.
func NewServer(opts ServerOptions) *Server {
	d := DefaultServerOptions()
	if opts.Host == "" {
		opts.Host = d.Host
	}
	if opts.Port == 0 {
		opts.Port = d.Port
	}
	if opts.Name == "" {
		opts.Name = d.Name
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = d.MaxPayload
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = d.ReadyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Server{opts: opts, logger: opts.Logger.With("component", "nats-server")}
}

func (s *Server) serverOptions() *server.Options {
	return &server.Options{
		Host:          s.opts.Host,
		Port:          s.opts.Port,
		ServerName:    s.opts.Name,
		Authorization: s.opts.Token,
		MaxPayload:    s.opts.MaxPayload,
		NoLog:         true,
		NoSigs:        true,
	}
}

// Start runs the server and blocks until it accepts connections.
func (s *Server) Start() error {
	if s.ns != nil {
		return errors.New("NATS server already started")
	}

	ns, err := server.NewServer(s.serverOptions())
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(s.opts.ReadyTimeout) {
		ns.Shutdown()
		return fmt.Errorf("NATS server not ready after %s", s.opts.ReadyTimeout)
	}

	s.ns = ns
	s.logger.Info("NATS server started", "url", s.ClientURL(), "auth", s.opts.Token != "")
	return nil
}

// Stop shuts the server down and waits for it to exit.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	s.logger.Info("Stopping NATS server", "clients", s.ns.NumClients())
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
}

// ClientURL is the URL clients connect to. Before Start it reflects the
// configured address.
func (s *Server) ClientURL() string {
	if s.ns != nil {
		return s.ns.ClientURL()
	}
	return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}
