package groundlift

import (
	"log/slog"
	"sync"

	"github.com/nathanpc/groundlift/discovery"
	"github.com/nathanpc/groundlift/transfer"
)

// ServerCallbacks is the full callback surface for the server side:
// discovery has none of its own at this level (a daemon always responds to
// queries), the lifecycle events are added here, and the rest are
// transfer.ServerCallbacks passed straight through.
type ServerCallbacks struct {
	OnStarted func()
	OnStopped func()
	transfer.ServerCallbacks
}

// Server is the lifecycle coordinator: it owns a discovery responder and a
// transfer server, starts both on Start, and shuts both down on Stop. A
// single mutex guards the two socket-backed components, held only across
// create/shutdown, never across a blocking call.
type Server struct {
	cfg       Config
	callbacks ServerCallbacks
	logger    *slog.Logger

	mu        sync.Mutex
	responder *discovery.Responder
	transfer  *transfer.Server
	running   bool
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithLogger overrides the default logger used by both the discovery
// responder and the transfer server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds a Server from cfg and callbacks. It does not start
// listening; call Start for that.
func NewServer(cfg Config, callbacks ServerCallbacks, opts ...ServerOption) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, callbacks: callbacks, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start creates the discovery and transfer sockets and spawns their loops.
// Either failure unwinds whatever was already created.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	responder, err := discovery.NewResponder(s.cfg.Identity, s.cfg.DiscoveryPort, s.logger)
	if err != nil {
		return err
	}

	xfer := transfer.NewServer(s.cfg.Identity, s.cfg.DownloadDirectory, s.callbacks.ServerCallbacks,
		transfer.WithLogger(s.logger))
	if err := xfer.Start(s.cfg.TransferPort); err != nil {
		responder.Shutdown()
		return err
	}

	s.responder = responder
	s.transfer = xfer
	s.running = true

	go responder.Run()
	go xfer.Serve()

	if s.callbacks.OnStarted != nil {
		s.callbacks.OnStarted()
	}
	return nil
}

// Stop clears the handle, so a late IsRunning query returns false, shuts
// both sockets down, which makes both loops return, and waits for any live
// per-connection workers to finish. It does not wait for the two loop
// goroutines themselves to return. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	responder, xfer := s.responder, s.transfer
	s.responder, s.transfer = nil, nil
	s.running = false
	s.mu.Unlock()

	var firstErr error
	if err := responder.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := xfer.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.callbacks.OnStopped != nil {
		s.callbacks.OnStopped()
	}
	return firstErr
}

// Free stops the server if it is still running, then releases the handle.
// In Go the handle itself needs no separate deallocation once Stop has
// run, so this is Stop's implication made explicit for callers coming from
// an explicit-teardown API.
func (s *Server) Free() error {
	return s.Stop()
}

// IsRunning reports whether Start has succeeded and Stop has not yet run.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// DiscoveryPort reports the UDP port the discovery responder is bound to.
func (s *Server) DiscoveryPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responder == nil {
		return 0
	}
	return s.responder.LocalPort()
}

// TransferPort reports the TCP port the transfer server is bound to.
func (s *Server) TransferPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == nil {
		return 0
	}
	return s.transfer.LocalPort()
}
