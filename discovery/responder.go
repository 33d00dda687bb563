package discovery

import (
	"log/slog"
	"net"

	"github.com/nathanpc/groundlift/internal/identity"
	"github.com/nathanpc/groundlift/internal/socket"
	"github.com/nathanpc/groundlift/internal/wire"
)

// Responder answers discovery queries on the well-known discovery port.
// One Responder runs for the lifetime of a GroundLift daemon; the
// lifecycle coordinator (package groundlift) owns starting and shutting it
// down.
type Responder struct {
	sock   *socket.UDPSocket
	local  identity.Identity
	logger *slog.Logger
}

// NewResponder binds the discovery server socket to 0.0.0.0:port with no
// receive timeout — it blocks until Shutdown is called.
func NewResponder(local identity.Identity, port int, logger *slog.Logger) (*Responder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sock, err := socket.BindUDP(&net.UDPAddr{IP: net.IPv4zero, Port: port}, socket.UDPOptions{})
	if err != nil {
		return nil, err
	}
	return &Responder{sock: sock, local: local, logger: logger}, nil
}

// Run processes queries until Shutdown is called. It is meant to be run on
// its own goroutine by the lifecycle coordinator.
func (r *Responder) Run() {
	buf := make([]byte, maxDatagram)
	for {
		res := r.sock.Receive(buf, false)
		switch res.Status {
		case socket.StatusShutdownLocally:
			return
		case socket.StatusOK:
			r.handle(buf[:res.N], res.Addr)
		case socket.StatusTimeout:
			// No timeout is ever armed on this socket; defensively
			// treat it as a continue-condition rather than an error.
			continue
		default:
			r.logger.Error("discovery responder receive failed", "error", res.Err)
			continue
		}
	}
}

func (r *Responder) handle(buf []byte, from net.Addr) {
	msg, err := wire.Parse(buf)
	if err != nil {
		// Invalid datagrams are ignored silently.
		return
	}
	if msg.Kind != wire.KindDiscovery {
		return
	}
	if msg.Identity.PeerID == r.local.PeerID {
		// Self-origin datagrams are ignored silently.
		return
	}

	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		return
	}

	reply, err := wire.Encode(wire.Message{Kind: wire.KindDiscovery, Identity: r.local})
	if err != nil {
		r.logger.Error("failed to encode discovery reply", "error", err)
		return
	}
	if _, err := r.sock.Send(reply, udpAddr); err != nil {
		r.logger.Warn("failed to send discovery reply", "to", udpAddr, "error", err)
	}
}

// Shutdown unblocks Run and releases the socket.
func (r *Responder) Shutdown() error {
	return r.sock.Shutdown()
}

// LocalPort reports the port the responder's socket is actually bound to
// (useful when port 0 was requested for testing).
func (r *Responder) LocalPort() int {
	return r.sock.LocalAddr().Port
}
