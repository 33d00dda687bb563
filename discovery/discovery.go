// Package discovery implements GroundLift's UDP peer-discovery protocol:
// the client side broadcasts a query on every usable interface and collects
// replies within a bounded window; the server side (Responder, in
// responder.go) answers queries addressed to it.
package discovery

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nathanpc/groundlift/internal/identity"
	"github.com/nathanpc/groundlift/internal/socket"
	"github.com/nathanpc/groundlift/internal/wire"
)

// DefaultPort is the well-known UDP port GroundLift discovery listens on.
const DefaultPort = 1650

// DefaultTimeout is the discovery client's receive window.
const DefaultTimeout = 1000 * time.Millisecond

// maxDatagram is large enough for any valid control message; discovery
// replies are header-only and never approach this size.
const maxDatagram = 65536

// Peer is a discovered remote peer: identity fields plus the network
// address its reply arrived from. Peers are identified by network address
// within one discovery round; duplicate replies from the same address are
// deduplicated.
type Peer struct {
	PeerID     [identity.PeerIDLen]byte
	DeviceType string
	Hostname   string
	Addr       *net.UDPAddr
}

// Options configures a discovery round.
type Options struct {
	// Port is GL_DISCOVERY_PORT unless overridden.
	Port int
	// Timeout bounds how long the client waits for replies on each
	// interface. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Logger receives per-interface diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// OnPeerDiscovered, if set, is invoked once per newly discovered peer,
	// in addition to that peer appearing in Discover's returned slice. It
	// is called when the round on the interface the reply arrived on ends
	// (after that interface's timeout), not as each reply is parsed. Calls
	// are made while Discover's internal lock is held, one at a time.
	OnPeerDiscovered func(Peer)
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Discover broadcasts a discovery query on every usable interface and
// returns the peers that replied within the timeout window. If interface
// enumeration is unavailable, a single broadcast on 0.0.0.0 is used instead
// (single-interface mode).
//
// Each interface's round runs concurrently rather than sequentially
// (close one socket, open the next) — the two are equivalent in outcome
// (bounded by the same timeout, deduplicated by network address) and
// running them concurrently keeps the overall call bounded by one timeout
// window instead of timeout × interface count.
func Discover(local identity.Identity, opts Options) ([]Peer, error) {
	opts = opts.withDefaults()

	ifaces, err := socket.Interfaces()
	if err != nil || len(ifaces) == 0 {
		ifaces = []socket.Interface{{
			Name:      "any",
			Unicast:   net.IPv4zero,
			Broadcast: net.IPv4bcast,
		}}
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]bool)
		peers []Peer
		wg    sync.WaitGroup
	)

	for _, iface := range ifaces {
		wg.Add(1)
		go func(iface socket.Interface) {
			defer wg.Done()
			found, err := discoverOnInterface(iface, local, opts)
			if err != nil {
				opts.Logger.Warn("discovery round failed on interface",
					"interface", iface.Name, "error", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range found {
				key := p.Addr.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				peers = append(peers, p)
				if opts.OnPeerDiscovered != nil {
					opts.OnPeerDiscovered(p)
				}
			}
		}(iface)
	}
	wg.Wait()

	return peers, nil
}

func discoverOnInterface(iface socket.Interface, local identity.Identity, opts Options) ([]Peer, error) {
	sock, err := socket.BindUDP(&net.UDPAddr{IP: iface.Unicast, Port: 0}, socket.UDPOptions{
		Broadcast:   true,
		ReadTimeout: opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	query, err := wire.Encode(wire.Message{Kind: wire.KindDiscovery, Identity: local})
	if err != nil {
		return nil, err
	}

	dst := &net.UDPAddr{IP: iface.Broadcast, Port: opts.Port}
	if _, err := sock.Send(query, dst); err != nil {
		return nil, err
	}

	var peers []Peer
	peekBuf := make([]byte, 6)
	drainBuf := make([]byte, maxDatagram)

	for {
		res := sock.Receive(peekBuf, true)
		switch res.Status {
		case socket.StatusTimeout, socket.StatusShutdownLocally:
			return peers, nil
		case socket.StatusOK:
		default:
			opts.Logger.Debug("discovery peek failed", "interface", iface.Name, "error", res.Err)
			continue
		}

		if !wire.HeaderValid(peekBuf) {
			// Drain and continue: the datagram is still queued since peek
			// didn't consume it.
			sock.Receive(drainBuf, false)
			continue
		}

		full := make([]byte, wire.TotalLength(peekBuf))
		fullRes := sock.Receive(full, false)
		if fullRes.Status != socket.StatusOK {
			continue
		}

		msg, err := wire.Parse(full[:fullRes.N])
		if err != nil || msg.Kind != wire.KindDiscovery {
			continue
		}
		if msg.Identity.PeerID == local.PeerID {
			// Never deliver our own broadcast back to the caller.
			continue
		}

		addr, ok := fullRes.Addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		peers = append(peers, Peer{
			PeerID:     msg.Identity.PeerID,
			DeviceType: msg.Identity.DeviceTypeString(),
			Hostname:   msg.Identity.Hostname,
			Addr:       addr,
		})
	}
}
