// Package socket is GroundLift's socket abstraction: thin wrappers over UDP
// and TCP that give the rest of the core a uniform
// bind/connect/send/receive/shutdown surface, peekable receives, and a
// single cancellation mechanism — shutting a socket down unblocks whatever
// goroutine is parked in Receive or Accept on it.
//
// This mirrors the upstream mDNS transport package's shape (an interface the
// rest of the system codes against, a concrete UDP implementation wrapping
// golang.org/x/net/ipv4 for interface-index control messages) but trades
// multicast join semantics for GroundLift's plain broadcast/unicast UDP and
// TCP model, and adds the TCP listener/connection wrappers the transfer
// components need.
package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
)

// Status classifies the outcome of a blocking receive or accept call.
type Status int

const (
	// StatusOK means N valid bytes (or, for Accept, a connection) were
	// produced.
	StatusOK Status = iota
	// StatusClosed means a TCP peer closed its side of the connection.
	StatusClosed
	// StatusShutdownLocally means Shutdown was called on this socket
	// while the call was blocked. This is the sole cancellation signal:
	// never a spurious wakeup.
	StatusShutdownLocally
	// StatusTimeout means the configured read deadline elapsed.
	StatusTimeout
	// StatusError means a genuine I/O failure occurred.
	StatusError
)

// Result is the outcome of a Receive call: Ok(len) / Closed / ShutdownLocally
// / Timeout / Error.
type Result struct {
	Status Status
	N      int
	Addr   net.Addr
	// IfIndex is the OS interface index the datagram arrived on, when the
	// platform's control-message support makes it available (0 = unknown).
	IfIndex int
	Err     error
}

// lifecycle is embedded by UDPSocket, TCPListener, and TCPConn to provide
// the shared shutdown-vs-genuine-error bookkeeping: a shutdown call sets a
// flag under a mutex and then closes the underlying fd, so whichever
// goroutine is blocked in a syscall wakes up, observes the flag, and reports
// StatusShutdownLocally instead of StatusError.
type lifecycle struct {
	mu         sync.Mutex
	shutdownAt bool
}

func (l *lifecycle) markShutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdownAt {
		return false
	}
	l.shutdownAt = true
	return true
}

func (l *lifecycle) isShutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdownAt
}

// classifyErr turns a net/syscall error into a Result status, giving
// shutdown-in-progress priority over whatever the OS happened to report (a
// closed fd can surface as various errors depending on platform and timing,
// so the shutdown flag is always rechecked first).
func classifyErr(l *lifecycle, err error) Status {
	if l.isShutdown() {
		return StatusShutdownLocally
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return StatusTimeout
	}
	return StatusError
}

// UDPSocket wraps a single UDP endpoint: a discovery client socket bound to
// one interface's unicast address, or the discovery server's socket bound
// to 0.0.0.0 on the discovery port.
type UDPSocket struct {
	lifecycle
	conn *net.UDPConn
	// ipv4Conn wraps conn to expose IP_PKTINFO/IP_RECVIF control messages,
	// the same mechanism the upstream mDNS transport uses to report which
	// interface a datagram arrived on (RFC 6762 §15). Best effort: when
	// unavailable, Receive reports IfIndex 0.
	ipv4Conn *ipv4.PacketConn
	// readTimeout is re-armed before every Receive call, since net.Conn
	// deadlines are absolute rather than per-call.
	readTimeout time.Duration
}

// UDPOptions configures a bound UDP socket.
type UDPOptions struct {
	// Broadcast enables SO_BROADCAST, required by discovery clients that
	// send to an interface's broadcast address.
	Broadcast bool
	// ReadTimeout bounds Receive; zero means block until shutdown (the
	// discovery server's listening mode).
	ReadTimeout time.Duration
}

// BindUDP opens and binds a UDP socket to laddr, applying address/port
// reuse and, if requested, the broadcast permission.
func BindUDP(laddr *net.UDPAddr, opts UDPOptions) (*UDPSocket, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = setReuseAndBroadcast(fd, opts.Broadcast)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", laddr.String())
	if err != nil {
		return nil, &glerrors.SocketError{Operation: "bind udp", Err: err, Details: laddr.String()}
	}
	conn := pc.(*net.UDPConn)

	ipv4Conn := ipv4.NewPacketConn(conn)
	// Best effort: not every platform supports interface-index control
	// messages. Falling back to IfIndex 0 just means "interface unknown".
	_ = ipv4Conn.SetControlMessage(ipv4.FlagInterface, true)

	return &UDPSocket{conn: conn, ipv4Conn: ipv4Conn, readTimeout: opts.ReadTimeout}, nil
}

// Send transmits buf to dst.
func (s *UDPSocket) Send(buf []byte, dst *net.UDPAddr) (int, error) {
	n, err := s.conn.WriteToUDP(buf, dst)
	if err != nil {
		return n, &glerrors.SocketError{Operation: "udp send", Err: err, Details: dst.String()}
	}
	return n, nil
}

// Receive waits for the next datagram. If peek is true, the datagram
// remains queued for a subsequent Receive call, used to validate a
// message's header before committing to a full read.
func (s *UDPSocket) Receive(buf []byte, peek bool) Result {
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	if peek {
		n, addr, ifIndex, err := peekUDP(s.conn, buf)
		if err != nil {
			return Result{Status: classifyErr(&s.lifecycle, err), Err: err}
		}
		return Result{Status: StatusOK, N: n, Addr: addr, IfIndex: ifIndex}
	}

	n, cm, addr, err := s.ipv4Conn.ReadFrom(buf)
	if err != nil {
		return Result{Status: classifyErr(&s.lifecycle, err), Err: err}
	}
	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}
	return Result{Status: StatusOK, N: n, Addr: addr, IfIndex: ifIndex}
}

// Shutdown unblocks any goroutine parked in Receive on this socket,
// producing StatusShutdownLocally for that call.
func (s *UDPSocket) Shutdown() error {
	if !s.markShutdown() {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return &glerrors.SocketError{Operation: "udp shutdown", Err: err}
	}
	return nil
}

// Close releases the socket. Equivalent to Shutdown for UDP, which has no
// separate "close after shutdown" step.
func (s *UDPSocket) Close() error { return s.Shutdown() }

// LocalAddr returns the socket's bound local address.
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// TCPListener wraps a bound, listening TCP socket (the transfer server's
// accept loop).
type TCPListener struct {
	lifecycle
	ln *net.TCPListener
}

// ListenBacklog is the intended backlog for the transfer listener. Go's net
// package does not expose backlog tuning directly; it is documented here to
// record the intended value, which the OS default backlog on every
// supported platform comfortably exceeds.
const ListenBacklog = 10

// ListenTCP binds and listens on laddr with address reuse enabled.
func ListenTCP(laddr *net.TCPAddr) (*TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = setReuseAndBroadcast(fd, false)
			})
		},
	}
	l, err := lc.Listen(context.Background(), "tcp4", laddr.String())
	if err != nil {
		return nil, &glerrors.SocketError{Operation: "listen tcp", Err: err, Details: laddr.String()}
	}
	return &TCPListener{ln: l.(*net.TCPListener)}, nil
}

// Accept blocks until a connection arrives, the listener is shut down, or an
// error occurs.
func (l *TCPListener) Accept() (*TCPConn, Result) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, Result{Status: classifyErr(&l.lifecycle, err), Err: err}
	}
	return &TCPConn{conn: conn.(*net.TCPConn)}, Result{Status: StatusOK}
}

// Shutdown unblocks a goroutine parked in Accept, producing
// StatusShutdownLocally for that call.
func (l *TCPListener) Shutdown() error {
	if !l.markShutdown() {
		return nil
	}
	if err := l.ln.Close(); err != nil {
		return &glerrors.SocketError{Operation: "listener shutdown", Err: err}
	}
	return nil
}

// Close is an alias for Shutdown; a listener has no separate close step.
func (l *TCPListener) Close() error { return l.Shutdown() }

// Addr returns the listener's bound address.
func (l *TCPListener) Addr() *net.TCPAddr { return l.ln.Addr().(*net.TCPAddr) }

// TCPConn wraps one accepted or dialed TCP connection: the single
// request/stream channel used by both the transfer client and each transfer
// server worker.
type TCPConn struct {
	lifecycle
	conn *net.TCPConn
}

// DialTCP opens an outbound connection to raddr.
func DialTCP(raddr *net.TCPAddr) (*TCPConn, error) {
	conn, err := net.DialTCP("tcp4", nil, raddr)
	if err != nil {
		return nil, &glerrors.SocketError{Operation: "connect tcp", Err: err, Details: raddr.String()}
	}
	return &TCPConn{conn: conn}, nil
}

// Send writes the whole of buf, reporting a short write as an error (the
// transfer client/server's streaming loops use this for chunked writes).
func (c *TCPConn) Send(buf []byte) (int, error) {
	n, err := c.conn.Write(buf)
	if err != nil {
		return n, &glerrors.SocketError{Operation: "tcp send", Err: err}
	}
	if n != len(buf) {
		return n, &glerrors.SocketError{Operation: "tcp send", Err: net.ErrWriteToConnected, Details: "short write"}
	}
	return n, nil
}

// Receive fills buf completely, looping over partial reads, unless peek is
// true — in which case it returns whatever is currently available without
// consuming it, for header validation before a full framed read. Non-peek
// receives loop until the requested buffer is filled or the peer closes.
func (c *TCPConn) Receive(buf []byte, peek bool) Result {
	if peek {
		n, err := peekTCP(c.conn, buf)
		if err != nil {
			return Result{Status: classifyErr(&c.lifecycle, err), Err: err}
		}
		return Result{Status: StatusOK, N: n}
	}

	total := 0
	for total < len(buf) {
		n, err := c.conn.Read(buf[total:])
		total += n
		if err != nil {
			status := classifyErr(&c.lifecycle, err)
			if status == StatusError && isEOF(err) {
				status = StatusClosed
			}
			return Result{Status: status, N: total, Err: err}
		}
	}
	return Result{Status: StatusOK, N: total}
}

// SetDeadline arms a deadline for the next Receive/Send pair, mirroring the
// discovery client's UDP receive timeout for the transfer channel (used
// sparingly: the transfer protocol otherwise relies on shutdown-based
// cancellation).
func (c *TCPConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Shutdown unblocks a goroutine parked in Receive on this connection,
// producing StatusShutdownLocally. This is the sole per-transfer
// cancellation mechanism.
func (c *TCPConn) Shutdown() error {
	if !c.markShutdown() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return &glerrors.SocketError{Operation: "conn shutdown", Err: err}
	}
	return nil
}

// Close is an alias for Shutdown.
func (c *TCPConn) Close() error { return c.Shutdown() }

// RemoteAddr returns the address of the peer on the other end.
func (c *TCPConn) RemoteAddr() *net.TCPAddr { return c.conn.RemoteAddr().(*net.TCPAddr) }

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
