package transfer

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nathanpc/groundlift/internal/identity"
	"github.com/nathanpc/groundlift/internal/socket"
	"github.com/nathanpc/groundlift/internal/wire"
)

// DefaultPolicyTimeout is the window the server waits for
// OnTransferRequested to decide before declining automatically.
const DefaultPolicyTimeout = 30 * time.Second

// ServerCallbacks lets the host application observe and gate incoming
// transfers. Any slot may be nil except OnTransferRequested, whose absence
// declines every request.
type ServerCallbacks struct {
	OnConnectionAccepted func(remote net.Addr)
	OnConnectionClosed   func(remote net.Addr)
	// OnTransferRequested decides whether to accept bundle from peer. It may
	// block (the caller is waiting on a human decision); the server declines
	// automatically if it doesn't return within the policy timeout.
	OnTransferRequested func(peer identity.Identity, bundle Bundle) bool
	OnDownloadProgress  func(Progress)
	OnDownloadSuccess   func(bundle Bundle, destPath string)
	OnDownloadFailed    func(bundle Bundle, bytesReceived int64)
}

// Server accepts inbound transfer connections and writes accepted streams
// into downloadDir. One Server instance serves an unbounded number of
// concurrent connections, one goroutine each.
type Server struct {
	local         identity.Identity
	downloadDir   string
	callbacks     ServerCallbacks
	policyTimeout time.Duration
	chunkSize     int
	logger        *slog.Logger

	listener *socket.TCPListener

	// destMu and activeDest guard destination-path selection across
	// concurrently handled connections in this process, avoiding two
	// transfers racing onto the same path (grounded in fileutils.c's
	// collision-suffix resolver, adapted here into an in-process
	// reservation table since the OS already serializes O_EXCL at the
	// filesystem level — this table covers the window between choosing a
	// candidate name and opening it).
	destMu     sync.Mutex
	activeDest map[string]bool

	wg sync.WaitGroup
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithPolicyTimeout overrides DefaultPolicyTimeout.
func WithPolicyTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.policyTimeout = d }
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) ServerOption {
	return func(s *Server) { s.chunkSize = n }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a Server that has not yet started listening.
func NewServer(local identity.Identity, downloadDir string, callbacks ServerCallbacks, opts ...ServerOption) *Server {
	s := &Server{
		local:         local,
		downloadDir:   downloadDir,
		callbacks:     callbacks,
		policyTimeout: DefaultPolicyTimeout,
		chunkSize:     DefaultChunkSize,
		logger:        slog.Default(),
		activeDest:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the transfer listener to 0.0.0.0:port.
func (s *Server) Start(port int) error {
	ln, err := socket.ListenTCP(&net.TCPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// LocalPort reports the port the listener is actually bound to.
func (s *Server) LocalPort() int {
	return s.listener.Addr().Port
}

// Serve runs the accept loop until Shutdown is called. Meant to be run on
// its own goroutine by the lifecycle coordinator.
func (s *Server) Serve() {
	for {
		conn, res := s.listener.Accept()
		switch res.Status {
		case socket.StatusShutdownLocally:
			return
		case socket.StatusOK:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn)
			}()
		default:
			s.logger.Error("transfer accept failed", "error", res.Err)
		}
	}
}

// Shutdown stops accepting new connections and waits for in-flight workers
// to finish; each worker runs its current transfer to completion rather
// than being cut off.
func (s *Server) Shutdown() error {
	err := s.listener.Shutdown()
	s.wg.Wait()
	return err
}

// handleConn drives one connection through its state machine:
// READING_REQUEST -> AWAITING_POLICY -> SENT_ACCEPT/SENT_DECLINE ->
// STREAMING -> DONE/FAILED -> CLOSED.
func (s *Server) handleConn(conn *socket.TCPConn) {
	remote := conn.RemoteAddr()
	if s.callbacks.OnConnectionAccepted != nil {
		s.callbacks.OnConnectionAccepted(remote)
	}
	defer func() {
		conn.Close()
		if s.callbacks.OnConnectionClosed != nil {
			s.callbacks.OnConnectionClosed(remote)
		}
	}()

	// READING_REQUEST
	peekBuf := make([]byte, 6)
	res := conn.Receive(peekBuf, true)
	if res.Status != socket.StatusOK || !wire.HeaderValid(peekBuf) {
		s.decline(conn)
		return
	}

	full := make([]byte, wire.TotalLength(peekBuf))
	fres := conn.Receive(full, false)
	if fres.Status != socket.StatusOK {
		// Connection broke mid-request; nothing to decline to.
		return
	}

	msg, err := wire.Parse(full[:fres.N])
	if err != nil || msg.Kind != wire.KindFileRequest {
		s.decline(conn)
		return
	}

	baseName, ok := sanitizeBaseName(msg.FileName)
	if !ok {
		s.decline(conn)
		return
	}
	bundle := Bundle{BaseName: baseName, Size: int64(msg.FileSize)}

	// AWAITING_POLICY
	if !s.askPolicy(msg.Identity, bundle) {
		s.decline(conn)
		return
	}

	destPath, f, err := s.reserveDestination(baseName)
	if err != nil {
		s.logger.Error("failed to reserve destination", "base_name", baseName, "error", err)
		s.decline(conn)
		return
	}
	defer s.releaseDestination(destPath)

	// SENT_ACCEPT
	if _, err := conn.Send([]byte{acceptByte}); err != nil {
		f.Close()
		os.Remove(destPath)
		return
	}

	// STREAMING -> DONE/FAILED
	s.stream(conn, f, destPath, bundle)
}

func (s *Server) decline(conn *socket.TCPConn) {
	_, _ = conn.Send([]byte{declineByte})
}

// askPolicy asks the host application whether to accept bundle, declining
// automatically if it doesn't answer within the policy timeout.
func (s *Server) askPolicy(peer identity.Identity, bundle Bundle) bool {
	if s.callbacks.OnTransferRequested == nil {
		return false
	}

	decision := make(chan bool, 1)
	go func() {
		decision <- s.callbacks.OnTransferRequested(peer, bundle)
	}()

	select {
	case accepted := <-decision:
		return accepted
	case <-time.After(s.policyTimeout):
		return false
	}
}

// reserveDestination picks a collision-free path under downloadDir and
// opens it exclusively, appending " (1)", " (2)", ... before the extension
// when baseName is already taken (grounded in the original fileutils.c).
// The open happens while destMu is held so no two concurrently handled
// connections in this process can pick the same candidate.
func (s *Server) reserveDestination(baseName string) (string, *os.File, error) {
	s.destMu.Lock()
	defer s.destMu.Unlock()

	ext := filepath.Ext(baseName)
	stem := strings.TrimSuffix(baseName, ext)

	for i := 0; ; i++ {
		candidate := baseName
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		full := filepath.Join(s.downloadDir, candidate)
		if s.activeDest[full] {
			continue
		}

		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", nil, err
		}
		s.activeDest[full] = true
		return full, f, nil
	}
}

func (s *Server) releaseDestination(path string) {
	s.destMu.Lock()
	delete(s.activeDest, path)
	s.destMu.Unlock()
}

func (s *Server) stream(conn *socket.TCPConn, f *os.File, destPath string, bundle Bundle) {
	chunkSize := s.chunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	total := chunksTotal(bundle.Size, chunkSize)

	buf := make([]byte, chunkSize)
	var received int64
	chunkIdx := 0

	fail := func() {
		f.Close()
		os.Remove(destPath)
		if s.callbacks.OnDownloadFailed != nil {
			s.callbacks.OnDownloadFailed(bundle, received)
		}
	}

	for received < bundle.Size {
		want := int64(chunkSize)
		if remaining := bundle.Size - received; remaining < want {
			want = remaining
		}

		res := conn.Receive(buf[:want], false)
		if res.N > 0 {
			if _, werr := f.Write(buf[:res.N]); werr != nil {
				s.logger.Error("failed to write download chunk", "dest", destPath, "error", werr)
				fail()
				return
			}
			received += int64(res.N)
			chunkIdx++
			if s.callbacks.OnDownloadProgress != nil {
				s.callbacks.OnDownloadProgress(Progress{
					Bundle:           bundle,
					BytesTransferred: received,
					ChunkIndex:       chunkIdx,
					ChunksTotal:      total,
					ChunkSize:        chunkSize,
				})
			}
		}
		if res.Status != socket.StatusOK {
			fail()
			return
		}
	}

	if err := f.Close(); err != nil {
		s.logger.Error("failed to finalize download", "dest", destPath, "error", err)
		os.Remove(destPath)
		if s.callbacks.OnDownloadFailed != nil {
			s.callbacks.OnDownloadFailed(bundle, received)
		}
		return
	}

	if s.callbacks.OnDownloadSuccess != nil {
		s.callbacks.OnDownloadSuccess(bundle, destPath)
	}
}
