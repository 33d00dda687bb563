package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
	"github.com/nathanpc/groundlift/internal/identity"
	"github.com/nathanpc/groundlift/internal/socket"
	"github.com/nathanpc/groundlift/internal/wire"
)

const (
	acceptByte  byte = 0x00
	declineByte byte = 0x01
)

// ClientCallbacks lets the host application observe one Client's lifecycle.
// Any slot may be nil.
type ClientCallbacks struct {
	OnRequestResponse func(bundle Bundle, accepted bool)
	OnSendProgress    func(Progress)
	OnSendSuccess     func(bundle Bundle)
	OnDisconnected    func()
}

// Client drives one outbound transfer at a time: request a peer, wait for
// an accept/decline byte, then stream the file.
//
// The wire format reserves a transfer_port field for designs that open a
// second, data-only connection after the request is accepted. This
// implementation uses a simpler single-connection design instead — request
// and stream share one TCP connection — so transfer_port is sent as 0 and
// otherwise unused.
type Client struct {
	local     identity.Identity
	callbacks ClientCallbacks
	chunkSize int

	mu   sync.Mutex
	conn *socket.TCPConn
}

// NewClient creates a Client that identifies itself as local and reports
// progress through callbacks.
func NewClient(local identity.Identity, callbacks ClientCallbacks) *Client {
	return &Client{local: local, callbacks: callbacks, chunkSize: DefaultChunkSize}
}

// Setup validates filePath and returns the Bundle describing it. It does
// not open any connection.
func (c *Client) Setup(filePath string) (Bundle, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return Bundle{}, &glerrors.FileMissingError{Path: filePath, Err: err}
	}
	if !info.Mode().IsRegular() {
		return Bundle{}, &glerrors.FileMissingError{Path: filePath, Err: fmt.Errorf("not a regular file")}
	}

	base, ok := sanitizeBaseName(filepath.Base(filePath))
	if !ok {
		return Bundle{}, &glerrors.ConfigError{Field: "file_path", Details: "path has no usable base name"}
	}

	return Bundle{OriginalPath: filePath, BaseName: base, Size: info.Size()}, nil
}

// Send connects to peerAddr, requests bundle, and streams it once accepted.
// It blocks until the transfer finishes, is declined, or fails.
func (c *Client) Send(peerAddr *net.TCPAddr, bundle Bundle) error {
	conn, err := socket.DialTCP(peerAddr)
	if err != nil {
		return &glerrors.ConnectionFailedError{Operation: "dial", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	req := wire.Message{
		Kind:         wire.KindFileRequest,
		Identity:     c.local,
		TransferPort: 0,
		FileName:     bundle.BaseName,
		FileSize:     uint64(bundle.Size),
	}
	buf, err := wire.Encode(req)
	if err != nil {
		return err
	}
	if _, err := conn.Send(buf); err != nil {
		return &glerrors.ConnectionFailedError{Operation: "send file request", Err: err}
	}

	code := make([]byte, 1)
	res := conn.Receive(code, false)
	switch res.Status {
	case socket.StatusShutdownLocally:
		return glerrors.ErrShutdown
	case socket.StatusOK:
	default:
		if c.callbacks.OnDisconnected != nil {
			c.callbacks.OnDisconnected()
		}
		return &glerrors.ConnectionFailedError{Operation: "await response", Err: res.Err}
	}

	accepted := code[0] == acceptByte
	if c.callbacks.OnRequestResponse != nil {
		c.callbacks.OnRequestResponse(bundle, accepted)
	}
	if !accepted {
		return &glerrors.PolicyDeclinedError{}
	}

	return c.stream(conn, bundle)
}

func (c *Client) stream(conn *socket.TCPConn, bundle Bundle) error {
	f, err := os.Open(bundle.OriginalPath)
	if err != nil {
		return &glerrors.FileMissingError{Path: bundle.OriginalPath, Err: err}
	}
	defer f.Close()

	chunkSize := c.chunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	total := chunksTotal(bundle.Size, chunkSize)

	buf := make([]byte, chunkSize)
	var sent int64
	chunkIdx := 0

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Send(buf[:n]); werr != nil {
				return &glerrors.TransferInterruptedError{BytesSent: sent, Err: werr}
			}
			sent += int64(n)
			chunkIdx++
			if c.callbacks.OnSendProgress != nil {
				c.callbacks.OnSendProgress(Progress{
					Bundle:           bundle,
					BytesTransferred: sent,
					ChunkIndex:       chunkIdx,
					ChunksTotal:      total,
					ChunkSize:        chunkSize,
				})
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return &glerrors.TransferInterruptedError{BytesSent: sent, Err: rerr}
		}
	}

	if sent != bundle.Size {
		return &glerrors.TransferInterruptedError{
			BytesSent: sent,
			Err:       fmt.Errorf("read %d bytes, bundle declared %d", sent, bundle.Size),
		}
	}

	if c.callbacks.OnSendSuccess != nil {
		c.callbacks.OnSendSuccess(bundle)
	}
	return nil
}

// Cancel shuts down the in-flight connection, if any, unblocking Send. Safe
// to call from any goroutine.
func (c *Client) Cancel() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Shutdown()
}
