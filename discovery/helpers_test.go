package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/nathanpc/groundlift/internal/identity"
	"github.com/nathanpc/groundlift/internal/socket"
	"github.com/nathanpc/groundlift/internal/wire"
)

func newTestSocket(t *testing.T, timeout time.Duration) (*socket.UDPSocket, error) {
	t.Helper()
	return socket.BindUDP(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, socket.UDPOptions{
		ReadTimeout: timeout,
	})
}

func mustEncodeDiscovery(t *testing.T, id identity.Identity) []byte {
	t.Helper()
	buf, err := wire.Encode(wire.Message{Kind: wire.KindDiscovery, Identity: id})
	if err != nil {
		t.Fatalf("wire.Encode() error = %v", err)
	}
	return buf
}

func mustParse(t *testing.T, buf []byte) wire.Message {
	t.Helper()
	msg, err := wire.Parse(buf)
	if err != nil {
		t.Fatalf("wire.Parse() error = %v", err)
	}
	return msg
}
