package groundlift

import (
	"net"

	"github.com/nathanpc/groundlift/discovery"
	"github.com/nathanpc/groundlift/transfer"
)

// Send is the process-boundary send operation: connect to destination:port,
// request to send filePath, and block until the transfer finishes, is
// declined, or fails.
func Send(cfg Config, destination net.IP, port int, filePath string, callbacks transfer.ClientCallbacks) error {
	cfg = cfg.withDefaults()
	if port == 0 {
		port = cfg.TransferPort
	}

	client := transfer.NewClient(cfg.Identity, callbacks)
	bundle, err := client.Setup(filePath)
	if err != nil {
		return err
	}

	addr := &net.TCPAddr{IP: destination, Port: port}
	return client.Send(addr, bundle)
}

// Discover is the process-boundary discover operation: synchronous, returns
// after the discovery timeout with whatever peers replied.
func Discover(cfg Config, opts discovery.Options) ([]discovery.Peer, error) {
	cfg = cfg.withDefaults()
	if opts.Port == 0 {
		opts.Port = cfg.DiscoveryPort
	}
	return discovery.Discover(cfg.Identity, opts)
}

// Serve is the process-boundary serve operation: starts a Server and
// returns its handle running until Stop is called.
func Serve(cfg Config, callbacks ServerCallbacks) (*Server, error) {
	srv, err := NewServer(cfg, callbacks)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}
