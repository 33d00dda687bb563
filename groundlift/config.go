// Package groundlift is the lifecycle coordinator: it wires the discovery
// responder and the transfer server together behind a single
// Start/Stop/Free handle, and exposes the process-boundary operations
// (Send, Discover, Serve) command-line front ends use.
package groundlift

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/nathanpc/groundlift/discovery"
	glerrors "github.com/nathanpc/groundlift/internal/errors"
	"github.com/nathanpc/groundlift/internal/identity"
)

// DefaultDeviceType is the device-type tag used when DefaultConfig is asked
// to fill one in, matching the original implementation's defaults.h.
const DefaultDeviceType = "DSK"

// Config is the single immutable snapshot read by every component: the
// local identity plus the directory accepted downloads are written to.
// Populate it once at process start and treat it as read-only
// afterward — nothing in this module mutates a Config.
type Config struct {
	Identity          identity.Identity
	DownloadDirectory string

	// DiscoveryPort and TransferPort default to 1650 when zero.
	DiscoveryPort int
	TransferPort  int
}

func (c Config) withDefaults() Config {
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = discovery.DefaultPort
	}
	if c.TransferPort == 0 {
		c.TransferPort = discovery.DefaultPort
	}
	return c
}

// Validate checks the identity and that a download directory is set, since
// the transfer server depends on a usable destination directory.
func (c Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if c.DownloadDirectory == "" {
		return &glerrors.ConfigError{Field: "download_directory", Details: "must not be empty"}
	}
	return nil
}

// DefaultConfig builds a Config with the same sensible defaults the
// original C implementation's defaults.h uses: device type "DSK", hostname
// from the OS, download directory under the user's home, a freshly
// generated peer ID, and the standard ports.
func DefaultConfig() (Config, error) {
	dt, err := identity.NewDeviceType(DefaultDeviceType)
	if err != nil {
		return Config{}, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return Config{}, &glerrors.ConfigError{Field: "hostname", Details: err.Error()}
	}

	var peerID [identity.PeerIDLen]byte
	if _, err := rand.Read(peerID[:]); err != nil {
		return Config{}, &glerrors.ConfigError{Field: "unique_peer_id", Details: err.Error()}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, &glerrors.ConfigError{Field: "download_directory", Details: err.Error()}
	}

	cfg := Config{
		Identity: identity.Identity{
			PeerID:     peerID,
			DeviceType: dt,
			Hostname:   hostname,
		},
		DownloadDirectory: filepath.Join(home, "Downloads"),
	}
	return cfg.withDefaults(), nil
}
