// Package identity holds the local-peer identity fields every control
// message carries on the wire: an opaque peer ID, a short device-type tag,
// and a hostname. It is split out from the public groundlift.Config so
// internal/wire and discovery can depend on it without importing the root
// package.
package identity

import (
	"unicode"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
)

// PeerIDLen is the fixed width of the opaque unique_peer_id field.
const PeerIDLen = 8

// DeviceTypeLen is the fixed width of the device_type field.
const DeviceTypeLen = 3

// MaxHostnameLen is the largest hostname the wire format can carry: the
// length prefix is a single byte, so 255 is the hard ceiling.
const MaxHostnameLen = 255

// Identity is the immutable set of fields every control message carries
// about its sender.
type Identity struct {
	PeerID     [PeerIDLen]byte
	DeviceType [DeviceTypeLen]byte
	Hostname   string
}

// Validate checks that the hostname is non-empty and within bounds and that
// every device-type byte is printable. The peer ID has no further
// constraint beyond its fixed width, which the type system already
// enforces.
func (id Identity) Validate() error {
	if len(id.Hostname) == 0 || len(id.Hostname) > MaxHostnameLen {
		return &glerrors.ConfigError{
			Field:   "hostname",
			Details: "must be 1-255 bytes",
		}
	}
	for _, b := range id.DeviceType {
		if b < 0x20 || b > 0x7e {
			return &glerrors.ConfigError{
				Field:   "device_type",
				Details: "must be 3 printable bytes",
			}
		}
	}
	return nil
}

// DeviceTypeString returns the device type as a string, trimmed of any
// trailing NUL padding (callers normally supply exactly 3 printable bytes,
// but defensively trimming keeps the result clean if they don't).
func (id Identity) DeviceTypeString() string {
	n := len(id.DeviceType)
	for n > 0 && id.DeviceType[n-1] == 0 {
		n--
	}
	return string(id.DeviceType[:n])
}

// NewDeviceType builds the fixed-width device-type array from a string,
// validating that it is exactly 3 printable ASCII bytes.
func NewDeviceType(s string) ([DeviceTypeLen]byte, error) {
	var out [DeviceTypeLen]byte
	if len(s) != DeviceTypeLen {
		return out, &glerrors.ConfigError{
			Field:   "device_type",
			Details: "must be exactly 3 bytes",
		}
	}
	for i := 0; i < DeviceTypeLen; i++ {
		r := rune(s[i])
		if !unicode.IsPrint(r) || r > unicode.MaxASCII {
			return out, &glerrors.ConfigError{
				Field:   "device_type",
				Details: "must be printable ASCII",
			}
		}
		out[i] = s[i]
	}
	return out, nil
}
