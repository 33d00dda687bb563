package identity

import (
	goerrors "errors"
	"testing"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
)

func TestIdentity_Validate(t *testing.T) {
	tests := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{
			name: "valid",
			id: Identity{
				DeviceType: [3]byte{'D', 'S', 'K'},
				Hostname:   "alpha",
			},
		},
		{
			name: "empty hostname",
			id: Identity{
				DeviceType: [3]byte{'D', 'S', 'K'},
				Hostname:   "",
			},
			wantErr: true,
		},
		{
			name: "hostname too long",
			id: Identity{
				DeviceType: [3]byte{'D', 'S', 'K'},
				Hostname:   string(make([]byte, 256)),
			},
			wantErr: true,
		},
		{
			name: "non-printable device type",
			id: Identity{
				DeviceType: [3]byte{0x01, 'S', 'K'},
				Hostname:   "alpha",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var cfgErr *glerrors.ConfigError
				if !goerrors.As(err, &cfgErr) {
					t.Errorf("error type = %T, want *errors.ConfigError", err)
				}
			}
		})
	}
}

func TestNewDeviceType(t *testing.T) {
	dt, err := NewDeviceType("LAP")
	if err != nil {
		t.Fatalf("NewDeviceType() error = %v", err)
	}
	if string(dt[:]) != "LAP" {
		t.Errorf("device type = %q, want %q", dt, "LAP")
	}

	if _, err := NewDeviceType("TOOLONG"); err == nil {
		t.Error("NewDeviceType() with wrong length error = nil, want error")
	}
}

func TestIdentity_DeviceTypeString(t *testing.T) {
	id := Identity{DeviceType: [3]byte{'P', 'H', 'N'}}
	if got := id.DeviceTypeString(); got != "PHN" {
		t.Errorf("DeviceTypeString() = %q, want %q", got, "PHN")
	}
}
