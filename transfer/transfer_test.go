package transfer

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
	"github.com/nathanpc/groundlift/internal/identity"
)

func testIdentity(t *testing.T, peerByte byte, hostname string) identity.Identity {
	t.Helper()
	dt, err := identity.NewDeviceType("DSK")
	if err != nil {
		t.Fatalf("NewDeviceType() error = %v", err)
	}
	var id [identity.PeerIDLen]byte
	id[0] = peerByte
	return identity.Identity{PeerID: id, DeviceType: dt, Hostname: hostname}
}

func startServer(t *testing.T, downloadDir string, callbacks ServerCallbacks, opts ...ServerOption) *Server {
	t.Helper()
	srv := NewServer(testIdentity(t, 0x02, "receiver"), downloadDir, callbacks, opts...)
	if err := srv.Start(0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Shutdown() })
	return srv
}

// TestTransfer_AcceptAndStream is spec §8 scenario 2 ("Accept & transfer"):
// the server accepts, the full file arrives byte-for-byte, and the server's
// progress and success callbacks fire.
func TestTransfer_AcceptAndStream(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("groundlift-payload-"), 500) // > one chunk

	srcPath := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	done := make(chan string, 1)
	var progressCount int
	srv := startServer(t, dir, ServerCallbacks{
		OnTransferRequested: func(identity.Identity, Bundle) bool { return true },
		OnDownloadProgress:  func(Progress) { progressCount++ },
		OnDownloadSuccess:   func(_ Bundle, destPath string) { done <- destPath },
		OnDownloadFailed:    func(Bundle, int64) { done <- "" },
	}, WithChunkSize(4096))

	client := NewClient(testIdentity(t, 0x01, "sender"), ClientCallbacks{})
	bundle, err := client.Setup(srcPath)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.LocalPort()}
	if err := client.Send(addr, bundle); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case destPath := <-done:
		if destPath == "" {
			t.Fatal("download reported failed, want success")
		}
		got, err := os.ReadFile(destPath)
		if err != nil {
			t.Fatalf("ReadFile(%q) error = %v", destPath, err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("downloaded content mismatch: got %d bytes, want %d", len(got), len(content))
		}
		if filepath.Base(destPath) != "report.txt" {
			t.Errorf("destPath base = %q, want %q", filepath.Base(destPath), "report.txt")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for download to finish")
	}

	if progressCount == 0 {
		t.Error("expected at least one progress callback")
	}
}

// TestTransfer_Decline is spec §8 scenario 3: the server declines, the
// client observes PolicyDeclinedError, and no file is written.
func TestTransfer_Decline(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(t.TempDir(), "secret.bin")
	if err := os.WriteFile(srcPath, []byte("nope"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var responded bool
	srv := startServer(t, dir, ServerCallbacks{
		OnTransferRequested: func(identity.Identity, Bundle) bool { return false },
	})

	client := NewClient(testIdentity(t, 0x01, "sender"), ClientCallbacks{
		OnRequestResponse: func(_ Bundle, accepted bool) { responded = !accepted },
	})
	bundle, err := client.Setup(srcPath)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.LocalPort()}
	err = client.Send(addr, bundle)

	var declined *glerrors.PolicyDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("Send() error = %v, want *PolicyDeclinedError", err)
	}
	if !responded {
		t.Error("OnRequestResponse never reported a decline")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("download directory has %d entries, want 0", len(entries))
	}
}

// TestTransfer_PolicyTimeout is spec invariant 6: a policy decision that
// never arrives is treated as a decline after the configured timeout.
func TestTransfer_PolicyTimeout(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(t.TempDir(), "slow.bin")
	if err := os.WriteFile(srcPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	srv := startServer(t, dir, ServerCallbacks{
		OnTransferRequested: func(identity.Identity, Bundle) bool {
			<-block
			return true
		},
	}, WithPolicyTimeout(50*time.Millisecond))

	client := NewClient(testIdentity(t, 0x01, "sender"), ClientCallbacks{})
	bundle, err := client.Setup(srcPath)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.LocalPort()}
	err = client.Send(addr, bundle)

	var declined *glerrors.PolicyDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("Send() error = %v, want *PolicyDeclinedError (timeout decline)", err)
	}
}

// TestTransfer_NameCollision is spec §8 scenario 5: two transfers to the
// same directory with the same base name resolve to distinct destination
// paths, the second carrying a " (1)" suffix (fileutils.c's scheme).
func TestTransfer_NameCollision(t *testing.T) {
	dir := t.TempDir()

	srv := startServer(t, dir, ServerCallbacks{
		OnTransferRequested: func(identity.Identity, Bundle) bool { return true },
	})

	sendOnce := func(content string) string {
		t.Helper()
		srcPath := filepath.Join(t.TempDir(), "dup.txt")
		if err := os.WriteFile(srcPath, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		done := make(chan string, 1)
		srv.callbacks.OnDownloadSuccess = func(_ Bundle, destPath string) { done <- destPath }

		client := NewClient(testIdentity(t, 0x01, "sender"), ClientCallbacks{})
		bundle, err := client.Setup(srcPath)
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.LocalPort()}
		if err := client.Send(addr, bundle); err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		select {
		case dest := <-done:
			return dest
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for download")
			return ""
		}
	}

	first := sendOnce("one")
	second := sendOnce("two")

	if first == second {
		t.Fatalf("both transfers resolved to the same path %q", first)
	}
	if filepath.Base(second) != "dup (1).txt" {
		t.Errorf("second destination base = %q, want %q", filepath.Base(second), "dup (1).txt")
	}
}

func TestSetup_FileMissing(t *testing.T) {
	client := NewClient(testIdentity(t, 0x01, "sender"), ClientCallbacks{})
	_, err := client.Setup(filepath.Join(t.TempDir(), "does-not-exist"))

	var missing *glerrors.FileMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Setup() error = %v, want *FileMissingError", err)
	}
}

func TestSanitizeBaseName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"plain", "photo.jpg", "photo.jpg", true},
		{"embedded slash repaired", "../etc/passwd", "___etc_passwd", true},
		{"dotdot only", "..", "__", true},
		{"control char repaired", "a\x00b", "a_b", true},
		{"empty after trim", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sanitizeBaseName(tt.input)
			if ok != tt.ok {
				t.Fatalf("sanitizeBaseName(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("sanitizeBaseName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
