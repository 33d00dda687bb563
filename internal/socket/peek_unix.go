//go:build unix

package socket

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAndBroadcast applies SO_REUSEADDR always, SO_REUSEPORT where the
// platform offers it (best effort — not every unix exposes it identically),
// and SO_BROADCAST for discovery sockets.
func setReuseAndBroadcast(fd uintptr, broadcast bool) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	// Best-effort: some unix variants don't define SO_REUSEPORT identically
	// across kernel versions, and failing to set it shouldn't block binding.
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	if broadcast {
		return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}
	return nil
}

// peekUDP reads the next datagram without consuming it (MSG_PEEK), also
// reporting the source address. Interface index is left at 0 here — full,
// non-peek receives use ipv4.PacketConn control messages instead (see
// UDPSocket.Receive in socket.go), matching the upstream mDNS transport's approach to
// RFC 6762 §15 interface-specific addressing.
func peekUDP(conn *net.UDPConn, buf []byte) (int, net.Addr, int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, nil, 0, err
	}

	var n int
	var from syscall.Sockaddr
	var opErr error
	ctrlErr := rawConn.Read(func(fd uintptr) bool {
		n, from, opErr = syscall.Recvfrom(int(fd), buf, syscall.MSG_PEEK)
		return opErr != syscall.EAGAIN
	})
	if ctrlErr != nil {
		return 0, nil, 0, ctrlErr
	}
	if opErr != nil {
		return 0, nil, 0, opErr
	}

	return n, sockaddrToUDPAddr(from), 0, nil
}

// peekTCP returns whatever is currently buffered on the connection without
// consuming it, for framed-header validation ahead of a full read.
func peekTCP(conn *net.TCPConn, buf []byte) (int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var opErr error
	ctrlErr := rawConn.Read(func(fd uintptr) bool {
		n, _, opErr = syscall.Recvfrom(int(fd), buf, syscall.MSG_PEEK)
		return opErr != syscall.EAGAIN
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return n, opErr
}

func sockaddrToUDPAddr(sa syscall.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}
