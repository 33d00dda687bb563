//go:build windows

package socket

import (
	"net"
	"syscall"
)

// setReuseAndBroadcast applies SO_REUSEADDR and, for discovery sockets,
// SO_BROADCAST. Windows has no SO_REUSEPORT equivalent.
func setReuseAndBroadcast(fd uintptr, broadcast bool) error {
	h := syscall.Handle(fd)
	if err := syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if broadcast {
		return syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}
	return nil
}

func peekUDP(conn *net.UDPConn, buf []byte) (int, net.Addr, int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, nil, 0, err
	}

	var n int
	var from syscall.Sockaddr
	var opErr error
	ctrlErr := rawConn.Read(func(fd uintptr) bool {
		n, from, opErr = syscall.Recvfrom(syscall.Handle(fd), buf, syscall.MSG_PEEK)
		return true
	})
	if ctrlErr != nil {
		return 0, nil, 0, ctrlErr
	}
	if opErr != nil {
		return 0, nil, 0, opErr
	}
	return n, sockaddrToUDPAddr(from), 0, nil
}

func peekTCP(conn *net.TCPConn, buf []byte) (int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var opErr error
	ctrlErr := rawConn.Read(func(fd uintptr) bool {
		n, _, opErr = syscall.Recvfrom(syscall.Handle(fd), buf, syscall.MSG_PEEK)
		return true
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
