package control

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking, raw-syscall TCP listening socket.
// The control plane is driven entirely by the Reactor's own epoll
// instance, strictly single-threaded with no shared-state locking;
// going through net.Listen would hand accept/read/write over to the Go
// runtime's own internal poller and a per-connection goroutine, which
// is exactly the concurrency model this daemon avoids.
func listenTCP(bindAddr string, port int) (int, error) {
	ip := net.IPv4zero
	if bindAddr != "" {
		parsed := net.ParseIP(bindAddr)
		if parsed == nil {
			return -1, fmt.Errorf("control: invalid bind address %q", bindAddr)
		}
		ip = parsed
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	var addr unix.SockaddrInet4
	addr.Port = port
	copy(addr.Addr[:], ip.To4())
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 64); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func acceptTCP(listenFd int) (fd int, peer string, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		peer = fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	default:
		peer = "unknown"
	}
	return nfd, peer, nil
}
