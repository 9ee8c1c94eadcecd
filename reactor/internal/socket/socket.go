// Copyright (c) 2019 Andy Pan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package socket creates and configures the non-blocking TCP sockets the
// reactor's listener and connections run on.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tidalcore/tide/reactor/pkg/pool/byteslice"
)

// Option is one socket option to apply to a freshly created fd, bundled so
// callers can build up a slice of them before the socket exists.
type Option struct {
	SetSockOpt func(int, int) error
	Opt        int
}

// SetReuseAddr sets SO_REUSEADDR.
func SetReuseAddr(fd, opt int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, opt))
}

// SetNoDelay sets TCP_NODELAY, disabling Nagle's algorithm when opt is 1.
func SetNoDelay(fd, opt int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, opt))
}

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd, bytes int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes))
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd, bytes int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes))
}

// SetLinger sets SO_LINGER. sec < 0 restores the OS default background-close
// behavior; sec == 0 discards unsent data on close; sec > 0 bounds how long
// the kernel waits for a background flush.
func SetLinger(fd, sec int) error {
	var l unix.Linger
	if sec >= 0 {
		l.Onoff = 1
		l.Linger = int32(sec)
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l))
}

// SetKeepAlivePeriod enables SO_KEEPALIVE and sets the probe timers to secs
// seconds: both idle and interval on Linux, the idle time only on BSD/Darwin.
func SetKeepAlivePeriod(fd, secs int) error {
	if secs <= 0 {
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := setKeepAliveInterval(fd, secs); err != nil {
		return err
	}
	return nil
}

// TCPSocket creates a non-blocking TCP socket. When passive is true, it
// binds and listens (with the given backlog) on addr; otherwise it is left
// unconnected for the caller to connect or to wrap an already-established fd.
func TCPSocket(proto, addr string, passive bool, backlog int, sockOpts ...Option) (int, net.Addr, error) {
	var (
		family int
		ipv4   bool
	)
	switch proto {
	case "tcp4":
		family, ipv4 = unix.AF_INET, true
	case "tcp6":
		family = unix.AF_INET6
	default:
		family = unix.AF_INET
		ipv4 = true
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return 0, nil, os.NewSyscallError("socket", err)
	}

	for _, opt := range sockOpts {
		if err = opt.SetSockOpt(fd, opt.Opt); err != nil {
			_ = unix.Close(fd)
			return 0, nil, err
		}
	}

	tcpAddr, err := net.ResolveTCPAddr(proto, addr)
	if err != nil {
		_ = unix.Close(fd)
		return 0, nil, err
	}

	sa, err := tcpAddrToSockaddr(tcpAddr, ipv4)
	if err != nil {
		_ = unix.Close(fd)
		return 0, nil, err
	}

	if passive {
		if err = unix.Bind(fd, sa); err != nil {
			_ = unix.Close(fd)
			return 0, nil, os.NewSyscallError("bind", err)
		}
		if backlog < 1 {
			backlog = 1024
		}
		if err = unix.Listen(fd, backlog); err != nil {
			_ = unix.Close(fd)
			return 0, nil, os.NewSyscallError("listen", err)
		}
	}

	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return 0, nil, os.NewSyscallError("fcntl nonblock", err)
	}

	lsa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return 0, nil, os.NewSyscallError("getsockname", err)
	}

	return fd, SockaddrToTCPOrUnixAddr(lsa), nil
}

func tcpAddrToSockaddr(addr *net.TCPAddr, ipv4 bool) (unix.Sockaddr, error) {
	if ipv4 {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], addr.IP.To4())
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

// SockaddrToTCPOrUnixAddr converts a raw unix.Sockaddr, as returned by
// accept(2)/getsockname(2), into a net.Addr.
func SockaddrToTCPOrUnixAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(byteslice.Get(net.IPv4len))
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := net.IP(byteslice.Get(net.IPv6len))
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zoneName(sa.ZoneId)}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	}
	return nil
}

func zoneName(zoneID uint32) string {
	if zoneID == 0 {
		return ""
	}
	ifi, err := net.InterfaceByIndex(int(zoneID))
	if err != nil {
		return ""
	}
	return ifi.Name
}
