// Package netutil binds the UDP sockets the ingestor reads RTP from,
// joining a multicast group instead of a plain bind when the configured
// address calls for it.
package netutil

import (
	"fmt"
	"net"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"golang.org/x/net/ipv4"
)

// ListenUDP binds addr for reading RTP. If addr's IP is a multicast group
// address the socket joins that group instead of binding directly to it.
func ListenUDP(addr *net.UDPAddr) (*net.UDPConn, error) {
	if addr.IP != nil && addr.IP.IsMulticast() {
		return joinMulticast(addr)
	}
	return bindUDP(addr)
}

// bindUDP opens a unicast listening socket with SO_REUSEADDR set, so the
// gateway can be restarted without waiting out a TIME_WAIT socket held by
// the previous process.
func bindUDP(addr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(contextBackground(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %w", gwerrors.ErrBind, addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: bind %s: unexpected packet conn type", gwerrors.ErrBind, addr)
	}
	return conn, nil
}

// joinMulticast opens a socket bound to the wildcard address on addr's
// port and joins the requested multicast group, with SO_REUSEADDR and
// SO_REUSEPORT set so multiple processes (or multiple tracks sharing a
// port) can subscribe to the same group independently.
func joinMulticast(addr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reusePortControl}
	pc, err := lc.ListenPacket(contextBackground(), "udp4", fmt.Sprintf("0.0.0.0:%d", addr.Port))
	if err != nil {
		return nil, fmt.Errorf("%w: join multicast %s: %w", gwerrors.ErrBind, addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: join multicast %s: unexpected packet conn type", gwerrors.ErrBind, addr)
	}

	pconn := ipv4.NewPacketConn(conn)
	iface, err := defaultMulticastInterface()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: find multicast interface: %w", gwerrors.ErrBind, err)
	}
	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: addr.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: join group %s: %w", gwerrors.ErrBind, addr.IP, err)
	}
	return conn, nil
}

// defaultMulticastInterface picks the first interface that supports
// multicast, which is sufficient for the single-host deployments this
// gateway targets.
func defaultMulticastInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast != 0 && iface.Flags&net.FlagUp != 0 {
			return &iface, nil
		}
	}
	return nil, fmt.Errorf("no multicast-capable interface found")
}
