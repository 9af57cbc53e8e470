// Package socket provides the datagram transports the microtcp engine runs
// over: a UDP socket, an in-memory lossy network for tests and benchmarks,
// and a pcap capture wrapper.
package socket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"golang.org/x/net/ipv4"
)

// UDPTransport is a core.Transport over a bound UDP socket.
type UDPTransport struct {
	conn     *net.UDPConn
	counters transportCounters
}

var _ core.MeteredTransport = (*UDPTransport)(nil)

// ListenUDP binds the address in cfg and applies the socket options it names.
func ListenUDP(cfg core.TransportConfig) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}
	t := NewUDPTransport(conn)
	if err := t.applyOptions(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	logging.Infof("UDP transport listening on %s", conn.LocalAddr())
	return t, nil
}

// NewUDPTransport wraps an already bound UDP socket.
func NewUDPTransport(conn *net.UDPConn) *UDPTransport {
	return &UDPTransport{conn: conn}
}

func (t *UDPTransport) applyOptions(cfg core.TransportConfig) error {
	if cfg.ReadBufferSize > 0 {
		if err := t.conn.SetReadBuffer(cfg.ReadBufferSize); err != nil {
			return fmt.Errorf("set read buffer: %w", err)
		}
	}
	if cfg.TOS == 0 && cfg.TTL == 0 {
		return nil
	}
	// Only meaningful for IPv4 sockets; on others the options fail and are skipped.
	pc := ipv4.NewPacketConn(t.conn)
	if cfg.TOS > 0 {
		if err := pc.SetTOS(cfg.TOS); err != nil {
			logging.Warnf("UDP transport: set TOS %d: %v", cfg.TOS, err)
		}
	}
	if cfg.TTL > 0 {
		if err := pc.SetTTL(cfg.TTL); err != nil {
			logging.Warnf("UDP transport: set TTL %d: %v", cfg.TTL, err)
		}
	}
	return nil
}

// SendTo sends one datagram to addr.
func (t *UDPTransport) SendTo(b []byte, addr net.Addr) (int, error) {
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		var err error
		if ua, err = net.ResolveUDPAddr("udp", addr.String()); err != nil {
			t.counters.failed()
			return 0, fmt.Errorf("resolve %s: %w", addr, err)
		}
	}
	n, err := t.conn.WriteToUDP(b, ua)
	if err != nil {
		t.counters.failed()
		return n, err
	}
	t.counters.sent(n)
	return n, nil
}

// RecvFrom waits for one datagram until deadline.
func (t *UDPTransport) RecvFrom(b []byte, deadline time.Time) (int, net.Addr, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		t.counters.failed()
		return 0, nil, err
	}
	n, addr, err := t.conn.ReadFromUDP(b)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.counters.timeout()
			return 0, nil, core.ErrTimeout
		}
		t.counters.failed()
		return 0, nil, err
	}
	t.counters.received(n)
	return n, addr, nil
}

// LocalAddr returns the bound address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close closes the socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }

// Metrics returns a snapshot of the transport counters.
func (t *UDPTransport) Metrics() Metrics { return t.counters.snapshot() }
