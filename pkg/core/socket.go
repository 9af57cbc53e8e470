package core

import (
	"net"
	"time"
)

// Transport is the datagram service the protocol engine runs on top of.
// Implementations deliver whole datagrams, unreliably and unordered.
type Transport interface {
	// SendTo sends one datagram to addr.
	SendTo(b []byte, addr net.Addr) (int, error)

	// RecvFrom waits until a datagram arrives or the deadline passes. A
	// passed deadline is reported as a net.Error whose Timeout() is true.
	RecvFrom(b []byte, deadline time.Time) (int, net.Addr, error)

	// LocalAddr returns the bound local address.
	LocalAddr() net.Addr

	// Close releases the underlying socket.
	Close() error
}

// MeteredTransport is a Transport that keeps datagram counters.
type MeteredTransport interface {
	Transport

	// Metrics returns a snapshot of the transport counters.
	Metrics() TransportMetrics
}

// TransportMetrics contains metrics for a datagram transport.
type TransportMetrics struct {
	// DatagramsSent is the number of datagrams sent.
	DatagramsSent uint64

	// DatagramsReceived is the number of datagrams received.
	DatagramsReceived uint64

	// BytesSent is the number of bytes sent.
	BytesSent uint64

	// BytesReceived is the number of bytes received.
	BytesReceived uint64

	// Timeouts is the number of receive waits that hit their deadline.
	Timeouts uint64

	// Errors is the number of errors encountered.
	Errors uint64
}

// timeoutError is returned by transports whose wait deadline passed.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrTimeout is the net.Error transports report when a receive deadline passes.
var ErrTimeout net.Error = timeoutError{}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout()
	}
	return false
}
