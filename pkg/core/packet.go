package core

import (
	"net"
	"sync/atomic"
)

// Global debug flag that can be set via configuration
var debugMode uint32

// SetDebugMode sets the global debug mode flag
// When debug mode is enabled, datagram data is copied for safety
// When disabled, datagram data is not copied for performance
func SetDebugMode(enabled bool) {
	if enabled {
		atomic.StoreUint32(&debugMode, 1)
	} else {
		atomic.StoreUint32(&debugMode, 0)
	}
}

// IsDebugMode returns whether debug mode is enabled
func IsDebugMode() bool {
	return atomic.LoadUint32(&debugMode) == 1
}

// Datagram is one datagram together with the address it came from or goes to.
type Datagram struct {
	data     []byte
	addr     net.Addr
	releaser func([]byte)
}

// NewDatagram wraps data as a Datagram. In debug mode the bytes are copied
// so later writes by the caller cannot leak into queued datagrams.
func NewDatagram(data []byte, addr net.Addr) *Datagram {
	if data == nil {
		data = make([]byte, 0)
	}
	if IsDebugMode() {
		data = append([]byte(nil), data...)
	}
	return &Datagram{data: data, addr: addr}
}

// NewPooledDatagram wraps a buffer taken from a pool. Release hands the
// buffer back through releaser. Do not mutate data after passing it in.
func NewPooledDatagram(data []byte, addr net.Addr, releaser func([]byte)) *Datagram {
	if data == nil {
		data = make([]byte, 0)
	}
	return &Datagram{data: data, addr: addr, releaser: releaser}
}

// Data returns the datagram bytes. In debug mode a copy is returned.
func (d *Datagram) Data() []byte {
	if IsDebugMode() {
		return append([]byte(nil), d.data...)
	}
	return d.data
}

// Addr returns the peer address attached to the datagram.
func (d *Datagram) Addr() net.Addr { return d.addr }

// Len returns the datagram length.
func (d *Datagram) Len() int { return len(d.data) }

// Released reports whether the pooled buffer has been given back already.
func (d *Datagram) Released() bool { return d.data == nil }

// Release returns a pooled buffer to its pool. It is a no-op for datagrams
// created with NewDatagram and safe to call twice.
func (d *Datagram) Release() {
	if d.releaser != nil && len(d.data) > 0 {
		d.releaser(d.data)
		// prevent double release
		d.data = nil
		d.releaser = nil
	}
}
