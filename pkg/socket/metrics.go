package socket

import (
    "sync/atomic"

    "github.com/irctrakz/microtcp/pkg/core"
)

// Metrics is an alias for core.TransportMetrics
type Metrics = core.TransportMetrics

// transportCounters is the live, atomically updated form of Metrics shared
// by the transports in this package.
type transportCounters struct {
    datagramsSent     atomic.Uint64
    datagramsReceived atomic.Uint64
    bytesSent         atomic.Uint64
    bytesReceived     atomic.Uint64
    timeouts          atomic.Uint64
    errors            atomic.Uint64
}

func (c *transportCounters) sent(n int) {
    c.datagramsSent.Add(1)
    c.bytesSent.Add(uint64(n))
}

func (c *transportCounters) received(n int) {
    c.datagramsReceived.Add(1)
    c.bytesReceived.Add(uint64(n))
}

func (c *transportCounters) timeout() { c.timeouts.Add(1) }
func (c *transportCounters) failed()  { c.errors.Add(1) }

func (c *transportCounters) snapshot() Metrics {
    return Metrics{
        DatagramsSent:     c.datagramsSent.Load(),
        DatagramsReceived: c.datagramsReceived.Load(),
        BytesSent:         c.bytesSent.Load(),
        BytesReceived:     c.bytesReceived.Load(),
        Timeouts:          c.timeouts.Load(),
        Errors:            c.errors.Load(),
    }
}

// reset zeroes all counters
func (c *transportCounters) reset() {
    c.datagramsSent.Store(0)
    c.datagramsReceived.Store(0)
    c.bytesSent.Store(0)
    c.bytesReceived.Store(0)
    c.timeouts.Store(0)
    c.errors.Store(0)
}
