package socket

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Fault is the fate a MockNetwork assigns to one datagram.
type Fault int

const (
	// Deliver passes the datagram through unchanged.
	Deliver Fault = iota
	// Drop loses the datagram.
	Drop
	// Duplicate delivers the datagram twice.
	Duplicate
	// Corrupt flips one bit of the datagram before delivery.
	Corrupt
	// Reorder holds the datagram back until the next one to the same
	// destination has been delivered.
	Reorder
)

func (f Fault) String() string {
	switch f {
	case Deliver:
		return "deliver"
	case Drop:
		return "drop"
	case Duplicate:
		return "duplicate"
	case Corrupt:
		return "corrupt"
	case Reorder:
		return "reorder"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

// FaultFunc decides the fate of a datagram. It is called with the network
// lock held and must not call back into the network.
type FaultFunc func(from, to net.Addr, b []byte) Fault

// Record is one datagram as it was handed to SendTo.
type Record struct {
	From  net.Addr
	To    net.Addr
	Data  []byte
	Fault Fault
}

const mockInboxSize = 4096

// MockNetwork is an in-memory datagram network connecting MockTransports.
// Faults are injected per datagram so loss scenarios are reproducible.
type MockNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*MockTransport
	fault     FaultFunc
	held      map[string][]*core.Datagram
	records   []Record
}

// NewMockNetwork creates an empty network that delivers everything.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		endpoints: make(map[string]*MockTransport),
		held:      make(map[string][]*core.Datagram),
	}
}

// Endpoint creates (or returns) the transport bound to addr, e.g. "10.0.0.1:9000".
func (n *MockNetwork) Endpoint(addr string) *MockTransport {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(fmt.Sprintf("mock network: bad address %q: %v", addr, err))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[ua.String()]; ok {
		return ep
	}
	ep := &MockTransport{
		net:    n,
		addr:   ua,
		inbox:  make(chan *core.Datagram, mockInboxSize),
		closed: make(chan struct{}),
	}
	n.endpoints[ua.String()] = ep
	return ep
}

// SetFault installs f as the fault policy; nil delivers everything.
func (n *MockNetwork) SetFault(f FaultFunc) {
	n.mu.Lock()
	n.fault = f
	n.mu.Unlock()
}

// SetLossRate drops each datagram independently with probability rate,
// using a deterministic source seeded with seed.
func (n *MockNetwork) SetLossRate(rate float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	n.SetFault(func(_, _ net.Addr, _ []byte) Fault {
		if rng.Float64() < rate {
			return Drop
		}
		return Deliver
	})
}

// Records returns a copy of every datagram sent so far.
func (n *MockNetwork) Records() []Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Record(nil), n.records...)
}

// ResetRecords forgets the datagram log.
func (n *MockNetwork) ResetRecords() {
	n.mu.Lock()
	n.records = nil
	n.mu.Unlock()
}

// Inject delivers b to the endpoint at to as if it was sent from from,
// bypassing the fault policy and the log.
func (n *MockNetwork) Inject(from net.Addr, to net.Addr, b []byte) {
	n.mu.Lock()
	dst := n.endpoints[to.String()]
	n.mu.Unlock()
	if dst != nil {
		dst.enqueue(core.NewDatagram(append([]byte(nil), b...), from))
	}
}

func (n *MockNetwork) send(from *MockTransport, b []byte, to net.Addr) {
	n.mu.Lock()
	fault := Deliver
	if n.fault != nil {
		fault = n.fault(from.addr, to, b)
	}
	n.records = append(n.records, Record{From: from.addr, To: to, Data: append([]byte(nil), b...), Fault: fault})
	dst := n.endpoints[to.String()]
	key := to.String()
	var out []*core.Datagram
	switch fault {
	case Drop:
	case Reorder:
		n.held[key] = append(n.held[key], core.NewPooledDatagram(pktCopy(b), from.addr, pktPut))
	case Corrupt:
		c := pktCopy(b)
		if len(c) > 0 {
			c[len(c)/2] ^= 0x10
		}
		out = append(out, core.NewPooledDatagram(c, from.addr, pktPut))
	case Duplicate:
		out = append(out,
			core.NewPooledDatagram(pktCopy(b), from.addr, pktPut),
			core.NewPooledDatagram(pktCopy(b), from.addr, pktPut))
	default:
		out = append(out, core.NewPooledDatagram(pktCopy(b), from.addr, pktPut))
	}
	if len(out) > 0 {
		out = append(out, n.held[key]...)
		delete(n.held, key)
	}
	n.mu.Unlock()

	if fault != Deliver && logging.IsLevelEnabled(logging.DebugLevel) {
		logging.DebugWithFields(logrus.Fields{"from": from.addr, "to": to, "len": len(b)}, "mock network: %s", fault)
	}
	for _, d := range out {
		if dst == nil {
			d.Release()
			continue
		}
		dst.enqueue(d)
	}
}

// MockTransport is one endpoint of a MockNetwork.
type MockTransport struct {
	net       *MockNetwork
	addr      *net.UDPAddr
	inbox     chan *core.Datagram
	closeOnce sync.Once
	closed    chan struct{}
	counters  transportCounters
}

var _ core.MeteredTransport = (*MockTransport)(nil)

func (m *MockTransport) enqueue(d *core.Datagram) {
	select {
	case <-m.closed:
		d.Release()
		return
	default:
	}
	select {
	case m.inbox <- d:
	default:
		// full inbox behaves like a full socket buffer
		d.Release()
	}
}

// SendTo hands b to the network.
func (m *MockTransport) SendTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-m.closed:
		m.counters.failed()
		return 0, net.ErrClosed
	default:
	}
	m.counters.sent(len(b))
	m.net.send(m, b, addr)
	return len(b), nil
}

// RecvFrom returns the next queued datagram, waiting until deadline.
func (m *MockTransport) RecvFrom(b []byte, deadline time.Time) (int, net.Addr, error) {
	var d *core.Datagram
	select {
	case d = <-m.inbox:
	default:
		wait := time.Until(deadline)
		if wait <= 0 {
			m.counters.timeout()
			return 0, nil, core.ErrTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case d = <-m.inbox:
		case <-timer.C:
			m.counters.timeout()
			return 0, nil, core.ErrTimeout
		case <-m.closed:
			return 0, nil, net.ErrClosed
		}
	}
	n := copy(b, d.Data())
	from := d.Addr()
	d.Release()
	m.counters.received(n)
	return n, from, nil
}

// LocalAddr returns the endpoint address.
func (m *MockTransport) LocalAddr() net.Addr { return m.addr }

// Close detaches the endpoint; pending and future datagrams are discarded.
func (m *MockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// Metrics returns a snapshot of the endpoint counters.
func (m *MockTransport) Metrics() Metrics { return m.counters.snapshot() }

// ResetMetrics zeroes the endpoint counters.
func (m *MockTransport) ResetMetrics() { m.counters.reset() }

// Pending reports how many datagrams are queued for this endpoint.
func (m *MockTransport) Pending() int { return len(m.inbox) }
