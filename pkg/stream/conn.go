// Package stream is the microtcp protocol engine: a reliable, ordered byte
// stream between two endpoints over an unreliable datagram transport.
//
// A Conn is driven entirely by its caller. Handshake, Send, Recv and Close
// block the calling goroutine and process incoming segments while they
// wait; there is no background goroutine, so retransmission timers only
// fire while an operation is in progress. A Conn is not safe for concurrent
// use, except for State and Stats which may be read from any goroutine.
package stream

import (
	"context"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// maxDatagram is the receive scratch size: any UDP payload fits.
const maxDatagram = 64 * 1024

// Option customizes a Conn.
type Option func(*Conn)

// WithISN replaces the random initial sequence number generator.
func WithISN(gen func() uint32) Option {
	return func(c *Conn) { c.isn = gen }
}

// session is the per-peer state. It exists only between the start of a
// handshake and the terminal state.
type session struct {
	peer net.Addr

	iss seqnum.Value // our initial sequence number
	irs seqnum.Value // the peer's initial sequence number

	sndUna seqnum.Value // oldest unacknowledged sequence number
	sndNxt seqnum.Value // next sequence number to send
	rcvNxt seqnum.Value // next sequence number expected from the peer

	peerWindow     uint16
	lastAdvertised uint16

	recvBuf *ringbuffer.RingBuffer
	unacked unackedQueue

	peerFin bool
}

// Conn is one microtcp connection bound to a transport.
type Conn struct {
	cfg   core.EngineConfig
	tr    core.Transport
	role  Role
	isn   func() uint32
	log   *logrus.Entry
	state atomic.Int32
	sess  *session
	err   error
	stats core.StatsCounter
	rx    []byte
}

// NewConn creates an unconnected Conn on tr. The transport stays owned by
// the caller: neither Close nor a failure closes it.
func NewConn(tr core.Transport, cfg core.EngineConfig, opts ...Option) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "engine config")
	}
	if cfg.WindowSize > cfg.RecvBufferSize {
		cfg.WindowSize = cfg.RecvBufferSize
	}
	c := &Conn{
		cfg: cfg,
		tr:  tr,
		isn: rand.Uint32,
		rx:  make([]byte, maxDatagram),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.WithComponent("stream").WithField("local", tr.LocalAddr())
	c.state.Store(int32(StateIdle))
	return c, nil
}

// State returns the current state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Role returns the handshake role, RoleNone before a handshake starts.
func (c *Conn) Role() Role { return c.role }

// Err returns the cause of a FAILED connection, nil otherwise.
func (c *Conn) Err() error { return c.err }

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() core.ConnStats { return c.stats.Snapshot() }

// LocalAddr returns the transport address.
func (c *Conn) LocalAddr() net.Addr { return c.tr.LocalAddr() }

// RemoteAddr returns the peer address, nil when no peer is bound.
func (c *Conn) RemoteAddr() net.Addr {
	if c.sess == nil {
		return nil
	}
	return c.sess.peer
}

// SendNext returns the next sequence number this side will send.
func (c *Conn) SendNext() uint32 {
	if c.sess == nil {
		return 0
	}
	return uint32(c.sess.sndNxt)
}

// RecvNext returns the next sequence number expected from the peer.
func (c *Conn) RecvNext() uint32 {
	if c.sess == nil {
		return 0
	}
	return uint32(c.sess.rcvNxt)
}

// PeerWindow returns the window last advertised by the peer.
func (c *Conn) PeerWindow() int {
	if c.sess == nil {
		return 0
	}
	return int(c.sess.peerWindow)
}

// Buffered returns the number of received bytes not yet read.
func (c *Conn) Buffered() int {
	if c.sess == nil {
		return 0
	}
	return c.sess.recvBuf.Length()
}

func (c *Conn) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debugf("state %s -> %s", old, s)
	}
}

func (c *Conn) newSession(peer net.Addr) *session {
	iss := seqnum.Value(c.isn())
	c.sess = &session{
		peer:    peer,
		iss:     iss,
		sndUna:  iss,
		sndNxt:  iss,
		recvBuf: ringbuffer.New(c.cfg.RecvBufferSize),
	}
	c.log = c.log.WithField("peer", peer)
	return c.sess
}

// release drops the session buffers once the connection is terminal.
func (c *Conn) release() {
	if c.sess == nil {
		return
	}
	c.sess.unacked.reset()
	c.sess.recvBuf = nil
	c.sess = nil
}

// checkUsable returns ErrNotUsable unless the connection is in one of allowed.
func (c *Conn) checkUsable(op string, allowed ...State) error {
	st := c.State()
	for _, a := range allowed {
		if st == a {
			return nil
		}
	}
	if st == StateFailed && c.err != nil {
		return errors.Wrapf(ErrNotUsable, "%s: connection failed: %v", op, c.err)
	}
	return errors.Wrapf(ErrNotUsable, "%s in state %s", op, st)
}

// fail moves the connection to FAILED with cause, optionally telling the
// peer with a best-effort RST.
func (c *Conn) fail(cause error, sendRST bool) error {
	if c.State().Terminal() {
		return cause
	}
	if sendRST && c.sess != nil {
		s := c.sess
		b := segment.Encode(uint32(s.sndNxt), uint32(s.rcvNxt), 0, segment.FlagRST, nil)
		if _, err := c.tr.SendTo(b, s.peer); err == nil {
			c.stats.AddSent(0)
		}
	}
	c.err = cause
	c.setState(StateFailed)
	c.release()
	c.log.WithError(cause).Warn("connection failed")
	return cause
}

// waitFailure converts an error from readSegment into the connection failure it causes.
func (c *Conn) waitFailure(err error, timeoutKind error, what string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.fail(errors.Wrapf(ErrAborted, "%s: %v", what, err), true)
	case core.IsTimeout(err):
		return c.fail(errors.Wrapf(timeoutKind, "%s: timed out", what), false)
	default:
		return c.fail(errors.Wrapf(ErrTransportFailure, "%s: %v", what, err), false)
	}
}

// discard logs a segment that is dropped without being acted upon.
func (c *Conn) discard(from net.Addr, h *segment.Header, reason string) {
	if !logging.IsLevelEnabled(logging.DebugLevel) {
		return
	}
	fields := logrus.Fields{"from": from, "reason": reason}
	if h != nil {
		fields["seq"] = h.Seq
		fields["ack"] = h.Ack
		fields["flags"] = h.Flags.String()
		fields["len"] = h.DataLen
	}
	c.log.WithFields(fields).Debug("segment discarded")
}

// readSegment waits for the next valid segment. Segments that are
// malformed, fail the checksum, or come from anyone but peer (when peer is
// set) are discarded and the wait continues. Only segments from a bound
// peer are counted as received. A zero deadline waits until
// ctx is done. The returned payload aliases the receive scratch and is only
// valid until the next call.
func (c *Conn) readSegment(ctx context.Context, deadline time.Time, peer net.Addr) (segment.Header, []byte, net.Addr, error) {
	poll := c.cfg.PollInterval()
	for {
		if err := ctx.Err(); err != nil {
			return segment.Header{}, nil, nil, err
		}
		now := time.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			return segment.Header{}, nil, nil, core.ErrTimeout
		}
		wait := now.Add(poll)
		if !deadline.IsZero() && deadline.Before(wait) {
			wait = deadline
		}
		n, from, err := c.tr.RecvFrom(c.rx, wait)
		if err != nil {
			if core.IsTimeout(err) {
				continue
			}
			return segment.Header{}, nil, nil, err
		}
		if peer != nil && !segment.SamePeer(from, peer) {
			c.discard(from, nil, ErrUnexpectedPeer.Error())
			continue
		}
		h, payload, err := segment.Parse(c.rx[:n])
		if err != nil {
			c.discard(from, nil, err.Error())
			continue
		}
		if peer != nil {
			c.stats.AddReceived(len(payload))
		}
		return h, payload, from, nil
	}
}

// advertisedWindow is the window we offer: configured size capped by free buffer space.
func (c *Conn) advertisedWindow() uint16 {
	w := c.cfg.WindowSize
	if free := c.sess.recvBuf.Free(); free < w {
		w = free
	}
	if w > core.MaxWindowSize {
		w = core.MaxWindowSize
	}
	return uint16(w)
}

// transmit sends one segment to the peer.
func (c *Conn) transmit(seq, ack seqnum.Value, flags segment.Flags, payload []byte) error {
	s := c.sess
	win := c.advertisedWindow()
	b := segment.Encode(uint32(seq), uint32(ack), win, flags, payload)
	if _, err := c.tr.SendTo(b, s.peer); err != nil {
		return errors.Wrapf(ErrTransportFailure, "send %s: %v", flags, err)
	}
	s.lastAdvertised = win
	c.stats.AddSent(len(payload))
	return nil
}

// sendControl sends a payload-less segment at sndNxt acknowledging rcvNxt.
func (c *Conn) sendControl(flags segment.Flags) error {
	return c.transmit(c.sess.sndNxt, c.sess.rcvNxt, flags, nil)
}

func (c *Conn) sendAck() error { return c.sendControl(segment.FlagACK) }
