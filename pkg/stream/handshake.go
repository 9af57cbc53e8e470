package stream

import (
	"context"
	"net"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
)

// Connect opens a connection to peer over tr (active open). On failure the
// connection is discarded and only the error is returned.
func Connect(ctx context.Context, tr core.Transport, peer net.Addr, cfg core.EngineConfig, opts ...Option) (*Conn, error) {
	c, err := NewConn(tr, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, peer); err != nil {
		return nil, err
	}
	return c, nil
}

// Accept waits for one peer to open a connection on tr (passive open).
func Accept(ctx context.Context, tr core.Transport, cfg core.EngineConfig, opts ...Option) (*Conn, error) {
	c, err := NewConn(tr, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Accept(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect performs the initiator side of the three-way handshake:
// SYN(x), then SYN+ACK(y, ack x+1) from the peer, then ACK(x+1, ack y+1).
func (c *Conn) Connect(ctx context.Context, peer net.Addr) error {
	if err := c.checkUsable("connect", StateIdle); err != nil {
		return err
	}
	if peer == nil {
		return errors.Wrap(ErrNotUsable, "connect: nil peer address")
	}
	c.role = RoleInitiator
	s := c.newSession(peer)

	if err := c.transmit(s.iss, 0, segment.FlagSYN, nil); err != nil {
		return c.fail(err, false)
	}
	s.sndNxt = s.iss + 1
	c.setState(StateSynSent)

	deadline := time.Now().Add(c.cfg.HandshakeTimeout())
	h, _, _, err := c.readSegment(ctx, deadline, peer)
	if err != nil {
		return c.waitFailure(err, ErrInvalidHandshake, "waiting for SYN-ACK")
	}
	if h.Flags.Has(segment.FlagRST) {
		return c.fail(errors.Wrap(ErrConnectionReset, "connection refused"), false)
	}
	if !segment.Matches(h, segment.FlagSYN|segment.FlagACK) || h.Flags.Has(segment.FlagFIN) {
		return c.fail(errors.Wrapf(ErrInvalidHandshake, "expected SYN|ACK, got %s", h.Flags), false)
	}
	if !segment.AckMatches(h, uint32(s.sndNxt)) {
		return c.fail(errors.Wrapf(ErrInvalidHandshake, "SYN-ACK acknowledges %d, expected %d", h.Ack, uint32(s.sndNxt)), false)
	}

	s.irs = seqValue(h.Seq)
	s.rcvNxt = s.irs + 1
	s.sndUna = s.sndNxt
	s.peerWindow = h.Window

	if err := c.sendAck(); err != nil {
		return c.fail(err, false)
	}
	c.setState(StateEstablished)
	c.log.Infof("connection established (iss=%d irs=%d peer window=%d)", uint32(s.iss), uint32(s.irs), s.peerWindow)
	return nil
}

// Accept performs the responder side of the handshake. It waits for a SYN
// from any address until ctx is done; the sender of the first valid SYN
// becomes the peer and everyone else is ignored from then on.
func (c *Conn) Accept(ctx context.Context) error {
	if err := c.checkUsable("accept", StateIdle); err != nil {
		return err
	}
	c.role = RoleResponder

	var (
		syn  segment.Header
		peer net.Addr
	)
	for {
		h, _, from, err := c.readSegment(ctx, time.Time{}, nil)
		if err != nil {
			return c.waitFailure(err, ErrInvalidHandshake, "waiting for SYN")
		}
		if h.Flags != segment.FlagSYN {
			c.discard(from, &h, "expected SYN")
			continue
		}
		syn, peer = h, from
		c.stats.AddReceived(0)
		break
	}

	s := c.newSession(peer)
	s.irs = seqValue(syn.Seq)
	s.rcvNxt = s.irs + 1
	s.peerWindow = syn.Window

	if err := c.transmit(s.iss, s.rcvNxt, segment.FlagSYN|segment.FlagACK, nil); err != nil {
		return c.fail(err, false)
	}
	s.sndNxt = s.iss + 1
	c.setState(StateSynReceived)

	deadline := time.Now().Add(c.cfg.HandshakeTimeout())
	for {
		h, payload, _, err := c.readSegment(ctx, deadline, peer)
		if err != nil {
			return c.waitFailure(err, ErrInvalidHandshake, "waiting for handshake ACK")
		}
		if h.Flags.Has(segment.FlagRST) {
			return c.fail(errors.Wrap(ErrConnectionReset, "reset during handshake"), false)
		}
		if h.Flags == segment.FlagSYN && seqValue(h.Seq) == s.irs {
			c.discard(peer, &h, "duplicate SYN")
			continue
		}
		if !segment.Matches(h, segment.FlagACK) || h.Flags.Has(segment.FlagSYN) {
			return c.fail(errors.Wrapf(ErrInvalidHandshake, "expected ACK, got %s", h.Flags), false)
		}
		if !segment.AckMatches(h, uint32(s.sndNxt)) {
			return c.fail(errors.Wrapf(ErrInvalidHandshake, "ACK acknowledges %d, expected %d", h.Ack, uint32(s.sndNxt)), false)
		}

		s.sndUna = s.sndNxt
		s.peerWindow = h.Window
		c.setState(StateEstablished)
		c.log.Infof("connection accepted (iss=%d irs=%d peer window=%d)", uint32(s.iss), uint32(s.irs), s.peerWindow)

		// The handshake ACK may have been lost and this is the first data
		// segment, which carries the same acknowledgment.
		if len(payload) > 0 || h.Flags.Has(segment.FlagFIN) {
			return c.handleSegment(h, payload)
		}
		return nil
	}
}
