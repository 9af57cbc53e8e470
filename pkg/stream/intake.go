package stream

import (
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
)

func seqValue(v uint32) seqnum.Value { return seqnum.Value(v) }

// handleSegment applies one segment from the peer while the connection is
// past the handshake. It returns an error only when the segment made the
// connection fail.
func (c *Conn) handleSegment(h segment.Header, payload []byte) error {
	s := c.sess

	if h.Flags.Has(segment.FlagRST) {
		// accept resets that fall inside the receive window
		win := seqnum.Size(c.advertisedWindow())
		if win == 0 {
			win = 1
		}
		if !seqValue(h.Seq).InWindow(s.rcvNxt, win) {
			c.discard(s.peer, &h, "RST outside window")
			return nil
		}
		return c.fail(errors.Wrapf(ErrConnectionReset, "RST seq=%d", h.Seq), false)
	}

	if h.Flags.Has(segment.FlagSYN) {
		// our handshake ACK was duplicated or lost and the peer repeated
		// its SYN-ACK: acknowledge again
		if c.role == RoleInitiator && h.Flags.Has(segment.FlagACK) && seqValue(h.Seq) == s.irs {
			return c.ackOrFail()
		}
		c.discard(s.peer, &h, "SYN after handshake")
		return nil
	}

	if h.Flags.Has(segment.FlagACK) {
		c.processAck(h)
	}

	if len(payload) > 0 || h.Flags.Has(segment.FlagFIN) {
		return c.processData(h, payload)
	}
	return nil
}

// processAck advances sndUna for acknowledgments in [sndUna, sndNxt] and
// takes the peer's window from them. Others are stale or bogus and ignored.
func (c *Conn) processAck(h segment.Header) {
	s := c.sess
	ack := seqValue(h.Ack)
	if !ack.InRange(s.sndUna, s.sndNxt+1) {
		c.discard(s.peer, &h, "ACK outside send window")
		return
	}
	if s.sndUna.LessThan(ack) {
		s.sndUna = ack
		s.unacked.purge(ack)
	}
	s.peerWindow = h.Window
	s.unacked.resetProbeRetries()
}

// processData accepts in-order payload and FIN, re-acknowledges duplicates
// and drops anything beyond a gap without acknowledging it.
func (c *Conn) processData(h segment.Header, payload []byte) error {
	s := c.sess
	seq := seqValue(h.Seq)
	end := seq.Add(seqnum.Size(len(payload)))

	if seq.LessThan(s.rcvNxt) {
		newFin := h.Flags.Has(segment.FlagFIN) && !s.peerFin
		if end.LessThan(s.rcvNxt) || (end == s.rcvNxt && !newFin) {
			// duplicate: the earlier ACK was lost or the segment was repeated
			return c.ackOrFail()
		}
		// overlap: keep only the part we have not seen
		payload = payload[seq.Size(s.rcvNxt):]
		seq = s.rcvNxt
	}
	if seq != s.rcvNxt {
		c.discard(s.peer, &h, "out of order")
		return nil
	}

	if len(payload) > 0 {
		switch {
		case c.State() == StateClosingLocal:
			// nobody can read any more; acknowledge so the peer can finish
			s.rcvNxt = s.rcvNxt.Add(seqnum.Size(len(payload)))
		case s.recvBuf.Free() < len(payload):
			c.discard(s.peer, &h, "receive buffer full")
			return c.ackOrFail()
		default:
			if _, err := s.recvBuf.Write(payload); err != nil {
				c.discard(s.peer, &h, err.Error())
				return c.ackOrFail()
			}
			s.rcvNxt = s.rcvNxt.Add(seqnum.Size(len(payload)))
		}
	}

	if h.Flags.Has(segment.FlagFIN) && !s.peerFin {
		s.peerFin = true
		s.rcvNxt++
		if c.State() == StateEstablished {
			c.setState(StateClosingRemote)
		}
		c.log.Debugf("peer closed its side (fin seq=%d)", uint32(end))
	}
	return c.ackOrFail()
}

// ackOrFail acknowledges rcvNxt, failing the connection if the transport refuses.
func (c *Conn) ackOrFail() error {
	if err := c.sendAck(); err != nil {
		return c.fail(err, false)
	}
	return nil
}
