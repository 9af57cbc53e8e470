package stream

import (
	"context"
	"time"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
)

// Send transmits b and returns once every byte has been acknowledged.
// At most the peer's advertised window is in flight at any time; segments
// not acknowledged within the retransmission timeout are resent unchanged,
// oldest first and one per timeout.
// On error the returned count is the number of bytes the peer acknowledged.
func (c *Conn) Send(ctx context.Context, b []byte) (int, error) {
	if err := c.checkUsable("send", StateEstablished, StateClosingRemote); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	s := c.sess
	rto := c.cfg.RetransmitTimeout()
	start := s.sndNxt
	acked := 0
	off := 0

	for off < len(b) || s.unacked.len() > 0 {
		if err := ctx.Err(); err != nil {
			return acked, c.fail(errors.Wrapf(ErrAborted, "send: %v", err), true)
		}

		// fill the window
		for off < len(b) {
			n := c.sendRoom()
			if n == 0 {
				break
			}
			if n > len(b)-off {
				n = len(b) - off
			}
			if err := c.sendData(b[off:off+n], false); err != nil {
				return acked, c.fail(err, false)
			}
			off += n
		}

		// closed window and nothing in flight: probe with one byte
		if off < len(b) && s.peerWindow == 0 && s.unacked.len() == 0 {
			if err := c.sendData(b[off:off+1], true); err != nil {
				return acked, c.fail(err, false)
			}
			off++
		}

		deadline, ok := s.unacked.earliestDeadline(rto)
		if !ok {
			continue
		}
		h, payload, _, err := c.readSegment(ctx, deadline, s.peer)
		switch {
		case err == nil:
			if err := c.handleSegment(h, payload); err != nil {
				return acked, err
			}
			if c.State().Terminal() {
				return acked, c.err
			}
			acked = int(start.Size(s.sndUna))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return acked, c.waitFailure(err, ErrAborted, "send")
		case core.IsTimeout(err):
			if err := c.retransmitDue(time.Now(), rto); err != nil {
				return acked, err
			}
		default:
			return acked, c.waitFailure(err, ErrTransportFailure, "send")
		}
	}
	return len(b), nil
}

// sendRoom returns how many new payload bytes may be sent now.
func (c *Conn) sendRoom() int {
	s := c.sess
	inFlight := s.sndUna.Size(s.sndNxt)
	win := seqnum.Size(s.peerWindow)
	if inFlight >= win {
		return 0
	}
	room := int(win - inFlight)
	if room > c.cfg.MaxSegmentPayload {
		room = c.cfg.MaxSegmentPayload
	}
	return room
}

// sendData transmits one data segment at sndNxt and tracks it until acknowledged.
func (c *Conn) sendData(payload []byte, probe bool) error {
	s := c.sess
	p := &pendingSegment{
		seq:     s.sndNxt,
		payload: append([]byte(nil), payload...),
		sentAt:  time.Now(),
		probe:   probe,
	}
	if err := c.transmit(p.seq, s.rcvNxt, segment.FlagACK, p.payload); err != nil {
		return err
	}
	s.unacked.push(p)
	s.sndNxt = p.end()
	return nil
}

// retransmitDue resends the oldest segment whose timer fired and restarts
// the timers of the others: segments behind a hole were dropped by the
// receiver and go out one timeout at a time once the hole is filled. A
// segment that already used up its retransmissions fails the connection.
func (c *Conn) retransmitDue(now time.Time, rto time.Duration) error {
	s := c.sess
	p := s.unacked.oldestDue(now, rto)
	if p == nil {
		return nil
	}
	if p.retries >= c.cfg.MaxRetransmits {
		return c.fail(errors.Wrapf(ErrRetransmitLimit, "segment seq=%d len=%d after %d retransmissions",
			uint32(p.seq), len(p.payload), p.retries), true)
	}
	if err := c.transmit(p.seq, s.rcvNxt, segment.FlagACK, p.payload); err != nil {
		return c.fail(err, false)
	}
	p.retries++
	p.sentAt = now
	s.unacked.restartDue(now, rto, p)
	if !p.probe {
		c.stats.AddLost(len(p.payload))
	}
	c.log.Debugf("retransmit seq=%d len=%d try=%d probe=%v", uint32(p.seq), len(p.payload), p.retries, p.probe)
	return nil
}
