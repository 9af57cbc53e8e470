package stream

import (
	"context"
	"time"

	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
)

// Close shuts the connection down gracefully. The local side sends FIN and
// waits for its acknowledgment; unless the peer already closed, it then
// waits for the peer's FIN and acknowledges it. Each wait is bounded by the
// close timeout. Buffers are released once the connection is CLOSED; the
// transport is left open.
func (c *Conn) Close(ctx context.Context) error {
	switch st := c.State(); st {
	case StateIdle:
		c.setState(StateClosed)
		return nil
	case StateEstablished, StateClosingRemote:
	default:
		return c.checkUsable("close", StateEstablished, StateClosingRemote)
	}

	s := c.sess
	peerClosedFirst := c.State() == StateClosingRemote
	if !peerClosedFirst {
		c.setState(StateClosingLocal)
	}

	if err := c.sendControl(segment.FlagFIN | segment.FlagACK); err != nil {
		return c.fail(err, false)
	}
	s.sndNxt++

	// our FIN acknowledged
	deadline := time.Now().Add(c.cfg.CloseTimeout())
	for s.sndUna != s.sndNxt {
		if err := c.teardownStep(ctx, deadline, "waiting for FIN acknowledgment"); err != nil {
			return err
		}
	}

	// the peer's FIN, unless it arrived already (possibly while we waited above)
	deadline = time.Now().Add(c.cfg.CloseTimeout())
	for !s.peerFin {
		if err := c.teardownStep(ctx, deadline, "waiting for peer FIN"); err != nil {
			return err
		}
	}

	st := c.Stats()
	c.setState(StateClosed)
	c.release()
	c.log.Infof("connection closed (sent %d bytes in %d segments, %d retransmitted)",
		st.BytesSent, st.PacketsSent, st.PacketsLost)
	return nil
}

// teardownStep processes one segment during Close. Acknowledgments for
// data we never sent make the teardown invalid.
func (c *Conn) teardownStep(ctx context.Context, deadline time.Time, what string) error {
	s := c.sess
	h, payload, _, err := c.readSegment(ctx, deadline, s.peer)
	if err != nil {
		return c.waitFailure(err, ErrInvalidTeardown, what)
	}
	if h.Flags.Has(segment.FlagACK) && s.sndNxt.LessThan(seqValue(h.Ack)) {
		return c.fail(errors.Wrapf(ErrInvalidTeardown, "ACK %d beyond FIN (next %d)", h.Ack, uint32(s.sndNxt)), true)
	}
	return c.handleSegment(h, payload)
}
