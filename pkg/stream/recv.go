package stream

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Recv returns up to maxLen bytes of the stream, blocking until at least
// one byte is available. After the peer closed its side and the buffered
// bytes are drained, Recv returns io.EOF.
func (c *Conn) Recv(ctx context.Context, maxLen int) ([]byte, error) {
	if err := c.checkUsable("recv", StateEstablished, StateClosingRemote); err != nil {
		return nil, err
	}
	if maxLen <= 0 {
		return []byte{}, nil
	}

	s := c.sess
	for {
		if n := s.recvBuf.Length(); n > 0 {
			if n > maxLen {
				n = maxLen
			}
			out := make([]byte, n)
			if _, err := s.recvBuf.Read(out); err != nil {
				return nil, errors.Wrap(err, "recv: read buffer")
			}
			if err := c.maybeUpdateWindow(); err != nil {
				return out, err
			}
			return out, nil
		}
		if s.peerFin {
			return nil, io.EOF
		}

		h, payload, _, err := c.readSegment(ctx, time.Time{}, s.peer)
		if err != nil {
			return nil, c.waitFailure(err, ErrAborted, "recv")
		}
		if err := c.handleSegment(h, payload); err != nil {
			return nil, err
		}
	}
}

// maybeUpdateWindow tells the peer about freed buffer space when the last
// window we advertised was too small for a full segment.
func (c *Conn) maybeUpdateWindow() error {
	s := c.sess
	threshold := c.cfg.MaxSegmentPayload
	if half := c.cfg.WindowSize / 2; half < threshold {
		threshold = half
	}
	if threshold < 1 {
		threshold = 1
	}
	if int(s.lastAdvertised) >= threshold || int(c.advertisedWindow()) < threshold {
		return nil
	}
	return c.ackOrFail()
}
