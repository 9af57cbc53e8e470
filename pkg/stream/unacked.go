package stream

import (
	"time"

	"github.com/google/netstack/tcpip/seqnum"
)

// pendingSegment is a transmitted data segment awaiting acknowledgment.
type pendingSegment struct {
	seq     seqnum.Value
	payload []byte
	sentAt  time.Time
	retries int
	// probe marks a zero-window probe: its timeouts are not losses.
	probe bool
}

// end is the sequence number just past the segment.
func (p *pendingSegment) end() seqnum.Value {
	return p.seq.Add(seqnum.Size(len(p.payload)))
}

func (p *pendingSegment) deadline(rto time.Duration) time.Time {
	return p.sentAt.Add(rto)
}

// unackedQueue holds pending segments in sequence order.
type unackedQueue struct {
	segs []*pendingSegment
}

func (q *unackedQueue) push(p *pendingSegment) { q.segs = append(q.segs, p) }

func (q *unackedQueue) len() int { return len(q.segs) }

// bytes returns the payload bytes held.
func (q *unackedQueue) bytes() int {
	n := 0
	for _, p := range q.segs {
		n += len(p.payload)
	}
	return n
}

// purge drops every segment fully covered by the cumulative ack and
// returns how many were dropped.
func (q *unackedQueue) purge(ack seqnum.Value) int {
	i := 0
	for i < len(q.segs) && q.segs[i].end().LessThanEq(ack) {
		q.segs[i] = nil
		i++
	}
	q.segs = q.segs[i:]
	return i
}

// earliestDeadline returns the soonest retransmission deadline. ok is false
// when the queue is empty.
func (q *unackedQueue) earliestDeadline(rto time.Duration) (t time.Time, ok bool) {
	for _, p := range q.segs {
		d := p.deadline(rto)
		if !ok || d.Before(t) {
			t, ok = d, true
		}
	}
	return t, ok
}

// oldestDue returns the lowest-sequence segment whose timer has fired at
// now, or nil.
func (q *unackedQueue) oldestDue(now time.Time, rto time.Duration) *pendingSegment {
	for _, p := range q.segs {
		if !now.Before(p.deadline(rto)) {
			return p
		}
	}
	return nil
}

// restartDue rearms every other fired timer for a full timeout from now.
func (q *unackedQueue) restartDue(now time.Time, rto time.Duration, except *pendingSegment) {
	for _, p := range q.segs {
		if p != except && !now.Before(p.deadline(rto)) {
			p.sentAt = now
		}
	}
}

// resetProbeRetries clears the retry count of zero-window probes; called
// whenever the peer answers, since a live peer with a closed window is not loss.
func (q *unackedQueue) resetProbeRetries() {
	for _, p := range q.segs {
		if p.probe {
			p.retries = 0
		}
	}
}

func (q *unackedQueue) reset() { q.segs = nil }
