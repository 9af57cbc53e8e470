package stream

import (
	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
)

// Segment-level kinds. Segments failing these checks are discarded and
// never surface from the public operations.
var (
	ErrMalformedSegment = segment.ErrMalformed
	ErrChecksumMismatch = segment.ErrChecksumMismatch
	ErrUnexpectedPeer   = errors.New("segment from unexpected peer")
)

// Fatal kinds. Each leaves the connection FAILED; test with errors.Is.
var (
	ErrInvalidHandshake = errors.New("invalid handshake")
	ErrInvalidTeardown  = errors.New("invalid teardown")
	ErrRetransmitLimit  = errors.New("retransmit limit exceeded")
	ErrTransportFailure = errors.New("transport failure")
	ErrConnectionReset  = errors.New("connection reset by peer")
	ErrAborted          = errors.New("connection aborted")
)

// ErrNotUsable is returned by operations invoked in a state that does not
// allow them, including every operation on a CLOSED or FAILED connection.
var ErrNotUsable = errors.New("connection not usable")
