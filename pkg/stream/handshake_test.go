package stream

import (
	"context"
	"testing"
	"time"

	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSegments(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), []Option{fixedISN(100)}, []Option{fixedISN(500)})
	establish(t, p)

	segs := decodeRecords(t, p.network.Records())
	require.Len(t, segs, 3)

	assert.Equal(t, clientAddr, segs[0].from)
	assert.Equal(t, segment.FlagSYN, segs[0].hdr.Flags)
	assert.Equal(t, uint32(100), segs[0].hdr.Seq)

	assert.Equal(t, serverAddr, segs[1].from)
	assert.Equal(t, segment.FlagSYN|segment.FlagACK, segs[1].hdr.Flags)
	assert.Equal(t, uint32(500), segs[1].hdr.Seq)
	assert.Equal(t, uint32(101), segs[1].hdr.Ack)

	assert.Equal(t, clientAddr, segs[2].from)
	assert.Equal(t, segment.FlagACK, segs[2].hdr.Flags)
	assert.Equal(t, uint32(101), segs[2].hdr.Seq)
	assert.Equal(t, uint32(501), segs[2].hdr.Ack)
}

func TestHandshakeSequenceAgreement(t *testing.T) {
	p := establishedPair(t)

	assert.Equal(t, p.client.SendNext(), p.server.RecvNext())
	assert.Equal(t, p.server.SendNext(), p.client.RecvNext())
	assert.Equal(t, RoleInitiator, p.client.Role())
	assert.Equal(t, RoleResponder, p.server.Role())
	assert.Equal(t, serverAddr, p.client.RemoteAddr().String())
	assert.Equal(t, clientAddr, p.server.RemoteAddr().String())
}

func TestHandshakeAdoptsPeerWindow(t *testing.T) {
	clientCfg := testConfig()
	clientCfg.WindowSize = 3000
	serverCfg := testConfig()
	serverCfg.WindowSize = 5000
	p := newPair(t, clientCfg, serverCfg, nil, nil)
	establish(t, p)

	assert.Equal(t, 3000, p.server.PeerWindow())
	assert.Equal(t, 5000, p.client.PeerWindow())
}

func TestConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeoutMs = 50
	p := newPair(t, cfg, cfg, nil, nil)

	err := p.client.Connect(testContext(t), p.serverTr.LocalAddr())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidHandshake))
	assert.Equal(t, StateFailed, p.client.State())
	assert.Nil(t, p.client.RemoteAddr(), "session released")
}

// fakeResponder answers the first SYN it sees with the segments produced by reply.
func fakeResponder(t *testing.T, p *connPair, reply func(syn segment.Header) [][]byte) {
	go func() {
		buf := make([]byte, 2048)
		n, from, err := p.serverTr.RecvFrom(buf, time.Now().Add(2*time.Second))
		if err != nil {
			return
		}
		syn, err := segment.Decode(buf[:n])
		if err != nil {
			return
		}
		for _, b := range reply(syn) {
			p.serverTr.SendTo(b, from)
		}
	}()
}

func TestConnectRejectsWrongAck(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil)
	fakeResponder(t, p, func(syn segment.Header) [][]byte {
		return [][]byte{segment.Encode(700, syn.Seq+5, 1000, segment.FlagSYN|segment.FlagACK, nil)}
	})

	err := p.client.Connect(testContext(t), p.serverTr.LocalAddr())
	assert.True(t, errors.Is(err, ErrInvalidHandshake), "got %v", err)
	assert.Equal(t, StateFailed, p.client.State())
}

func TestConnectRejectsWrongFlags(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil)
	fakeResponder(t, p, func(syn segment.Header) [][]byte {
		return [][]byte{segment.Encode(700, syn.Seq+1, 1000, segment.FlagACK, nil)}
	})

	_, err := Connect(testContext(t), p.clientTr, p.serverTr.LocalAddr(), testConfig())
	assert.True(t, errors.Is(err, ErrInvalidHandshake), "got %v", err)
}

func TestConnectIgnoresCorruptAndForeignSegments(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil)
	stranger := udpAddr("192.0.2.9:9999")

	fakeResponder(t, p, func(syn segment.Header) [][]byte {
		good := segment.Encode(700, syn.Seq+1, 1000, segment.FlagSYN|segment.FlagACK, nil)
		corrupt := append([]byte(nil), good...)
		corrupt[3] ^= 0x01
		// a well-formed SYN-ACK from someone else must be ignored too
		p.network.Inject(stranger, p.clientTr.LocalAddr(),
			segment.Encode(900, syn.Seq+1, 1000, segment.FlagSYN|segment.FlagACK, nil))
		return [][]byte{corrupt, good}
	})

	require.NoError(t, p.client.Connect(testContext(t), p.serverTr.LocalAddr()))
	assert.Equal(t, uint32(701), p.client.RecvNext())
}

func TestConnectRefusedByReset(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil)
	fakeResponder(t, p, func(syn segment.Header) [][]byte {
		return [][]byte{segment.Encode(0, syn.Seq+1, 0, segment.FlagRST, nil)}
	})

	err := p.client.Connect(testContext(t), p.serverTr.LocalAddr())
	assert.True(t, errors.Is(err, ErrConnectionReset), "got %v", err)
}

func TestAcceptIgnoresStraySegments(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil)
	stranger := udpAddr("192.0.2.9:9999")

	// a bare ACK and a corrupted SYN arrive before the real SYN
	p.network.Inject(stranger, p.serverTr.LocalAddr(), segment.Encode(1, 2, 100, segment.FlagACK, nil))
	bad := segment.Encode(1, 0, 100, segment.FlagSYN, nil)
	bad[0] ^= 0x80
	p.network.Inject(stranger, p.serverTr.LocalAddr(), bad)

	establish(t, p)
	assert.Equal(t, clientAddr, p.server.RemoteAddr().String())
	// only the SYN and the handshake ACK count as received
	assert.Equal(t, uint64(2), p.server.Stats().PacketsReceived)
}

func TestAcceptRejectsBadHandshakeAck(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, []Option{fixedISN(500)})
	ctx := testContext(t)
	errc := make(chan error, 1)
	go func() { errc <- p.server.Accept(ctx) }()

	client := p.clientTr
	client.SendTo(segment.Encode(100, 0, 1000, segment.FlagSYN, nil), p.serverTr.LocalAddr())
	buf := make([]byte, 128)
	_, _, err := client.RecvFrom(buf, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	// acknowledges the wrong number
	client.SendTo(segment.Encode(101, 777, 1000, segment.FlagACK, nil), p.serverTr.LocalAddr())

	err = <-errc
	assert.True(t, errors.Is(err, ErrInvalidHandshake), "got %v", err)
	assert.Equal(t, StateFailed, p.server.State())
}

func TestAcceptCompletesOnDataWhenAckLost(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), []Option{fixedISN(100)}, []Option{fixedISN(500)})
	ctx := testContext(t)
	errc := make(chan error, 1)
	go func() { errc <- p.server.Accept(ctx) }()

	client := p.clientTr
	client.SendTo(segment.Encode(100, 0, 1000, segment.FlagSYN, nil), p.serverTr.LocalAddr())
	buf := make([]byte, 128)
	_, _, err := client.RecvFrom(buf, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	// the pure ACK is skipped: the first data segment carries the acknowledgment
	client.SendTo(segment.Encode(101, 501, 1000, segment.FlagACK, []byte("early")), p.serverTr.LocalAddr())

	require.NoError(t, <-errc)
	assert.Equal(t, StateEstablished, p.server.State())
	assert.Equal(t, 5, p.server.Buffered())
	assert.Equal(t, uint32(106), p.server.RecvNext())
}

func TestAcceptAbortedByContext(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Accept(ctx, p.serverTr, testConfig())
	assert.True(t, errors.Is(err, ErrAborted), "got %v", err)
}

func TestConnectMisuse(t *testing.T) {
	p := establishedPair(t)

	err := p.client.Connect(testContext(t), p.serverTr.LocalAddr())
	assert.True(t, errors.Is(err, ErrNotUsable))
	err = p.server.Accept(testContext(t))
	assert.True(t, errors.Is(err, ErrNotUsable))

	bad := testConfig()
	bad.PollIntervalMs = 0
	_, err = NewConn(p.clientTr, bad)
	assert.Error(t, err)
}
