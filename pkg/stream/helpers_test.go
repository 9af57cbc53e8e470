package stream

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/segment"
	"github.com/irctrakz/microtcp/pkg/socket"
	"github.com/stretchr/testify/require"
)

const (
	clientAddr = "10.0.0.1:4000"
	serverAddr = "10.0.0.2:5000"
)

func testConfig() core.EngineConfig {
	cfg := core.DefaultEngineConfig()
	cfg.RetransmitTimeoutMs = 40
	cfg.HandshakeTimeoutMs = 1000
	cfg.CloseTimeoutMs = 1000
	cfg.PollIntervalMs = 2
	return cfg
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func fixedISN(v uint32) Option {
	return WithISN(func() uint32 { return v })
}

type connPair struct {
	network  *socket.MockNetwork
	clientTr *socket.MockTransport
	serverTr *socket.MockTransport
	client   *Conn
	server   *Conn
}

func newPair(t *testing.T, clientCfg, serverCfg core.EngineConfig, clientOpts, serverOpts []Option) *connPair {
	t.Helper()
	network := socket.NewMockNetwork()
	p := &connPair{
		network:  network,
		clientTr: network.Endpoint(clientAddr),
		serverTr: network.Endpoint(serverAddr),
	}
	var err error
	p.client, err = NewConn(p.clientTr, clientCfg, clientOpts...)
	require.NoError(t, err)
	p.server, err = NewConn(p.serverTr, serverCfg, serverOpts...)
	require.NoError(t, err)
	return p
}

// establish runs both handshake sides and fails the test on error.
func establish(t *testing.T, p *connPair) {
	t.Helper()
	ctx := testContext(t)
	errc := make(chan error, 1)
	go func() { errc <- p.server.Accept(ctx) }()
	require.NoError(t, p.client.Connect(ctx, p.serverTr.LocalAddr()))
	require.NoError(t, <-errc)
	require.Equal(t, StateEstablished, p.client.State())
	require.Equal(t, StateEstablished, p.server.State())
}

func establishedPair(t *testing.T, opts ...Option) *connPair {
	t.Helper()
	p := newPair(t, testConfig(), testConfig(), opts, nil)
	establish(t, p)
	return p
}

type recvResult struct {
	data []byte
	err  error
}

// drainAndClose reads from c until EOF, then closes it.
func drainAndClose(ctx context.Context, c *Conn) <-chan recvResult {
	done := make(chan recvResult, 1)
	go func() {
		var got []byte
		for {
			chunk, err := c.Recv(ctx, 4096)
			if err == io.EOF {
				break
			}
			if err != nil {
				done <- recvResult{got, err}
				return
			}
			got = append(got, chunk...)
		}
		done <- recvResult{got, c.Close(ctx)}
	}()
	return done
}

// transfer sends data from client to server and closes both sides.
func transfer(t *testing.T, p *connPair, data []byte) []byte {
	t.Helper()
	ctx := testContext(t)
	done := drainAndClose(ctx, p.server)

	n, err := p.client.Send(ctx, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, p.client.Close(ctx))

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, StateClosed, p.client.State())
	require.Equal(t, StateClosed, p.server.State())
	return r.data
}

type wireSegment struct {
	from    string
	hdr     segment.Header
	payload []byte
}

func decodeRecords(t *testing.T, recs []socket.Record) []wireSegment {
	t.Helper()
	out := make([]wireSegment, 0, len(recs))
	for _, r := range recs {
		h, payload, err := segment.Parse(r.Data)
		require.NoError(t, err)
		out = append(out, wireSegment{from: r.From.String(), hdr: h, payload: payload})
	}
	return out
}

// isData reports whether b is a data-carrying segment.
func isData(b []byte) bool {
	h, err := segment.Decode(b)
	return err == nil && h.DataLen > 0
}

func udpAddr(s string) net.Addr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func patternData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
