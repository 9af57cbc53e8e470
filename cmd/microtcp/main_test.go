package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/socket"
	"github.com/irctrakz/microtcp/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-peer", "127.0.0.1:9000", "-in", "data.bin", "connect"})
	require.NoError(t, err)
	assert.Equal(t, "connect", o.mode)
	assert.Equal(t, "127.0.0.1:9000", o.peerAddr)
	assert.Equal(t, "data.bin", o.input)
	assert.Equal(t, "-", o.output)

	_, err = parseFlags([]string{"serve"})
	assert.Error(t, err)
	_, err = parseFlags(nil)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-chunk", "0", "listen"})
	assert.Error(t, err)
}

func TestParseFlagsMetricsEnv(t *testing.T) {
	t.Setenv("METRICS_INTERVAL", "5s")
	t.Setenv("METRICS_FORMAT", "json")
	o, err := parseFlags([]string{"listen"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, o.metricsEvery)
	assert.Equal(t, "json", o.metricsFormat)

	o, err = parseFlags([]string{"-metrics-interval", "1s", "-metrics-format", "text", "listen"})
	require.NoError(t, err)
	assert.Equal(t, time.Second, o.metricsEvery)
	assert.Equal(t, "text", o.metricsFormat)
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microtcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  windowSize: 4096
  recvBufferSize: 4096
transport:
  listenAddr: 127.0.0.1:7000
  peerAddr: 127.0.0.1:7001
`), 0o644))
	t.Setenv("MICROTCP_RTO_MS", "150")

	o, err := parseFlags([]string{"-config", path, "-listen", "127.0.0.1:7100", "connect"})
	require.NoError(t, err)
	cfg, err := loadConfig(o)
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Engine.WindowSize)
	assert.Equal(t, 150, cfg.Engine.RetransmitTimeoutMs)
	assert.Equal(t, "127.0.0.1:7100", cfg.Transport.ListenAddr, "flag wins over file")
	assert.Equal(t, "127.0.0.1:7001", cfg.Transport.PeerAddr)
}

func TestLoadConfigConnectNeedsPeer(t *testing.T) {
	o, err := parseFlags([]string{"connect"})
	require.NoError(t, err)
	_, err = loadConfig(o)
	assert.Error(t, err)
}

func TestSendFromReceiveTo(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	data := make([]byte, 100_000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(in, data, 0o644))

	network := socket.NewMockNetwork()
	ctr := network.Endpoint("10.0.0.1:4000")
	str := network.Endpoint("10.0.0.2:5000")
	cfg := core.DefaultEngineConfig()
	cfg.PollIntervalMs = 2

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		server, err := stream.Accept(ctx, str, cfg)
		if err != nil {
			done <- err
			return
		}
		if err := receiveTo(ctx, server, out, 4096); err != nil {
			done <- err
			return
		}
		done <- server.Close(ctx)
	}()

	client, err := stream.Connect(ctx, ctr, str.LocalAddr(), cfg)
	require.NoError(t, err)
	require.NoError(t, sendFrom(ctx, client, in, 8192))
	require.NoError(t, client.Close(ctx))
	require.NoError(t, <-done)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	snap := buildSnapshot(client, ctr)
	assert.Equal(t, "CLOSED", snap.State)
	assert.Equal(t, uint64(len(data)), snap.Conn["bytes_sent"])
	assert.NotZero(t, snap.Transport["dgrams_sent"])
	assert.Contains(t, formatText(snap), "state=CLOSED")
}
