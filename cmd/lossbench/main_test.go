package main

import (
    "context"
    "testing"
    "time"

    "github.com/irctrakz/microtcp/pkg/core"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestRunBenchUnderLoss(t *testing.T) {
    cfg := core.DefaultEngineConfig()
    cfg.RetransmitTimeoutMs = 10
    cfg.MaxRetransmits = 50
    cfg.PollIntervalMs = 1

    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    res, err := runBench(ctx, cfg, 64*1024, 0.1, 42)
    require.NoError(t, err)
    assert.True(t, res.Intact)
    assert.NotZero(t, res.Dropped)
    assert.NotZero(t, res.Sent.PacketsLost)
    assert.GreaterOrEqual(t, res.Sent.BytesSent, uint64(64*1024))

    // the client's SYN and handshake ACK predate the counter reset
    assert.Less(t, res.Transport.DatagramsSent, res.Sent.PacketsSent)
    assert.Greater(t, res.Transport.BytesSent, uint64(64*1024))
}
