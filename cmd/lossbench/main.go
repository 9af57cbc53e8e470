package main

import (
    "bytes"
    "context"
    "flag"
    "fmt"
    "io"
    "math/rand"
    "os"
    "time"

    "github.com/irctrakz/microtcp/pkg/core"
    "github.com/irctrakz/microtcp/pkg/logging"
    "github.com/irctrakz/microtcp/pkg/socket"
    "github.com/irctrakz/microtcp/pkg/stream"
)

type benchResult struct {
    Duration time.Duration
    Sent     core.ConnStats
    Received core.ConnStats
    // Transport covers the client endpoint from the end of the handshake.
    Transport core.TransportMetrics
    Network   int
    Dropped   int
    Intact    bool
}

// runBench moves size bytes from a client to a server over an in-memory
// network that drops datagrams with probability loss.
func runBench(ctx context.Context, cfg core.EngineConfig, size int, loss float64, seed int64) (*benchResult, error) {
    network := socket.NewMockNetwork()
    ctr := network.Endpoint("10.0.0.1:4000")
    str := network.Endpoint("10.0.0.2:5000")

    type accepted struct {
        conn *stream.Conn
        err  error
    }
    acc := make(chan accepted, 1)
    go func() {
        c, err := stream.Accept(ctx, str, cfg)
        acc <- accepted{c, err}
    }()
    client, err := stream.Connect(ctx, ctr, str.LocalAddr(), cfg)
    if err != nil {
        return nil, fmt.Errorf("connect: %w", err)
    }
    a := <-acc
    if a.err != nil {
        return nil, fmt.Errorf("accept: %w", a.err)
    }
    server := a.conn

    // handshake runs loss-free and is left out of the transport counters
    ctr.ResetMetrics()
    str.ResetMetrics()
    network.SetLossRate(loss, seed)

    payload := make([]byte, size)
    rand.New(rand.NewSource(seed)).Read(payload)

    type received struct {
        data []byte
        err  error
    }
    rcv := make(chan received, 1)
    go func() {
        var got []byte
        for {
            b, err := server.Recv(ctx, 64*1024)
            if err == io.EOF {
                break
            }
            if err != nil {
                rcv <- received{got, err}
                return
            }
            got = append(got, b...)
        }
        rcv <- received{got, server.Close(ctx)}
    }()

    start := time.Now()
    if _, err := client.Send(ctx, payload); err != nil {
        return nil, fmt.Errorf("send: %w", err)
    }
    // teardown segments are not retransmitted
    network.SetLossRate(0, seed)
    if err := client.Close(ctx); err != nil {
        return nil, fmt.Errorf("client close: %w", err)
    }
    r := <-rcv
    if r.err != nil {
        return nil, fmt.Errorf("server: %w", r.err)
    }

    res := &benchResult{
        Duration:  time.Since(start),
        Sent:      client.Stats(),
        Received:  server.Stats(),
        Transport: ctr.Metrics(),
        Intact:    bytes.Equal(payload, r.data),
    }
    for _, rec := range network.Records() {
        res.Network++
        if rec.Fault == socket.Drop {
            res.Dropped++
        }
    }
    return res, nil
}

func main() {
    var (
        size    = flag.Int("size", 1<<20, "bytes to transfer")
        loss    = flag.Float64("loss", 0.05, "datagram loss probability after the handshake")
        seed    = flag.Int64("seed", 1, "seed for payload and loss pattern")
        mss     = flag.Int("mss", core.DefaultMaxSegmentPayload, "maximum segment payload")
        window  = flag.Int("window", core.DefaultWindowSize, "receive window and buffer size")
        rtoMs   = flag.Int("rto", 20, "retransmission timeout in milliseconds")
        retries = flag.Int("retries", 50, "maximum retransmissions per segment")
        timeout = flag.Duration("timeout", 2*time.Minute, "overall run limit")
        debug   = flag.Bool("debug", false, "debug logging")
    )
    flag.Parse()

    logging.SetLevel(logging.WarnLevel)
    if *debug {
        logging.SetLevel(logging.DebugLevel)
    }

    cfg := core.DefaultEngineConfig()
    cfg.MaxSegmentPayload = *mss
    cfg.WindowSize = *window
    cfg.RecvBufferSize = *window
    cfg.RetransmitTimeoutMs = *rtoMs
    cfg.MaxRetransmits = *retries
    cfg.PollIntervalMs = 1

    ctx, cancel := context.WithTimeout(context.Background(), *timeout)
    defer cancel()

    res, err := runBench(ctx, cfg, *size, *loss, *seed)
    if err != nil {
        fmt.Fprintf(os.Stderr, "lossbench: %v\n", err)
        os.Exit(1)
    }

    secs := res.Duration.Seconds()
    fmt.Printf("Transferred %d bytes in %v (%.1f KiB/s)\n", *size, res.Duration, float64(*size)/1024/secs)
    fmt.Printf("Network: datagrams=%d dropped=%d (%.1f%%)\n",
        res.Network, res.Dropped, 100*float64(res.Dropped)/float64(max(res.Network, 1)))
    fmt.Printf("Sender: pkts=%d bytes=%d lost_pkts=%d lost_bytes=%d\n",
        res.Sent.PacketsSent, res.Sent.BytesSent, res.Sent.PacketsLost, res.Sent.BytesLost)
    fmt.Printf("Client transport: datagrams=%d bytes=%d errors=%d\n",
        res.Transport.DatagramsSent, res.Transport.BytesSent, res.Transport.Errors)
    fmt.Printf("Receiver: pkts=%d bytes=%d\n", res.Received.PacketsReceived, res.Received.BytesReceived)
    if !res.Intact {
        fmt.Println("ERROR: received stream differs from the sent payload")
        os.Exit(1)
    }
}
