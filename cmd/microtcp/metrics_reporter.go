package main

import (
    "context"
    "encoding/json"
    "fmt"
    "runtime"
    "time"

    "github.com/irctrakz/microtcp/pkg/core"
    "github.com/irctrakz/microtcp/pkg/logging"
    "github.com/irctrakz/microtcp/pkg/stream"
)

type metricsSnapshot struct {
    Timestamp string            `json:"ts"`
    State     string            `json:"state"`
    Conn      map[string]uint64 `json:"conn"`
    Transport map[string]uint64 `json:"transport"`
    RT        map[string]uint64 `json:"rt"`
}

// runMetricsReporter logs a snapshot every interval until ctx is done.
// Stats and State are safe to read while another goroutine drives conn.
func runMetricsReporter(ctx context.Context, conn *stream.Conn, tr core.MeteredTransport, every time.Duration, format string) {
    ticker := time.NewTicker(every)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            dumpMetrics(conn, tr, format)
        }
    }
}

func buildSnapshot(conn *stream.Conn, tr core.MeteredTransport) metricsSnapshot {
    st := conn.Stats()
    tm := tr.Metrics()
    var ms runtime.MemStats
    runtime.ReadMemStats(&ms)
    return metricsSnapshot{
        Timestamp: time.Now().UTC().Format(time.RFC3339),
        State:     conn.State().String(),
        Conn: map[string]uint64{
            "pkts_sent":  st.PacketsSent,
            "pkts_recv":  st.PacketsReceived,
            "pkts_lost":  st.PacketsLost,
            "bytes_sent": st.BytesSent,
            "bytes_recv": st.BytesReceived,
            "bytes_lost": st.BytesLost,
        },
        Transport: map[string]uint64{
            "dgrams_sent": tm.DatagramsSent,
            "dgrams_recv": tm.DatagramsReceived,
            "bytes_sent":  tm.BytesSent,
            "bytes_recv":  tm.BytesReceived,
            "timeouts":    tm.Timeouts,
            "errors":      tm.Errors,
        },
        RT: map[string]uint64{
            "heap_alloc": ms.HeapAlloc,
            "heap_inuse": ms.HeapInuse,
            "num_gc":     uint64(ms.NumGC),
            "goroutines": uint64(runtime.NumGoroutine()),
        },
    }
}

func dumpMetrics(conn *stream.Conn, tr core.MeteredTransport, format string) {
    snap := buildSnapshot(conn, tr)
    switch format {
    case "json":
        b, _ := json.Marshal(snap)
        logging.Infof("metrics: %s", string(b))
    default:
        logging.Infof("metrics: %s", formatText(snap))
    }
}

func formatText(snap metricsSnapshot) string {
    lossPct := uint64(0)
    if snap.Conn["pkts_sent"] > 0 {
        lossPct = snap.Conn["pkts_lost"] * 100 / snap.Conn["pkts_sent"]
    }
    return fmt.Sprintf("ts=%s state=%s | conn: sent=%d/%d recv=%d/%d lost=%d/%d (%d%%) | udp: sent=%d/%d recv=%d/%d to=%d err=%d | rt: heap=%dMi gor=%d gc=%d",
        snap.Timestamp, snap.State,
        snap.Conn["pkts_sent"], snap.Conn["bytes_sent"],
        snap.Conn["pkts_recv"], snap.Conn["bytes_recv"],
        snap.Conn["pkts_lost"], snap.Conn["bytes_lost"], lossPct,
        snap.Transport["dgrams_sent"], snap.Transport["bytes_sent"],
        snap.Transport["dgrams_recv"], snap.Transport["bytes_recv"],
        snap.Transport["timeouts"], snap.Transport["errors"],
        snap.RT["heap_alloc"]/(1024*1024), snap.RT["goroutines"], snap.RT["num_gc"],
    )
}
