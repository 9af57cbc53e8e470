package core

import "sync/atomic"

// ConnStats contains the cumulative counters of one connection. Byte
// counters count payload bytes only.
type ConnStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	BytesSent       uint64
	BytesReceived   uint64
	BytesLost       uint64
}

// StatsCounter is the live, concurrently readable form of ConnStats. The
// connection is the only writer; reporters read Snapshot from other goroutines.
type StatsCounter struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	packetsLost     atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	bytesLost       atomic.Uint64
}

// AddSent records one transmitted segment carrying n payload bytes.
func (s *StatsCounter) AddSent(n int) {
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(n))
}

// AddReceived records one accepted segment carrying n payload bytes.
func (s *StatsCounter) AddReceived(n int) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(n))
}

// AddLost records one retransmission of a segment carrying n payload bytes.
func (s *StatsCounter) AddLost(n int) {
	s.packetsLost.Add(1)
	s.bytesLost.Add(uint64(n))
}

// Snapshot returns a copy of the counters.
func (s *StatsCounter) Snapshot() ConnStats {
	return ConnStats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		PacketsLost:     s.packetsLost.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		BytesLost:       s.bytesLost.Load(),
	}
}
