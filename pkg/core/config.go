package core

import (
	"fmt"
	"time"
)

// Engine defaults. The buffer, window, MSS and ACK timeout values follow the
// classic microtcp header constants.
const (
	DefaultRecvBufferSize      = 8192
	DefaultWindowSize          = DefaultRecvBufferSize
	DefaultMaxSegmentPayload   = 1400
	DefaultRetransmitTimeoutMs = 200
	DefaultMaxRetransmits      = 10
	DefaultHandshakeTimeoutMs  = 2000
	DefaultCloseTimeoutMs      = 2000
	DefaultPollIntervalMs      = 10

	// MaxWindowSize is the largest window the 16-bit header field can carry.
	MaxWindowSize = 0xffff
)

// EngineConfig contains the tuning constants of the protocol engine.
// Durations are expressed in milliseconds so config files stay readable.
type EngineConfig struct {
	// RecvBufferSize is the capacity of the receive buffer in bytes.
	RecvBufferSize int `json:"recv_buffer_size" yaml:"recvBufferSize"`

	// WindowSize is the largest window we ever advertise. The advertised
	// value is further capped by free receive-buffer space.
	WindowSize int `json:"window_size" yaml:"windowSize"`

	// MaxSegmentPayload bounds the payload carried by one segment.
	MaxSegmentPayload int `json:"max_segment_payload" yaml:"maxSegmentPayload"`

	// RetransmitTimeoutMs is the fixed per-segment retransmission timeout.
	RetransmitTimeoutMs int `json:"retransmit_timeout_ms" yaml:"retransmitTimeoutMs"`

	// MaxRetransmits is the number of retransmissions a single segment may
	// go through before the connection fails.
	MaxRetransmits int `json:"max_retransmits" yaml:"maxRetransmits"`

	// HandshakeTimeoutMs bounds each handshake wait.
	HandshakeTimeoutMs int `json:"handshake_timeout_ms" yaml:"handshakeTimeoutMs"`

	// CloseTimeoutMs bounds each teardown wait.
	CloseTimeoutMs int `json:"close_timeout_ms" yaml:"closeTimeoutMs"`

	// PollIntervalMs is the longest a single receive wait blocks, which is
	// also how quickly a cancelled context is noticed.
	PollIntervalMs int `json:"poll_interval_ms" yaml:"pollIntervalMs"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RecvBufferSize:      DefaultRecvBufferSize,
		WindowSize:          DefaultWindowSize,
		MaxSegmentPayload:   DefaultMaxSegmentPayload,
		RetransmitTimeoutMs: DefaultRetransmitTimeoutMs,
		MaxRetransmits:      DefaultMaxRetransmits,
		HandshakeTimeoutMs:  DefaultHandshakeTimeoutMs,
		CloseTimeoutMs:      DefaultCloseTimeoutMs,
		PollIntervalMs:      DefaultPollIntervalMs,
	}
}

// Validate checks the engine configuration for values the engine cannot run with.
func (c EngineConfig) Validate() error {
	if c.RecvBufferSize <= 0 {
		return fmt.Errorf("invalid receive buffer size: %d", c.RecvBufferSize)
	}
	if c.WindowSize <= 0 || c.WindowSize > MaxWindowSize {
		return fmt.Errorf("invalid window size: %d (must be 1..%d)", c.WindowSize, MaxWindowSize)
	}
	if c.MaxSegmentPayload <= 0 {
		return fmt.Errorf("invalid max segment payload: %d", c.MaxSegmentPayload)
	}
	if c.RetransmitTimeoutMs <= 0 {
		return fmt.Errorf("invalid retransmit timeout: %dms", c.RetransmitTimeoutMs)
	}
	if c.MaxRetransmits < 0 {
		return fmt.Errorf("invalid max retransmits: %d", c.MaxRetransmits)
	}
	if c.HandshakeTimeoutMs <= 0 {
		return fmt.Errorf("invalid handshake timeout: %dms", c.HandshakeTimeoutMs)
	}
	if c.CloseTimeoutMs <= 0 {
		return fmt.Errorf("invalid close timeout: %dms", c.CloseTimeoutMs)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid poll interval: %dms", c.PollIntervalMs)
	}
	return nil
}

// RetransmitTimeout returns the retransmission timeout as a duration.
func (c EngineConfig) RetransmitTimeout() time.Duration {
	return time.Duration(c.RetransmitTimeoutMs) * time.Millisecond
}

// HandshakeTimeout returns the handshake wait bound as a duration.
func (c EngineConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// CloseTimeout returns the teardown wait bound as a duration.
func (c EngineConfig) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutMs) * time.Millisecond
}

// PollInterval returns the poll interval as a duration.
func (c EngineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// TransportConfig contains configuration for the datagram transport.
type TransportConfig struct {
	// ListenAddr is the local UDP address to bind (e.g., "0.0.0.0:9000").
	ListenAddr string `json:"listen_addr" yaml:"listenAddr"`

	// PeerAddr is the remote address an initiator connects to.
	PeerAddr string `json:"peer_addr" yaml:"peerAddr"`

	// TOS is the IPv4 type-of-service byte set on outgoing datagrams (0 leaves the default).
	TOS int `json:"tos" yaml:"tos"`

	// TTL is the IPv4 time-to-live set on outgoing datagrams (0 leaves the default).
	TTL int `json:"ttl" yaml:"ttl"`

	// ReadBufferSize is the socket receive buffer size (0 leaves the default).
	ReadBufferSize int `json:"read_buffer_size" yaml:"readBufferSize"`

	// CaptureFile, when set, records every datagram into a pcap file.
	CaptureFile string `json:"capture_file" yaml:"captureFile"`

	// Debug enables packet copy mode for datagrams handed between layers.
	Debug bool `json:"debug" yaml:"debug"`
}
